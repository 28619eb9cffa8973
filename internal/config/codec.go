package config

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sweeney/thermostat/internal/logic"
)

// MaxPayloadSize is the largest encoded settings payload the record can hold.
const MaxPayloadSize = 256

// Accepted ranges for decoded values.
const (
	MinCadence       = 10
	MaxCadence       = 3600
	maxThresholdX100 = 1000
	minTempX100      = -5000
	maxTempX100      = 10000
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidPayload is returned when a payload fails verification.
	ErrInvalidPayload = errors.New("invalid settings payload")
)

// Settings message fields.
const (
	fieldThreshold          protowire.Number = 1
	fieldCadence            protowire.Number = 2
	fieldExternalSensorID   protowire.Number = 3
	fieldTimezone           protowire.Number = 4
	fieldDefaultActions     protowire.Number = 5
	fieldDefaultHeat        protowire.Number = 6
	fieldDefaultCool        protowire.Number = 7
	fieldThermostatSettings protowire.Number = 8
)

// Timezone message fields.
const (
	fieldTZOffset     protowire.Number = 1
	fieldTZNextOffset protowire.Number = 2
	fieldTZNextChange protowire.Number = 3
)

// ThermostatSetting message fields.
const (
	fieldSettingType    protowire.Number = 1
	fieldAllowedActions protowire.Number = 2
	fieldHeat           protowire.Number = 3
	fieldCool           protowire.Number = 4
	fieldCirculateAbove protowire.Number = 5
	fieldCirculateBelow protowire.Number = 6
	fieldHoldUntil      protowire.Number = 7
	fieldDaysOfWeek     protowire.Number = 8
	fieldAtMinutes      protowire.Number = 9
)

// MarshalSettings encodes s in protobuf wire format. Zero-valued scalar
// fields are omitted. The result is verified before it is returned.
func MarshalSettings(s *logic.Settings) ([]byte, error) {
	var b []byte
	b = appendUint(b, fieldThreshold, uint64(s.Threshold.ToX100()))
	b = appendUint(b, fieldCadence, uint64(s.Cadence))
	if !s.ExternalSensorID.IsZero() {
		b = protowire.AppendTag(b, fieldExternalSensorID, protowire.BytesType)
		b = protowire.AppendBytes(b, s.ExternalSensorID[:])
	}
	if tz := marshalTimezone(s.Timezone); len(tz) > 0 {
		b = protowire.AppendTag(b, fieldTimezone, protowire.BytesType)
		b = protowire.AppendBytes(b, tz)
	}
	b = appendUint(b, fieldDefaultActions, uint64(s.DefaultAllowedActions))
	b = appendSint(b, fieldDefaultHeat, int64(s.DefaultHeat.ToX100()))
	b = appendSint(b, fieldDefaultCool, int64(s.DefaultCool.ToX100()))
	for i := range s.ThermostatSettings {
		b = protowire.AppendTag(b, fieldThermostatSettings, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSetting(&s.ThermostatSettings[i]))
	}

	if _, err := UnmarshalSettings(b); err != nil {
		return nil, err
	}
	return b, nil
}

func marshalTimezone(tz logic.Timezone) []byte {
	var b []byte
	b = appendSint(b, fieldTZOffset, int64(tz.UTCOffsetMinutes))
	b = appendSint(b, fieldTZNextOffset, int64(tz.NextUTCOffsetMinutes))
	b = appendUint(b, fieldTZNextChange, uint64(tz.NextChange))
	return b
}

func marshalSetting(st *logic.ThermostatSetting) []byte {
	var b []byte
	b = appendUint(b, fieldSettingType, uint64(st.Type))
	b = appendUint(b, fieldAllowedActions, uint64(st.Setpoint.AllowedActions))
	b = appendSint(b, fieldHeat, int64(st.Setpoint.Heat.ToX100()))
	b = appendSint(b, fieldCool, int64(st.Setpoint.Cool.ToX100()))
	b = appendSint(b, fieldCirculateAbove, int64(st.Setpoint.CirculateAbove.ToX100()))
	b = appendSint(b, fieldCirculateBelow, int64(st.Setpoint.CirculateBelow.ToX100()))
	b = appendUint(b, fieldHoldUntil, uint64(st.HoldUntil))
	b = appendUint(b, fieldDaysOfWeek, uint64(st.DaysOfWeek))
	b = appendUint(b, fieldAtMinutes, uint64(st.AtMinutesSinceMidnight))
	return b
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// UnmarshalSettings verifies and decodes a settings payload. Nothing in the
// payload is trusted until every field has been range checked. Unknown
// fields are skipped.
func UnmarshalSettings(b []byte) (logic.Settings, error) {
	var s logic.Settings
	if len(b) > MaxPayloadSize {
		return s, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b))
	}

	var thresholdX100 uint64
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldThreshold:
			if err := wantVarint(num, typ); err != nil {
				return err
			}
			thresholdX100 = v
		case fieldCadence:
			if err := wantVarint(num, typ); err != nil {
				return err
			}
			if v < MinCadence || v > MaxCadence {
				return fmt.Errorf("cadence %d out of range", v)
			}
			s.Cadence = uint16(v)
		case fieldExternalSensorID:
			if typ != protowire.BytesType || len(raw) != len(s.ExternalSensorID) {
				return fmt.Errorf("field %d: malformed sensor id", num)
			}
			copy(s.ExternalSensorID[:], raw)
		case fieldTimezone:
			if typ != protowire.BytesType {
				return fmt.Errorf("field %d: want message", num)
			}
			tz, err := unmarshalTimezone(raw)
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
			s.Timezone = tz
		case fieldDefaultActions:
			a, err := actionsField(num, typ, v)
			if err != nil {
				return err
			}
			s.DefaultAllowedActions = a
		case fieldDefaultHeat:
			t, err := tempField(num, typ, v)
			if err != nil {
				return err
			}
			s.DefaultHeat = t
		case fieldDefaultCool:
			t, err := tempField(num, typ, v)
			if err != nil {
				return err
			}
			s.DefaultCool = t
		case fieldThermostatSettings:
			if typ != protowire.BytesType {
				return fmt.Errorf("field %d: want message", num)
			}
			st, err := unmarshalSetting(raw)
			if err != nil {
				return fmt.Errorf("setting %d: %w", len(s.ThermostatSettings), err)
			}
			s.ThermostatSettings = append(s.ThermostatSettings, st)
		}
		return nil
	})
	if err != nil {
		return logic.Settings{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if thresholdX100 == 0 || thresholdX100 > maxThresholdX100 {
		return logic.Settings{}, fmt.Errorf("%w: threshold %d out of range", ErrInvalidPayload, thresholdX100)
	}
	s.Threshold = logic.FromX100(int32(thresholdX100))
	if s.Cadence == 0 {
		return logic.Settings{}, fmt.Errorf("%w: cadence missing", ErrInvalidPayload)
	}
	return s, nil
}

func unmarshalTimezone(b []byte) (logic.Timezone, error) {
	var tz logic.Timezone
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		switch num {
		case fieldTZOffset, fieldTZNextOffset:
			if err := wantVarint(num, typ); err != nil {
				return err
			}
			m := protowire.DecodeZigZag(v)
			if m < -14*60 || m > 14*60 {
				return fmt.Errorf("offset %d minutes out of range", m)
			}
			if num == fieldTZOffset {
				tz.UTCOffsetMinutes = int16(m)
			} else {
				tz.NextUTCOffsetMinutes = int16(m)
			}
		case fieldTZNextChange:
			if err := wantVarint(num, typ); err != nil {
				return err
			}
			if v > 0xFFFFFFFF {
				return fmt.Errorf("next change %d out of range", v)
			}
			tz.NextChange = uint32(v)
		}
		return nil
	})
	return tz, err
}

func unmarshalSetting(b []byte) (logic.ThermostatSetting, error) {
	var st logic.ThermostatSetting
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
		var err error
		switch num {
		case fieldSettingType:
			if err = wantVarint(num, typ); err == nil {
				st.Type = logic.SettingType(v)
			}
		case fieldAllowedActions:
			st.Setpoint.AllowedActions, err = actionsField(num, typ, v)
		case fieldHeat:
			st.Setpoint.Heat, err = tempField(num, typ, v)
		case fieldCool:
			st.Setpoint.Cool, err = tempField(num, typ, v)
		case fieldCirculateAbove:
			st.Setpoint.CirculateAbove, err = tempField(num, typ, v)
		case fieldCirculateBelow:
			st.Setpoint.CirculateBelow, err = tempField(num, typ, v)
		case fieldHoldUntil:
			if err = wantVarint(num, typ); err == nil {
				if v > 0xFFFFFFFF {
					return fmt.Errorf("hold until %d out of range", v)
				}
				st.HoldUntil = uint32(v)
			}
		case fieldDaysOfWeek:
			if err = wantVarint(num, typ); err == nil {
				if v >= 0x80 {
					return fmt.Errorf("days of week %#x out of range", v)
				}
				st.DaysOfWeek = logic.DaysOfWeek(v)
			}
		case fieldAtMinutes:
			if err = wantVarint(num, typ); err == nil {
				if v >= 24*60 {
					return fmt.Errorf("minute of day %d out of range", v)
				}
				st.AtMinutesSinceMidnight = uint16(v)
			}
		}
		return err
	})
	if err != nil {
		return st, err
	}
	if st.Type != logic.SettingHold && st.Type != logic.SettingScheduled {
		return st, fmt.Errorf("unknown setting type %d", st.Type)
	}
	return st, nil
}

type fieldFunc func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error

// walk iterates the fields of a message. Varint values arrive in v,
// length-delimited values in raw; other wire types are skipped.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}

func wantVarint(num protowire.Number, typ protowire.Type) error {
	if typ != protowire.VarintType {
		return fmt.Errorf("field %d: want varint, got wire type %d", num, typ)
	}
	return nil
}

func actionsField(num protowire.Number, typ protowire.Type, v uint64) (logic.ActionSet, error) {
	if err := wantVarint(num, typ); err != nil {
		return logic.ActionNone, err
	}
	a := logic.ActionSet(v)
	if v > 0xFF || !a.IsValid() {
		return logic.ActionNone, fmt.Errorf("field %d: %w: %#x", num, logic.ErrInvalidAction, v)
	}
	return a, nil
}

func tempField(num protowire.Number, typ protowire.Type, v uint64) (logic.Temperature, error) {
	if err := wantVarint(num, typ); err != nil {
		return 0, err
	}
	x := protowire.DecodeZigZag(v)
	if x < minTempX100 || x > maxTempX100 {
		return 0, fmt.Errorf("field %d: temperature %d out of range", num, x)
	}
	return logic.FromX100(int32(x)), nil
}
