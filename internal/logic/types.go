// Package logic contains the pure decision logic of the thermostat: the action
// set and setpoint data model, the hysteresis controller, and the setpoint
// scheduler. This package has NO I/O dependencies (no GPIO, MQTT, or storage).
// Time is always injectable via time.Time parameters.
package logic

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Temperature is a temperature in degrees Celsius.
type Temperature float64

// ToX100 returns the fixed-point wire form (hundredths of a degree).
func (t Temperature) ToX100() int32 {
	return int32(math.Round(float64(t) * 100))
}

// FromX100 converts a fixed-point wire value back to Celsius.
func FromX100(v int32) Temperature {
	return Temperature(float64(v) / 100)
}

// IsValid reports whether t holds an actual reading.
func (t Temperature) IsValid() bool {
	return !math.IsNaN(float64(t)) && !math.IsInf(float64(t), 0)
}

// NoReading marks an absent temperature.
var NoReading = Temperature(math.NaN())

// ActionSet is a set of thermostat actions.
type ActionSet uint8

const (
	ActionHeat ActionSet = 1 << iota
	ActionCool
	ActionCirculate

	ActionNone ActionSet = 0
	actionAll            = ActionHeat | ActionCool | ActionCirculate
)

// ErrInvalidAction is returned when an action string contains an unknown token.
var ErrInvalidAction = errors.New("invalid action")

var actionChars = []struct {
	flag ActionSet
	char byte
}{
	{ActionHeat, 'H'},
	{ActionCool, 'C'},
	{ActionCirculate, 'R'},
}

// ParseActionSet parses the "HCR" shorthand. Any character outside H, C and R
// rejects the whole string.
func ParseActionSet(s string) (ActionSet, error) {
	var a ActionSet
	for i := 0; i < len(s); i++ {
		found := false
		for _, ac := range actionChars {
			if s[i] == ac.char {
				a |= ac.flag
				found = true
				break
			}
		}
		if !found {
			return ActionNone, fmt.Errorf("%w: %q in %q", ErrInvalidAction, s[i], s)
		}
	}
	return a, nil
}

// Has reports whether all flags in f are set.
func (a ActionSet) Has(f ActionSet) bool {
	return a&f == f && f != ActionNone
}

// With returns a with f added.
func (a ActionSet) With(f ActionSet) ActionSet { return a | f }

// Without returns a with f removed.
func (a ActionSet) Without(f ActionSet) ActionSet { return a &^ f }

// Intersect returns the actions present in both sets.
func (a ActionSet) Intersect(b ActionSet) ActionSet { return a & b }

// Union returns the actions present in either set.
func (a ActionSet) Union(b ActionSet) ActionSet { return a | b }

// IsValid reports whether a only uses known flags.
func (a ActionSet) IsValid() bool {
	return a&^actionAll == 0
}

// String returns the canonical "HCR" form; absent flags are omitted.
func (a ActionSet) String() string {
	var sb strings.Builder
	for _, ac := range actionChars {
		if a&ac.flag != 0 {
			sb.WriteByte(ac.char)
		}
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a ActionSet) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActionSet) UnmarshalText(text []byte) error {
	v, err := ParseActionSet(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// DaysOfWeek is a bitset of weekdays; bit i corresponds to time.Weekday(i).
type DaysOfWeek uint8

const (
	Sunday DaysOfWeek = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	AllDays = Sunday | Monday | Tuesday | Wednesday | Thursday | Friday | Saturday
)

// Has reports whether d includes the given weekday.
func (d DaysOfWeek) Has(w time.Weekday) bool {
	return d&(1<<uint(w)) != 0
}

// SensorID identifies an external (1-Wire) temperature sensor.
type SensorID [8]byte

// ErrInvalidSensorID is returned for malformed sensor ID strings.
var ErrInvalidSensorID = errors.New("invalid sensor id")

// ParseSensorID parses the canonical 16 hex character form.
func ParseSensorID(s string) (SensorID, error) {
	var id SensorID
	if len(s) != 2*len(id) {
		return SensorID{}, fmt.Errorf("%w: %q", ErrInvalidSensorID, s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return SensorID{}, fmt.Errorf("%w: %q", ErrInvalidSensorID, s)
	}
	return id, nil
}

// IsZero reports whether no sensor is identified.
func (id SensorID) IsZero() bool {
	return id == SensorID{}
}

// Family returns the 1-Wire device family code.
func (id SensorID) Family() byte {
	return id[0]
}

func (id SensorID) String() string {
	return hex.EncodeToString(id[:])
}

// Setpoint is the target temperatures and permitted actions for one cycle.
type Setpoint struct {
	AllowedActions ActionSet
	Heat           Temperature
	Cool           Temperature
	CirculateAbove Temperature
	CirculateBelow Temperature
}

// SettingType distinguishes holds from recurring schedule entries.
type SettingType uint8

const (
	SettingHold SettingType = iota + 1
	SettingScheduled
)

func (t SettingType) String() string {
	switch t {
	case SettingHold:
		return "hold"
	case SettingScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// ThermostatSetting is one entry of the configured program.
type ThermostatSetting struct {
	Type     SettingType
	Setpoint Setpoint

	// Hold only: valid while now <= HoldUntil (epoch seconds).
	HoldUntil uint32

	// Scheduled only.
	DaysOfWeek             DaysOfWeek
	AtMinutesSinceMidnight uint16
}

// Timezone describes the local offset and an optional upcoming transition.
type Timezone struct {
	UTCOffsetMinutes     int16
	NextUTCOffsetMinutes int16
	NextChange           uint32 // epoch seconds; 0 = no pending transition
}

// Offset returns the UTC offset in effect at now.
func (tz Timezone) Offset(now time.Time) time.Duration {
	minutes := tz.UTCOffsetMinutes
	if tz.NextChange != 0 && now.Unix() >= int64(tz.NextChange) {
		minutes = tz.NextUTCOffsetMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Local returns now expressed in the configured local time.
func (tz Timezone) Local(now time.Time) time.Time {
	offset := tz.Offset(now)
	return now.In(time.FixedZone("", int(offset/time.Second)))
}

// Settings is the decoded configuration payload.
type Settings struct {
	Threshold        Temperature
	Cadence          uint16 // seconds
	ExternalSensorID SensorID
	Timezone         Timezone

	// Legacy single-setpoint mode, used when no settings are present.
	DefaultAllowedActions ActionSet
	DefaultHeat           Temperature
	DefaultCool           Temperature

	ThermostatSettings []ThermostatSetting
}

// CadenceDuration returns the polling interval.
func (s *Settings) CadenceDuration() time.Duration {
	return time.Duration(s.Cadence) * time.Second
}
