package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/logic"
)

// ConfigurationJSON is the JSON representation of the committed configuration.
type ConfigurationJSON struct {
	Version      uint16       `json:"version"`
	PayloadBytes int          `json:"payload_bytes"`
	Transport    string       `json:"transport"`
	Settings     SettingsJSON `json:"settings"`
}

// SettingsJSON is the JSON representation of decoded settings.
type SettingsJSON struct {
	Threshold             float64         `json:"threshold"`
	CadenceSeconds        uint16          `json:"cadence_seconds"`
	ExternalSensor        string          `json:"external_sensor,omitempty"`
	Timezone              TimezoneJSON    `json:"timezone"`
	DefaultAllowedActions logic.ActionSet `json:"default_allowed_actions"`
	DefaultHeat           float64         `json:"default_heat"`
	DefaultCool           float64         `json:"default_cool"`
	Program               []SettingJSON   `json:"program"`
}

// TimezoneJSON is the JSON representation of the timezone settings.
type TimezoneJSON struct {
	UTCOffsetMinutes     int16  `json:"utc_offset_minutes"`
	NextUTCOffsetMinutes int16  `json:"next_utc_offset_minutes"`
	NextChange           string `json:"next_change,omitempty"`
}

// SettingJSON is one program entry.
type SettingJSON struct {
	Type           string          `json:"type"`
	AllowedActions logic.ActionSet `json:"allowed_actions"`
	Heat           float64         `json:"heat"`
	Cool           float64         `json:"cool"`
	CirculateAbove float64         `json:"circulate_above"`
	CirculateBelow float64         `json:"circulate_below"`
	HoldUntil      string          `json:"hold_until,omitempty"`
	Days           []string        `json:"days,omitempty"`
	At             string          `json:"at,omitempty"`
}

func epoch(sec uint32) string {
	if sec == 0 {
		return ""
	}
	return time.Unix(int64(sec), 0).UTC().Format(time.RFC3339)
}

func weekdays(d logic.DaysOfWeek) []string {
	var days []string
	for w := time.Sunday; w <= time.Saturday; w++ {
		if d.Has(w) {
			days = append(days, w.String()[:3])
		}
	}
	return days
}

func buildSetting(ts logic.ThermostatSetting) SettingJSON {
	out := SettingJSON{
		Type:           ts.Type.String(),
		AllowedActions: ts.Setpoint.AllowedActions,
		Heat:           float64(ts.Setpoint.Heat),
		Cool:           float64(ts.Setpoint.Cool),
		CirculateAbove: float64(ts.Setpoint.CirculateAbove),
		CirculateBelow: float64(ts.Setpoint.CirculateBelow),
	}
	switch ts.Type {
	case logic.SettingHold:
		out.HoldUntil = epoch(ts.HoldUntil)
	case logic.SettingScheduled:
		out.Days = weekdays(ts.DaysOfWeek)
		out.At = fmt.Sprintf("%02d:%02d", ts.AtMinutesSinceMidnight/60, ts.AtMinutesSinceMidnight%60)
	}
	return out
}

// FormatConfigJSON renders a committed configuration with its transport text.
func FormatConfigJSON(cfg *config.Configuration) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("no committed configuration")
	}
	text, err := config.EncodeTransport(cfg.Payload)
	if err != nil {
		return nil, err
	}

	s := cfg.Settings
	cj := ConfigurationJSON{
		Version:      cfg.Header.Version,
		PayloadBytes: int(cfg.Header.PayloadLength),
		Transport:    text,
		Settings: SettingsJSON{
			Threshold:      float64(s.Threshold),
			CadenceSeconds: s.Cadence,
			Timezone: TimezoneJSON{
				UTCOffsetMinutes:     s.Timezone.UTCOffsetMinutes,
				NextUTCOffsetMinutes: s.Timezone.NextUTCOffsetMinutes,
				NextChange:           epoch(s.Timezone.NextChange),
			},
			DefaultAllowedActions: s.DefaultAllowedActions,
			DefaultHeat:           float64(s.DefaultHeat),
			DefaultCool:           float64(s.DefaultCool),
			Program:               make([]SettingJSON, 0, len(s.ThermostatSettings)),
		},
	}
	if !s.ExternalSensorID.IsZero() {
		cj.Settings.ExternalSensor = s.ExternalSensorID.String()
	}
	for _, ts := range s.ThermostatSettings {
		cj.Settings.Program = append(cj.Settings.Program, buildSetting(ts))
	}
	return json.MarshalIndent(cj, "", "  ")
}
