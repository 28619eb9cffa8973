package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/thermostat/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Ready         bool        `json:"ready"`
	Cycles        int         `json:"cycles"`
	Control       ControlJSON `json:"control"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Config        ConfigJSON  `json:"configuration"`
	Options       OptionsJSON `json:"options"`
}

// ControlJSON is the outcome of the last control cycle.
type ControlJSON struct {
	LastCycle          string          `json:"last_cycle,omitempty"`
	Serial             uint32          `json:"serial"`
	Actions            logic.ActionSet `json:"actions"`
	Setpoint           SetpointJSON    `json:"setpoint"`
	Threshold          float64         `json:"threshold"`
	Temperature        *float64        `json:"temperature"`
	UsedExternal       bool            `json:"used_external"`
	OnboardTemperature *float64        `json:"onboard_temperature"`
	Humidity           *float64        `json:"humidity"`
	Sensors            []SensorJSON    `json:"sensors"`
}

// SetpointJSON is the JSON representation of a setpoint.
type SetpointJSON struct {
	AllowedActions logic.ActionSet `json:"allowed_actions"`
	Heat           float64         `json:"heat"`
	Cool           float64         `json:"cool"`
	CirculateAbove float64         `json:"circulate_above"`
	CirculateBelow float64         `json:"circulate_below"`
}

// SensorJSON is one external sensor reading.
type SensorJSON struct {
	ID          string   `json:"id"`
	Temperature *float64 `json:"temperature"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Backlog   int    `json:"backlog"`
}

// ConfigJSON summarises the committed configuration.
type ConfigJSON struct {
	PayloadBytes   int    `json:"payload_bytes"`
	Settings       int    `json:"settings"`
	CadenceSeconds int64  `json:"cadence_seconds"`
	ExternalSensor string `json:"external_sensor,omitempty"`
	Dirty          bool   `json:"dirty"`
}

// OptionsJSON is the JSON representation of daemon options.
type OptionsJSON struct {
	DeviceID    string `json:"device_id"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	QueueDepth  int    `json:"queue_depth"`
	QueuePolicy string `json:"queue_policy"`
}

// reading returns v rounded to one decimal, or nil when there is no value.
func reading(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	r := math.Round(v*10) / 10
	return &r
}

func buildControl(c Cycle) ControlJSON {
	out := ControlJSON{
		Serial:  c.Serial,
		Actions: c.Actions,
		Setpoint: SetpointJSON{
			AllowedActions: c.Setpoint.AllowedActions,
			Heat:           float64(c.Setpoint.Heat),
			Cool:           float64(c.Setpoint.Cool),
			CirculateAbove: float64(c.Setpoint.CirculateAbove),
			CirculateBelow: float64(c.Setpoint.CirculateBelow),
		},
		Threshold:          float64(c.Threshold),
		Temperature:        reading(float64(c.Sample.Temperature)),
		UsedExternal:       c.Sample.UsedExternal,
		OnboardTemperature: reading(float64(c.Sample.Onboard)),
		Humidity:           reading(c.Sample.Humidity),
		Sensors:            make([]SensorJSON, 0, len(c.Sample.Sensors)),
	}
	if !c.At.IsZero() {
		out.LastCycle = c.At.UTC().Format(time.RFC3339)
	}
	for _, r := range c.Sample.Sensors {
		out.Sensors = append(out.Sensors, SensorJSON{ID: r.ID.String(), Temperature: reading(float64(r.Temperature))})
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Ready(),
		Cycles:        snap.Cycles,
		Control:       buildControl(snap.LastCycle),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Options.Broker,
			Backlog:   snap.Backlog,
		},
		Config: ConfigJSON{
			PayloadBytes:   snap.Config.PayloadBytes,
			Settings:       snap.Config.Settings,
			CadenceSeconds: int64(snap.Config.Cadence / time.Second),
			Dirty:          snap.Config.Dirty,
		},
		Options: OptionsJSON{
			DeviceID:    snap.Options.DeviceID,
			Broker:      snap.Options.Broker,
			HTTPAddr:    snap.Options.HTTPAddr,
			QueueDepth:  snap.Options.QueueDepth,
			QueuePolicy: snap.Options.QueuePolicy,
		},
	}
	if !snap.Config.ExternalID.IsZero() {
		inner.Config.ExternalSensor = snap.Config.ExternalID.String()
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
