// Package mqtt publishes thermostat status to the broker through a bounded
// backlog, and receives configuration pushes.
package mqtt

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/thermostat/internal/logic"
	"github.com/sweeney/thermostat/internal/sensor"
)

// DefaultPrefix is the topic prefix; the device ID is appended.
const DefaultPrefix = "thermostat"

// Topics are the MQTT topics used by one device.
type Topics struct {
	Status   string // periodic status records
	System   string // lifecycle events, retained
	Config   string // subscribed: configuration push
	Response string // subscribed: cloud response to a status record
}

// NewTopics derives the topic set for a device.
func NewTopics(prefix, deviceID string) Topics {
	base := prefix + "/" + deviceID
	return Topics{
		Status:   base + "/status",
		System:   base + "/system",
		Config:   base + "/config",
		Response: base + "/status/response",
	}
}

// Link is a connection to the broker.
type Link interface {
	// Send publishes payload and waits for the broker to acknowledge it.
	Send(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers handler for messages on topic. Subscriptions
	// survive reconnects.
	Subscribe(topic string, handler func(payload []byte)) error

	// IsConnected reports whether the connection is currently up.
	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// Record is one status report.
type Record struct {
	Timestamp time.Time
	Serial    uint32

	Actions   logic.ActionSet
	Setpoint  logic.Setpoint
	Threshold logic.Temperature

	// Temperature is the value used for control. When UsedExternal is set,
	// OnboardTemperature carries the onboard reading alongside it.
	Temperature        logic.Temperature
	UsedExternal       bool
	OnboardTemperature logic.Temperature
	Humidity           float64

	// Sensors are the external readings. The sensor used for control is
	// excluded by FormatStatus since it is already reported as Temperature.
	Sensors    []sensor.Reading
	ExternalID logic.SensorID
}

// fixed renders a float with a fixed number of decimals; NaN renders as 0.
type fixed struct {
	v      float64
	places int
}

func (f fixed) MarshalJSON() ([]byte, error) {
	v := f.v
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return strconv.AppendFloat(nil, v, 'f', f.places, 64), nil
}

func oneDP(t logic.Temperature) fixed { return fixed{float64(t), 1} }

// StatusPayload is the wire form of a Record.
type StatusPayload struct {
	Timestamp          int64           `json:"ts"`
	Serial             uint32          `json:"ser"`
	Temperature        fixed           `json:"t"`
	OnboardTemperature *fixed          `json:"t2,omitempty"`
	Humidity           fixed           `json:"h"`
	Actions            logic.ActionSet `json:"ca"`
	Config             ConfigPayload   `json:"cc"`
	Values             []ValuePayload  `json:"v"`
}

// ConfigPayload reports the setpoint in effect.
type ConfigPayload struct {
	Heat           fixed           `json:"sh"`
	Cool           fixed           `json:"sc"`
	Threshold      fixed           `json:"th"`
	AllowedActions logic.ActionSet `json:"aa"`
}

// ValuePayload is one external sensor reading.
type ValuePayload struct {
	ID          string `json:"id"`
	Temperature fixed  `json:"t"`
}

// FormatStatus creates the JSON payload for a status record.
func FormatStatus(rec Record) ([]byte, error) {
	p := StatusPayload{
		Timestamp:   rec.Timestamp.Unix(),
		Serial:      rec.Serial,
		Temperature: oneDP(rec.Temperature),
		Humidity:    fixed{rec.Humidity, 1},
		Actions:     rec.Actions,
		Config: ConfigPayload{
			Heat:           oneDP(rec.Setpoint.Heat),
			Cool:           oneDP(rec.Setpoint.Cool),
			Threshold:      fixed{float64(rec.Threshold), 2},
			AllowedActions: rec.Setpoint.AllowedActions,
		},
		Values: []ValuePayload{},
	}
	if rec.UsedExternal {
		t2 := oneDP(rec.OnboardTemperature)
		p.OnboardTemperature = &t2
	}
	for _, r := range rec.Sensors {
		if !r.Temperature.IsValid() || (rec.UsedExternal && r.ID == rec.ExternalID) {
			continue
		}
		p.Values = append(p.Values, ValuePayload{ID: r.ID.String(), Temperature: oneDP(r.Temperature)})
	}
	return json.Marshal(p)
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
