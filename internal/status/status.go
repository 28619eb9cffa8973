// Package status provides a thread-safe status tracker for the thermostat daemon.
// It is read by the HTTP handlers and by the lifecycle events.
package status

import (
	"math"
	"sync"
	"time"

	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/logic"
	"github.com/sweeney/thermostat/internal/sensor"
)

// Options contains daemon options for display.
type Options struct {
	DeviceID    string
	Broker      string
	HTTPAddr    string
	QueueDepth  int
	QueuePolicy string
}

// Cycle is the outcome of one pass of the control loop.
type Cycle struct {
	At        time.Time
	Serial    uint32
	Actions   logic.ActionSet
	Setpoint  logic.Setpoint
	Threshold logic.Temperature
	Sample    sensor.Sample
}

// ConfigSummary describes the committed configuration.
type ConfigSummary struct {
	PayloadBytes int
	Settings     int
	Cadence      time.Duration
	ExternalID   logic.SensorID
	Dirty        bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Cycles    int
	LastCycle Cycle

	Config        ConfigSummary
	MQTTConnected bool
	Backlog       int

	StartTime time.Time
	Now       time.Time
	Options   Options
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether at least one control cycle has completed.
func (s Snapshot) Ready() bool {
	return s.Cycles > 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and options.
func NewTracker(startTime time.Time, opts Options) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Options:   opts,
			LastCycle: Cycle{
				Sample: sensor.Sample{
					Temperature: logic.NoReading,
					Onboard:     logic.NoReading,
					Humidity:    math.NaN(),
				},
			},
		},
	}
}

// Update records a completed control cycle.
// Called from runLoop after every cycle.
func (t *Tracker) Update(c Cycle) {
	c.Sample.Sensors = append([]sensor.Reading(nil), c.Sample.Sensors...)
	t.mu.Lock()
	t.snap.LastCycle = c
	t.snap.Cycles++
	t.mu.Unlock()
}

// SetConfig records the committed configuration.
func (t *Tracker) SetConfig(cfg *config.Configuration, dirty bool) {
	sum := ConfigSummary{Dirty: dirty}
	if cfg != nil {
		sum.PayloadBytes = int(cfg.Header.PayloadLength)
		sum.Settings = len(cfg.Settings.ThermostatSettings)
		sum.Cadence = cfg.Settings.CadenceDuration()
		sum.ExternalID = cfg.Settings.ExternalSensorID
	}
	t.mu.Lock()
	t.snap.Config = sum
	t.mu.Unlock()
}

// SetMQTT sets the MQTT connection status and the status backlog length.
func (t *Tracker) SetMQTT(connected bool, backlog int) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.snap.Backlog = backlog
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
