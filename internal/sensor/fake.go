package sensor

import (
	"sync"

	"github.com/sweeney/thermostat/internal/logic"
)

// FakeSource is a test double with settable readings.
type FakeSource struct {
	mu sync.Mutex

	Onboard    logic.Temperature
	Humidity   float64
	OnboardErr error

	// External maps present sensors to their temperature. Sensors listed in
	// ExternalErr are enumerated but fail to read.
	External     map[logic.SensorID]logic.Temperature
	ExternalErr  map[logic.SensorID]error
	EnumerateErr error
}

// NewFakeSource creates a FakeSource with an onboard reading and no external sensors.
func NewFakeSource(onboard logic.Temperature, humidity float64) *FakeSource {
	return &FakeSource{
		Onboard:     onboard,
		Humidity:    humidity,
		External:    make(map[logic.SensorID]logic.Temperature),
		ExternalErr: make(map[logic.SensorID]error),
	}
}

// Set updates the onboard reading.
func (f *FakeSource) Set(onboard logic.Temperature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Onboard = onboard
}

// SetExternal adds or updates an external sensor.
func (f *FakeSource) SetExternal(id logic.SensorID, t logic.Temperature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.External[id] = t
	delete(f.ExternalErr, id)
}

// RemoveExternal takes an external sensor off the bus.
func (f *FakeSource) RemoveExternal(id logic.SensorID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.External, id)
	delete(f.ExternalErr, id)
}

// ReadOnboard implements Source.
func (f *FakeSource) ReadOnboard() (logic.Temperature, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OnboardErr != nil {
		return logic.NoReading, 0, f.OnboardErr
	}
	return f.Onboard, f.Humidity, nil
}

// Enumerate implements Source. IDs are returned in ascending order.
func (f *FakeSource) Enumerate() ([]logic.SensorID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnumerateErr != nil {
		return nil, f.EnumerateErr
	}
	var ids []logic.SensorID
	for id := range f.External {
		ids = append(ids, id)
	}
	for id := range f.ExternalErr {
		if _, ok := f.External[id]; !ok {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids, nil
}

// ReadExternal implements Source.
func (f *FakeSource) ReadExternal(id logic.SensorID) (logic.Temperature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.ExternalErr[id]; ok {
		return logic.NoReading, err
	}
	t, ok := f.External[id]
	if !ok {
		return logic.NoReading, ErrNotFound
	}
	return t, nil
}
