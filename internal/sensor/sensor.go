// Package sensor reads the onboard and external temperature sensors and
// selects the temperature used for control.
package sensor

import (
	"errors"

	"github.com/sweeney/thermostat/internal/logic"
)

// ErrNotFound is returned when a requested sensor is not present.
var ErrNotFound = errors.New("sensor not found")

// Reading is one external sensor measurement.
type Reading struct {
	ID          logic.SensorID
	Temperature logic.Temperature
}

// Source reads temperature hardware.
type Source interface {
	// ReadOnboard returns the onboard temperature and relative humidity (%).
	ReadOnboard() (logic.Temperature, float64, error)

	// Enumerate lists the external sensors currently on the bus.
	Enumerate() ([]logic.SensorID, error)

	// ReadExternal returns the temperature of one external sensor.
	ReadExternal(id logic.SensorID) (logic.Temperature, error)
}
