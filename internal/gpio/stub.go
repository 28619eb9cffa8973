//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/thermostat/internal/logic"
)

// RealRelays is not available on non-Linux platforms.
type RealRelays struct{}

// NewRealRelays returns an error on non-Linux platforms.
func NewRealRelays(chipName string, pins Pins, activeLow bool) (*RealRelays, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Apply is not implemented on non-Linux platforms.
func (r *RealRelays) Apply(actions logic.ActionSet) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealRelays) Close() error {
	return nil
}
