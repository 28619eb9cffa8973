//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/thermostat/internal/logic"
)

// RealRelays drives relays on actual hardware through the Linux GPIO character device.
type RealRelays struct {
	chip  *gpiocdev.Chip
	lines [relayCount]*gpiocdev.Line
}

// NewRealRelays requests the relay lines as outputs, all de-energised.
// With activeLow set, a low line level energises the relay.
func NewRealRelays(chipName string, pins Pins, activeLow bool) (*RealRelays, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	r := &RealRelays{chip: chip}
	for relay, offset := range pins.offsets() {
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", Relay(relay), offset, err)
		}
		r.lines[relay] = line
	}
	return r, nil
}

// Apply sets each relay line according to the wiring map.
func (r *RealRelays) Apply(actions logic.ActionSet) error {
	levels := LevelsFor(actions)
	for relay, line := range r.lines {
		v := 0
		if levels[relay] {
			v = 1
		}
		if err := line.SetValue(v); err != nil {
			return fmt.Errorf("set %s relay: %w", Relay(relay), err)
		}
	}
	return nil
}

// Close de-energises all relays and returns the lines to inputs with
// pull-down, matching the Pi boot defaults, before releasing them.
func (r *RealRelays) Close() error {
	var errs []error

	for relay, line := range r.lines {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release %s relay: %w", Relay(relay), err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", Relay(relay), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", Relay(relay), err))
		}
		r.lines[relay] = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
