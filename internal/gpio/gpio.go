// Package gpio drives the relay outputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/thermostat/internal/logic"

// Output energises relays for a set of thermostat actions.
type Output interface {
	// Apply sets every relay to the level the actions require.
	Apply(actions logic.ActionSet) error

	// Close de-energises the relays and releases GPIO resources.
	Close() error
}

// Relay identifies one physical output.
type Relay int

const (
	RelayCall       Relay = iota // call for heating or cooling
	RelaySwitchover              // heat pump reversing valve, energised for cooling
	RelayCirculator              // blower / circulation pump

	relayCount
)

func (r Relay) String() string {
	switch r {
	case RelayCall:
		return "call"
	case RelaySwitchover:
		return "switchover"
	case RelayCirculator:
		return "circulator"
	default:
		return "unknown"
	}
}

// wiring maps each relay to the actions that energise it.
var wiring = [relayCount]logic.ActionSet{
	RelayCall:       logic.ActionHeat | logic.ActionCool,
	RelaySwitchover: logic.ActionCool,
	RelayCirculator: logic.ActionHeat | logic.ActionCool | logic.ActionCirculate,
}

// Levels is the energised state of every relay.
type Levels [relayCount]bool

// LevelsFor returns which relays are energised for actions.
func LevelsFor(actions logic.ActionSet) Levels {
	var l Levels
	for r, mask := range wiring {
		l[r] = actions.Intersect(mask) != logic.ActionNone
	}
	return l
}

// Pins holds the BCM line offsets of the relays.
type Pins struct {
	Call       int
	Switchover int
	Circulator int
}

// DefaultPins are the relay HAT channels used by the reference build.
var DefaultPins = Pins{Call: 17, Switchover: 27, Circulator: 22}

func (p Pins) offsets() [relayCount]int {
	return [relayCount]int{
		RelayCall:       p.Call,
		RelaySwitchover: p.Switchover,
		RelayCirculator: p.Circulator,
	}
}
