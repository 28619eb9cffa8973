package gpio

import (
	"sync"

	"github.com/sweeney/thermostat/internal/logic"
)

// FakeRelays is a test double that records applied actions.
type FakeRelays struct {
	mu sync.Mutex

	// Applied holds every action set passed to Apply, in order.
	Applied []logic.ActionSet

	// Levels is the relay state after the last successful Apply.
	Levels Levels

	// Closed tracks if Close was called
	Closed bool

	// ApplyError, if set, will be returned by Apply()
	ApplyError error
}

// NewFakeRelays creates a FakeRelays with all relays off.
func NewFakeRelays() *FakeRelays {
	return &FakeRelays{}
}

// Apply records actions and updates Levels.
func (f *FakeRelays) Apply(actions logic.ActionSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Applied = append(f.Applied, actions)
	if f.ApplyError != nil {
		return f.ApplyError
	}
	f.Levels = LevelsFor(actions)
	return nil
}

// Close marks the relays as closed and de-energised.
func (f *FakeRelays) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.Levels = Levels{}
	return nil
}

// Last returns the most recently applied actions.
func (f *FakeRelays) Last() (logic.ActionSet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Applied) == 0 {
		return logic.ActionNone, false
	}
	return f.Applied[len(f.Applied)-1], true
}
