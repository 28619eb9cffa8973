package logic

import (
	"math"

	"github.com/sweeney/thermostat/internal/logger"
)

// Output drives the relays for a set of logical actions.
type Output interface {
	Apply(actions ActionSet) error
}

// Controller evolves relay actions from temperature and setpoint using
// hysteresis bands, so actions only change once the temperature has left
// the dead band on the far side.
type Controller struct {
	out     Output
	log     *logger.Logger
	current ActionSet
}

// NewController creates a Controller with all actions off.
func NewController(out Output, log *logger.Logger) *Controller {
	return &Controller{out: out, log: log}
}

// Initialize pushes the all-off state to the outputs once.
func (c *Controller) Initialize() error {
	c.current = ActionNone
	return c.out.Apply(c.current)
}

// CurrentActions returns the committed action state.
func (c *Controller) CurrentActions() ActionSet {
	return c.current
}

// Apply evaluates one cycle and commits the resulting actions.
// A missing temperature leaves the current actions untouched.
func (c *Controller) Apply(threshold Temperature, sp Setpoint, t Temperature) ActionSet {
	if !t.IsValid() {
		c.log.Warnw("no temperature available, holding actions", "actions", c.current.String())
		return c.current
	}

	proposed := c.current

	// Heat
	if c.current.Has(ActionHeat) && t > sp.Heat+threshold {
		proposed = proposed.Without(ActionHeat)
	} else if !c.current.Has(ActionHeat) && t < sp.Heat-threshold {
		proposed = proposed.With(ActionHeat)
	}

	// Cool
	if c.current.Has(ActionCool) && t < sp.Cool-threshold {
		proposed = proposed.Without(ActionCool)
	} else if !c.current.Has(ActionCool) && t > sp.Cool+threshold {
		proposed = proposed.With(ActionCool)
	}

	// Circulate: supplementary, so either bound may be the upper one.
	above := Temperature(math.Max(float64(sp.CirculateAbove), float64(sp.CirculateBelow)))
	below := Temperature(math.Min(float64(sp.CirculateAbove), float64(sp.CirculateBelow)))
	if c.current.Has(ActionCirculate) {
		if t > below+threshold && t < above-threshold {
			proposed = proposed.Without(ActionCirculate)
		}
	} else if t < below-threshold || t > above+threshold {
		proposed = proposed.With(ActionCirculate)
	}

	proposed = proposed.Intersect(sp.AllowedActions)

	if proposed.Has(ActionHeat | ActionCool) {
		c.log.Warnw("simultaneous heat and cool proposed, dropping both",
			"temperature", float64(t), "heat", float64(sp.Heat), "cool", float64(sp.Cool))
		proposed = proposed.Without(ActionHeat | ActionCool)
	}

	if proposed != c.current {
		c.log.Infow("actions changed", "from", c.current.String(), "to", proposed.String(), "temperature", float64(t))
	}
	c.current = proposed
	if err := c.out.Apply(c.current); err != nil {
		c.log.Errorw("relay output error", "actions", c.current.String(), "err", err)
	}
	return c.current
}
