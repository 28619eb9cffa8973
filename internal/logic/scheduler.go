package logic

import "time"

const minutesPerDay = 24 * 60

// Scheduler resolves the setpoint in effect at a given time.
// It is stateless; every call is a pure function of (settings, now).
type Scheduler struct{}

// NewScheduler creates a Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// CurrentSetpoint returns the setpoint that applies at now.
//
// Priority: the soonest-expiring hold still in force, then the latest
// scheduled occurrence at or before now within the week, then the latest
// occurrence of the week (carried over from last week), then the legacy
// defaults. Ties go to the entry listed first.
func (s *Scheduler) CurrentSetpoint(settings *Settings, now time.Time) Setpoint {
	if hold, ok := activeHold(settings.ThermostatSettings, now); ok {
		return hold.Setpoint
	}

	if sched, ok := activeScheduled(settings.ThermostatSettings, minuteOfWeek(settings.Timezone.Local(now))); ok {
		return sched.Setpoint
	}

	return Setpoint{
		AllowedActions: settings.DefaultAllowedActions,
		Heat:           settings.DefaultHeat,
		Cool:           settings.DefaultCool,
	}
}

func activeHold(settings []ThermostatSetting, now time.Time) (*ThermostatSetting, bool) {
	var best *ThermostatSetting
	ts := now.Unix()
	for i := range settings {
		st := &settings[i]
		if st.Type != SettingHold || int64(st.HoldUntil) < ts {
			continue
		}
		if best == nil || st.HoldUntil < best.HoldUntil {
			best = st
		}
	}
	return best, best != nil
}

func activeScheduled(settings []ThermostatSetting, current int) (*ThermostatSetting, bool) {
	var (
		prior, latest       *ThermostatSetting
		priorMin, latestMin = -1, -1
	)
	for i := range settings {
		st := &settings[i]
		if st.Type != SettingScheduled {
			continue
		}
		for day := time.Sunday; day <= time.Saturday; day++ {
			if !st.DaysOfWeek.Has(day) {
				continue
			}
			trigger := int(day)*minutesPerDay + int(st.AtMinutesSinceMidnight)
			if trigger <= current && trigger > priorMin {
				prior, priorMin = st, trigger
			}
			if trigger > latestMin {
				latest, latestMin = st, trigger
			}
		}
	}
	if prior != nil {
		return prior, true
	}
	// Earlier in the week than every trigger: last week's final entry still applies.
	return latest, latest != nil
}

func minuteOfWeek(local time.Time) int {
	return int(local.Weekday())*minutesPerDay + local.Hour()*60 + local.Minute()
}
