package sensor

import (
	"bytes"
	"math"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/logic"
)

// Sample is the outcome of reading every sensor once.
type Sample struct {
	// Temperature is the reading used for control, or logic.NoReading.
	Temperature  logic.Temperature
	UsedExternal bool

	Onboard  logic.Temperature
	Humidity float64 // NaN when unavailable

	// Sensors holds the external sensors read this cycle, ordered by ID.
	Sensors []Reading
}

// Sampler reads all sensors each cycle and picks the control temperature:
// the configured external sensor if it has a fresh reading, else the
// onboard sensor, else none.
type Sampler struct {
	src   Source
	log   *logger.Logger
	fresh *cache.Cache
}

// NewSampler creates a Sampler over src.
func NewSampler(src Source, log *logger.Logger) *Sampler {
	return &Sampler{
		src:   src,
		log:   log,
		fresh: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Sample reads the sensors. External readings stay usable for freshness
// after they were taken, so one failed read does not drop control back to
// the onboard sensor.
func (s *Sampler) Sample(external logic.SensorID, freshness time.Duration) Sample {
	out := Sample{
		Temperature: logic.NoReading,
		Onboard:     logic.NoReading,
		Humidity:    math.NaN(),
	}

	if t, rh, err := s.src.ReadOnboard(); err != nil {
		s.log.Debugw("onboard sensor unavailable", "err", err)
	} else {
		out.Onboard, out.Humidity = t, rh
	}

	ids, err := s.src.Enumerate()
	if err != nil {
		s.log.Warnw("external sensor enumeration failed", "err", err)
	}
	sortIDs(ids)
	for _, id := range ids {
		t, err := s.src.ReadExternal(id)
		if err != nil {
			s.log.Warnw("external sensor read failed", "id", id.String(), "err", err)
			continue
		}
		out.Sensors = append(out.Sensors, Reading{ID: id, Temperature: t})
		s.fresh.Set(id.String(), t, freshness)
	}

	if !external.IsZero() {
		if v, ok := s.fresh.Get(external.String()); ok {
			out.Temperature = v.(logic.Temperature)
			out.UsedExternal = true
			return out
		}
		s.log.Warnw("configured external sensor has no fresh reading", "id", external.String())
	}
	if out.Onboard.IsValid() {
		out.Temperature = out.Onboard
	}
	return out
}

func sortIDs(ids []logic.SensorID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
