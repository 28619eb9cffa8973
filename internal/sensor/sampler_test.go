package sensor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/logic"
)

var (
	idA = logic.SensorID{0x28, 1, 0, 0, 0, 0, 0, 0xAA}
	idB = logic.SensorID{0x28, 2, 0, 0, 0, 0, 0, 0xBB}
)

func TestSampleOnboardOnly(t *testing.T) {
	src := NewFakeSource(20.5, 40)
	s := NewSampler(src, logger.Nop())

	got := s.Sample(logic.SensorID{}, time.Minute)

	assert.Equal(t, logic.Temperature(20.5), got.Temperature)
	assert.False(t, got.UsedExternal)
	assert.Equal(t, 40.0, got.Humidity)
	assert.Empty(t, got.Sensors)
}

func TestSamplePrefersConfiguredExternal(t *testing.T) {
	src := NewFakeSource(20.5, 40)
	src.SetExternal(idB, 18)
	src.SetExternal(idA, 19)
	s := NewSampler(src, logger.Nop())

	got := s.Sample(idB, time.Minute)

	assert.Equal(t, logic.Temperature(18), got.Temperature)
	assert.True(t, got.UsedExternal)
	assert.Equal(t, logic.Temperature(20.5), got.Onboard)
	require.Len(t, got.Sensors, 2)
	assert.Equal(t, idA, got.Sensors[0].ID, "sensors are ordered by id")
}

func TestSampleUsesFreshCachedExternal(t *testing.T) {
	src := NewFakeSource(20.5, 40)
	src.SetExternal(idA, 19)
	s := NewSampler(src, logger.Nop())
	require.True(t, s.Sample(idA, time.Minute).UsedExternal)

	src.ExternalErr[idA] = errors.New("crc mismatch")
	got := s.Sample(idA, time.Minute)

	assert.Equal(t, logic.Temperature(19), got.Temperature)
	assert.True(t, got.UsedExternal)
	assert.Empty(t, got.Sensors)
}

func TestSampleFallsBackWhenExternalStale(t *testing.T) {
	src := NewFakeSource(20.5, 40)
	src.SetExternal(idA, 19)
	s := NewSampler(src, logger.Nop())
	require.True(t, s.Sample(idA, 20*time.Millisecond).UsedExternal)

	src.RemoveExternal(idA)
	time.Sleep(50 * time.Millisecond)
	got := s.Sample(idA, 20*time.Millisecond)

	assert.Equal(t, logic.Temperature(20.5), got.Temperature)
	assert.False(t, got.UsedExternal)
}

func TestSampleNothingAvailable(t *testing.T) {
	src := NewFakeSource(0, 0)
	src.OnboardErr = errors.New("dht22 timeout")
	src.EnumerateErr = errors.New("no bus master")
	s := NewSampler(src, logger.Nop())

	got := s.Sample(idA, time.Minute)

	assert.False(t, got.Temperature.IsValid())
	assert.False(t, got.Onboard.IsValid())
	assert.True(t, math.IsNaN(got.Humidity))
	assert.False(t, got.UsedExternal)
}
