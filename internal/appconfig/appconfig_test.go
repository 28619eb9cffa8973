package appconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/mqtt"
)

func TestLoadDefaults(t *testing.T) {
	opts, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", opts.Broker)
	assert.Equal(t, mqtt.DefaultPrefix, opts.TopicPrefix)
	assert.NotEmpty(t, opts.DeviceID)
	assert.Equal(t, gpio.DefaultPins, opts.Pins)
	assert.Equal(t, mqtt.DefaultSinkOptions(), opts.Sink)
	assert.Equal(t, "info", opts.LogLevel)
	assert.False(t, opts.ResetConfig)
	assert.False(t, opts.PrintConfig)
}

func TestLoadFlags(t *testing.T) {
	opts, err := Load([]string{
		"--broker", "tcp://10.0.0.2:1883",
		"--device-id", "hall",
		"--queue-depth", "3",
		"--queue-policy", "reject-new",
		"--queue-pace", "0",
		"--pin-call", "5",
		"--active-low",
		"--print-config",
	})
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.2:1883", opts.Broker)
	assert.Equal(t, 3, opts.Sink.Depth)
	assert.Equal(t, mqtt.RejectNew, opts.Sink.Policy)
	assert.Equal(t, time.Duration(0), opts.Sink.Pace)
	assert.Equal(t, 5, opts.Pins.Call)
	assert.True(t, opts.ActiveLow)
	assert.True(t, opts.PrintConfig)
	assert.Equal(t, mqtt.Topics{
		Status:   "thermostat/hall/status",
		System:   "thermostat/hall/system",
		Config:   "thermostat/hall/config",
		Response: "thermostat/hall/status/response",
	}, opts.Topics())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("THERMOSTAT_BROKER", "tcp://env:1883")
	t.Setenv("THERMOSTAT_QUEUE_DEPTH", "4")

	opts, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp://env:1883", opts.Broker)
	assert.Equal(t, 4, opts.Sink.Depth)

	// A flag overrides the environment.
	opts, err = Load([]string{"--broker", "tcp://flag:1883"})
	require.NoError(t, err)
	assert.Equal(t, "tcp://flag:1883", opts.Broker)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thermostat.yaml")
	yaml := []byte("broker: tcp://file:1883\ndevice-id: loft\nqueue-policy: reject-new\nhttp: \"\"\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))
	t.Setenv("THERMOSTAT_DEVICE_ID", "study")

	opts, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "tcp://file:1883", opts.Broker)
	assert.Equal(t, "study", opts.DeviceID, "environment wins over the file")
	assert.Equal(t, mqtt.RejectNew, opts.Sink.Policy)
	assert.Empty(t, opts.HTTPAddr)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"empty broker", []string{"--broker", ""}},
		{"topic wildcard in device id", []string{"--device-id", "a/#"}},
		{"zero queue depth", []string{"--queue-depth", "0"}},
		{"unknown policy", []string{"--queue-policy", "drop-all"}},
		{"negative pace", []string{"--queue-pace", "-1s"}},
		{"shared pin", []string{"--pin-call", "27"}},
		{"negative pin", []string{"--pin-circulator", "-1"}},
		{"empty db", []string{"--db", ""}},
		{"unknown flag", []string{"--no-such-flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.True(t, errors.Is(err, ErrHelp))
}
