// Package appconfig loads the daemon's options from flags, environment and an
// optional YAML file. Flags win over the environment, which wins over the file.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/mqtt"
)

// EnvPrefix is prepended to environment variable names, e.g. THERMOSTAT_BROKER.
const EnvPrefix = "THERMOSTAT"

// Option keys. Flags use the same names.
const (
	keyConfig       = "config"
	keyBroker       = "broker"
	keyDeviceID     = "device-id"
	keyTopicPrefix  = "topic-prefix"
	keyUsername     = "mqtt-username"
	keyPassword     = "mqtt-password"
	keyGPIOChip     = "gpio-chip"
	keyPinCall      = "pin-call"
	keyPinSwitch    = "pin-switchover"
	keyPinCirc      = "pin-circulator"
	keyActiveLow    = "active-low"
	keyIIODevice    = "iio-device"
	keyW1Devices    = "w1-devices"
	keyDBPath       = "db"
	keyQueueDepth   = "queue-depth"
	keyQueuePolicy  = "queue-policy"
	keyQueuePace    = "queue-pace"
	keyHTTPAddr     = "http"
	keyLogLevel     = "log-level"
	keyResetConfig  = "reset-config"
	keyPrintConfig  = "print-config"
	keyShutdownWait = "shutdown-timeout"
)

// Options are the daemon options.
type Options struct {
	Broker      string
	DeviceID    string
	TopicPrefix string
	Username    string
	Password    string

	GPIOChip  string
	Pins      gpio.Pins
	ActiveLow bool

	IIODevice string
	W1Devices string

	DBPath string

	Sink mqtt.SinkOptions

	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration

	ResetConfig bool
	PrintConfig bool
}

// Topics returns the MQTT topics for the configured device.
func (o Options) Topics() mqtt.Topics {
	return mqtt.NewTopics(o.TopicPrefix, o.DeviceID)
}

// ErrHelp is returned by Load when usage was requested.
var ErrHelp = pflag.ErrHelp

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "thermostat"
	}
	return host
}

func newFlagSet() *pflag.FlagSet {
	sink := mqtt.DefaultSinkOptions()

	fs := pflag.NewFlagSet("thermostat", pflag.ContinueOnError)
	fs.String(keyConfig, "", "YAML options file")
	fs.String(keyBroker, "tcp://localhost:1883", "MQTT broker address")
	fs.String(keyDeviceID, defaultDeviceID(), "device ID used in MQTT topics")
	fs.String(keyTopicPrefix, mqtt.DefaultPrefix, "MQTT topic prefix")
	fs.String(keyUsername, "", "MQTT username")
	fs.String(keyPassword, "", "MQTT password")
	fs.String(keyGPIOChip, "gpiochip0", "GPIO character device")
	fs.Int(keyPinCall, gpio.DefaultPins.Call, "BCM pin of the call relay")
	fs.Int(keyPinSwitch, gpio.DefaultPins.Switchover, "BCM pin of the heat/cool switchover relay")
	fs.Int(keyPinCirc, gpio.DefaultPins.Circulator, "BCM pin of the circulator relay")
	fs.Bool(keyActiveLow, false, "relays are energised by a low level")
	fs.String(keyIIODevice, "/sys/bus/iio/devices/iio:device0", "IIO device of the onboard sensor (empty to disable)")
	fs.String(keyW1Devices, "/sys/bus/w1/devices", "1-Wire devices directory")
	fs.String(keyDBPath, "/var/lib/thermostat/config.db", "configuration storage database")
	fs.Int(keyQueueDepth, sink.Depth, "status backlog depth")
	fs.String(keyQueuePolicy, sink.Policy.String(), "status backlog policy when full: evict-oldest or reject-new")
	fs.Duration(keyQueuePace, sink.Pace, "minimum spacing between status sends (0 to disable)")
	fs.String(keyHTTPAddr, ":80", "HTTP status address (empty to disable)")
	fs.String(keyLogLevel, logger.InfoLevel, "log level: debug, info, warn, error")
	fs.Duration(keyShutdownWait, 5*time.Second, "HTTP shutdown timeout")
	fs.Bool(keyResetConfig, false, "reset the stored configuration to defaults and exit")
	fs.Bool(keyPrintConfig, false, "print the committed configuration and exit")
	return fs
}

// Load parses args (without the program name) and resolves the options.
func Load(args []string) (Options, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Options{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	policy, ok := mqtt.ParsePolicy(v.GetString(keyQueuePolicy))
	if !ok {
		return Options{}, fmt.Errorf("unknown queue policy %q", v.GetString(keyQueuePolicy))
	}

	opts := Options{
		Broker:      v.GetString(keyBroker),
		DeviceID:    v.GetString(keyDeviceID),
		TopicPrefix: v.GetString(keyTopicPrefix),
		Username:    v.GetString(keyUsername),
		Password:    v.GetString(keyPassword),
		GPIOChip:    v.GetString(keyGPIOChip),
		Pins: gpio.Pins{
			Call:       v.GetInt(keyPinCall),
			Switchover: v.GetInt(keyPinSwitch),
			Circulator: v.GetInt(keyPinCirc),
		},
		ActiveLow: v.GetBool(keyActiveLow),
		IIODevice: v.GetString(keyIIODevice),
		W1Devices: v.GetString(keyW1Devices),
		DBPath:    v.GetString(keyDBPath),
		Sink: mqtt.SinkOptions{
			Depth:      v.GetInt(keyQueueDepth),
			MaxItemLen: mqtt.DefaultSinkOptions().MaxItemLen,
			Policy:     policy,
			Pace:       v.GetDuration(keyQueuePace),
		},
		HTTPAddr:        v.GetString(keyHTTPAddr),
		LogLevel:        v.GetString(keyLogLevel),
		ShutdownTimeout: v.GetDuration(keyShutdownWait),
		ResetConfig:     v.GetBool(keyResetConfig),
		PrintConfig:     v.GetBool(keyPrintConfig),
	}
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) validate() error {
	var errs []error
	if o.Broker == "" {
		errs = append(errs, errors.New("broker must be set"))
	}
	if o.DeviceID == "" || strings.ContainsAny(o.DeviceID, "/+#") {
		errs = append(errs, fmt.Errorf("invalid device id %q", o.DeviceID))
	}
	if o.DBPath == "" {
		errs = append(errs, errors.New("db must be set"))
	}
	if o.Sink.Depth < 1 {
		errs = append(errs, fmt.Errorf("queue depth %d must be at least 1", o.Sink.Depth))
	}
	if o.Sink.Pace < 0 {
		errs = append(errs, fmt.Errorf("queue pace %v must not be negative", o.Sink.Pace))
	}
	p := o.Pins
	if p.Call < 0 || p.Switchover < 0 || p.Circulator < 0 {
		errs = append(errs, fmt.Errorf("pins must not be negative: %+v", p))
	} else if p.Call == p.Switchover || p.Call == p.Circulator || p.Switchover == p.Circulator {
		errs = append(errs, fmt.Errorf("pins must be distinct: %+v", p))
	}
	return errors.Join(errs...)
}
