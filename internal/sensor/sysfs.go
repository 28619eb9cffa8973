package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sweeney/thermostat/internal/logic"
)

// ds18b20Family is the 1-Wire family code of the DS18B20.
const ds18b20Family = 0x28

// powerOnReset is what a DS18B20 reports before its first conversion.
const powerOnReset = 85000

// ErrConversion is returned when an external sensor reports its reset value.
var ErrConversion = errors.New("sensor conversion not complete")

// Sysfs reads sensors through the Linux IIO and 1-Wire sysfs interfaces.
// Reads are bounded by the kernel drivers' own timeouts.
type Sysfs struct {
	// IIODevice is the IIO device directory of the onboard DHT22,
	// e.g. /sys/bus/iio/devices/iio:device0.
	IIODevice string

	// W1Devices is the 1-Wire devices directory, e.g. /sys/bus/w1/devices.
	W1Devices string
}

// NewSysfs creates a Sysfs reader. An empty iioDevice disables the onboard sensor.
func NewSysfs(iioDevice, w1Devices string) *Sysfs {
	return &Sysfs{IIODevice: iioDevice, W1Devices: w1Devices}
}

// ReadOnboard implements Source.
func (s *Sysfs) ReadOnboard() (logic.Temperature, float64, error) {
	if s.IIODevice == "" {
		return logic.NoReading, 0, ErrNotFound
	}
	milliC, err := readMilli(filepath.Join(s.IIODevice, "in_temp_input"))
	if err != nil {
		return logic.NoReading, 0, fmt.Errorf("read onboard temperature: %w", err)
	}
	milliRH, err := readMilli(filepath.Join(s.IIODevice, "in_humidityrelative_input"))
	if err != nil {
		return logic.NoReading, 0, fmt.Errorf("read onboard humidity: %w", err)
	}
	return logic.Temperature(float64(milliC) / 1000), float64(milliRH) / 1000, nil
}

// Enumerate implements Source.
func (s *Sysfs) Enumerate() ([]logic.SensorID, error) {
	dirs, err := filepath.Glob(filepath.Join(s.W1Devices, fmt.Sprintf("%02x-*", ds18b20Family)))
	if err != nil {
		return nil, fmt.Errorf("list 1-wire devices: %w", err)
	}

	ids := make([]logic.SensorID, 0, len(dirs))
	for _, dir := range dirs {
		raw, err := os.ReadFile(filepath.Join(dir, "id"))
		if err != nil || len(raw) != len(logic.SensorID{}) {
			continue
		}
		var id logic.SensorID
		copy(id[:], raw)
		ids = append(ids, id)
	}
	return ids, nil
}

// ReadExternal implements Source.
func (s *Sysfs) ReadExternal(id logic.SensorID) (logic.Temperature, error) {
	path := filepath.Join(s.W1Devices, deviceName(id), "temperature")
	milliC, err := readMilli(path)
	if errors.Is(err, os.ErrNotExist) {
		return logic.NoReading, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return logic.NoReading, fmt.Errorf("read sensor %s: %w", id, err)
	}
	if milliC == powerOnReset {
		return logic.NoReading, fmt.Errorf("%w: %s", ErrConversion, id)
	}
	return logic.Temperature(float64(milliC) / 1000), nil
}

// deviceName returns the w1 sysfs directory name: the family code and the
// 48-bit serial, which is stored little-endian in the ROM id.
func deviceName(id logic.SensorID) string {
	var serial [8]byte
	copy(serial[:6], id[1:7])
	return fmt.Sprintf("%02x-%012x", id.Family(), binary.LittleEndian.Uint64(serial[:]))
}

func readMilli(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
