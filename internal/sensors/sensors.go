// Package sensors knows the sensor chips a node can report and parses the
// sensor list tag.
package sensors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidList is returned by ParseList for malformed sensor lists.
var ErrInvalidList = errors.New("invalid sensor list")

// Measurement is one quantity a sensor reports.
type Measurement struct {
	Field string // line-protocol field key written by the firmware
	Unit  string
}

// SensorDefinition provides metadata for a sensor chip the firmware knows.
type SensorDefinition struct {
	ID           string // identifier used in INFLUXDB_TAG_SENSOR_LIST
	Name         string
	Bus          string // "i2c", "onewire", "gpio"
	Measurements []Measurement
}

// AllSensors defines the metadata for all known sensors.
var AllSensors = []SensorDefinition{
	{"aht20", "ASAIR AHT20", "i2c", []Measurement{{"temperature", "°C"}, {"humidity", "%"}}},
	{"bmp280", "Bosch BMP280", "i2c", []Measurement{{"temperature", "°C"}, {"pressure", "hPa"}}},
	{"bme280", "Bosch BME280", "i2c", []Measurement{{"temperature", "°C"}, {"humidity", "%"}, {"pressure", "hPa"}}},
	{"bme680", "Bosch BME680", "i2c", []Measurement{{"temperature", "°C"}, {"humidity", "%"}, {"pressure", "hPa"}, {"gas_resistance", "Ω"}}},
	{"sht31", "Sensirion SHT31", "i2c", []Measurement{{"temperature", "°C"}, {"humidity", "%"}}},
	{"scd30", "Sensirion SCD30", "i2c", []Measurement{{"co2", "ppm"}, {"temperature", "°C"}, {"humidity", "%"}}},
	{"ccs811", "ams CCS811", "i2c", []Measurement{{"eco2", "ppm"}, {"tvoc", "ppb"}}},
	{"bh1750", "ROHM BH1750", "i2c", []Measurement{{"illuminance", "lx"}}},
	{"dht22", "Aosong DHT22", "gpio", []Measurement{{"temperature", "°C"}, {"humidity", "%"}}},
	{"ds18b20", "Maxim DS18B20", "onewire", []Measurement{{"temperature", "°C"}}},
}

// Lookup returns the definition for id.
func Lookup(id string) (*SensorDefinition, bool) {
	for i := range AllSensors {
		if AllSensors[i].ID == id {
			return &AllSensors[i], true
		}
	}
	return nil, false
}

// Unknown returns the ids that have no definition, in input order.
func Unknown(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := Lookup(id); !ok {
			out = append(out, id)
		}
	}
	return out
}

// KnownIDs returns every catalogued id, sorted.
func KnownIDs() []string {
	ids := make([]string, 0, len(AllSensors))
	for _, s := range AllSensors {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// ParseList splits a comma-separated sensor list such as "aht20,bmp280".
// Whitespace around entries is dropped and entries are lower-cased. Empty
// entries, duplicates and characters outside [a-z0-9_-] are errors, and so
// is a list without entries.
func ParseList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: no sensors listed", ErrInvalidList)
	}

	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, strings.ToLower(strings.TrimSpace(p)))
	}
	if err := CheckList(ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// CheckList applies the ParseList rules to an already split, normalised list.
func CheckList(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no sensors listed", ErrInvalidList)
	}
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: entry %d is empty", ErrInvalidList, i+1)
		}
		if err := checkID(id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q listed twice", ErrInvalidList, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// JoinList is the inverse of ParseList.
func JoinList(ids []string) string {
	return strings.Join(ids, ",")
}

func checkID(id string) error {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidList, id, r)
		}
	}
	return nil
}
