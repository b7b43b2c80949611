package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/rwd-iot/sensornode/internal/header"
	"github.com/rwd-iot/sensornode/internal/sensors"
)

// Macro names the firmware references. They are the external interface of
// the configuration and must not be renamed.
const (
	MacroWiFiSSID      = "WIFI1_SSID"
	MacroWiFiPass      = "WIFI1_PASS"
	MacroInfluxURL     = "INFLUXDB_URL"
	MacroInfluxName    = "INFLUXDB_NAME"
	MacroInfluxUser    = "INFLUXDB_USER"
	MacroInfluxPass    = "INFLUXDB_PASS"
	MacroTagDevice     = "INFLUXDB_TAG_DEVICE"
	MacroTagSensorList = "INFLUXDB_TAG_SENSOR_LIST"
	MacroDelayBefore   = "DELAY_BEFORE"
)

// Macros lists every macro in header order.
var Macros = []string{
	MacroWiFiSSID,
	MacroWiFiPass,
	MacroInfluxURL,
	MacroInfluxName,
	MacroInfluxUser,
	MacroInfluxPass,
	MacroTagDevice,
	MacroTagSensorList,
	MacroDelayBefore,
}

var (
	// ErrMissingMacro is returned when a header lacks a required macro.
	ErrMissingMacro = errors.New("missing macro")
	// ErrMacroType is returned when a macro holds the wrong literal type.
	ErrMacroType = errors.New("wrong literal type")
)

// IsSecret reports whether the macro holds a password.
func IsSecret(name string) bool {
	return name == MacroWiFiPass || name == MacroInfluxPass
}

func isMacro(name string) bool {
	for _, m := range Macros {
		if m == name {
			return true
		}
	}
	return false
}

// HeaderGuard is the include guard of rendered headers.
const HeaderGuard = "SENSORNODE_CONFIG_H"

// ToHeader renders the configuration as the header the firmware includes.
func (c *Config) ToHeader() *header.File {
	f := &header.File{Guard: HeaderGuard}
	defs := []header.Define{
		header.StringDefine(MacroWiFiSSID, c.WiFi.SSID, "Access point the node joins."),
		header.StringDefine(MacroWiFiPass, c.WiFi.Passphrase),
		header.StringDefine(MacroInfluxURL, c.InfluxDB.URL, "InfluxDB endpoint and target database."),
		header.StringDefine(MacroInfluxName, c.InfluxDB.Database),
		header.StringDefine(MacroInfluxUser, c.InfluxDB.Username, "Database credentials."),
		header.StringDefine(MacroInfluxPass, c.InfluxDB.Password),
		header.StringDefine(MacroTagDevice, c.Tags.Device, "Tags attached to every data point."),
		header.StringDefine(MacroTagSensorList, sensors.JoinList(c.Tags.Sensors)),
		header.IntDefine(MacroDelayBefore, int64(c.DelayBefore), "Delay between data points in milliseconds."),
	}
	for _, d := range defs {
		// names are unique by construction
		_ = f.Add(d)
	}
	return f
}

// FromHeader reads a configuration from a parsed header. Every macro must be
// present with the right literal type; defines the firmware does not use are
// returned as extras. The result is not validated.
func FromHeader(f *header.File) (*Config, []string, error) {
	cfg := &Config{}
	var errs []error

	str := func(name string, dst *string) {
		d, ok := f.Lookup(name)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingMacro, name))
		case d.Kind != header.KindString:
			errs = append(errs, fmt.Errorf("%s (line %d): %w: want string, got %s", name, d.Line, ErrMacroType, d.Kind))
		default:
			*dst = d.Str
		}
	}

	str(MacroWiFiSSID, &cfg.WiFi.SSID)
	str(MacroWiFiPass, &cfg.WiFi.Passphrase)
	str(MacroInfluxURL, &cfg.InfluxDB.URL)
	str(MacroInfluxName, &cfg.InfluxDB.Database)
	str(MacroInfluxUser, &cfg.InfluxDB.Username)
	str(MacroInfluxPass, &cfg.InfluxDB.Password)
	str(MacroTagDevice, &cfg.Tags.Device)

	var list string
	str(MacroTagSensorList, &list)
	if d, ok := f.Lookup(MacroTagSensorList); ok && d.Kind == header.KindString {
		ids, err := sensors.ParseList(list)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s (line %d): %w", MacroTagSensorList, d.Line, err))
		}
		cfg.Tags.Sensors = ids
	}

	switch d, ok := f.Lookup(MacroDelayBefore); {
	case !ok:
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingMacro, MacroDelayBefore))
	case d.Kind != header.KindInt:
		errs = append(errs, fmt.Errorf("%s (line %d): %w: want integer, got %s", MacroDelayBefore, d.Line, ErrMacroType, d.Kind))
	case d.Int > math.MaxInt32 || d.Int < math.MinInt32:
		errs = append(errs, fmt.Errorf("%s (line %d): %d does not fit a 32-bit delay", MacroDelayBefore, d.Line, d.Int))
	default:
		cfg.DelayBefore = int(d.Int)
	}

	var extras []string
	for _, d := range f.Defines {
		if !isMacro(d.Name) {
			extras = append(extras, d.Name)
		}
	}

	if len(errs) > 0 {
		return nil, extras, errors.Join(errs...)
	}
	return cfg, extras, nil
}
