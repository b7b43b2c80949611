package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rwd-iot/sensornode/internal/header"
	"github.com/rwd-iot/sensornode/internal/sensors"
)

// ErrUnknownFormat is returned for config files that are neither a header
// nor YAML.
var ErrUnknownFormat = errors.New("unknown config file format")

// Overrides holds command-line flag overrides. Nil fields are not set.
type Overrides struct {
	ConfigFile string
	EnvFile    string

	WiFiSSID    *string
	WiFiPass    *string
	InfluxURL   *string
	InfluxDB    *string
	InfluxUser  *string
	InfluxPass  *string
	Device      *string
	Sensors     *string
	DelayBefore *int
}

// Load resolves the configuration and validates it.
// Precedence: CLI flags > environment > dotenv file > config file > defaults
func Load(o *Overrides) (*Config, error) {
	cfg, _, err := Resolve(o)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve merges all sources without validating the result, so callers can
// report every problem at once. It also returns the names of header defines
// the firmware does not use.
func Resolve(o *Overrides) (*Config, []string, error) {
	if o == nil {
		o = &Overrides{}
	}
	cfg := GetDefaultConfig()
	var extras []string

	if o.ConfigFile != "" {
		fileCfg, ex, err := LoadFile(o.ConfigFile, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("load config file: %w", err)
		}
		cfg, extras = fileCfg, ex
	}

	lookup, err := envLookup(o.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, nil, err
	}

	if err := applyOverrides(cfg, o); err != nil {
		return nil, nil, err
	}
	return cfg, extras, nil
}

// LoadFile reads a header (.h) or YAML (.yaml, .yml) config file. YAML keys
// that are absent keep the values of base; a header must define every
// macro.
func LoadFile(path string, base *Config) (*Config, []string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".h", ".hpp":
		f, err := header.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		cfg, extras, err := FromHeader(f)
		if err != nil {
			return nil, extras, fmt.Errorf("%s: %w", path, err)
		}
		return cfg, extras, nil

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read file: %w", err)
		}
		cfg := base.Clone()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("parse YAML %s: %w", path, err)
		}
		for i, id := range cfg.Tags.Sensors {
			cfg.Tags.Sensors[i] = strings.ToLower(strings.TrimSpace(id))
		}
		return cfg, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s (want .h, .yaml or .yml)", ErrUnknownFormat, path)
	}
}

// MarshalYAMLFile renders the configuration in the YAML config file format.
func (c *Config) MarshalYAMLFile() ([]byte, error) {
	return yaml.Marshal(c)
}

// EnvVar returns the environment variable that overrides a macro.
func EnvVar(macro string) string {
	return EnvPrefix + macro
}

// envLookup reads the process environment, falling back to the dotenv file.
// Variables set in the real environment win.
func envLookup(envFile string) (func(string) string, error) {
	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		dotenv = m
	}
	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := []struct {
		macro string
		dst   *string
	}{
		{MacroWiFiSSID, &cfg.WiFi.SSID},
		{MacroWiFiPass, &cfg.WiFi.Passphrase},
		{MacroInfluxURL, &cfg.InfluxDB.URL},
		{MacroInfluxName, &cfg.InfluxDB.Database},
		{MacroInfluxUser, &cfg.InfluxDB.Username},
		{MacroInfluxPass, &cfg.InfluxDB.Password},
		{MacroTagDevice, &cfg.Tags.Device},
	}
	for _, s := range strs {
		if v := getenv(EnvVar(s.macro)); v != "" {
			*s.dst = v
		}
	}

	if v := getenv(EnvVar(MacroTagSensorList)); v != "" {
		ids, err := sensors.ParseList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVar(MacroTagSensorList), err)
		}
		cfg.Tags.Sensors = ids
	}

	if v := getenv(EnvVar(MacroDelayBefore)); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", EnvVar(MacroDelayBefore), v)
		}
		cfg.DelayBefore = n
	}
	return nil
}

func applyOverrides(cfg *Config, o *Overrides) error {
	set := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	set(&cfg.WiFi.SSID, o.WiFiSSID)
	set(&cfg.WiFi.Passphrase, o.WiFiPass)
	set(&cfg.InfluxDB.URL, o.InfluxURL)
	set(&cfg.InfluxDB.Database, o.InfluxDB)
	set(&cfg.InfluxDB.Username, o.InfluxUser)
	set(&cfg.InfluxDB.Password, o.InfluxPass)
	set(&cfg.Tags.Device, o.Device)

	if o.Sensors != nil && *o.Sensors != "" {
		ids, err := sensors.ParseList(*o.Sensors)
		if err != nil {
			return fmt.Errorf("parse sensor list: %w", err)
		}
		cfg.Tags.Sensors = ids
	}
	if o.DelayBefore != nil {
		cfg.DelayBefore = *o.DelayBefore
	}
	return nil
}
