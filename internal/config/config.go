// Package config holds the settings compiled into the sensor node firmware
// and the rules they must satisfy.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rwd-iot/sensornode/internal/netutil"
	"github.com/rwd-iot/sensornode/internal/sensors"
	"github.com/rwd-iot/sensornode/internal/wifi"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const redactedValue = "***"

// Config holds all configuration options for a sensor node
type Config struct {
	WiFi     wifi.Credentials `yaml:"wifi" json:"wifi"`
	InfluxDB InfluxDB         `yaml:"influxdb" json:"influxdb"`
	Tags     Tags             `yaml:"tags" json:"tags"`

	// DelayBefore is the pause between data points in milliseconds.
	DelayBefore int `yaml:"delay_before_ms" json:"delay_before_ms"`
}

// InfluxDB holds the time-series database connection parameters.
type InfluxDB struct {
	URL      string `yaml:"url" json:"url"`   // base endpoint, e.g. http://192.168.0.10:8086
	Database string `yaml:"name" json:"name"` // target database
	Username string `yaml:"user" json:"user,omitempty"`
	Password string `yaml:"pass" json:"pass,omitempty"`
}

// Tags are attached to every point the node writes.
type Tags struct {
	Device  string   `yaml:"device" json:"device"`
	Sensors []string `yaml:"sensors" json:"sensors"`
}

// GetDefaultConfig returns a configuration with sensible defaults. Network
// credentials, database and device have no sensible default and stay empty.
func GetDefaultConfig() *Config {
	list, _ := sensors.ParseList(DefaultSensorList)
	return &Config{
		InfluxDB: InfluxDB{
			URL: DefaultInfluxURL,
		},
		Tags: Tags{
			Sensors: list,
		},
		DelayBefore: DefaultDelayBefore,
	}
}

// Validate checks if the configuration is valid. All problems are reported
// at once, each prefixed with the macro it concerns.
func (c *Config) Validate() error {
	var errs []error
	add := func(macro string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", macro, err))
	}

	if err := c.WiFi.Validate(); err != nil {
		if errors.Is(err, wifi.ErrSSID) {
			add(MacroWiFiSSID, err)
		} else {
			add(MacroWiFiPass, err)
		}
	}

	if _, err := c.influxURL(); err != nil {
		add(MacroInfluxURL, err)
	}

	switch {
	case c.InfluxDB.Database == "":
		add(MacroInfluxName, errors.New("database name is required"))
	case strings.ContainsAny(c.InfluxDB.Database, " \t\r\n\"'\\"):
		add(MacroInfluxName, fmt.Errorf("database name %q must not contain whitespace, quotes or backslashes", c.InfluxDB.Database))
	}

	if c.InfluxDB.Username != "" && c.InfluxDB.Password == "" {
		add(MacroInfluxPass, errors.New("password is required when a user is set"))
	}
	if c.InfluxDB.Password != "" && c.InfluxDB.Username == "" {
		add(MacroInfluxUser, errors.New("user is required when a password is set"))
	}

	switch {
	case c.Tags.Device == "":
		add(MacroTagDevice, errors.New("device tag is required"))
	case strings.ContainsFunc(c.Tags.Device, isControl):
		add(MacroTagDevice, errors.New("device tag must not contain control characters"))
	}

	if err := sensors.CheckList(c.Tags.Sensors); err != nil {
		add(MacroTagSensorList, err)
	}

	switch {
	case c.DelayBefore <= 0:
		add(MacroDelayBefore, fmt.Errorf("delay must be a positive number of milliseconds, got %d", c.DelayBefore))
	case c.DelayBefore > math.MaxInt32:
		add(MacroDelayBefore, fmt.Errorf("delay %d does not fit the firmware's 32-bit int", c.DelayBefore))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n%w", ErrInvalid, errors.Join(errs...))
}

// Warnings lists findings that do not make the configuration unusable but
// are likely mistakes.
func (c *Config) Warnings() []string {
	var out []string

	if c.WiFi.SSID != "" && c.WiFi.Open() {
		out = append(out, fmt.Sprintf("%s is empty: the node will join %q as an open network", MacroWiFiPass, c.WiFi.SSID))
	}

	if u, err := c.influxURL(); err == nil && u.Scheme == "http" && c.HasInfluxAuth() && !netutil.IsLocalOrPrivateHost(u.Hostname()) {
		out = append(out, fmt.Sprintf("%s: credentials are sent in clear text to public host %s", MacroInfluxURL, u.Hostname()))
	}

	if strings.ContainsAny(c.Tags.Device, " ,=") {
		out = append(out, fmt.Sprintf("%s: %q contains characters that must be escaped in line protocol", MacroTagDevice, c.Tags.Device))
	}

	if unknown := sensors.Unknown(c.Tags.Sensors); len(unknown) > 0 {
		out = append(out, fmt.Sprintf("%s: unknown sensor(s) %s (known: %s)",
			MacroTagSensorList, strings.Join(unknown, ", "), strings.Join(sensors.KnownIDs(), ", ")))
	}

	if c.DelayBefore > 0 && c.DelayBefore < MinRecommendedDelay {
		out = append(out, fmt.Sprintf("%s: %d ms is below the recommended minimum of %d ms", MacroDelayBefore, c.DelayBefore, MinRecommendedDelay))
	}

	return out
}

func (c *Config) influxURL() (*url.URL, error) {
	raw := c.InfluxDB.URL
	if raw == "" {
		return nil, errors.New("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL must use http:// or https://, got %q", raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("URL %q has no host", raw)
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL must not carry credentials; use %s and %s", MacroInfluxUser, MacroInfluxPass)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("URL %q must not have a query or fragment", raw)
	}
	return u, nil
}

// HasInfluxAuth returns true if database credentials are configured
func (c *Config) HasInfluxAuth() bool {
	return c.InfluxDB.Username != "" && c.InfluxDB.Password != ""
}

// Interval returns the delay between data points as a duration
func (c *Config) Interval() time.Duration {
	return time.Duration(c.DelayBefore) * time.Millisecond
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Tags.Sensors = slices.Clone(c.Tags.Sensors)
	return &out
}

// Equal reports whether both configurations hold the same values.
func (c *Config) Equal(o *Config) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.WiFi == o.WiFi &&
		c.InfluxDB == o.InfluxDB &&
		c.Tags.Device == o.Tags.Device &&
		slices.Equal(c.Tags.Sensors, o.Tags.Sensors) &&
		c.DelayBefore == o.DelayBefore
}

// Redacted returns a copy safe for logs and terminals.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	if out.WiFi.Passphrase != "" {
		out.WiFi.Passphrase = redactedValue
	}
	if out.InfluxDB.Password != "" {
		out.InfluxDB.Password = redactedValue
	}
	return out
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
