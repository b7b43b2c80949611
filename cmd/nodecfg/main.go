package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"

	"github.com/rwd-iot/sensornode/internal/app"
	"github.com/rwd-iot/sensornode/internal/bus"
	"github.com/rwd-iot/sensornode/internal/config"
	"github.com/rwd-iot/sensornode/internal/header"
	"github.com/rwd-iot/sensornode/internal/influx"
	"github.com/rwd-iot/sensornode/internal/mqtt"
	"github.com/rwd-iot/sensornode/internal/provision"
	"github.com/rwd-iot/sensornode/internal/watch"
	"github.com/rwd-iot/sensornode/internal/wifi"
)

// version is injected at build time via ldflags
var version = "dev"

// Exit codes
const (
	exitOK      = 0
	exitFailed  = 1 // invalid config, differing headers, failed probe
	exitUsage   = 2
	exitRuntime = 3
)

var signalNotify = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds the parsed command line.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	verbose  *bool
	o        config.Overrides
	delaySet bool

	renderOut    *string
	renderFormat *string

	diffA, diffB *string
	showSecrets  *bool

	mqttURL     *string
	withSecrets *bool
	watchOut    *string

	probeTimeout *time.Duration
	wifiScan     *bool
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	kp := kingpin.New("nodecfg", "Validate, render and distribute sensor node configurations")
	kp.Writer(stderr)
	kp.Terminate(nil)

	c.verbose = kp.Flag("verbose", "Verbose logging").Short('v').Envar("NODECFG_VERBOSE").Bool()
	kp.Flag("config", "Configuration file (.h or .yaml)").Short('c').Envar("NODECFG_CONFIG").StringVar(&c.o.ConfigFile)
	kp.Flag("env-file", "Dotenv file with NODECFG_* variables").StringVar(&c.o.EnvFile)
	c.o.WiFiSSID = kp.Flag("wifi-ssid", "Override "+config.MacroWiFiSSID).String()
	c.o.WiFiPass = kp.Flag("wifi-pass", "Override "+config.MacroWiFiPass).String()
	c.o.InfluxURL = kp.Flag("influx-url", "Override "+config.MacroInfluxURL).String()
	c.o.InfluxDB = kp.Flag("influx-db", "Override "+config.MacroInfluxName).String()
	c.o.InfluxUser = kp.Flag("influx-user", "Override "+config.MacroInfluxUser).String()
	c.o.InfluxPass = kp.Flag("influx-pass", "Override "+config.MacroInfluxPass).String()
	c.o.Device = kp.Flag("device", "Override "+config.MacroTagDevice).String()
	c.o.Sensors = kp.Flag("sensors", "Override "+config.MacroTagSensorList+" (comma-separated)").String()
	c.o.DelayBefore = kp.Flag("delay", "Override "+config.MacroDelayBefore+" (ms)").IsSetByUser(&c.delaySet).Int()

	validateCmd := kp.Command("validate", "Check the configuration and print the effective values")

	renderCmd := kp.Command("render", "Write the firmware header")
	c.renderOut = renderCmd.Flag("out", "Output path (stdout when empty)").Short('o').String()
	c.renderFormat = renderCmd.Flag("format", "Output format").Default("h").Enum("h", "yaml")

	diffCmd := kp.Command("diff", "Compare the values of two headers")
	c.diffA = diffCmd.Arg("a", "First header").Required().ExistingFile()
	c.diffB = diffCmd.Arg("b", "Second header").Required().ExistingFile()
	c.showSecrets = diffCmd.Flag("show-secrets", "Print passwords instead of fingerprints").Bool()

	publishCmd := kp.Command("publish", "Publish the configuration to an MQTT broker once")
	c.mqttURL = kp.Flag("mqtt-url", "MQTT broker URL (mqtt://, mqtts://, ws://, wss://)").Envar("NODECFG_MQTT_URL").String()
	c.withSecrets = kp.Flag("with-secrets", "Include passwords in published documents").Bool()

	watchCmd := kp.Command("watch", "Re-render and republish whenever the config file changes")
	c.watchOut = watchCmd.Flag("out", "Header to keep up to date").Short('o').String()

	probeCmd := kp.Command("probe", "Check that the configured InfluxDB and network are reachable")
	c.probeTimeout = probeCmd.Flag("timeout", "Probe timeout").Default(config.ProbeTimeout.String()).Duration()
	c.wifiScan = probeCmd.Flag("wifi-scan", "Also check that the SSID is visible (needs nmcli)").Bool()

	versionCmd := kp.Command("version", "Show version")

	cmd, err := kp.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "nodecfg: %v\n", err)
		return exitUsage
	}
	if !c.delaySet {
		c.o.DelayBefore = nil
	}

	logger := setupLogger(*c.verbose, stderr)

	switch cmd {
	case validateCmd.FullCommand():
		return c.validate(logger)
	case renderCmd.FullCommand():
		return c.render(logger)
	case diffCmd.FullCommand():
		return c.diff(logger)
	case publishCmd.FullCommand():
		return c.publish(logger)
	case watchCmd.FullCommand():
		return c.watch(logger)
	case probeCmd.FullCommand():
		return c.probe(logger)
	case versionCmd.FullCommand():
		fmt.Fprintf(stdout, "nodecfg %s\n", version)
		return exitOK
	}
	// only reached after --help
	return exitOK
}

func setupLogger(verbose bool, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// load resolves and validates the configuration, logging every warning.
func (c *cli) load(logger *logrus.Logger) (*config.Config, int) {
	cfg, extras, err := config.Resolve(&c.o)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "nodecfg: %v\n", err)
		if errors.Is(err, config.ErrInvalid) || errors.Is(err, config.ErrMissingMacro) || errors.Is(err, config.ErrMacroType) {
			return nil, exitFailed
		}
		return nil, exitRuntime
	}
	if len(extras) > 0 {
		logger.WithField("defines", strings.Join(extras, ", ")).Warn("Header defines macros the firmware does not use")
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	return cfg, exitOK
}

func (c *cli) validate(logger *logrus.Logger) int {
	cfg, code := c.load(logger)
	if cfg == nil {
		return code
	}
	out, err := cfg.Redacted().MarshalYAMLFile()
	if err != nil {
		logger.WithError(err).Error("Failed to render configuration")
		return exitRuntime
	}
	fmt.Fprintf(c.stdout, "%s", out)
	logger.WithField("device", cfg.Tags.Device).Info("Configuration is valid")
	return exitOK
}

func (c *cli) render(logger *logrus.Logger) int {
	cfg, code := c.load(logger)
	if cfg == nil {
		return code
	}

	var data []byte
	switch *c.renderFormat {
	case "yaml":
		out, err := cfg.MarshalYAMLFile()
		if err != nil {
			logger.WithError(err).Error("Failed to render configuration")
			return exitRuntime
		}
		data = out
	default:
		data = header.Bytes(cfg.ToHeader())
	}

	if *c.renderOut == "" {
		_, _ = c.stdout.Write(data)
		return exitOK
	}
	if err := renameio.WriteFile(*c.renderOut, data, 0o644); err != nil {
		logger.WithError(err).Error("Failed to write output")
		return exitRuntime
	}
	logger.WithFields(logrus.Fields{
		"path":   *c.renderOut,
		"format": *c.renderFormat,
	}).Info("Configuration rendered")
	return exitOK
}

func (c *cli) diff(logger *logrus.Logger) int {
	a, err := header.ReadFile(*c.diffA)
	if err != nil {
		logger.WithError(err).Error("Failed to read header")
		return exitRuntime
	}
	b, err := header.ReadFile(*c.diffB)
	if err != nil {
		logger.WithError(err).Error("Failed to read header")
		return exitRuntime
	}

	redact := config.IsSecret
	if *c.showSecrets {
		redact = nil
	}
	d := header.Diff(a, b, redact)
	if d == "" {
		fmt.Fprintln(c.stdout, "headers define the same values")
		return exitOK
	}
	fmt.Fprintf(c.stdout, "--- %s\n+++ %s\n%s", *c.diffA, *c.diffB, d)
	return exitFailed
}

func (c *cli) connect(device string, logger *logrus.Logger) (*mqtt.Client, int) {
	if *c.mqttURL == "" {
		fmt.Fprintln(c.stderr, "nodecfg: --mqtt-url is required")
		return nil, exitUsage
	}
	client, err := mqtt.NewClient(*c.mqttURL, device, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create MQTT client")
		return nil, exitRuntime
	}
	return client, exitOK
}

func (c *cli) publish(logger *logrus.Logger) int {
	cfg, code := c.load(logger)
	if cfg == nil {
		return code
	}
	client, code := c.connect(cfg.Tags.Device, logger)
	if client == nil {
		return code
	}
	defer client.Close()

	if _, err := provision.New(client, *c.withSecrets, logger).Publish(cfg); err != nil {
		logger.WithError(err).Error("Failed to publish configuration")
		return exitRuntime
	}
	return exitOK
}

func (c *cli) watch(logger *logrus.Logger) int {
	if c.o.ConfigFile == "" {
		fmt.Fprintln(c.stderr, "nodecfg: watch needs --config")
		return exitUsage
	}

	ctx, stop := signalNotify(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := app.Options{}
	if *c.watchOut != "" {
		opts.Renderer = app.HeaderFile(*c.watchOut)
	}
	if *c.mqttURL != "" {
		device, err := c.watchDevice()
		if err != nil {
			fmt.Fprintf(c.stderr, "nodecfg: %v\n", err)
			return exitUsage
		}
		client, code := c.connect(device, logger)
		if client == nil {
			return code
		}
		defer client.Close()
		opts.Publisher = provision.New(client, *c.withSecrets, logger)
	}
	if opts.Renderer == nil && opts.Publisher == nil {
		logger.Warn("Neither --out nor --mqtt-url set; changes will only be validated")
	}

	b := bus.New()
	w := watch.New(c.o.ConfigFile, func() (*config.Config, error) {
		cfg, _, err := config.Resolve(&c.o)
		return cfg, err
	}, b, logger)

	logger.WithFields(logrus.Fields{
		"version": version,
		"config":  c.o.ConfigFile,
		"out":     *c.watchOut,
	}).Info("Starting watch mode")

	if err := app.Run(ctx, w, b, opts, logger); err != nil {
		logger.WithError(err).Error("Watch mode failed")
		return exitRuntime
	}
	logger.Info("Watch mode stopped")
	return exitOK
}

// watchDevice returns the device tag the broker connection is opened for.
// The configuration does not have to be valid yet; watch mode reports and
// waits out an invalid one. The tag is fixed for the lifetime of the
// connection.
func (c *cli) watchDevice() (string, error) {
	if c.o.Device != nil && *c.o.Device != "" {
		return *c.o.Device, nil
	}
	cfg, _, err := config.Resolve(&c.o)
	if err != nil {
		return "", fmt.Errorf("cannot determine the device for MQTT topics (set --device): %w", err)
	}
	if cfg.Tags.Device == "" {
		return "", fmt.Errorf("%s is empty; set it or pass --device", config.MacroTagDevice)
	}
	return cfg.Tags.Device, nil
}

func (c *cli) probe(logger *logrus.Logger) int {
	cfg, code := c.load(logger)
	if cfg == nil {
		return code
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*(*c.probeTimeout))
	defer cancel()

	code = exitOK
	rep, err := influx.NewProber(cfg.InfluxDB, *c.probeTimeout, logger).Probe(ctx)
	if rep.Version != "" {
		fmt.Fprintf(c.stdout, "influxdb %s: version %s, rtt %s\n", rep.URL, rep.Version, rep.RTT.Round(time.Millisecond))
	}
	if err != nil {
		fmt.Fprintf(c.stdout, "influxdb %s: %v\n", rep.URL, err)
		code = exitFailed
	} else {
		fmt.Fprintf(c.stdout, "influxdb %s: database %q exists\n", rep.URL, cfg.InfluxDB.Database)
	}

	if *c.wifiScan {
		visible, err := wifi.NewScanner(logger, nil).IsVisible(ctx, cfg.WiFi.SSID)
		switch {
		case err != nil:
			fmt.Fprintf(c.stdout, "wifi %q: scan failed: %v\n", cfg.WiFi.SSID, err)
			code = exitFailed
		case visible:
			fmt.Fprintf(c.stdout, "wifi %q: visible\n", cfg.WiFi.SSID)
		default:
			fmt.Fprintf(c.stdout, "wifi %q: not visible from this machine\n", cfg.WiFi.SSID)
			code = exitFailed
		}
	}
	return code
}
