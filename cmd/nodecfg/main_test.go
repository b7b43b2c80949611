package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwd-iot/sensornode/internal/config"
	"github.com/rwd-iot/sensornode/internal/header"
)

const firmwareHeader = "testdata/config.h"

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "nodecfg dev\n", out)
}

func TestUsageErrors(t *testing.T) {
	code, _, _ := runCLI(t, "frobnicate")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCLI(t, "render", "--format", "json")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCLI(t, "diff", "missing-a.h", "missing-b.h")
	assert.Equal(t, exitUsage, code)
}

func TestValidate(t *testing.T) {
	code, out, _ := runCLI(t, "--config", firmwareHeader, "validate")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "ssid: IoTWorkshop")
	assert.Contains(t, out, "device: esp32iottest")
	assert.Contains(t, out, "***")
	assert.NotContains(t, out, "SpliTech2024")
}

func TestValidateReportsInvalidOverride(t *testing.T) {
	code, _, stderr := runCLI(t, "--config", firmwareHeader, "--delay", "0", "--influx-url", "ftp://x", "validate")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, config.MacroDelayBefore)
	assert.Contains(t, stderr, config.MacroInfluxURL)
}

func TestRenderHeader(t *testing.T) {
	out := filepath.Join(t.TempDir(), "config.h")
	code, _, stderr := runCLI(t, "--config", firmwareHeader, "--delay", "2500", "--sensors", "SHT31, bh1750", "render", "--out", out)
	require.Equal(t, exitOK, code, stderr)

	f, err := header.ReadFile(out)
	require.NoError(t, err)
	cfg, extras, err := config.FromHeader(f)
	require.NoError(t, err)
	assert.Empty(t, extras)
	assert.Equal(t, 2500, cfg.DelayBefore)
	assert.Equal(t, []string{"sht31", "bh1750"}, cfg.Tags.Sensors)
	assert.Equal(t, "SpliTech2024", cfg.WiFi.Passphrase)
}

func TestRenderYAMLToStdout(t *testing.T) {
	code, out, _ := runCLI(t, "--config", firmwareHeader, "render", "--format", "yaml")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "delay_before_ms: 1000")

	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	code, again, _ := runCLI(t, "--config", path, "render", "--format", "yaml")
	require.Equal(t, exitOK, code)
	assert.Equal(t, out, again)
}

func TestDiff(t *testing.T) {
	code, out, _ := runCLI(t, "diff", firmwareHeader, firmwareHeader)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "same values")

	data, err := os.ReadFile(firmwareHeader)
	require.NoError(t, err)
	changed := strings.Replace(string(data), `"SpliTech2024"`, `"OtherPass99"`, 1)
	other := filepath.Join(t.TempDir(), "config.h")
	require.NoError(t, os.WriteFile(other, []byte(changed), 0o600))

	code, out, _ = runCLI(t, "diff", firmwareHeader, other)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, out, config.MacroWiFiPass)
	assert.Contains(t, out, "<redacted ")
	assert.NotContains(t, out, "OtherPass99")

	code, out, _ = runCLI(t, "diff", "--show-secrets", firmwareHeader, other)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, out, "OtherPass99")
}

func TestPublishNeedsBroker(t *testing.T) {
	t.Setenv("NODECFG_MQTT_URL", "")
	code, _, stderr := runCLI(t, "--config", firmwareHeader, "publish")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--mqtt-url")
}

func TestWatchNeedsConfig(t *testing.T) {
	t.Setenv("NODECFG_CONFIG", "")
	code, _, _ := runCLI(t, "watch")
	assert.Equal(t, exitUsage, code)
}

func TestWatchDeviceFromInvalidConfig(t *testing.T) {
	data, err := os.ReadFile(firmwareHeader)
	require.NoError(t, err)
	invalid := filepath.Join(t.TempDir(), "config.h")
	require.NoError(t, os.WriteFile(invalid, []byte(strings.Replace(string(data), "DELAY_BEFORE 1000", "DELAY_BEFORE 0", 1)), 0o600))

	c := &cli{o: config.Overrides{ConfigFile: invalid}}
	device, err := c.watchDevice()
	require.NoError(t, err)
	assert.Equal(t, "esp32iottest", device)

	flag := "bench-node"
	c.o.Device = &flag
	device, err = c.watchDevice()
	require.NoError(t, err)
	assert.Equal(t, "bench-node", device)
}

func TestWatchDeviceUnresolvable(t *testing.T) {
	broken := filepath.Join(t.TempDir(), "config.h")
	require.NoError(t, os.WriteFile(broken, []byte("#define WIFI1_SSID \"lab\"\n"), 0o600))

	c := &cli{o: config.Overrides{ConfigFile: broken}}
	_, err := c.watchDevice()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--device")
}

func TestWatchWithBrokerSkipsInitialValidation(t *testing.T) {
	data, err := os.ReadFile(firmwareHeader)
	require.NoError(t, err)
	invalid := filepath.Join(t.TempDir(), "config.h")
	require.NoError(t, os.WriteFile(invalid, []byte(strings.Replace(string(data), "DELAY_BEFORE 1000", "DELAY_BEFORE 0", 1)), 0o600))

	// nothing listens on port 1: the run gets as far as connecting
	code, _, stderr := runCLI(t, "--config", invalid, "--mqtt-url", "mqtt://127.0.0.1:1", "watch")
	assert.Equal(t, exitRuntime, code)
	assert.NotContains(t, stderr, "invalid configuration")
}
