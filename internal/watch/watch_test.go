package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rwd-iot/sensornode/internal/bus"
	"github.com/rwd-iot/sensornode/internal/config"
)

const nodeYAML = `wifi:
  ssid: IoTWorkshop
  pass: SpliTech2024
influxdb:
  url: http://192.168.0.10:8086
  name: workshop
tags:
  device: esp32iottest
  sensors: [aht20, bmp280]
delay_before_ms: %d
`

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeConfig(t *testing.T, path string, delay int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(nodeYAML, delay)), 0o644))
}

func fileLoader(path string) Loader {
	return func() (*config.Config, error) {
		cfg, _, err := config.LoadFile(path, config.GetDefaultConfig())
		return cfg, err
	}
}

func receive(t *testing.T, ch <-chan *config.Config) *config.Config {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("no configuration published")
		return nil
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "node.yaml")
	writeConfig(t, path, 1000)

	b := bus.New()
	sub := b.Subscribe()
	w := New(path, fileLoader(path), b, quietLogger())
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Equal(t, 1000, receive(t, sub).DelayBefore)

	writeConfig(t, path, 2000)
	assert.Equal(t, 2000, receive(t, sub).DelayBefore)

	// an invalid edit keeps the previous configuration
	writeConfig(t, path, -5)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid configuration published: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, 2000, w.Current().DelayBefore)

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0o644))

	writeConfig(t, path, 3000)
	assert.Equal(t, 3000, receive(t, sub).DelayBefore)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcherInvalidInitialConfig(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "node.yaml")
	writeConfig(t, path, 0)

	b := bus.New()
	sub := b.Subscribe()
	w := New(path, fileLoader(path), b, quietLogger())
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, path, 500)
	assert.Equal(t, 500, receive(t, sub).DelayBefore)

	cancel()
	<-done
}

func TestReload(t *testing.T) {
	b := bus.New()
	boom := errors.New("disk on fire")
	w := New("node.yaml", func() (*config.Config, error) { return nil, boom }, b, quietLogger())

	require.ErrorIs(t, w.Reload(), boom)
	assert.Nil(t, w.Current())

	w.load = func() (*config.Config, error) { return config.GetDefaultConfig(), nil }
	err := w.Reload()
	require.ErrorIs(t, err, config.ErrInvalid, "defaults lack network and device settings")
	assert.Nil(t, w.Current())
}

func TestRunMissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing", "node.yaml"), nil, bus.New(), quietLogger())
	assert.Error(t, w.Run(context.Background()))
}

func TestReloadSkipsUnchanged(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe()
	cfg := config.GetDefaultConfig()
	cfg.WiFi.SSID = "IoTWorkshop"
	cfg.InfluxDB.Database = "workshop"
	cfg.Tags.Device = "esp32iottest"
	w := New("node.yaml", func() (*config.Config, error) { return cfg.Clone(), nil }, b, quietLogger())

	require.NoError(t, w.Reload())
	require.NoError(t, w.Reload())

	<-sub
	select {
	case <-sub:
		t.Fatal("unchanged configuration published twice")
	default:
	}
}
