package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwd-iot/sensornode/internal/bus"
	"github.com/rwd-iot/sensornode/internal/config"
	"github.com/rwd-iot/sensornode/internal/header"
	"github.com/rwd-iot/sensornode/internal/wifi"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func nodeConfig(delay int) *config.Config {
	return &config.Config{
		WiFi:        wifi.Credentials{SSID: "IoTWorkshop", Passphrase: "SpliTech2024"},
		InfluxDB:    config.InfluxDB{URL: "http://192.168.0.10:8086", Database: "workshop"},
		Tags:        config.Tags{Device: "esp32iottest", Sensors: []string{"aht20", "bmp280"}},
		DelayBefore: delay,
	}
}

// staticSource publishes its configs once and waits for cancellation.
type staticSource struct {
	bus  *bus.Bus
	cfgs []*config.Config
	err  error
}

func (s *staticSource) Run(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	for _, c := range s.cfgs {
		s.bus.Publish(c)
	}
	<-ctx.Done()
	return ctx.Err()
}

type recorder struct {
	mu       sync.Mutex
	failures int
	got      []int
}

func (r *recorder) Publish(cfg *config.Config) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return false, errors.New("broker down")
	}
	r.got = append(r.got, cfg.DelayBefore)
	return true, nil
}

func (r *recorder) delays() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.got...)
}

func TestRunRendersAndPublishes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "config.h")
	b := bus.New()
	pub := &recorder{}
	src := &staticSource{bus: b, cfgs: []*config.Config{nodeConfig(1500)}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, src, b, Options{Renderer: HeaderFile(out), Publisher: pub}, quietLogger())
	}()

	require.Eventually(t, func() bool { return len(pub.delays()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1500}, pub.delays())

	f, err := header.ReadFile(out)
	require.NoError(t, err)
	d, ok := f.Lookup(config.MacroDelayBefore)
	require.True(t, ok)
	assert.Equal(t, int64(1500), d.Int)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunRetriesFailedPublish(t *testing.T) {
	b := bus.New()
	pub := &recorder{failures: 2}
	src := &staticSource{bus: b, cfgs: []*config.Config{nodeConfig(1000)}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, src, b, Options{Publisher: pub, RetryInterval: 10 * time.Millisecond}, quietLogger())
	}()

	require.Eventually(t, func() bool { return len(pub.delays()) == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRunSourceFailure(t *testing.T) {
	boom := errors.New("watch failed")
	b := bus.New()
	err := Run(context.Background(), &staticSource{bus: b, err: boom}, b, Options{}, quietLogger())
	assert.ErrorIs(t, err, boom)
}
