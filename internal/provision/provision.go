// Package provision distributes the node configuration over MQTT so that
// nodes and dashboards on the network can pick it up.
package provision

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rwd-iot/sensornode/internal/cache"
	"github.com/rwd-iot/sensornode/internal/config"
	"github.com/rwd-iot/sensornode/internal/mqtt"
)

var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("not connected to MQTT broker")
	// ErrDeviceChanged is returned for a configuration whose device tag is
	// not the one the broker connection was opened for. The connection's
	// last will only covers that device, so the client must be recreated.
	ErrDeviceChanged = errors.New("device tag differs from the connected device")
)

// Publisher is the part of the MQTT client provisioning needs. Device is the
// device whose topics the connection owns.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
	Device() string
}

// Document is the retained payload on the config topic. Revision changes
// with every publish so subscribers can tell a re-send from a new version.
type Document struct {
	Revision string         `json:"revision"`
	Device   string         `json:"device"`
	Secrets  bool           `json:"secrets"`
	Config   *config.Config `json:"config"`
}

// Provisioner publishes configurations, skipping unchanged ones.
type Provisioner struct {
	pub         Publisher
	withSecrets bool
	cache       *cache.Manager
	logger      *logrus.Logger
}

// New creates a provisioner. Passwords are left out of the published
// document unless withSecrets is set.
func New(pub Publisher, withSecrets bool, logger *logrus.Logger) *Provisioner {
	return &Provisioner{
		pub:         pub,
		withSecrets: withSecrets,
		cache:       cache.NewManager(),
		logger:      logger,
	}
}

// Publish sends cfg to the device's config topic and marks the device online.
// It reports whether anything was sent. A failed publish is retried on the
// next call even when the configuration is unchanged.
func (p *Provisioner) Publish(cfg *config.Config) (bool, error) {
	device := p.pub.Device()
	if cfg.Tags.Device != device {
		return false, fmt.Errorf("%w: connected as %q, configuration names %q", ErrDeviceChanged, device, cfg.Tags.Device)
	}
	if !p.pub.IsConnected() {
		return false, ErrNotConnected
	}
	if !p.cache.Changed(cfg) {
		p.logger.WithField("device", cfg.Tags.Device).Debug("Configuration unchanged, not publishing")
		return false, nil
	}

	doc := p.document(cfg)
	payload, err := json.Marshal(doc)
	if err != nil {
		p.cache.Forget()
		return false, fmt.Errorf("marshal config document: %w", err)
	}

	if err := p.pub.Publish(mqtt.ConfigTopic(device), payload, true); err != nil {
		p.cache.Forget()
		return false, err
	}
	if err := p.pub.Publish(mqtt.AvailabilityTopic(device), []byte("online"), true); err != nil {
		p.cache.Forget()
		return false, err
	}

	p.logger.WithFields(logrus.Fields{
		"device":   device,
		"topic":    mqtt.ConfigTopic(device),
		"revision": doc.Revision,
		"secrets":  p.withSecrets,
	}).Info("Published configuration")
	return true, nil
}

func (p *Provisioner) document(cfg *config.Config) Document {
	c := cfg.Clone()
	if !p.withSecrets {
		c.WiFi.Passphrase = ""
		c.InfluxDB.Password = ""
	}
	return Document{
		Revision: uuid.NewString(),
		Device:   c.Tags.Device,
		Secrets:  p.withSecrets,
		Config:   c,
	}
}
