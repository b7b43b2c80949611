package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/rwd-iot/sensornode/internal/config"
)

// TopicRoot prefixes every topic this tool publishes.
const TopicRoot = "sensornode"

const (
	qos        = byte(1) // at least once
	opTimeout  = config.MQTTTimeout
	statusDown = "offline"
	statusUp   = "online"
)

// Client wraps the MQTT client with additional functionality
type Client struct {
	client mqtt.Client
	device string
	logger *logrus.Logger
}

// NewClient creates a new MQTT client with support for both WebSocket and standard MQTT protocols
func NewClient(mqttURL, device string, logger *logrus.Logger) (*Client, error) {
	opts, err := clientOptions(mqttURL, device, logger)
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)

	// Connect to broker
	token := client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s timed out after %s", cleanURL(mqttURL), opTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"client_id": opts.ClientID,
	}).Info("MQTT client connected")

	return &Client{
		client: client,
		device: device,
		logger: logger,
	}, nil
}

func clientOptions(mqttURL, device string, logger *logrus.Logger) (*mqtt.ClientOptions, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	opts := mqtt.NewClientOptions()

	// Handle different protocol schemes
	var brokerURL string
	switch parsedURL.Scheme {
	case "ws":
		brokerURL = mqttURL
	case "wss":
		brokerURL = mqttURL
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	case "mqtt":
		brokerURL = strings.Replace(mqttURL, "mqtt://", "tcp://", 1)
	case "mqtts":
		brokerURL = strings.Replace(mqttURL, "mqtts://", "ssl://", 1)
		// self-signed brokers are common on workshop networks
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	default:
		return nil, fmt.Errorf("unsupported protocol scheme: %q (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("MQTT URL %s has no host", cleanURL(mqttURL))
	}

	opts.AddBroker(brokerURL)
	opts.SetClientID("nodecfg-" + BuildCleanTopic(device))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(opTimeout)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetWill(AvailabilityTopic(device), statusDown, qos, true)

	// Set credentials if provided in URL
	if parsedURL.User != nil {
		password, _ := parsedURL.User.Password()
		opts.SetUsername(parsedURL.User.Username())
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})
	firstConnect := true
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if firstConnect {
			logger.Debug("MQTT connected")
			firstConnect = false
		} else {
			logger.Info("MQTT reconnected")
		}
	})
	return opts, nil
}

// Publish publishes a message to the specified topic
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, qos, retained, payload)

	// wait with a timeout; a lost connection would otherwise block forever
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, opTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")

	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close marks the device offline and disconnects.
func (c *Client) Close() {
	if c.client.IsConnected() {
		if err := c.Publish(AvailabilityTopic(c.device), []byte(statusDown), true); err != nil {
			c.logger.WithError(err).Debug("Failed to publish offline status")
		}
	}
	c.client.Disconnect(250)
	c.logger.Debug("MQTT client disconnected")
}

// Device returns the device the client publishes for.
func (c *Client) Device() string {
	return c.device
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}

// BaseTopic returns the base topic for a device.
func BaseTopic(device string) string {
	return BuildCleanTopic(TopicRoot, device)
}

// ConfigTopic carries the retained configuration document.
func ConfigTopic(device string) string {
	return BaseTopic(device) + "/config"
}

// AvailabilityTopic carries the retained online/offline status.
func AvailabilityTopic(device string) string {
	return BaseTopic(device) + "/availability"
}

// PublishAvailability publishes device availability status
func (c *Client) PublishAvailability(online bool) error {
	status := statusDown
	if online {
		status = statusUp
	}
	return c.Publish(AvailabilityTopic(c.device), []byte(status), true)
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		// Replace invalid characters
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "/", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
