package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the control API listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB2")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// WebSocketURL selects a serial-to-websocket bridge instead of SerialPort
	WebSocketURL string
	// WebSocketUsername enables HTTP Basic authentication on the bridge
	WebSocketUsername string
	// WebSocketPassword is read from the environment only
	WebSocketPassword string
	// WebSocketSkipVerify disables certificate checks for wss:// bridges
	WebSocketSkipVerify bool
	// ATTimeout is the per-read timeout used while initializing the modem
	ATTimeout time.Duration
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// LogFormat selects the log handler: "json" or "console"
	LogFormat string
	// MQTTBroker enables telemetry publishing when set (e.g. "tcp://localhost:1883")
	MQTTBroker string
	// MQTTClientID identifies this instance at the broker
	MQTTClientID string
	// MQTTTopicPrefix is prepended to every telemetry topic
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB2"
		c.BaudRate = 115200
		c.ATTimeout = 5 * time.Second
		c.LogLevel = "info"
		c.LogFormat = "json"
		c.MQTTClientID = "bg95ctl"
		c.MQTTTopicPrefix = "bg95"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if wsURL := os.Getenv("WS_URL"); wsURL != "" {
			c.WebSocketURL = wsURL
		}

		if user := os.Getenv("WS_USERNAME"); user != "" {
			c.WebSocketUsername = user
		}

		if password := os.Getenv("WS_PASSWORD"); password != "" {
			c.WebSocketPassword = password
		}

		if timeout := os.Getenv("AT_TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.ATTimeout = d
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if format := os.Getenv("LOG_FORMAT"); format != "" {
			c.LogFormat = format
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTTBroker = broker
		}

		if clientID := os.Getenv("MQTT_CLIENT_ID"); clientID != "" {
			c.MQTTClientID = clientID
		}

		if prefix := os.Getenv("MQTT_TOPIC_PREFIX"); prefix != "" {
			c.MQTTTopicPrefix = prefix
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTTUsername = user
		}

		if password := os.Getenv("MQTT_PASSWORD"); password != "" {
			c.MQTTPassword = password
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags that were set
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "port":
				c.SerialPort = f.Value.String()
			case "baud":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "url":
				c.WebSocketURL = f.Value.String()
			case "username":
				c.WebSocketUsername = f.Value.String()
			case "no-ssl-verify":
				c.WebSocketSkipVerify = f.Value.String() == "true"
			case "at-timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.ATTimeout = d
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "log-format":
				c.LogFormat = f.Value.String()
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			case "mqtt-topic-prefix":
				c.MQTTTopicPrefix = f.Value.String()
			}
		})
		return nil
	}
}
