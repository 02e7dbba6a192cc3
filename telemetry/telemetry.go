// Package telemetry publishes modem session results to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/puzpuzpuz/xsync/v3"

	"i4.energy/across/bg95ctl/session"
)

var (
	ErrNoBroker       = errors.New("telemetry: broker address is required")
	ErrPublishTimeout = errors.New("telemetry: publish timed out")
)

// Topic suffixes appended to Config.TopicPrefix.
const (
	TopicAttach   = "attach"
	TopicLocation = "location"
	TopicNetwork  = "network"
)

type Config struct {
	// Broker is the broker URL, for example tcp://localhost:1883.
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	// PublishTimeout bounds the wait for a publish acknowledgement.
	PublishTimeout time.Duration
	// SkipUnchanged suppresses a publish whose payload equals the previous
	// one on the same topic.
	SkipUnchanged bool
}

// DefaultConfig returns the settings used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		ClientID:       "bg95ctl",
		TopicPrefix:    "bg95",
		QoS:            1,
		PublishTimeout: 10 * time.Second,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.ClientID == "" {
		c.ClientID = def.ClientID
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = def.TopicPrefix
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
}

// Publisher sends session records as JSON messages.
type Publisher struct {
	client mqtt.Client
	config Config
	logger *slog.Logger
	last   *xsync.MapOf[string, string]
}

// message wraps every published record.
type message struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Connect dials the broker described by config.
func Connect(config Config, logger *slog.Logger) (*Publisher, error) {
	if config.Broker == "" {
		return nil, ErrNoBroker
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	config.setDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", "broker", config.Broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.PublishTimeout) {
		return nil, fmt.Errorf("connect %s: %w", config.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", config.Broker, err)
	}
	return NewPublisher(client, config, logger), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client mqtt.Client, config Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	config.setDefaults()
	return &Publisher{
		client: client,
		config: config,
		logger: logger,
		last:   xsync.NewMapOf[string, string](),
	}
}

// PublishAttach publishes the result of a successful attach.
func (p *Publisher) PublishAttach(res session.AttachResult) error {
	return p.publish(TopicAttach, res)
}

// PublishFix publishes a GNSS fix.
func (p *Publisher) PublishFix(fix session.Fix) error {
	return p.publish(TopicLocation, fix)
}

// PublishNetwork publishes a network report.
func (p *Publisher) PublishNetwork(report session.NetworkReport) error {
	return p.publish(TopicNetwork, report)
}

// Close disconnects from the broker, waiting up to 250ms for in-flight work.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) topic(suffix string) string {
	return p.config.TopicPrefix + "/" + suffix
}

func (p *Publisher) publish(suffix string, data any) error {
	topic := p.topic(suffix)

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if p.config.SkipUnchanged {
		if prev, ok := p.last.Load(topic); ok && prev == string(body) {
			p.logger.Debug("Skipped unchanged publish", "topic", topic)
			return nil
		}
	}

	payload, err := json.Marshal(message{Timestamp: time.Now().UTC(), Data: json.RawMessage(body)})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, payload)
	if !token.WaitTimeout(p.config.PublishTimeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.last.Store(topic, string(body))
	p.logger.Debug("Published", "topic", topic, "bytes", len(payload))
	return nil
}
