package modem

import (
	"log/slog"
	"time"
)

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

// Config holds the settings used by New. Build one with NewConfigBuilder.
type Config struct {
	dialer      Dialer
	logger      *slog.Logger
	metrics     *Metrics
	atTimeout   time.Duration
	initTimeout time.Duration
	cmee        bool
}

func (c *Config) setDefaults() {
	if c.atTimeout == 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.initTimeout == 0 {
		c.initTimeout = 30 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.metrics == nil {
		c.metrics = &Metrics{}
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with numeric error reporting enabled.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{cmee: true}}
}

// WithDialer sets how the port is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithLogger sets the logger handed to the Engine.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithMetrics shares a set of counters with the caller, e.g. to export them.
func (b *ConfigBuilder) WithMetrics(m *Metrics) *ConfigBuilder {
	b.config.metrics = m
	return b
}

// WithATTimeout sets the per-read timeout used while initializing.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithInitTimeout bounds the whole initialization sequence.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithNumericErrors controls whether New issues AT+CMEE=1. Disable it for
// modems already configured for numeric +CME ERROR reports.
func (b *ConfigBuilder) WithNumericErrors(on bool) *ConfigBuilder {
	b.config.cmee = on
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
