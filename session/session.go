// Package session sequences multi-step modem operations (network attach,
// GNSS fix, HTTP(S) requests, ping and NTP) on top of the AT command engine
// and turns responses into typed records.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/bg95ctl/at"
	"i4.energy/across/bg95ctl/modem"
)

// Commander is the part of the modem engine a Session drives. Both
// *modem.Engine and *modem.Modem implement it.
type Commander interface {
	Send(ctx context.Context, cmd at.Command) modem.Outcome
	SendPayload(ctx context.Context, data []byte, timeout time.Duration) modem.Outcome
	ReceivePayload(ctx context.Context, timeout time.Duration) modem.Outcome
	WaitFor(ctx context.Context, prefix string, readTimeout, total time.Duration) modem.Outcome
	Wait(ctx context.Context, match func(line string) bool, readTimeout, total time.Duration) modem.Outcome
}

// Config tunes the polling loops and timeouts of a Session. Zero fields are
// replaced by their defaults.
type Config struct {
	// PollInterval separates registration and signal polls.
	PollInterval time.Duration
	// RadioURCTimeout bounds the wait for each SIM-ready notification.
	RadioURCTimeout time.Duration
	// MaxDeniedPolls is the number of consecutive denied registration polls
	// after which Attach fails with ErrRegistrationDenied.
	MaxDeniedPolls int

	// GNSSPollInterval separates location requests while waiting for a fix.
	GNSSPollInterval time.Duration
	// GNSSFixTimeout bounds AcquireFix.
	GNSSFixTimeout time.Duration

	// HTTPTimeout is the modem-side timeout of every HTTP(S) step.
	HTTPTimeout time.Duration
	// ResponseHeaders makes HTTPRead return the response headers before the body.
	ResponseHeaders bool

	// PDPContext is the PDP context used by HTTP, ping and NTP.
	PDPContext int
	// SSLContext is the SSL context used for https URLs.
	SSLContext int

	PingHost    string
	PingTimeout time.Duration
	PingCount   int

	NTPServer  string
	NTPPort    int
	NTPTimeout time.Duration

	// PowerDownTimeout bounds the wait for POWERED DOWN after AT+QPOWD.
	PowerDownTimeout time.Duration
}

// DefaultConfig returns the settings used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		PollInterval:     250 * time.Millisecond,
		RadioURCTimeout:  10 * time.Second,
		MaxDeniedPolls:   20,
		GNSSPollInterval: time.Second,
		GNSSFixTimeout:   3 * time.Minute,
		HTTPTimeout:      80 * time.Second,
		PDPContext:       1,
		SSLContext:       1,
		PingHost:         "8.8.8.8",
		PingTimeout:      4 * time.Second,
		PingCount:        4,
		NTPServer:        "nl.pool.ntp.org",
		NTPPort:          123,
		NTPTimeout:       30 * time.Second,
		PowerDownTimeout: time.Minute,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RadioURCTimeout == 0 {
		c.RadioURCTimeout = d.RadioURCTimeout
	}
	if c.MaxDeniedPolls == 0 {
		c.MaxDeniedPolls = d.MaxDeniedPolls
	}
	if c.GNSSPollInterval == 0 {
		c.GNSSPollInterval = d.GNSSPollInterval
	}
	if c.GNSSFixTimeout == 0 {
		c.GNSSFixTimeout = d.GNSSFixTimeout
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.PDPContext == 0 {
		c.PDPContext = d.PDPContext
	}
	if c.SSLContext == 0 {
		c.SSLContext = d.SSLContext
	}
	if c.PingHost == "" {
		c.PingHost = d.PingHost
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.PingCount == 0 {
		c.PingCount = d.PingCount
	}
	if c.NTPServer == "" {
		c.NTPServer = d.NTPServer
	}
	if c.NTPPort == 0 {
		c.NTPPort = d.NTPPort
	}
	if c.NTPTimeout == 0 {
		c.NTPTimeout = d.NTPTimeout
	}
	if c.PowerDownTimeout == 0 {
		c.PowerDownTimeout = d.PowerDownTimeout
	}
}

// Session runs operations against one modem. Like the engine underneath it,
// a Session has a single owner and is not safe for concurrent use.
type Session struct {
	cmd    Commander
	config Config
	logger *slog.Logger
	state  AttachState
}

// New returns a Session driving cmd. A nil logger discards output.
func New(cmd Commander, config Config, logger *slog.Logger) *Session {
	config.setDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		cmd:    cmd,
		config: config,
		logger: logger,
		state:  RadioOff,
	}
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.config
}

// run sends cmd and converts a failed outcome into an error.
func (s *Session) run(ctx context.Context, cmd at.Command) (modem.Outcome, error) {
	out := s.cmd.Send(ctx, cmd)
	if err := out.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// query sends cmd and returns the payload of the first line starting with
// prefix.
func (s *Session) query(ctx context.Context, cmd at.Command, prefix string) (string, error) {
	out, err := s.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	payload, ok := findPayload(out.Lines, prefix)
	if !ok {
		return "", fmt.Errorf("%s: no %s line: %w", cmd.Text, prefix, ErrMalformedResponse)
	}
	return payload, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
