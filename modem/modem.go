package modem

import (
	"context"
	"fmt"

	"i4.energy/across/bg95ctl/at"
)

// Modem is an open, initialized link to a BG95-class modem. It embeds the
// Engine, so commands, payload transfers and URC waits are issued directly
// on the Modem.
//
// A Modem has a single owner: no operation may overlap another on the same
// link.
type Modem struct {
	*Engine

	// transport provides the framed connection to the modem (serial, websocket, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	// closed indicates if the modem has been shut down
	closed bool
}

// New creates a new Modem instance with the given configuration.
// It opens the port through the configured Dialer, enables command echo
// and numeric error reports, and returns a Modem ready for commands.
//
// Returns an error if the connection or modem initialization fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	port, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if port == nil {
		return nil, ErrNotInitialized
	}

	transport := NewTransport(port)
	m := &Modem{
		Engine:    NewEngine(transport, config.logger, config.metrics),
		transport: transport,
		config:    config,
	}

	initCtx, cancel := context.WithTimeout(ctx, config.initTimeout)
	defer cancel()

	if err := m.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up and force echo mode
	if err := m.Sync(ctx, m.config.atTimeout); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	// 2. Numeric +CME ERROR reports
	if m.config.cmee {
		out := m.Send(ctx, at.CMEE().WithTimeout(m.config.atTimeout))
		if err := out.Err(); err != nil {
			return fmt.Errorf("could not enable numeric errors: %w", err)
		}
	}

	return nil
}

// Close closes the underlying transport and marks the modem as closed.
// After calling Close(), the modem cannot be reused and every call fails
// fast with a transport-error outcome.
func (m *Modem) Close() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}
