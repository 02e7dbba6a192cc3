package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no port or if the Modem was not
	// created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrClosed is returned by a Transport used after Close. Protocol calls
	// on a closed transport fail fast with a transport-error outcome.
	ErrClosed = errors.New("transport closed")

	// ErrReadTimeout is returned when no complete line arrives within the
	// per-read timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrShortWrite is returned when the port accepted fewer bytes than given.
	ErrShortWrite = errors.New("short write")
)
