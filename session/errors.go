package session

import "errors"

var (
	// ErrRegistrationDenied is returned by Attach when the network rejected
	// registration on Config.MaxDeniedPolls consecutive polls.
	ErrRegistrationDenied = errors.New("network registration denied")

	// ErrRadioNotReady is returned when the radio was switched on but the SIM
	// never reported ready.
	ErrRadioNotReady = errors.New("radio not ready")

	// ErrGNSSOff is returned when the GNSS engine stays off after being
	// switched on.
	ErrGNSSOff = errors.New("GNSS engine is off")

	// ErrMalformedResponse is returned when a successful response lacks the
	// expected line or fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnsupportedScheme is returned for URLs other than http and https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrNotConnected is returned when an upload command succeeded without
	// switching the link into raw mode.
	ErrNotConnected = errors.New("modem did not enter data mode")
)
