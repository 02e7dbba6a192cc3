package at

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies why a command failed. Negative values are
// synthesized locally for transport failures; non-negative values are
// reported by the modem in +CME ERROR / +CMS ERROR lines.
type ErrorCode int

const (
	CodeOK        ErrorCode = -1
	CodeUndefined ErrorCode = -2
	CodeEchoError ErrorCode = -3
	CodeTimeout   ErrorCode = -4
)

const unknownError = "unknown error"

var codeText = map[ErrorCode]string{
	CodeOK:        "ok",
	CodeUndefined: "undefined error",
	CodeEchoError: "echo error",
	CodeTimeout:   "timeout",

	// SIM and phone (3GPP TS 27.007)
	0:  "Phone failure",
	1:  "No connection to phone",
	2:  "Phone-adaptor link reserved",
	3:  "Operation not allowed",
	4:  "Operation not supported",
	5:  "PH-SIM PIN required",
	6:  "PH-FSIM PIN required",
	7:  "PH-FSIM PUK required",
	10: "SIM not inserted",
	11: "SIM PIN required",
	12: "SIM PUK required",
	13: "SIM failure",
	14: "SIM busy",
	15: "SIM wrong",
	16: "Incorrect password",
	17: "SIM PIN2 required",
	18: "SIM PUK2 required",

	// Network
	20: "Memory full",
	21: "Invalid index",
	22: "Not found",
	23: "Memory failure",
	24: "Text string too long",
	25: "Invalid characters in text string",
	26: "Dial string too long",
	27: "Invalid characters in dial string",
	30: "No network service",
	31: "Network timeout",
	32: "Network not allowed - emergency calls only",
	40: "Network personalization PIN required",
	41: "Network personalization PUK required",
	42: "Network subset personalization PIN required",
	43: "Network subset personalization PUK required",
	44: "Service provider personalization PIN required",
	45: "Service provider personalization PUK required",
	46: "Corporate personalization PIN required",
	47: "Corporate personalization PUK required",

	// GNSS
	501: "Invalid parameter",
	502: "Operation not supported",
	503: "GNSS subsystem busy",
	504: "Session is ongoing",
	505: "Session not active",
	506: "Operation timeout",
	507: "Function not enabled",
	508: "Time information error",
	509: "XTRA not enabled",
	512: "Validity time is out of range",
	513: "Internal resource error",
	514: "GNSS locked",
	515: "End by E911",
	516: "No fix",
	517: "Geo-fence ID does not exist",
	518: "Sync time failed",
	519: "XTRA file does not exist",
	520: "XTRA file on downloading",
	521: "XTRA file is valid",
	522: "GNSS is working",
	523: "Time injection error",
	524: "XTRA file is invalid",
	549: "Unknown error",

	// TCP/IP
	550: "Unknown error",
	551: "Operation blocked",
	552: "Invalid parameters",
	553: "Memory not enough",
	554: "Create socket failed",
	555: "Operation not supported",
	556: "Socket bind failed",
	557: "Socket listen failed",
	558: "Socket write failed",
	559: "Socket read failed",
	560: "Socket accept failed",
	561: "Open PDP context failed",
	562: "Close PDP context failed",
	563: "Socket identity has been used",
	564: "DNS busy",

	// HTTP(S)
	701: "HTTP(S) unknown error",
	702: "HTTP(S) timeout",
	703: "HTTP(S) busy",
	704: "HTTP(S) UART busy",
	705: "HTTP(S) no GET/POST/PUT requests",
	706: "HTTP(S) network busy",
	707: "HTTP(S) network open failed",
	708: "HTTP(S) network no configuration",
	709: "HTTP(S) network deactivated",
	710: "HTTP(S) network error",
	711: "HTTP(S) URL error",
	712: "HTTP(S) empty URL",
	713: "HTTP(S) IP address error",
	714: "HTTP(S) DNS error",
	715: "HTTP(S) socket create error",
	716: "HTTP(S) socket connect error",
	717: "HTTP(S) socket read error",
	718: "HTTP(S) socket write error",
	719: "HTTP(S) socket closed",
	720: "HTTP(S) data encode error",
	721: "HTTP(S) data decode error",
	722: "HTTP(S) read timeout",
	723: "HTTP(S) response failed",
	724: "Incoming call busy",
	725: "Voice call busy",
	726: "Input timeout",
	727: "Wait data timeout",
	728: "Wait HTTP(S) response timeout",
	729: "Memory allocation failed",
	730: "Invalid parameter",
}

// String returns the human readable description of c. Codes missing from
// the table resolve to "unknown error".
func (c ErrorCode) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return unknownError
}

// Sentinel reports whether c was synthesized locally rather than reported
// by the modem.
func (c ErrorCode) Sentinel() bool {
	return c < 0
}

// Retryable reports whether c signals a busy or not-yet-ready condition
// that may clear by itself, as opposed to a fatal failure.
func (c ErrorCode) Retryable() bool {
	switch c {
	case 14, 503, 504, 516, 564, 703, 704, 706:
		return true
	}
	return false
}

// LookupCode finds the code whose description matches text, ignoring case.
// Only modem reported codes are considered; when several codes share a
// description the lowest one wins.
func LookupCode(text string) (ErrorCode, bool) {
	found := false
	var best ErrorCode
	for code, s := range codeText {
		if code < 0 || !strings.EqualFold(s, text) {
			continue
		}
		if !found || code < best {
			best, found = code, true
		}
	}
	return best, found
}

// Error is a failed command outcome expressed as a Go error.
type Error struct {
	Command string
	Code    ErrorCode
	Text    string
}

func (e *Error) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s (%d)", e.Text, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Command, e.Text, e.Code)
}

// Is matches another *Error carrying the same code, so callers can test
// errors.Is(err, &at.Error{Code: 516}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the ErrorCode carried by err, or CodeUndefined when err is
// not an *Error. A nil err yields CodeOK.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUndefined
}
