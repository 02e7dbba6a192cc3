package at

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Lines are split on LF. Trailing CR characters are dropped, so both the
// "AT+CSQ\r\r\n" echo form and the "\r\nOK\r\n" result form produce clean
// tokens. Empty lines are returned as empty tokens.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimRight(data[0:i], CR), nil
	}

	if atEOF {
		return len(data), bytes.TrimRight(data, CR), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Kind is the classification of a single response line.
type Kind int

const (
	KindEcho     Kind = iota // retransmitted command line
	KindData                 // intermediate output (+CSQ: ...) or URC
	KindTerminal             // OK, CONNECT, ERROR, +CME ERROR, +CMS ERROR or a URC prefix
)

func (k Kind) String() string {
	switch k {
	case KindEcho:
		return "Echo"
	case KindData:
		return "Data"
	case KindTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// Terminal is the line that ends a command/response cycle.
type Terminal struct {
	// Token is the full terminal line as received.
	Token string
	// Success is true for OK and CONNECT.
	Success bool
	// Code is the modem error code for +CME/+CMS ERROR, CodeUndefined for a
	// bare ERROR and CodeOK for success tokens.
	Code ErrorCode
}

// Frame is a classified response line.
type Frame struct {
	Kind     Kind
	Line     string
	Terminal Terminal
}

var (
	// CommandTerminals end an ordinary command/response cycle.
	CommandTerminals = []string{OK, CONNECT, CmeError, CmsError, ERROR}
	// PayloadTerminals end a raw payload upload.
	PayloadTerminals = []string{OK, CmeError, CmsError, ERROR}
	// DownloadTerminals end a block pushed by the modem. Body lines may start
	// with anything else, error tokens included.
	DownloadTerminals = []string{OK}
)

// FrameReader classifies the lines of one exchange with the modem.
//
// The first line after a command is the echo and is never inspected for
// terminal prefixes. A FrameReader is used for a single exchange only.
type FrameReader struct {
	expectEcho bool
	terminals  []string
}

// NewFrameReader returns a FrameReader recognizing the given terminal
// prefixes. When expectEcho is set the first line is classified as KindEcho.
func NewFrameReader(expectEcho bool, terminals ...string) *FrameReader {
	return &FrameReader{
		expectEcho: expectEcho,
		terminals:  terminals,
	}
}

// Next classifies line.
func (r *FrameReader) Next(line string) Frame {
	if r.expectEcho {
		r.expectEcho = false
		return Frame{Kind: KindEcho, Line: line}
	}
	if line == "" {
		return Frame{Kind: KindData}
	}
	for _, prefix := range r.terminals {
		if strings.HasPrefix(line, prefix) {
			return Frame{Kind: KindTerminal, Line: line, Terminal: ParseTerminal(line)}
		}
	}
	return Frame{Kind: KindData, Line: line}
}

// ParseTerminal resolves a terminal line to its outcome. Lines that are not
// one of the standard result codes (for example a caller supplied URC prefix)
// are treated as successful.
func ParseTerminal(line string) Terminal {
	t := Terminal{Token: line}
	switch {
	case strings.HasPrefix(line, CmeError):
		t.Code = parseErrorCode(line[len(CmeError):])
	case strings.HasPrefix(line, CmsError):
		t.Code = parseErrorCode(line[len(CmsError):])
	case strings.HasPrefix(line, ERROR):
		t.Code = CodeUndefined
	default:
		t.Success = true
		t.Code = CodeOK
	}
	return t
}

// parseErrorCode reads the numeric error report of AT+CMEE=1. Verbose
// reports (AT+CMEE=2) are mapped back through the description table.
func parseErrorCode(s string) ErrorCode {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return ErrorCode(n)
	}
	if code, ok := LookupCode(s); ok {
		return code
	}
	return CodeUndefined
}
