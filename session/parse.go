package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// findPayload returns the text after prefix on the first line starting with
// it, trimmed of surrounding whitespace.
func findPayload(lines []string, prefix string) (string, bool) {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

// findPayloads is findPayload for responses with one line per entry.
func findPayloads(lines []string, prefix string) []string {
	var payloads []string
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			payloads = append(payloads, strings.TrimSpace(line[len(prefix):]))
		}
	}
	return payloads
}

// splitFields splits a response payload on commas outside double quotes
// and strips the quotes from each field.
func splitFields(payload string) []string {
	var (
		fields  []string
		field   strings.Builder
		inQuote bool
	)
	for _, r := range payload {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			fields = append(fields, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(field.String()))
}

func intField(fields []string, i int) (int, error) {
	if i >= len(fields) {
		return 0, fmt.Errorf("field %d missing: %w", i, ErrMalformedResponse)
	}
	v, err := strconv.Atoi(fields[i])
	if err != nil {
		return 0, fmt.Errorf("field %d %q: %w", i, fields[i], ErrMalformedResponse)
	}
	return v, nil
}

func floatField(fields []string, i int) (float64, error) {
	if i >= len(fields) {
		return 0, fmt.Errorf("field %d missing: %w", i, ErrMalformedResponse)
	}
	v, err := strconv.ParseFloat(fields[i], 64)
	if err != nil {
		return 0, fmt.Errorf("field %d %q: %w", i, fields[i], ErrMalformedResponse)
	}
	return v, nil
}

// parseRegistration reads "+CREG: <n>,<stat>[,...]"; the status is the
// second field whatever the report mode.
func parseRegistration(payload string) (RegistrationStatus, error) {
	stat, err := intField(splitFields(payload), 1)
	if err != nil {
		return RegistrationUnknown, err
	}
	return RegistrationStatus(stat), nil
}

// parseSignal reads "+CSQ: <rssi>,<ber>".
func parseSignal(payload string) (Signal, error) {
	fields := splitFields(payload)
	rssi, err := intField(fields, 0)
	if err != nil {
		return Signal{}, err
	}
	ber, err := intField(fields, 1)
	if err != nil {
		return Signal{}, err
	}
	return Signal{RSSI: rssi, BER: ber}, nil
}

// parseFix reads the eleven fields of "+QGPSLOC:" in mode 2:
// <UTC>,<lat>,<lon>,<HDOP>,<alt>,<fix>,<COG>,<spkm>,<spkn>,<date>,<nsat>.
func parseFix(payload string) (Fix, error) {
	fields := splitFields(payload)
	if len(fields) < 11 {
		return Fix{}, fmt.Errorf("%d location fields: %w", len(fields), ErrMalformedResponse)
	}

	ts, err := time.Parse("020106150405.000", fields[9]+fields[0])
	if err != nil {
		ts, err = time.Parse("020106150405", fields[9]+fields[0])
		if err != nil {
			return Fix{}, fmt.Errorf("fix time %q %q: %w", fields[9], fields[0], ErrMalformedResponse)
		}
	}

	var fix Fix
	fix.Time = ts
	floats := []struct {
		i   int
		dst *float64
	}{
		{1, &fix.Latitude},
		{2, &fix.Longitude},
		{3, &fix.HDOP},
		{4, &fix.Altitude},
		{6, &fix.Course},
		{7, &fix.SpeedKmh},
		{8, &fix.SpeedKnots},
	}
	for _, f := range floats {
		if *f.dst, err = floatField(fields, f.i); err != nil {
			return Fix{}, err
		}
	}
	if fix.Mode, err = intField(fields, 5); err != nil {
		return Fix{}, err
	}
	if fix.Satellites, err = intField(fields, 10); err != nil {
		return Fix{}, err
	}
	return fix, nil
}

// parseModemTime reads the modem clock format "yy/MM/dd,hh:mm:ss±zz" (or a
// four digit year) where zz counts quarter hours from UTC.
func parseModemTime(s string) (time.Time, error) {
	if len(s) < 3 {
		return time.Time{}, fmt.Errorf("time %q: %w", s, ErrMalformedResponse)
	}
	zone := s[len(s)-3:]
	if zone[0] != '+' && zone[0] != '-' {
		return time.Time{}, fmt.Errorf("time %q: %w", s, ErrMalformedResponse)
	}
	quarters, err := strconv.Atoi(zone[1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("time zone %q: %w", zone, ErrMalformedResponse)
	}
	offset := quarters * 15 * 60
	if zone[0] == '-' {
		offset = -offset
	}

	layout := "06/01/02,15:04:05"
	if strings.Index(s, "/") == 4 {
		layout = "2006/01/02,15:04:05"
	}
	t, err := time.ParseInLocation(layout, s[:len(s)-3], time.FixedZone("", offset))
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, ErrMalformedResponse)
	}
	return t, nil
}

// parseHTTPResult reads "+QHTTPGET: <err>[,<httpcode>[,<len>]]" and its
// POST counterpart.
func parseHTTPResult(payload string) (result int, res HTTPResult, err error) {
	fields := splitFields(payload)
	if result, err = intField(fields, 0); err != nil {
		return 0, HTTPResult{}, err
	}
	if len(fields) > 1 {
		if res.StatusCode, err = intField(fields, 1); err != nil {
			return 0, HTTPResult{}, err
		}
	}
	res.ContentLength = -1
	if len(fields) > 2 {
		if res.ContentLength, err = intField(fields, 2); err != nil {
			return 0, HTTPResult{}, err
		}
	}
	return result, res, nil
}

// isPingSummary matches the final "+QPING:" line, which carries seven
// unquoted fields: <finresult>,<sent>,<rcvd>,<lost>,<min>,<max>,<avg>.
func isPingSummary(line string) bool {
	payload, ok := strings.CutPrefix(line, "+QPING:")
	if !ok || strings.Contains(payload, `"`) {
		return false
	}
	return len(splitFields(payload)) == 7
}

// pingRequestTimeout is reported as "+QPING: 569" for a single unanswered
// echo request. The summary still follows.
const pingRequestTimeout = 569

// pingFailure matches a lone "+QPING: <err>" that ends the whole ping, for
// example a DNS failure, and returns its code.
func pingFailure(line string) (int, bool) {
	payload, ok := strings.CutPrefix(line, "+QPING:")
	if !ok {
		return 0, false
	}
	fields := splitFields(payload)
	if len(fields) != 1 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil || code == 0 || code == pingRequestTimeout {
		return 0, false
	}
	return code, true
}

// parsePingReply reads "+QPING: <result>,<ip>,<bytes>,<time>,<ttl>".
func parsePingReply(payload string) (PingReply, bool) {
	fields := splitFields(payload)
	if len(fields) != 5 {
		return PingReply{}, false
	}
	result, err := intField(fields, 0)
	if err != nil || result != 0 {
		return PingReply{}, false
	}
	var reply PingReply
	reply.Address = fields[1]
	var ms int
	if reply.Bytes, err = intField(fields, 2); err != nil {
		return PingReply{}, false
	}
	if ms, err = intField(fields, 3); err != nil {
		return PingReply{}, false
	}
	if reply.TTL, err = intField(fields, 4); err != nil {
		return PingReply{}, false
	}
	reply.RTT = time.Duration(ms) * time.Millisecond
	return reply, true
}

func parsePingSummary(payload string) (result int, stats PingStats, err error) {
	fields := splitFields(payload)
	values := make([]int, len(fields))
	for i := range fields {
		if values[i], err = intField(fields, i); err != nil {
			return 0, PingStats{}, err
		}
	}
	if len(values) != 7 {
		return 0, PingStats{}, fmt.Errorf("%d ping summary fields: %w", len(values), ErrMalformedResponse)
	}
	return values[0], PingStats{
		Sent:     values[1],
		Received: values[2],
		Lost:     values[3],
		Min:      time.Duration(values[4]) * time.Millisecond,
		Max:      time.Duration(values[5]) * time.Millisecond,
		Avg:      time.Duration(values[6]) * time.Millisecond,
	}, nil
}
