package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// PingReply is one echo reply.
type PingReply struct {
	Address string        `json:"address"`
	Bytes   int           `json:"bytes"`
	RTT     time.Duration `json:"rtt"`
	TTL     int           `json:"ttl"`
}

// PingStats is the summary the modem reports after the last request.
type PingStats struct {
	Sent     int           `json:"sent"`
	Received int           `json:"received"`
	Lost     int           `json:"lost"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Avg      time.Duration `json:"avg"`
}

// PingResult is the outcome of Ping.
type PingResult struct {
	Host    string      `json:"host"`
	Replies []PingReply `json:"replies"`
	PingStats
}

// Ping sends Config.PingCount echo requests to host over the PDP context.
// An empty host pings Config.PingHost.
func (s *Session) Ping(ctx context.Context, host string) (PingResult, error) {
	if host == "" {
		host = s.config.PingHost
	}
	timeout := seconds(s.config.PingTimeout)
	cmd := at.QPING(s.config.PDPContext, host, timeout, s.config.PingCount)
	if _, err := s.run(ctx, cmd); err != nil {
		return PingResult{}, err
	}

	perRead := time.Duration(timeout+1) * time.Second
	total := perRead * time.Duration(s.config.PingCount+1)
	wait := s.cmd.Wait(ctx, func(line string) bool {
		_, failed := pingFailure(line)
		return failed || isPingSummary(line)
	}, perRead, total)
	if err := wait.Err(); err != nil {
		return PingResult{}, fmt.Errorf("%s: wait for summary: %w", cmd.Text, err)
	}
	if code, failed := pingFailure(wait.Final); failed {
		s.logger.Warn("Ping failed", "host", host, "code", code)
		return PingResult{Host: host}, &at.Error{Command: cmd.Text, Code: at.ErrorCode(code), Text: at.ErrorCode(code).String()}
	}

	result := PingResult{Host: host}
	for _, line := range wait.Lines {
		payload, ok := strings.CutPrefix(line, at.UrcPing)
		if !ok || line == wait.Final {
			continue
		}
		if reply, ok := parsePingReply(payload); ok {
			result.Replies = append(result.Replies, reply)
		}
	}

	code, stats, err := parsePingSummary(wait.Final[len(at.UrcPing):])
	if err != nil {
		return PingResult{}, fmt.Errorf("%s: %w", cmd.Text, err)
	}
	if code != 0 {
		return result, &at.Error{Command: cmd.Text, Code: at.ErrorCode(code), Text: at.ErrorCode(code).String()}
	}
	result.PingStats = stats
	s.logger.Info("Ping completed", "host", host, "sent", stats.Sent, "received", stats.Received, "avg", stats.Avg)
	return result, nil
}

// SyncTime synchronizes the modem clock with an NTP server and returns the
// time it was set to. An empty server uses Config.NTPServer.
func (s *Session) SyncTime(ctx context.Context, server string) (time.Time, error) {
	if server == "" {
		server = s.config.NTPServer
	}
	cmd := at.QNTP(s.config.PDPContext, server, s.config.NTPPort)
	if _, err := s.run(ctx, cmd); err != nil {
		return time.Time{}, err
	}

	wait := s.cmd.WaitFor(ctx, at.UrcNTP, s.config.NTPTimeout, s.config.NTPTimeout)
	if err := wait.Err(); err != nil {
		return time.Time{}, fmt.Errorf("%s: wait for %s: %w", cmd.Text, at.UrcNTP, err)
	}

	fields := splitFields(wait.Final[len(at.UrcNTP):])
	code, err := intField(fields, 0)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", cmd.Text, err)
	}
	if code != 0 {
		return time.Time{}, &at.Error{Command: cmd.Text, Code: at.ErrorCode(code), Text: at.ErrorCode(code).String()}
	}
	if len(fields) < 2 {
		return time.Time{}, fmt.Errorf("%s: no time: %w", cmd.Text, ErrMalformedResponse)
	}
	t, err := parseModemTime(fields[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", cmd.Text, err)
	}
	s.logger.Info("Clock synchronized", "server", server, "time", t)
	return t, nil
}
