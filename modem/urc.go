package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// WaitFor blocks until a line starting with prefix arrives. See Wait.
func (e *Engine) WaitFor(ctx context.Context, prefix string, readTimeout, total time.Duration) Outcome {
	return e.wait(ctx, prefix, func(line string) bool {
		return strings.HasPrefix(line, prefix)
	}, readTimeout, total)
}

// Wait blocks until match accepts a line. Every non-empty line read,
// matching or not, is appended to Lines; the matching line is last and is
// also the Final line.
//
// readTimeout bounds each individual read. total bounds the whole wait;
// when total <= 0 only ctx bounds it.
func (e *Engine) Wait(ctx context.Context, match func(line string) bool, readTimeout, total time.Duration) Outcome {
	return e.wait(ctx, "urc", match, readTimeout, total)
}

func (e *Engine) wait(ctx context.Context, label string, match func(string) bool, readTimeout, total time.Duration) Outcome {
	out := Outcome{Command: label}
	log := e.logger.With("urc", label)
	e.metrics.incURCWaitCount()

	if total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, total)
		defer cancel()
	}

	log.Debug("Waiting for URC", "read_timeout", readTimeout, "total", total)
	for {
		if err := ctx.Err(); err != nil {
			return e.transportFailure(log, out, at.CodeTimeout, fmt.Errorf("wait for %s: %w", label, err))
		}

		timeout := readTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}

		line, err := e.transport.ReadLine(timeout)
		if err != nil {
			return e.transportFailure(log, out, readErrorCode(err), err)
		}
		if line == "" {
			continue
		}
		out.Lines = append(out.Lines, line)
		if match(line) {
			out.Success = true
			out.Final = line
			out.Code = at.CodeOK
			out.Text = at.CodeOK.String()
			log.Debug("URC received", "line", line, "lines", len(out.Lines))
			return out
		}
	}
}
