package modem

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// Outcome is the resolution of one exchange with the modem: a command,
// a payload transfer or a URC wait. Exactly one Outcome is produced per call.
type Outcome struct {
	// Command is the command text, or a short label for payload and URC calls.
	Command string
	// Success is true when the exchange ended on a success terminal.
	Success bool
	// Final is the line that ended the exchange (OK, CONNECT, the error line
	// or the matched URC). Empty on transport failures.
	Final string
	// Lines holds the non-empty data lines in arrival order. For failures it
	// carries whatever was read, for diagnostics only.
	Lines []string
	// Code is at.CodeOK on success.
	Code at.ErrorCode
	// Text describes Code.
	Text string
}

// Response joins Lines, each followed by a newline.
func (o Outcome) Response() string {
	if len(o.Lines) == 0 {
		return ""
	}
	return strings.Join(o.Lines, "\n") + "\n"
}

// Connected reports whether the modem switched into raw payload mode.
func (o Outcome) Connected() bool {
	return o.Success && strings.HasPrefix(o.Final, at.CONNECT)
}

// Err returns nil on success and an *at.Error otherwise.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &at.Error{Command: o.Command, Code: o.Code, Text: o.Text}
}

// Engine runs the AT command/response protocol over a Transport. It owns
// the transport for the duration of each call and is not safe for
// concurrent use.
type Engine struct {
	transport Transport
	logger    *slog.Logger
	metrics   *Metrics
}

// NewEngine returns an Engine on transport. A nil logger discards output
// and a nil metrics allocates a private set of counters.
func NewEngine(transport Transport, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Engine{
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Send writes cmd, consumes its echo, collects data lines and resolves the
// terminal token.
//
// A write failure ends the call without any read. A missing echo yields
// CodeEchoError. A timeout or read failure after the echo yields
// CodeTimeout or CodeUndefined and keeps the lines read so far. When ctx
// ends after the command was written, the rest of the answer is still read
// and discarded before the call returns CodeTimeout. +CME ERROR
// and +CMS ERROR carry the modem code, a bare ERROR carries CodeUndefined.
// CONNECT counts as success: the caller must continue with SendPayload or
// ReceivePayload.
func (e *Engine) Send(ctx context.Context, cmd at.Command) Outcome {
	out := Outcome{Command: cmd.Text}
	log := e.logger.With("cmd", cmd.Text)
	e.metrics.incCommandCount()

	if err := ctx.Err(); err != nil {
		return e.transportFailure(log, out, at.CodeTimeout, err)
	}

	log.Debug("Sending command")
	if err := e.transport.WriteLine(cmd.Text); err != nil {
		return e.transportFailure(log, out, at.CodeUndefined, err)
	}

	reader := at.NewFrameReader(true, at.CommandTerminals...)

	echo, err := e.transport.ReadLine(cmd.Timeout)
	if err != nil {
		e.metrics.incEchoErrCount()
		return e.transportFailure(log, out, at.CodeEchoError, err)
	}
	reader.Next(echo)
	if echo != strings.TrimSpace(cmd.Text) {
		log.Warn("Unexpected echo", "echo", echo)
	}

	return e.collect(ctx, log, out, reader, cmd.Timeout)
}

// collect reads lines until reader reports a terminal token.
func (e *Engine) collect(ctx context.Context, log *slog.Logger, out Outcome, reader *at.FrameReader, timeout time.Duration) Outcome {
	for {
		if err := ctx.Err(); err != nil {
			e.drain(log, reader, timeout)
			return e.transportFailure(log, out, at.CodeTimeout, err)
		}

		line, err := e.transport.ReadLine(timeout)
		if err != nil {
			return e.transportFailure(log, out, readErrorCode(err), err)
		}

		frame := reader.Next(line)
		switch frame.Kind {
		case at.KindTerminal:
			out.Final = frame.Line
			out.Code = frame.Terminal.Code
			out.Text = frame.Terminal.Code.String()
			out.Success = frame.Terminal.Success
			if out.Success {
				log.Debug("Command succeeded", "final", out.Final, "lines", len(out.Lines))
			} else {
				e.metrics.incCommandErrCount()
				log.Warn("Command failed", "final", out.Final, "code", int(out.Code), "error", out.Text)
			}
			return out
		default:
			if frame.Line != "" {
				out.Lines = append(out.Lines, frame.Line)
			}
		}
	}
}

// drain reads the rest of an abandoned exchange up to its terminal, so the
// next command does not take the leftover lines for its own echo and
// response. It gives up after timeout or on the first read failure.
func (e *Engine) drain(log *slog.Logger, reader *at.FrameReader, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for n := 0; ; n++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Warn("Abandoned exchange not drained", "lines", n)
			return
		}
		line, err := e.transport.ReadLine(remaining)
		if err != nil {
			log.Warn("Abandoned exchange not drained", "lines", n, "error", err)
			return
		}
		if reader.Next(line).Kind == at.KindTerminal {
			log.Debug("Drained abandoned exchange", "lines", n, "final", line)
			return
		}
	}
}

func (e *Engine) transportFailure(log *slog.Logger, out Outcome, code at.ErrorCode, err error) Outcome {
	e.metrics.incCommandErrCount()
	if code == at.CodeTimeout {
		e.metrics.incTimeoutCount()
	}
	out.Success = false
	out.Code = code
	out.Text = code.String()
	log.Error("Transport failure", "code", int(code), "error", err, "lines", len(out.Lines))
	return out
}

func readErrorCode(err error) at.ErrorCode {
	if errors.Is(err, ErrReadTimeout) {
		return at.CodeTimeout
	}
	return at.CodeUndefined
}

// Sync brings the link into the framing the Engine expects: it enables
// command echo without relying on it, draining lines until OK. It is used
// once after the port is opened, before any framed command.
func (e *Engine) Sync(ctx context.Context, timeout time.Duration) error {
	cmd := at.Echo(true)
	if err := e.transport.WriteLine(cmd.Text); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := e.transport.ReadLine(timeout)
		if err != nil {
			return err
		}
		frame := at.NewFrameReader(false, at.CommandTerminals...).Next(line)
		if frame.Kind != at.KindTerminal {
			continue
		}
		if !frame.Terminal.Success {
			return &at.Error{Command: cmd.Text, Code: frame.Terminal.Code, Text: frame.Terminal.Code.String()}
		}
		e.logger.Debug("Link synchronized", "final", frame.Line)
		return nil
	}
}
