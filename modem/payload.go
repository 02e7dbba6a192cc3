package modem

import (
	"context"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// SendPayload writes data once, unframed, to a link that a previous Send
// switched into raw mode (Outcome.Connected), then reads lines until OK.
//
// There is no echo in raw mode. An error terminal or a timeout fails the
// call and any lines read are not part of the result contract.
func (e *Engine) SendPayload(ctx context.Context, data []byte, timeout time.Duration) Outcome {
	out := Outcome{Command: "payload"}
	log := e.logger.With("cmd", out.Command, "bytes", len(data))

	if err := ctx.Err(); err != nil {
		return e.transportFailure(log, out, at.CodeTimeout, err)
	}
	if err := e.transport.Write(data); err != nil {
		return e.transportFailure(log, out, at.CodeUndefined, err)
	}
	e.metrics.addPayloadBytesSent(len(data))

	return e.collect(ctx, log, out, at.NewFrameReader(false, at.PayloadTerminals...), timeout)
}

// ReceivePayload reads a block the modem pushes after a CONNECT, up to the
// closing OK. Nothing is written. Only OK ends the block: a body line
// starting with ERROR or +CME ERROR: is data.
func (e *Engine) ReceivePayload(ctx context.Context, timeout time.Duration) Outcome {
	out := Outcome{Command: "receive"}
	log := e.logger.With("cmd", out.Command)

	out = e.collect(ctx, log, out, at.NewFrameReader(false, at.DownloadTerminals...), timeout)
	if out.Success {
		for _, line := range out.Lines {
			e.metrics.addPayloadBytesReceived(len(line) + 1)
		}
	}
	return out
}
