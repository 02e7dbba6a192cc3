package modem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/bg95ctl/at"
	"i4.energy/across/bg95ctl/modem"
)

func TestSendPayload(t *testing.T) {
	const url = "http://postman-echo.com/get/"

	t.Run("URL upload", func(t *testing.T) {
		cmd := at.QHTTPURL(len(url), 80)
		tr := modem.NewScriptTransport(
			modem.Expect(cmd.Text, cmd.Text, "CONNECT"),
			modem.Expect(url, "OK"),
		)
		e := modem.NewEngine(tr, nil, nil)

		out := e.Send(context.Background(), cmd)
		require.True(t, out.Connected())

		out = e.SendPayload(context.Background(), []byte(url), time.Second)
		assert.True(t, out.Success)
		assert.Equal(t, []string{cmd.Text, url}, tr.Writes(), "payload is written once without framing")
		assert.Equal(t, uint64(len(url)), e.Metrics().PayloadBytesSent.Load())
	})

	t.Run("Error terminal fails", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("body", "+CME ERROR: 726"))
		out := modem.NewEngine(tr, nil, nil).SendPayload(context.Background(), []byte("body"), time.Second)

		assert.False(t, out.Success)
		assert.Equal(t, at.ErrorCode(726), out.Code)
		assert.Equal(t, "Input timeout", out.Text)
	})

	t.Run("Timeout fails", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("body"))
		out := modem.NewEngine(tr, nil, nil).SendPayload(context.Background(), []byte("body"), time.Second)

		assert.False(t, out.Success)
		assert.Equal(t, at.CodeTimeout, out.Code)
	})
}

func TestReceivePayload(t *testing.T) {
	t.Run("Body up to OK", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Emit("{", `  "args": {"foo1": "bar1"}`, "}", "OK"))
		e := modem.NewEngine(tr, nil, nil)

		out := e.ReceivePayload(context.Background(), time.Second)

		assert.True(t, out.Success)
		assert.Equal(t, "{\n  \"args\": {\"foo1\": \"bar1\"}\n}\n", out.Response())
		assert.Empty(t, tr.Writes())
		assert.Equal(t, uint64(len(out.Response())), e.Metrics().PayloadBytesReceived.Load())
	})

	t.Run("CONNECT does not end the payload", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Emit("CONNECT", "OK"))
		out := modem.NewEngine(tr, nil, nil).ReceivePayload(context.Background(), time.Second)

		assert.True(t, out.Success)
		assert.Equal(t, []string{"CONNECT"}, out.Lines)
	})

	t.Run("Error tokens in the body are data", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Emit("ERROR: no such user", "+CME ERROR: in body", "see docs", "OK"))
		out := modem.NewEngine(tr, nil, nil).ReceivePayload(context.Background(), time.Second)

		assert.True(t, out.Success)
		assert.Equal(t, "OK", out.Final)
		assert.Equal(t, []string{"ERROR: no such user", "+CME ERROR: in body", "see docs"}, out.Lines)
		assert.True(t, tr.Done())
	})

	t.Run("Truncated body fails", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Emit("{", "partial"))
		out := modem.NewEngine(tr, nil, nil).ReceivePayload(context.Background(), time.Second)

		assert.False(t, out.Success)
		assert.Equal(t, at.CodeTimeout, out.Code)
	})
}
