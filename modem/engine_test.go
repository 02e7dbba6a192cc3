package modem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/bg95ctl/at"
	"i4.energy/across/bg95ctl/modem"
)

func TestEngineSend(t *testing.T) {
	commands := []at.Command{at.AT(), at.CSQ(), at.CREG(), at.CFUN(true), at.QHTTPGET(80)}

	t.Run("Echo then OK yields success with empty response", func(t *testing.T) {
		for _, cmd := range commands {
			tr := modem.NewScriptTransport(modem.Expect(cmd.Text, cmd.Text, "OK"))
			e := modem.NewEngine(tr, nil, nil)

			out := e.Send(context.Background(), cmd)

			assert.True(t, out.Success, cmd.Text)
			assert.Empty(t, out.Lines, cmd.Text)
			assert.Equal(t, "", out.Response(), cmd.Text)
			assert.Equal(t, at.CodeOK, out.Code, cmd.Text)
			assert.NoError(t, out.Err(), cmd.Text)
			assert.True(t, tr.Done(), cmd.Text)
		}
	})

	t.Run("Missing echo fails with echo error and stops reading", func(t *testing.T) {
		for _, cmd := range commands {
			tr := modem.NewScriptTransport(modem.Expect(cmd.Text))
			e := modem.NewEngine(tr, nil, nil)

			out := e.Send(context.Background(), cmd)

			assert.False(t, out.Success, cmd.Text)
			assert.Equal(t, at.CodeEchoError, out.Code, cmd.Text)
			assert.Equal(t, "echo error", out.Text, cmd.Text)
			assert.Equal(t, 1, tr.Reads(), cmd.Text)
			assert.Equal(t, []string{cmd.Text}, tr.Writes(), cmd.Text)
		}
	})

	t.Run("CME error carries the modem code", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT+QGPSLOC=2", "AT+QGPSLOC=2", "+CME ERROR: 516"))
		e := modem.NewEngine(tr, nil, nil)

		out := e.Send(context.Background(), at.QGPSLOC())

		assert.False(t, out.Success)
		assert.Equal(t, at.ErrorCode(516), out.Code)
		assert.Equal(t, "No fix", out.Text)
		assert.Equal(t, "+CME ERROR: 516", out.Final)

		var atErr *at.Error
		require.ErrorAs(t, out.Err(), &atErr)
		assert.Equal(t, "AT+QGPSLOC=2", atErr.Command)
	})

	t.Run("CMS error carries the modem code", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT+CSQ", "AT+CSQ", "+CMS ERROR: 30"))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.CSQ())

		assert.False(t, out.Success)
		assert.Equal(t, at.ErrorCode(30), out.Code)
		assert.Equal(t, "No network service", out.Text)
	})

	t.Run("Unknown code resolves to unknown error", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT+CSQ", "AT+CSQ", "+CME ERROR: 9999"))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.CSQ())

		assert.False(t, out.Success)
		assert.Equal(t, at.ErrorCode(9999), out.Code)
		assert.Equal(t, "unknown error", out.Text)
	})

	t.Run("Bare ERROR is undefined", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT+CSQ", "AT+CSQ", "ERROR"))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.CSQ())

		assert.False(t, out.Success)
		assert.Equal(t, at.CodeUndefined, out.Code)
	})

	t.Run("Data lines are kept in order without empty lines", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("ATI",
			"ATI", "", "Quectel", "", "BG95-M3", "Revision: BG95M3LAR02A03", "", "OK"))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.ATI())

		assert.True(t, out.Success)
		assert.Equal(t, []string{"Quectel", "BG95-M3", "Revision: BG95M3LAR02A03"}, out.Lines)
		assert.Equal(t, "Quectel\nBG95-M3\nRevision: BG95M3LAR02A03\n", out.Response())
	})

	t.Run("Echo line is never taken as the terminal", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT", "OK", "OK"))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.AT())

		assert.True(t, out.Success)
		assert.True(t, tr.Done(), "the second OK must be consumed as the terminal")
	})

	t.Run("CONNECT is a success terminal", func(t *testing.T) {
		cmd := at.QHTTPURL(23, 80)
		tr := modem.NewScriptTransport(modem.Expect(cmd.Text, cmd.Text, "CONNECT"))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), cmd)

		assert.True(t, out.Success)
		assert.True(t, out.Connected())
	})

	t.Run("Timeout after echo keeps partial lines", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT+COPS?", "AT+COPS?", `+COPS: 0,0,"KPN",8`))
		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.COPS())

		assert.False(t, out.Success)
		assert.Equal(t, at.CodeTimeout, out.Code)
		assert.Equal(t, []string{`+COPS: 0,0,"KPN",8`}, out.Lines)
	})

	t.Run("Write failure performs no read", func(t *testing.T) {
		tr := modem.NewScriptTransport()
		tr.WriteErr = errors.New("device unplugged")
		e := modem.NewEngine(tr, nil, nil)

		out := e.Send(context.Background(), at.AT())

		assert.False(t, out.Success)
		assert.Equal(t, at.CodeUndefined, out.Code)
		assert.Equal(t, 0, tr.Reads())
		assert.Equal(t, uint64(1), e.Metrics().CommandErrCount.Load())
	})

	t.Run("Closed transport fails fast", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("AT", "AT", "OK"))
		require.NoError(t, tr.Close())

		out := modem.NewEngine(tr, nil, nil).Send(context.Background(), at.AT())

		assert.False(t, out.Success)
		assert.Equal(t, 0, tr.Reads())
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tr := modem.NewScriptTransport(modem.Expect("AT", "AT", "OK"))

		out := modem.NewEngine(tr, nil, nil).Send(ctx, at.AT())

		assert.False(t, out.Success)
		assert.Equal(t, at.CodeTimeout, out.Code)
		assert.Empty(t, tr.Writes())
	})
}

// cancelledAfterWrite passes the check made before the command is written
// and reports cancellation from then on.
type cancelledAfterWrite struct {
	context.Context
	checks int
}

func (c *cancelledAfterWrite) Err() error {
	c.checks++
	if c.checks > 1 {
		return context.Canceled
	}
	return nil
}

func TestEngineSendCancelledMidExchange(t *testing.T) {
	tr := modem.NewScriptTransport(
		modem.Expect("AT+CSQ", "AT+CSQ", "+CSQ: 14,99", "OK"),
		modem.Expect("AT+CREG?", "AT+CREG?", "+CREG: 0,1", "OK"),
	)
	e := modem.NewEngine(tr, nil, nil)

	out := e.Send(&cancelledAfterWrite{Context: context.Background()}, at.CSQ())
	require.False(t, out.Success)
	assert.Equal(t, at.CodeTimeout, out.Code)

	// The abandoned answer was drained; the next command reads its own.
	out = e.Send(context.Background(), at.CREG())
	assert.True(t, out.Success)
	assert.Equal(t, []string{"+CREG: 0,1"}, out.Lines)
	assert.True(t, tr.Done())
}

func TestEngineSendWithMockTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := modem.NewMockTransport(ctrl)
	cmd := at.CSQ().WithTimeout(2 * time.Second)

	gomock.InOrder(
		mockTransport.EXPECT().WriteLine("AT+CSQ").Return(nil),
		mockTransport.EXPECT().ReadLine(2*time.Second).Return("", modem.ErrReadTimeout),
	)

	out := modem.NewEngine(mockTransport, nil, nil).Send(context.Background(), cmd)

	assert.False(t, out.Success)
	assert.Equal(t, at.CodeEchoError, out.Code)
}

func TestEngineMetrics(t *testing.T) {
	tr := modem.NewScriptTransport(
		modem.Expect("AT", "AT", "OK"),
		modem.Expect("AT+CSQ", "AT+CSQ", "+CME ERROR: 30"),
		modem.Expect("AT+CREG?"),
	)
	metrics := &modem.Metrics{}
	e := modem.NewEngine(tr, nil, metrics)

	e.Send(context.Background(), at.AT())
	e.Send(context.Background(), at.CSQ())
	e.Send(context.Background(), at.CREG())

	assert.Equal(t, uint64(3), metrics.CommandCount.Load())
	assert.Equal(t, uint64(2), metrics.CommandErrCount.Load())
	assert.Equal(t, uint64(1), metrics.EchoErrCount.Load())
}

func TestEngineSync(t *testing.T) {
	t.Run("Echo off", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("ATE1", "OK"))
		require.NoError(t, modem.NewEngine(tr, nil, nil).Sync(context.Background(), time.Second))
	})

	t.Run("Echo on with stale lines", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("ATE1", "RDY", "ATE1", "", "OK"))
		require.NoError(t, modem.NewEngine(tr, nil, nil).Sync(context.Background(), time.Second))
		assert.True(t, tr.Done())
	})

	t.Run("Silent modem", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("ATE1"))
		err := modem.NewEngine(tr, nil, nil).Sync(context.Background(), time.Second)
		assert.ErrorIs(t, err, modem.ErrReadTimeout)
	})

	t.Run("Error", func(t *testing.T) {
		tr := modem.NewScriptTransport(modem.Expect("ATE1", "ATE1", "ERROR"))
		err := modem.NewEngine(tr, nil, nil).Sync(context.Background(), time.Second)
		assert.Equal(t, at.CodeUndefined, at.CodeOf(err))
	})
}
