package session_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/bg95ctl/at"
	"i4.energy/across/bg95ctl/modem"
	"i4.energy/across/bg95ctl/session"
)

func radioCycle() []modem.Step {
	return []modem.Step{
		exchange("AT+CFUN=0"),
		exchange("AT+CFUN=1"),
		modem.Emit("", "+CPIN: READY"),
		modem.Emit("+QUSIM: 1"),
		modem.Emit("", "+QIND: SMS DONE"),
	}
}

func TestAttach(t *testing.T) {
	t.Run("Registration then signal", func(t *testing.T) {
		steps := slices.Concat(radioCycle(), []modem.Step{
			exchange("AT+CREG?", "+CREG: 0,2"),
			exchange("AT+CREG?", "+CREG: 0,2"),
			exchange("AT+CREG?", "+CREG: 0,1"),
			exchange("AT+CSQ", "+CSQ: 99,99"),
			exchange("AT+CSQ", "+CSQ: 99,99"),
			exchange("AT+CSQ", "+CSQ: 14,99"),
		})
		s, tr := newSession(t, steps...)

		result, err := s.Attach(testContext(t))

		require.NoError(t, err)
		assert.Equal(t, session.Attached, s.State())
		assert.Equal(t, session.RegistrationRegistered, result.Registration)
		assert.Equal(t, 3, result.RegistrationPolls)
		assert.Equal(t, 3, result.SignalPolls)
		assert.Equal(t, 14, result.Signal.RSSI)
		assert.Equal(t, []string{
			"AT+CFUN=0", "AT+CFUN=1",
			"AT+CREG?", "AT+CREG?", "AT+CREG?",
			"AT+CSQ", "AT+CSQ", "AT+CSQ",
		}, tr.Writes(), "signal must not be queried before registration")
		assert.True(t, tr.Done())
	})

	t.Run("Roaming counts as registered", func(t *testing.T) {
		steps := slices.Concat(radioCycle(), []modem.Step{
			exchange("AT+CREG?", `+CREG: 2,5,"1A2B","01C2D3E4",8`),
			exchange("AT+CSQ", "+CSQ: 20,0"),
		})
		s, _ := newSession(t, steps...)

		result, err := s.Attach(testContext(t))

		require.NoError(t, err)
		assert.Equal(t, session.RegistrationRoaming, result.Registration)
	})

	t.Run("Failed polls keep polling", func(t *testing.T) {
		steps := slices.Concat(radioCycle(), []modem.Step{
			failure("AT+CREG?", "+CME ERROR: 14"),
			exchange("AT+CREG?", "+CREG: 0,1"),
			failure("AT+CSQ", "ERROR"),
			exchange("AT+CSQ", "+CSQ: 9,99"),
		})
		s, _ := newSession(t, steps...)

		result, err := s.Attach(testContext(t))

		require.NoError(t, err)
		assert.Equal(t, 2, result.RegistrationPolls)
		assert.Equal(t, 2, result.SignalPolls)
	})

	t.Run("Denied registration fails after a bounded number of polls", func(t *testing.T) {
		steps := slices.Concat(radioCycle(), []modem.Step{
			exchange("AT+CREG?", "+CREG: 0,3"),
			exchange("AT+CREG?", "+CREG: 0,3"),
			exchange("AT+CREG?", "+CREG: 0,3"),
		})
		s, tr := newSession(t, steps...)

		_, err := s.Attach(testContext(t))

		require.ErrorIs(t, err, session.ErrRegistrationDenied)
		assert.Equal(t, session.AttachFailed, s.State())
		assert.NotContains(t, tr.Writes(), "AT+CSQ")
	})

	t.Run("Searching resets the denied count", func(t *testing.T) {
		steps := slices.Concat(radioCycle(), []modem.Step{
			exchange("AT+CREG?", "+CREG: 0,3"),
			exchange("AT+CREG?", "+CREG: 0,3"),
			exchange("AT+CREG?", "+CREG: 0,2"),
			exchange("AT+CREG?", "+CREG: 0,3"),
			exchange("AT+CREG?", "+CREG: 0,1"),
			exchange("AT+CSQ", "+CSQ: 14,99"),
		})
		s, _ := newSession(t, steps...)

		result, err := s.Attach(testContext(t))

		require.NoError(t, err)
		assert.Equal(t, 5, result.RegistrationPolls)
	})

	t.Run("Polling stops when the context ends", func(t *testing.T) {
		steps := slices.Concat(radioCycle(), []modem.Step{
			exchange("AT+CREG?", "+CREG: 0,2"),
		})
		s, _ := newSession(t, steps...)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := s.Attach(ctx)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, session.AttachFailed, s.State())
	})

	t.Run("SIM not ready fails the attach", func(t *testing.T) {
		s, tr := newSession(t,
			exchange("AT+CFUN=0"),
			exchange("AT+CFUN=1", "+CPIN: READY", "+QUSIM: 1"),
		)

		_, err := s.Attach(testContext(t))

		require.ErrorIs(t, err, session.ErrRadioNotReady)
		assert.Equal(t, session.AttachFailed, s.State())
		assert.NotContains(t, tr.Writes(), "AT+CREG?")
	})

	t.Run("Radio off failure is tolerated", func(t *testing.T) {
		steps := []modem.Step{
			failure("AT+CFUN=0", "ERROR"),
			exchange("AT+CFUN=1", "+CPIN: READY", "+QUSIM: 1", "+QIND: SMS DONE"),
			exchange("AT+CREG?", "+CREG: 0,1"),
			exchange("AT+CSQ", "+CSQ: 14,99"),
		}
		s, tr := newSession(t, steps...)

		_, err := s.Attach(testContext(t))

		require.NoError(t, err)
		assert.True(t, tr.Done())
	})
}

func TestRadioOn(t *testing.T) {
	t.Run("Missing SIM notification aborts", func(t *testing.T) {
		s, _ := newSession(t,
			exchange("AT+CFUN=1"),
			modem.Emit("+CPIN: READY"),
		)

		err := s.RadioOn(testContext(t))

		require.ErrorIs(t, err, session.ErrRadioNotReady)
		assert.Contains(t, err.Error(), at.UrcUSIMReady)
		assert.Equal(t, session.RadioOff, s.State())
	})

	t.Run("Notifications in any order", func(t *testing.T) {
		s, tr := newSession(t,
			modem.Expect("AT+CFUN=1", "AT+CFUN=1", "+CPIN: READY", "OK"),
			modem.Emit("+QIND: SMS DONE", "+QUSIM: 1"),
		)

		require.NoError(t, s.RadioOn(testContext(t)))
		assert.Equal(t, session.RadioOn, s.State())
		assert.True(t, tr.Done())
	})

	t.Run("Radio command rejected", func(t *testing.T) {
		s, _ := newSession(t, failure("AT+CFUN=1", "+CME ERROR: 10"))

		err := s.RadioOn(testContext(t))

		var atErr *at.Error
		require.True(t, errors.As(err, &atErr))
		assert.Equal(t, at.ErrorCode(10), atErr.Code)
		assert.Equal(t, session.RadioOff, s.State())
	})
}

func TestDetach(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		s, tr := newSession(t, exchange("AT+CFUN=0"))

		require.NoError(t, s.Detach(testContext(t)))
		assert.Equal(t, session.RadioOff, s.State())
		assert.True(t, tr.Done())
	})

	t.Run("Failure still ends in radio off", func(t *testing.T) {
		s, _ := newSession(t, failure("AT+CFUN=0", "ERROR"))

		assert.Error(t, s.Detach(testContext(t)))
		assert.Equal(t, session.RadioOff, s.State())
	})
}

func TestPowerDown(t *testing.T) {
	t.Run("Waits for the power down report", func(t *testing.T) {
		s, tr := newSession(t,
			exchange("AT+QPOWD=1"),
			modem.Emit("", "POWERED DOWN"),
		)

		require.NoError(t, s.PowerDown(testContext(t)))
		assert.Equal(t, session.RadioOff, s.State())
		assert.True(t, tr.Done())
	})

	t.Run("No report", func(t *testing.T) {
		s, _ := newSession(t, exchange("AT+QPOWD=1"))

		err := s.PowerDown(testContext(t))

		assert.Equal(t, at.CodeTimeout, at.CodeOf(err))
		assert.Contains(t, err.Error(), at.UrcPoweredDown)
	})
}

func TestRegistration(t *testing.T) {
	s, _ := newSession(t,
		exchange("AT+CREG?", "+CREG: 0,5"),
		exchange("AT+CEREG?", `+CEREG: 2,1,"1A2B","01C2D3E4",8`),
		exchange("AT+CGREG?", "+CGREG: 0,2"),
		exchange("AT+CREG?"),
	)
	ctx := testContext(t)

	reg, err := s.Registration(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.RegistrationRoaming, reg)
	assert.True(t, reg.Registered())

	eps, err := s.EPSRegistration(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.RegistrationRegistered, eps)

	gprs, err := s.GPRSRegistration(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.RegistrationSearching, gprs)

	_, err = s.Registration(ctx)
	assert.ErrorIs(t, err, session.ErrMalformedResponse)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "awaiting signal", session.AwaitingSignal.String())
	assert.Equal(t, "attach failed", session.AttachFailed.String())
	assert.Equal(t, "denied", session.RegistrationDenied.String())
	assert.Equal(t, "registration status 7", session.RegistrationStatus(7).String())
}
