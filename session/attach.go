package session

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// AttachState is the position of a Session in the network attach sequence.
type AttachState int

const (
	RadioOff AttachState = iota
	RadioOn
	AwaitingRegistration
	AwaitingSignal
	Attached
	// AttachFailed is left by an Attach call that did not reach Attached.
	// The radio may still be on; Detach or a new Attach resets it.
	AttachFailed
)

func (s AttachState) String() string {
	switch s {
	case RadioOff:
		return "radio off"
	case RadioOn:
		return "radio on"
	case AwaitingRegistration:
		return "awaiting registration"
	case AwaitingSignal:
		return "awaiting signal"
	case Attached:
		return "attached"
	case AttachFailed:
		return "attach failed"
	default:
		return "attach state " + strconv.Itoa(int(s))
	}
}

// RegistrationStatus is the <stat> field of +CREG and +CEREG.
type RegistrationStatus int

const (
	RegistrationUnregistered RegistrationStatus = 0
	RegistrationRegistered   RegistrationStatus = 1
	RegistrationSearching    RegistrationStatus = 2
	RegistrationDenied       RegistrationStatus = 3
	RegistrationUnknown      RegistrationStatus = 4
	RegistrationRoaming      RegistrationStatus = 5
)

func (r RegistrationStatus) String() string {
	switch r {
	case RegistrationUnregistered:
		return "unregistered"
	case RegistrationRegistered:
		return "registered"
	case RegistrationSearching:
		return "searching"
	case RegistrationDenied:
		return "denied"
	case RegistrationUnknown:
		return "unknown"
	case RegistrationRoaming:
		return "roaming"
	default:
		return "registration status " + strconv.Itoa(int(r))
	}
}

// Registered reports whether the modem is registered on its home network or
// roaming.
func (r RegistrationStatus) Registered() bool {
	return r == RegistrationRegistered || r == RegistrationRoaming
}

// NoSignal is the RSSI reported while the signal is not known.
const NoSignal = 99

// Signal is the result of AT+CSQ.
type Signal struct {
	RSSI int `json:"rssi"`
	BER  int `json:"ber"`
}

// Known reports whether the modem measured a signal.
func (s Signal) Known() bool {
	return s.RSSI != NoSignal
}

// DBm converts RSSI to dBm. It returns 0 when the signal is not known.
func (s Signal) DBm() int {
	switch {
	case !s.Known():
		return 0
	case s.RSSI <= 0:
		return -113
	case s.RSSI >= 31:
		return -51
	default:
		return -113 + 2*s.RSSI
	}
}

// AttachResult describes a completed attach.
type AttachResult struct {
	Registration      RegistrationStatus `json:"registration"`
	Signal            Signal             `json:"signal"`
	RegistrationPolls int                `json:"registration_polls"`
	SignalPolls       int                `json:"signal_polls"`
	Elapsed           time.Duration      `json:"elapsed"`
}

// sim readiness notifications emitted after AT+CFUN=1, in their usual order.
var simReadyURCs = []string{at.UrcSimReady, at.UrcUSIMReady, at.UrcSMSDone}

// State returns the current attach state.
func (s *Session) State() AttachState {
	return s.state
}

// Attach walks the radio from off to attached: it switches the radio off
// and on, waits for the SIM, then polls registration and signal quality
// until both are usable. The signal is never queried before registration
// succeeds.
//
// Polling is bounded by ctx; a registration denied on
// Config.MaxDeniedPolls consecutive polls fails with ErrRegistrationDenied.
// Any failure leaves the session in AttachFailed.
func (s *Session) Attach(ctx context.Context) (AttachResult, error) {
	start := time.Now()
	log := s.logger.With("op", "attach")

	if _, err := s.run(ctx, at.CFUN(false)); err != nil {
		log.Warn("Could not switch radio off before attach", "error", err)
	}
	s.state = RadioOff

	fail := func(err error) (AttachResult, error) {
		log.Warn("Attach failed", "state", s.state.String(), "error", err)
		s.state = AttachFailed
		return AttachResult{}, err
	}

	if err := s.RadioOn(ctx); err != nil {
		return fail(err)
	}

	s.state = AwaitingRegistration
	reg, regPolls, err := s.awaitRegistration(ctx)
	if err != nil {
		return fail(err)
	}
	log.Info("Registered", "status", reg.String(), "polls", regPolls)

	s.state = AwaitingSignal
	sig, sigPolls, err := s.awaitSignal(ctx)
	if err != nil {
		return fail(err)
	}

	s.state = Attached
	result := AttachResult{
		Registration:      reg,
		Signal:            sig,
		RegistrationPolls: regPolls,
		SignalPolls:       sigPolls,
		Elapsed:           time.Since(start),
	}
	log.Info("Attached", "rssi", sig.RSSI, "dbm", sig.DBm(), "elapsed", result.Elapsed)
	return result, nil
}

// RadioOn switches the radio on and waits for the three SIM readiness
// notifications. A notification already seen while waiting for another
// one counts as received.
func (s *Session) RadioOn(ctx context.Context) error {
	out, err := s.run(ctx, at.CFUN(true).WithTimeout(s.config.RadioURCTimeout))
	if err != nil {
		s.state = RadioOff
		return fmt.Errorf("radio on: %w", err)
	}

	seen := slices.Clone(out.Lines)
	for _, urc := range simReadyURCs {
		if slices.ContainsFunc(seen, func(line string) bool { return strings.HasPrefix(line, urc) }) {
			continue
		}
		wait := s.cmd.WaitFor(ctx, urc, s.config.RadioURCTimeout, s.config.RadioURCTimeout)
		seen = append(seen, wait.Lines...)
		if !wait.Success {
			s.state = RadioOff
			return fmt.Errorf("%w: %s not received", ErrRadioNotReady, urc)
		}
	}

	s.state = RadioOn
	s.logger.Debug("SIM ready")
	return nil
}

// Detach switches the radio off. The state becomes RadioOff even when the
// command fails.
func (s *Session) Detach(ctx context.Context) error {
	s.state = RadioOff
	if _, err := s.run(ctx, at.CFUN(false)); err != nil {
		return fmt.Errorf("radio off: %w", err)
	}
	s.logger.Info("Detached")
	return nil
}

// PowerDown switches the modem off with AT+QPOWD=1 and waits up to
// Config.PowerDownTimeout for the POWERED DOWN report. The modem answers no
// further commands until it is powered up again.
func (s *Session) PowerDown(ctx context.Context) error {
	cmd := at.QPOWD()
	if _, err := s.run(ctx, cmd); err != nil {
		return err
	}
	s.state = RadioOff

	wait := s.cmd.WaitFor(ctx, at.UrcPoweredDown, s.config.PowerDownTimeout, s.config.PowerDownTimeout)
	if err := wait.Err(); err != nil {
		return fmt.Errorf("%s: wait for %s: %w", cmd.Text, at.UrcPoweredDown, err)
	}
	s.logger.Info("Modem powered down")
	return nil
}

// Registration queries the circuit-switched registration status (AT+CREG?).
func (s *Session) Registration(ctx context.Context) (RegistrationStatus, error) {
	payload, err := s.query(ctx, at.CREG(), at.PrefixCREG)
	if err != nil {
		return RegistrationUnknown, err
	}
	return parseRegistration(payload)
}

// EPSRegistration queries the EPS (LTE) registration status (AT+CEREG?).
func (s *Session) EPSRegistration(ctx context.Context) (RegistrationStatus, error) {
	payload, err := s.query(ctx, at.CEREG(), at.PrefixCEREG)
	if err != nil {
		return RegistrationUnknown, err
	}
	return parseRegistration(payload)
}

// GPRSRegistration queries the packet-switched registration status
// (AT+CGREG?).
func (s *Session) GPRSRegistration(ctx context.Context) (RegistrationStatus, error) {
	payload, err := s.query(ctx, at.CGREG(), at.PrefixCGREG)
	if err != nil {
		return RegistrationUnknown, err
	}
	return parseRegistration(payload)
}

// SignalQuality queries AT+CSQ.
func (s *Session) SignalQuality(ctx context.Context) (Signal, error) {
	payload, err := s.query(ctx, at.CSQ(), at.PrefixCSQ)
	if err != nil {
		return Signal{}, err
	}
	return parseSignal(payload)
}

func (s *Session) awaitRegistration(ctx context.Context) (RegistrationStatus, int, error) {
	denied := 0
	for polls := 1; ; polls++ {
		status, err := s.Registration(ctx)
		switch {
		case err != nil:
			s.logger.Warn("Registration poll failed", "poll", polls, "error", err)
		case status.Registered():
			return status, polls, nil
		case status == RegistrationDenied:
			denied++
			if denied >= s.config.MaxDeniedPolls {
				return status, polls, fmt.Errorf("%w after %d polls", ErrRegistrationDenied, polls)
			}
		default:
			denied = 0
		}
		s.logger.Debug("Not registered yet", "status", status.String(), "poll", polls)

		if err := sleep(ctx, s.config.PollInterval); err != nil {
			return status, polls, fmt.Errorf("await registration: %w", err)
		}
	}
}

func (s *Session) awaitSignal(ctx context.Context) (Signal, int, error) {
	for polls := 1; ; polls++ {
		sig, err := s.SignalQuality(ctx)
		switch {
		case err != nil:
			s.logger.Warn("Signal poll failed", "poll", polls, "error", err)
		case sig.Known():
			return sig, polls, nil
		}

		if err := sleep(ctx, s.config.PollInterval); err != nil {
			return sig, polls, fmt.Errorf("await signal: %w", err)
		}
	}
}
