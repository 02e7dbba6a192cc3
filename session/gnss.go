package session

import (
	"context"
	"fmt"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// GNSSPriority selects which subsystem owns the shared RF path.
type GNSSPriority int

const (
	PriorityGNSS GNSSPriority = 0
	PriorityWWAN GNSSPriority = 1
)

// Fix is a position reported by AT+QGPSLOC=2.
type Fix struct {
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	HDOP       float64   `json:"hdop"`
	Altitude   float64   `json:"altitude"`
	Mode       int       `json:"mode"`
	Course     float64   `json:"course"`
	SpeedKmh   float64   `json:"speed_kmh"`
	SpeedKnots float64   `json:"speed_knots"`
	Satellites int       `json:"satellites"`
}

// SetGNSSPriority hands the RF path to GNSS or back to the cellular radio.
func (s *Session) SetGNSSPriority(ctx context.Context, prio GNSSPriority) error {
	_, err := s.run(ctx, at.QGPSCFGPriority(int(prio)))
	return err
}

// GNSSStatus reports whether the GNSS engine is running.
func (s *Session) GNSSStatus(ctx context.Context) (bool, error) {
	payload, err := s.query(ctx, at.QGPSStatus(), at.PrefixQGPS)
	if err != nil {
		return false, err
	}
	state, err := intField(splitFields(payload), 0)
	if err != nil {
		return false, err
	}
	return state == 1, nil
}

// GNSSOn starts the GNSS engine in standalone mode (AT+QGPS=1,1). It fails
// with +CME ERROR: 504 when the engine is already running.
func (s *Session) GNSSOn(ctx context.Context) error {
	_, err := s.run(ctx, at.QGPSOn())
	return err
}

// GNSSOff stops the GNSS engine (AT+QGPSEND).
func (s *Session) GNSSOff(ctx context.Context) error {
	_, err := s.run(ctx, at.QGPSEnd())
	return err
}

// Location requests the current position. Without a fix the modem answers
// +CME ERROR: 516, returned as an *at.Error.
func (s *Session) Location(ctx context.Context) (Fix, error) {
	payload, err := s.query(ctx, at.QGPSLOC(), at.PrefixQGPSLOC)
	if err != nil {
		return Fix{}, err
	}
	return parseFix(payload)
}

// AcquireFix runs a complete positioning cycle: GNSS gets RF priority and
// is switched on when needed, the location is polled until a fix arrives,
// then GNSS is switched off and priority returned to the cellular radio.
//
// Busy or no-fix answers keep polling for up to Config.GNSSFixTimeout. Any
// other modem error ends the cycle.
func (s *Session) AcquireFix(ctx context.Context) (Fix, error) {
	log := s.logger.With("op", "gnss")

	if err := s.SetGNSSPriority(ctx, PriorityGNSS); err != nil {
		return Fix{}, fmt.Errorf("GNSS priority: %w", err)
	}
	defer func() {
		if err := s.GNSSOff(ctx); err != nil {
			log.Warn("Could not switch GNSS off", "error", err)
		}
		if err := s.SetGNSSPriority(ctx, PriorityWWAN); err != nil {
			log.Warn("Could not restore WWAN priority", "error", err)
		}
	}()

	on, err := s.GNSSStatus(ctx)
	if err != nil {
		return Fix{}, fmt.Errorf("GNSS status: %w", err)
	}
	if !on {
		if err := s.GNSSOn(ctx); err != nil {
			return Fix{}, fmt.Errorf("GNSS on: %w", err)
		}
		if on, err = s.GNSSStatus(ctx); err != nil {
			return Fix{}, fmt.Errorf("GNSS status: %w", err)
		}
		if !on {
			return Fix{}, ErrGNSSOff
		}
	}

	fixCtx, cancel := context.WithTimeout(ctx, s.config.GNSSFixTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		if err := sleep(fixCtx, s.config.GNSSPollInterval); err != nil {
			return Fix{}, fmt.Errorf("wait for fix: %w", err)
		}
		fix, err := s.Location(fixCtx)
		if err == nil {
			log.Info("GNSS fix", "lat", fix.Latitude, "lon", fix.Longitude, "satellites", fix.Satellites, "attempts", attempt)
			return fix, nil
		}
		if !at.CodeOf(err).Retryable() {
			return Fix{}, fmt.Errorf("location: %w", err)
		}
		log.Debug("No fix yet", "attempt", attempt, "error", err)
	}
}
