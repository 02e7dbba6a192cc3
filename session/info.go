package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/bg95ctl/at"
)

// Product identifies the module (ATI).
type Product struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Revision     string `json:"revision"`
}

// Temperature is one on-chip sensor reading from AT+QTEMP.
type Temperature struct {
	Sensor  string `json:"sensor"`
	Celsius int    `json:"celsius"`
}

// Operator is the network selection reported by AT+COPS?.
type Operator struct {
	Mode int    `json:"mode"`
	Name string `json:"name,omitempty"`
	// AccessTechnology is 0 for GSM, 8 for LTE-M and 9 for NB-IoT.
	AccessTechnology int `json:"access_technology"`
}

// ServingNetwork is the serving cell reported by AT+QNWINFO.
type ServingNetwork struct {
	Access   string `json:"access"`
	Operator string `json:"operator,omitempty"`
	Band     string `json:"band,omitempty"`
	Channel  int    `json:"channel,omitempty"`
}

// ExtendedSignal is the report of AT+QCSQ. Values are RSSI, RSRP, SINR
// and RSRQ for eMTC and NB-IoT, and RSSI alone for GSM. SystemMode is
// "NOSERVICE" without a serving cell.
type ExtendedSignal struct {
	SystemMode string `json:"system_mode"`
	Values     []int  `json:"values,omitempty"`
}

// PDPContext is a context defined with AT+CGDCONT and its activation state.
type PDPContext struct {
	CID    int    `json:"cid"`
	Type   string `json:"type"`
	APN    string `json:"apn"`
	Active bool   `json:"active"`
}

// NetworkReport aggregates the network queries.
type NetworkReport struct {
	Registration     RegistrationStatus `json:"registration"`
	EPSRegistration  RegistrationStatus `json:"eps_registration"`
	GPRSRegistration RegistrationStatus `json:"gprs_registration"`
	Signal           Signal             `json:"signal"`
	ExtendedSignal   ExtendedSignal     `json:"extended_signal"`
	Operator         Operator           `json:"operator"`
	Serving          ServingNetwork     `json:"serving"`
	// PacketEventMode is the <mode> of AT+CGEREP, the forwarding of packet
	// domain events as URCs.
	PacketEventMode int          `json:"packet_event_mode"`
	PacketAttached  bool         `json:"packet_attached"`
	Contexts        []PDPContext `json:"contexts,omitempty"`
	Address         string       `json:"address,omitempty"`
}

// ProductInfo queries ATI.
func (s *Session) ProductInfo(ctx context.Context) (Product, error) {
	out, err := s.run(ctx, at.ATI())
	if err != nil {
		return Product{}, err
	}
	var p Product
	for _, line := range out.Lines {
		switch {
		case strings.HasPrefix(line, "Revision:"):
			p.Revision = strings.TrimSpace(strings.TrimPrefix(line, "Revision:"))
		case p.Manufacturer == "":
			p.Manufacturer = line
		case p.Model == "":
			p.Model = line
		}
	}
	if p.Manufacturer == "" {
		return Product{}, fmt.Errorf("%s: %w", at.ATI().Text, ErrMalformedResponse)
	}
	return p, nil
}

// IMEI queries AT+GSN.
func (s *Session) IMEI(ctx context.Context) (string, error) {
	return s.firstLine(ctx, at.GSN())
}

// IMSI queries AT+CIMI. The SIM answers only with the radio on.
func (s *Session) IMSI(ctx context.Context) (string, error) {
	return s.firstLine(ctx, at.CIMI())
}

// ICCID queries AT+QCCID.
func (s *Session) ICCID(ctx context.Context) (string, error) {
	return s.query(ctx, at.QCCID(), at.PrefixQCCID)
}

func (s *Session) firstLine(ctx context.Context, cmd at.Command) (string, error) {
	out, err := s.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if len(out.Lines) == 0 {
		return "", fmt.Errorf("%s: %w", cmd.Text, ErrMalformedResponse)
	}
	return out.Lines[0], nil
}

// Clock reads the modem real-time clock.
func (s *Session) Clock(ctx context.Context) (time.Time, error) {
	payload, err := s.query(ctx, at.CCLK(), at.PrefixCCLK)
	if err != nil {
		return time.Time{}, err
	}
	return parseModemTime(strings.Trim(payload, `"`))
}

// Temperature reads the on-chip sensors. Both the named form
// (+QTEMP: "name","value" per line) and the positional form
// (+QTEMP: <pmic>,<xo>,<pa>) are understood.
func (s *Session) Temperature(ctx context.Context) ([]Temperature, error) {
	out, err := s.run(ctx, at.QTEMP())
	if err != nil {
		return nil, err
	}

	positional := []string{"pmic", "xo", "pa"}
	var temps []Temperature
	for _, line := range out.Lines {
		payload, ok := strings.CutPrefix(line, at.PrefixQTEMP)
		if !ok {
			continue
		}
		fields := splitFields(payload)
		if _, err := strconv.Atoi(fields[0]); err != nil && len(fields) == 2 {
			c, err := intField(fields, 1)
			if err != nil {
				return nil, err
			}
			temps = append(temps, Temperature{Sensor: fields[0], Celsius: c})
			continue
		}
		for i := range fields {
			c, err := intField(fields, i)
			if err != nil {
				return nil, err
			}
			name := "sensor" + strconv.Itoa(i)
			if i < len(positional) {
				name = positional[i]
			}
			temps = append(temps, Temperature{Sensor: name, Celsius: c})
		}
	}
	if len(temps) == 0 {
		return nil, fmt.Errorf("%s: %w", at.QTEMP().Text, ErrMalformedResponse)
	}
	return temps, nil
}

// Operator queries AT+COPS?. Name is empty while no operator is selected.
func (s *Session) Operator(ctx context.Context) (Operator, error) {
	payload, err := s.query(ctx, at.COPS(), at.PrefixCOPS)
	if err != nil {
		return Operator{}, err
	}
	fields := splitFields(payload)
	var op Operator
	if op.Mode, err = intField(fields, 0); err != nil {
		return Operator{}, err
	}
	if len(fields) >= 3 {
		op.Name = fields[2]
	}
	if len(fields) >= 4 {
		if op.AccessTechnology, err = intField(fields, 3); err != nil {
			return Operator{}, err
		}
	}
	return op, nil
}

// ServingNetwork queries AT+QNWINFO. Access is "No Service" when there is
// no serving cell.
func (s *Session) ServingNetwork(ctx context.Context) (ServingNetwork, error) {
	payload, err := s.query(ctx, at.QNWINFO(), at.PrefixQNWINFO)
	if err != nil {
		return ServingNetwork{}, err
	}
	fields := splitFields(payload)
	sn := ServingNetwork{Access: fields[0]}
	if len(fields) >= 4 {
		sn.Operator = fields[1]
		sn.Band = fields[2]
		if sn.Channel, err = intField(fields, 3); err != nil {
			return ServingNetwork{}, err
		}
	}
	return sn, nil
}

// PacketAttached queries AT+CGATT?.
func (s *Session) PacketAttached(ctx context.Context) (bool, error) {
	payload, err := s.query(ctx, at.CGATT(), at.PrefixCGATT)
	if err != nil {
		return false, err
	}
	state, err := intField(splitFields(payload), 0)
	if err != nil {
		return false, err
	}
	return state == 1, nil
}

// ExtendedSignalQuality queries AT+QCSQ.
func (s *Session) ExtendedSignalQuality(ctx context.Context) (ExtendedSignal, error) {
	payload, err := s.query(ctx, at.QCSQ(), at.PrefixQCSQ)
	if err != nil {
		return ExtendedSignal{}, err
	}
	fields := splitFields(payload)
	sig := ExtendedSignal{SystemMode: fields[0]}
	for i := 1; i < len(fields); i++ {
		v, err := intField(fields, i)
		if err != nil {
			return ExtendedSignal{}, err
		}
		sig.Values = append(sig.Values, v)
	}
	return sig, nil
}

// PacketEventMode queries AT+CGEREP?.
func (s *Session) PacketEventMode(ctx context.Context) (int, error) {
	payload, err := s.query(ctx, at.CGEREP(), at.PrefixCGEREP)
	if err != nil {
		return 0, err
	}
	return intField(splitFields(payload), 0)
}

// PDPContexts lists the defined contexts (AT+CGDCONT?) with their
// activation state (AT+CGACT?).
func (s *Session) PDPContexts(ctx context.Context) ([]PDPContext, error) {
	out, err := s.run(ctx, at.CGDCONT())
	if err != nil {
		return nil, err
	}
	var contexts []PDPContext
	for _, payload := range findPayloads(out.Lines, at.PrefixCGDCONT) {
		fields := splitFields(payload)
		cid, err := intField(fields, 0)
		if err != nil {
			return nil, err
		}
		c := PDPContext{CID: cid}
		if len(fields) > 1 {
			c.Type = fields[1]
		}
		if len(fields) > 2 {
			c.APN = fields[2]
		}
		contexts = append(contexts, c)
	}

	out, err = s.run(ctx, at.CGACT())
	if err != nil {
		return contexts, err
	}
	for _, payload := range findPayloads(out.Lines, at.PrefixCGACT) {
		fields := splitFields(payload)
		cid, err := intField(fields, 0)
		if err != nil {
			return contexts, err
		}
		state, err := intField(fields, 1)
		if err != nil {
			return contexts, err
		}
		for i := range contexts {
			if contexts[i].CID == cid {
				contexts[i].Active = state == 1
			}
		}
	}
	return contexts, nil
}

// PDPAddress returns the IP address of the configured PDP context.
func (s *Session) PDPAddress(ctx context.Context) (string, error) {
	payload, err := s.query(ctx, at.CGPADDR(s.config.PDPContext), at.PrefixCGPADDR)
	if err != nil {
		return "", err
	}
	fields := splitFields(payload)
	if len(fields) < 2 {
		return "", fmt.Errorf("%s: %w", at.CGPADDR(s.config.PDPContext).Text, ErrMalformedResponse)
	}
	return fields[1], nil
}

// NetworkReport runs every network query. A failed query leaves its field
// unset and its error is joined into the returned error. The PDP contexts
// and address are only queried while packet attached.
func (s *Session) NetworkReport(ctx context.Context) (NetworkReport, error) {
	var (
		r    NetworkReport
		errs []error
		err  error
	)
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	r.Registration, err = s.Registration(ctx)
	collect(err)
	r.EPSRegistration, err = s.EPSRegistration(ctx)
	collect(err)
	r.GPRSRegistration, err = s.GPRSRegistration(ctx)
	collect(err)
	r.Signal, err = s.SignalQuality(ctx)
	collect(err)
	r.ExtendedSignal, err = s.ExtendedSignalQuality(ctx)
	collect(err)
	r.Operator, err = s.Operator(ctx)
	collect(err)
	r.Serving, err = s.ServingNetwork(ctx)
	collect(err)
	r.PacketEventMode, err = s.PacketEventMode(ctx)
	collect(err)
	r.PacketAttached, err = s.PacketAttached(ctx)
	collect(err)
	if r.PacketAttached {
		r.Contexts, err = s.PDPContexts(ctx)
		collect(err)
		r.Address, err = s.PDPAddress(ctx)
		collect(err)
	}
	return r, errors.Join(errs...)
}
