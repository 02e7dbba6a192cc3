package modem

import (
	"context"
	"errors"
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the BG95 factory setting of the main UART and the
// rate reported by its USB AT port.
const DefaultBaudRate = 115200

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. /dev/ttyUSB2 or COM11.
	PortName string
	// BaudRate is used when Mode is nil. Zero selects DefaultBaudRate.
	BaudRate int
	// Mode overrides the full line configuration (8N1 by default).
	Mode *serial.Mode
}

var _ Dialer = SerialDialer{}

func (d SerialDialer) Dial(ctx context.Context) (Port, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("modem: open serial port %s: %w", d.PortName, err)
	}

	// Drop anything the modem emitted before we were listening (RDY, stale URCs).
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("modem: reset input buffer: %w", err)
	}
	return port, nil
}
