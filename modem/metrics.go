package modem

import (
	"sync/atomic"
)

// Metrics contains atomic counters for one modem link.
// Metrics can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// CommandCount indicates the number of commands sent.
	CommandCount atomic.Uint64
	// CommandErrCount indicates the number of failed exchanges, modem
	// reported or transport level.
	CommandErrCount atomic.Uint64
	// TimeoutCount indicates the number of exchanges that timed out.
	TimeoutCount atomic.Uint64
	// EchoErrCount indicates the number of commands whose echo never arrived.
	EchoErrCount atomic.Uint64
	// URCWaitCount indicates the number of URC waits started.
	URCWaitCount atomic.Uint64

	// PayloadBytesSent indicates the number of raw payload bytes uploaded.
	PayloadBytesSent atomic.Uint64
	// PayloadBytesReceived indicates the number of raw payload bytes downloaded.
	PayloadBytesReceived atomic.Uint64
}

func (m *Metrics) incCommandCount() {
	m.CommandCount.Add(1)
}

func (m *Metrics) incCommandErrCount() {
	m.CommandErrCount.Add(1)
}

func (m *Metrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *Metrics) incEchoErrCount() {
	m.EchoErrCount.Add(1)
}

func (m *Metrics) incURCWaitCount() {
	m.URCWaitCount.Add(1)
}

func (m *Metrics) addPayloadBytesSent(n int) {
	m.PayloadBytesSent.Add(uint64(n))
}

func (m *Metrics) addPayloadBytesReceived(n int) {
	m.PayloadBytesReceived.Add(uint64(n))
}
