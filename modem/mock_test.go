package modem_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/bg95ctl/modem"
)

// MockSequenceBuilder scripts a MockPort at byte level. Each exchange is
// one Write followed by one SetReadTimeout and one Read delivering the
// whole reply.
type MockSequenceBuilder struct {
	port  *modem.MockPort
	calls []any
}

func NewMockSequence(port *modem.MockPort) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		port:  port,
		calls: []any{},
	}
}

func (b *MockSequenceBuilder) exchange(write, reply string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.port.EXPECT().Write([]byte(write)).Return(len(write), nil),
		b.port.EXPECT().SetReadTimeout(gomock.Any()).Return(nil),
		b.port.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, reply), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) EchoOn() *MockSequenceBuilder {
	return b.exchange("ATE1\r", "ATE1\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOnFromSilentBoot() *MockSequenceBuilder {
	return b.exchange("ATE1\r", "\r\nRDY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) NumericErrors() *MockSequenceBuilder {
	return b.exchange("AT+CMEE=1\r", "AT+CMEE=1\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) NumericErrorsRejected() *MockSequenceBuilder {
	return b.exchange("AT+CMEE=1\r", "AT+CMEE=1\r\r\nERROR\r\n")
}

func (b *MockSequenceBuilder) Command(write, reply string) *MockSequenceBuilder {
	return b.exchange(write, reply)
}

// Silent expects write and answers every read with a timeout.
func (b *MockSequenceBuilder) Silent(write string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.port.EXPECT().Write([]byte(write)).Return(len(write), nil),
		b.port.EXPECT().SetReadTimeout(gomock.Any()).Return(nil),
		b.port.EXPECT().Read(gomock.Any()).Return(0, nil),
	)
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

func initMockCalls(port *modem.MockPort) []any {
	return NewMockSequence(port).
		EchoOn().
		NumericErrors().
		Build()
}
