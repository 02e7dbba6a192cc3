package modem

import (
	"fmt"
	"sync"
	"time"
)

// Step is one scripted exchange of a ScriptTransport. When Write is set the
// step's Lines become readable only after exactly that text was written;
// a step with an empty Write emits its Lines unprompted, like URCs.
type Step struct {
	Write string
	Lines []string
}

// Expect returns a Step answering the command text with the given lines.
// The echo is not added automatically.
func Expect(write string, lines ...string) Step {
	return Step{Write: write, Lines: lines}
}

// Emit returns an unprompted Step.
func Emit(lines ...string) Step {
	return Step{Lines: lines}
}

// ScriptTransport is a test helper that replays a scripted conversation
// with a modem. A read with nothing left to deliver fails with
// ErrReadTimeout immediately, simulating an elapsed timeout.
// Exported for use in tests of this and dependent packages.
type ScriptTransport struct {
	mu      sync.Mutex
	steps   []Step
	pending []string
	writes  []string
	reads   int
	closed  bool

	// WriteErr, when set, fails every write.
	WriteErr error
}

// NewScriptTransport creates a new scripted transport for testing.
func NewScriptTransport(steps ...Step) *ScriptTransport {
	return &ScriptTransport{steps: steps}
}

var _ Transport = (*ScriptTransport)(nil)

func (t *ScriptTransport) WriteLine(text string) error {
	return t.write(text)
}

func (t *ScriptTransport) Write(p []byte) error {
	return t.write(string(p))
}

func (t *ScriptTransport) write(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.WriteErr != nil {
		return t.WriteErr
	}
	t.writes = append(t.writes, text)
	if len(t.steps) == 0 || t.steps[0].Write != text {
		return fmt.Errorf("script: unexpected write %q", text)
	}
	t.pending = append(t.pending, t.steps[0].Lines...)
	t.steps = t.steps[1:]
	return nil
}

func (t *ScriptTransport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrClosed
	}
	t.reads++
	if len(t.pending) == 0 && len(t.steps) > 0 && t.steps[0].Write == "" {
		t.pending = append(t.pending, t.steps[0].Lines...)
		t.steps = t.steps[1:]
	}
	if len(t.pending) == 0 {
		return "", ErrReadTimeout
	}
	line := t.pending[0]
	t.pending = t.pending[1:]
	return line, nil
}

func (t *ScriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	return nil
}

// Writes returns everything written so far, in order.
func (t *ScriptTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Reads returns the number of ReadLine calls so far.
func (t *ScriptTransport) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

// Done reports whether every scripted step and line was consumed.
func (t *ScriptTransport) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps) == 0 && len(t.pending) == 0
}
