package usecase

import (
	"strings"
	"sync"

	"lambda-agent/internal/domain"
)

// Capture collects the diagnostic text an agent writes during one
// invocation. It is safe for concurrent writers. After Release every write
// fails with domain.ErrCaptureReleased, so a writer that outlives its
// invocation cannot leak text into the next one.
type Capture struct {
	mu       sync.Mutex
	buf      strings.Builder
	released bool
}

// NewCapture returns an empty, active capture.
func NewCapture() *Capture {
	return &Capture{}
}

// Write implements io.Writer.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return 0, domain.ErrCaptureReleased
	}
	return c.buf.Write(p)
}

// Release closes the capture and returns everything written to it. Calling
// Release again returns the same text.
func (c *Capture) Release() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	return c.buf.String()
}

// Released reports whether Release has been called.
func (c *Capture) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// WithCapture runs fn with a fresh capture and releases it on every exit
// path, including a panic inside fn. The captured text is returned alongside
// fn's results.
func WithCapture(fn func(c *Capture) (string, error)) (result, captured string, err error) {
	c := NewCapture()
	defer func() {
		captured = c.Release()
	}()
	result, err = fn(c)
	return result, captured, err
}

// mergeOutput combines captured diagnostics with the agent's final answer.
// Whitespace-only diagnostics are ignored; diagnostics that already contain
// the answer are returned alone.
func mergeOutput(captured, final string) string {
	captured = strings.TrimSpace(captured)
	switch {
	case captured == "":
		return final
	case strings.Contains(captured, final):
		return captured
	default:
		return captured + "\n\n" + final
	}
}
