// Package mock provides an in-memory [audio.Conn] for tests. Tests push
// capture frames via PushInput and observe synthesised output via Sent.
package mock

import (
	"context"
	"sync"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Conn = (*Conn)(nil)

// Conn is a scriptable in-memory audio connection.
type Conn struct {
	in   chan audio.Frame
	done chan struct{}

	mu        sync.Mutex
	sent      []audio.Frame
	closed    bool
	SendErr   error // returned by Send when non-nil
	SendDelay func() // invoked before each Send completes, when non-nil
}

// NewConn returns a Conn with an input buffer of the given size.
func NewConn(buf int) *Conn {
	return &Conn{
		in:   make(chan audio.Frame, buf),
		done: make(chan struct{}),
	}
}

// PushInput delivers one capture frame to the pipeline under test.
func (c *Conn) PushInput(f audio.Frame) {
	c.in <- f
}

// CloseInput simulates the client disconnecting mid-stream.
func (c *Conn) CloseInput() {
	close(c.in)
}

// Sent returns a copy of all frames sent so far.
func (c *Conn) Sent() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Conn) Input() <-chan audio.Frame { return c.in }

func (c *Conn) Send(ctx context.Context, f audio.Frame) error {
	if c.SendDelay != nil {
		c.SendDelay()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return context.Canceled
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
