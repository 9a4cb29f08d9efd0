// Package wsconn adapts a WebSocket connection to the [audio.Conn] interface.
//
// The wire protocol is deliberately minimal: every binary message is one raw
// little-endian int16 PCM frame in the session's negotiated format. Text
// messages are ignored. This matches what the bundled browser client sends
// from an AudioWorklet capture node.
package wsconn

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Conn = (*Conn)(nil)

// inputBuf is the capture channel depth. At 20 ms per frame this buffers
// roughly 1.2 s of audio before the reader blocks on a slow pipeline.
const inputBuf = 64

// Conn wraps a *websocket.Conn as an [audio.Conn]. Construct with [New];
// the zero value is not usable.
type Conn struct {
	ws     *websocket.Conn
	format audio.Format
	in     chan audio.Frame
	done   chan struct{}

	closeOnce sync.Once
}

// New wraps ws as an audio connection delivering frames in the given format.
// A reader goroutine is started immediately; it runs until the peer closes
// the socket, ctx is cancelled, or Close is called.
func New(ctx context.Context, ws *websocket.Conn, format audio.Format) *Conn {
	c := &Conn{
		ws:     ws,
		format: format,
		in:     make(chan audio.Frame, inputBuf),
		done:   make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

// readLoop pumps binary messages into the input channel until the socket dies.
func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.in)
	defer c.Close()

	seq := 0
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				slog.Debug("wsconn: read loop ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		frame := audio.Frame{
			Data:       data,
			SampleRate: c.format.SampleRate,
			Channels:   c.format.Channels,
			Seq:        seq,
		}
		seq++
		select {
		case c.in <- frame:
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// Input implements [audio.Conn].
func (c *Conn) Input() <-chan audio.Frame { return c.in }

// Send implements [audio.Conn]. It writes the frame's PCM as one binary
// message.
func (c *Conn) Send(ctx context.Context, f audio.Frame) error {
	select {
	case <-c.done:
		return context.Canceled
	default:
	}
	return c.ws.Write(ctx, websocket.MessageBinary, f.Data)
}

// Done implements [audio.Conn].
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close implements [audio.Conn]. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
