// Package audio defines the frame type and transport abstraction that all
// audio flowing through the agent pipeline is expressed in.
//
// A [Conn] represents one live client connection (WebSocket or WebRTC peer).
// It delivers raw PCM capture frames on its Input channel and accepts
// synthesised PCM frames via Send. Implementations live in the subpackages
// wsconn and webrtc; the pipeline only ever sees this interface.
package audio

import "context"

// Frame is a single chunk of PCM audio moving through the pipeline.
// Data is little-endian int16 PCM; SampleRate and Channels describe its
// format. Seq is a monotonically increasing sequence number assigned by
// whoever produced the frame, used to preserve playback order.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
	Seq        int
}

// Duration returns the playback duration of the frame in milliseconds,
// or 0 when the format fields are unset.
func (f Frame) Duration() int {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.Data) == 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return samples * 1000 / f.SampleRate
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Conn is one live bidirectional audio connection to a client.
//
// Input delivers capture frames as they arrive; the channel is closed when
// the client disconnects. Send transmits one synthesised frame back to the
// client and blocks until the frame is written, ctx is done, or the
// connection dies. Done is closed when the connection has terminated for any
// reason. Close tears the connection down; it is safe to call more than once.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	Input() <-chan Frame
	Send(ctx context.Context, f Frame) error
	Done() <-chan struct{}
	Close() error
}

// Drain reads from ch until it is closed, discarding all values. Use this to
// prevent goroutine leaks when the data on a streaming channel is no longer
// needed (e.g. a synthesis stream abandoned mid-turn).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
