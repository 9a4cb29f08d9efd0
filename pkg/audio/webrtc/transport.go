package webrtc

import (
	"context"
	"sync"
)

// PeerTransport abstracts the underlying peer connection. It carries encoded
// Opus packets in both directions; codec work happens in [Peer]. Keeping the
// ICE/DTLS machinery behind this interface lets the gateway and pipeline be
// tested without a real browser on the other end.
type PeerTransport interface {
	// CreateAnswer processes the remote SDP offer and returns the local answer.
	// Called again for renegotiation offers on an established connection.
	CreateAnswer(ctx context.Context, sdpOffer string) (sdpAnswer string, err error)

	// AddICECandidate adds a trickled remote ICE candidate.
	AddICECandidate(candidate string) error

	// PacketInput returns the channel delivering Opus packets received from
	// the peer. Closed when the connection terminates.
	PacketInput() <-chan []byte

	// SendPacket transmits one Opus packet to the peer.
	SendPacket(ctx context.Context, packet []byte) error

	// Done is closed when the connection has terminated.
	Done() <-chan struct{}

	// Close tears down the peer connection.
	Close() error
}

// stubTransport is the default [PeerTransport]. It terminates signaling with
// a static SDP answer and loops packets through in-memory channels. Tests
// write to Incoming to simulate peer audio and read Outgoing to verify what
// was sent.
type stubTransport struct {
	Incoming chan []byte
	Outgoing chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newStubTransport([]string) PeerTransport {
	return &stubTransport{
		Incoming: make(chan []byte, 32),
		Outgoing: make(chan []byte, 32),
		done:     make(chan struct{}),
	}
}

func (t *stubTransport) CreateAnswer(_ context.Context, _ string) (string, error) {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=voiceagent\r\n", nil
}

func (t *stubTransport) AddICECandidate(string) error { return nil }

func (t *stubTransport) PacketInput() <-chan []byte { return t.Incoming }

func (t *stubTransport) SendPacket(ctx context.Context, packet []byte) error {
	select {
	case t.Outgoing <- packet:
		return nil
	case <-t.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *stubTransport) Done() <-chan struct{} { return t.done }

func (t *stubTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
