// Package webrtc provides an [audio.Conn] implementation for browser peers
// negotiated over the HTTP offer/answer endpoints.
//
// Peer connection handling is abstracted behind the [PeerTransport]
// interface, which carries Opus packets in both directions. The [Peer] type
// wraps a transport with an Opus codec so the pipeline only ever sees raw
// PCM frames. A full ICE agent can be slotted in later as a concrete
// PeerTransport; the default transport answers SDP offers with a static
// answer and is sufficient for loopback and test traffic.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// ErrPeerNotFound is returned when a signaling update references an unknown
// peer connection ID.
var ErrPeerNotFound = errors.New("webrtc: peer not found")

// Option configures a [Gateway].
type Option func(*Gateway)

// WithSTUNServers sets the STUN server URLs used during ICE negotiation.
// Defaults to ["stun:stun.l.google.com:19302"].
func WithSTUNServers(servers ...string) Option {
	return func(g *Gateway) {
		g.stunServers = servers
	}
}

// WithFormat sets the PCM format peers decode to and encode from.
// Defaults to 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(g *Gateway) {
		g.format = f
	}
}

// WithTransportFactory overrides how peer transports are created. Used by
// tests and by alternative ICE implementations.
func WithTransportFactory(f func(stunServers []string) PeerTransport) Option {
	return func(g *Gateway) {
		g.newTransport = f
	}
}

// Gateway tracks live browser peers and implements the offer/answer half of
// WebRTC signaling. The HTTP layer calls [Gateway.CreatePeer] for the initial
// SDP offer and [Gateway.AddICECandidate] for trickled candidates.
//
// Gateway is safe for concurrent use.
type Gateway struct {
	stunServers  []string
	format       audio.Format
	newTransport func(stunServers []string) PeerTransport

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewGateway creates a Gateway with the given options applied.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		stunServers:  []string{"stun:stun.l.google.com:19302"},
		format:       audio.Format{SampleRate: 16000, Channels: 1},
		newTransport: newStubTransport,
		peers:        make(map[string]*Peer),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CreatePeer negotiates a new peer connection from the client's SDP offer.
// It returns the assigned peer connection ID, the SDP answer, and the peer
// itself ready to be handed to a session.
func (g *Gateway) CreatePeer(ctx context.Context, sdpOffer string) (id, sdpAnswer string, peer *Peer, err error) {
	transport := g.newTransport(g.stunServers)
	answer, err := transport.CreateAnswer(ctx, sdpOffer)
	if err != nil {
		return "", "", nil, fmt.Errorf("webrtc: create answer: %w", err)
	}

	peer, err = newPeer(transport, g.format)
	if err != nil {
		_ = transport.Close()
		return "", "", nil, err
	}

	id = uuid.NewString()
	g.mu.Lock()
	g.peers[id] = peer
	g.mu.Unlock()

	// Drop the bookkeeping entry once the peer dies.
	go func() {
		<-peer.Done()
		g.mu.Lock()
		delete(g.peers, id)
		g.mu.Unlock()
	}()

	return id, answer, peer, nil
}

// AddICECandidate forwards a trickled ICE candidate to the identified peer.
func (g *Gateway) AddICECandidate(id, candidate string) error {
	g.mu.Lock()
	peer, ok := g.peers[id]
	g.mu.Unlock()
	if !ok {
		return ErrPeerNotFound
	}
	return peer.transport.AddICECandidate(candidate)
}

// Renegotiate applies a renegotiation offer (e.g. after a track change) to an
// existing peer and returns the fresh answer.
func (g *Gateway) Renegotiate(ctx context.Context, id, sdpOffer string) (string, error) {
	g.mu.Lock()
	peer, ok := g.peers[id]
	g.mu.Unlock()
	if !ok {
		return "", ErrPeerNotFound
	}
	answer, err := peer.transport.CreateAnswer(ctx, sdpOffer)
	if err != nil {
		return "", fmt.Errorf("webrtc: renegotiate: %w", err)
	}
	return answer, nil
}

// Close tears down every live peer.
func (g *Gateway) Close() error {
	g.mu.Lock()
	peers := make([]*Peer, 0, len(g.peers))
	for _, p := range g.peers {
		peers = append(peers, p)
	}
	g.peers = make(map[string]*Peer)
	g.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
