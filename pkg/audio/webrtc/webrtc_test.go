package webrtc

import (
	"context"
	"testing"
)

func TestGatewayCreatePeer(t *testing.T) {
	t.Parallel()

	g := NewGateway()
	id, answer, peer, err := g.CreatePeer(context.Background(), "v=0\r\n")
	if err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	defer peer.Close()

	if id == "" {
		t.Error("expected non-empty peer ID")
	}
	if answer == "" {
		t.Error("expected non-empty SDP answer")
	}
}

func TestGatewayAddICECandidateUnknownPeer(t *testing.T) {
	t.Parallel()

	g := NewGateway()
	if err := g.AddICECandidate("nope", "candidate:1"); err != ErrPeerNotFound {
		t.Errorf("expected ErrPeerNotFound, got %v", err)
	}
}

func TestGatewayRenegotiate(t *testing.T) {
	t.Parallel()

	g := NewGateway()
	id, _, peer, err := g.CreatePeer(context.Background(), "v=0\r\n")
	if err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	defer peer.Close()

	answer, err := g.Renegotiate(context.Background(), id, "v=0\r\n")
	if err != nil {
		t.Fatalf("Renegotiate: %v", err)
	}
	if answer == "" {
		t.Error("expected non-empty renegotiation answer")
	}

	if _, err := g.Renegotiate(context.Background(), "nope", "v=0\r\n"); err != ErrPeerNotFound {
		t.Errorf("expected ErrPeerNotFound, got %v", err)
	}
}

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768}
	got := bytesToInt16(int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}
