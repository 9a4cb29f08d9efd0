package webrtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Conn = (*Peer)(nil)

// Peer adapts a [PeerTransport] to the [audio.Conn] interface, transcoding
// between Opus packets on the wire and PCM frames in the pipeline.
type Peer struct {
	transport PeerTransport
	format    audio.Format
	in        chan audio.Frame

	// Encode and Decode directions each own their codec state.
	encMu sync.Mutex
	cod   *codec

	seqMu   sync.Mutex
	sendSeq int

	closeOnce sync.Once
}

func newPeer(transport PeerTransport, format audio.Format) (*Peer, error) {
	cod, err := newCodec(format)
	if err != nil {
		return nil, err
	}
	p := &Peer{
		transport: transport,
		format:    format,
		in:        make(chan audio.Frame, 64),
		cod:       cod,
	}
	go p.decodeLoop()
	return p, nil
}

// decodeLoop turns incoming Opus packets into PCM frames on the input channel.
func (p *Peer) decodeLoop() {
	defer close(p.in)

	// Decoding uses its own codec instance so Send's encoder state is never
	// touched from this goroutine.
	dec, err := newCodec(p.format)
	if err != nil {
		slog.Error("webrtc: decoder init failed", "error", err)
		return
	}

	seq := 0
	for {
		select {
		case packet, ok := <-p.transport.PacketInput():
			if !ok {
				return
			}
			pcm, err := dec.Decode(packet)
			if err != nil {
				slog.Debug("webrtc: dropping undecodable packet", "error", err)
				continue
			}
			frame := audio.Frame{
				Data:       pcm,
				SampleRate: p.format.SampleRate,
				Channels:   p.format.Channels,
				Seq:        seq,
			}
			seq++
			select {
			case p.in <- frame:
			case <-p.transport.Done():
				return
			}
		case <-p.transport.Done():
			return
		}
	}
}

// Input implements [audio.Conn].
func (p *Peer) Input() <-chan audio.Frame { return p.in }

// Send implements [audio.Conn]. The frame's PCM is Opus-encoded and the
// resulting packets are written to the transport in order.
func (p *Peer) Send(ctx context.Context, f audio.Frame) error {
	p.encMu.Lock()
	packets, err := p.cod.Encode(f.Data)
	p.encMu.Unlock()
	if err != nil {
		return err
	}
	for _, packet := range packets {
		if err := p.transport.SendPacket(ctx, packet); err != nil {
			return err
		}
	}
	return nil
}

// Done implements [audio.Conn].
func (p *Peer) Done() <-chan struct{} { return p.transport.Done() }

// Close implements [audio.Conn]. Buffered encoder residue is flushed as a
// final padded packet before the transport is torn down.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.encMu.Lock()
		packet, flushErr := p.cod.Flush()
		p.encMu.Unlock()
		if flushErr == nil && packet != nil {
			ctx, cancel := context.WithCancel(context.Background())
			_ = p.transport.SendPacket(ctx, packet)
			cancel()
		}
		err = p.transport.Close()
	})
	return err
}
