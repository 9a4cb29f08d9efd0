package webrtc

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// opusFrameMs is the Opus frame duration used on the wire. 20 ms is the
// codec's sweet spot for voice and what browsers send by default.
const opusFrameMs = 20

// maxPacketBytes bounds a single encoded Opus packet.
const maxPacketBytes = 4000

// codec wraps a gopus encoder/decoder pair for one peer. It is not safe for
// concurrent use; Peer serialises access per direction.
type codec struct {
	enc       *gopus.Encoder
	dec       *gopus.Decoder
	format    audio.Format
	frameSize int // samples per channel per Opus frame

	// pcmResidue holds samples that did not fill a whole Opus frame on the
	// previous Encode call.
	pcmResidue []int16
}

func newCodec(format audio.Format) (*codec, error) {
	enc, err := gopus.NewEncoder(format.SampleRate, format.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus decoder: %w", err)
	}
	return &codec{
		enc:       enc,
		dec:       dec,
		format:    format,
		frameSize: format.SampleRate * opusFrameMs / 1000,
	}, nil
}

// Decode converts one Opus packet into raw PCM bytes.
func (c *codec) Decode(packet []byte) ([]byte, error) {
	samples, err := c.dec.Decode(packet, c.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus decode: %w", err)
	}
	return int16ToBytes(samples), nil
}

// Encode converts raw PCM bytes into zero or more Opus packets. Samples that
// do not fill a whole Opus frame are retained for the next call; Flush emits
// them padded with silence.
func (c *codec) Encode(pcm []byte) ([][]byte, error) {
	c.pcmResidue = append(c.pcmResidue, bytesToInt16(pcm)...)
	perFrame := c.frameSize * c.format.Channels

	var packets [][]byte
	for len(c.pcmResidue) >= perFrame {
		packet, err := c.enc.Encode(c.pcmResidue[:perFrame], c.frameSize, maxPacketBytes)
		if err != nil {
			return nil, fmt.Errorf("webrtc: opus encode: %w", err)
		}
		packets = append(packets, packet)
		c.pcmResidue = c.pcmResidue[perFrame:]
	}
	return packets, nil
}

// Flush encodes any buffered residue as a final silence-padded frame.
func (c *codec) Flush() ([]byte, error) {
	if len(c.pcmResidue) == 0 {
		return nil, nil
	}
	perFrame := c.frameSize * c.format.Channels
	padded := make([]int16, perFrame)
	copy(padded, c.pcmResidue)
	c.pcmResidue = c.pcmResidue[:0]

	packet, err := c.enc.Encode(padded, c.frameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus encode flush: %w", err)
	}
	return packet, nil
}

func bytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
