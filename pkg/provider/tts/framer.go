package tts

import "github.com/hieuclc/ai-voice-agent/pkg/audio"

// Framer accumulates synthesised PCM across chunk boundaries and emits
// uniform [FrameBytes] frames with a running sequence number. Padding only
// happens at Flush, so multi-chunk utterances play back gap-free.
// Not safe for concurrent use; each synthesis stream owns one Framer.
type Framer struct {
	Format audio.Format

	buf []byte
	seq int
}

// Push appends pcm and returns all complete frames now available.
func (f *Framer) Push(pcm []byte) []audio.Frame {
	f.buf = append(f.buf, pcm...)
	var frames []audio.Frame
	for len(f.buf) >= FrameBytes {
		data := make([]byte, FrameBytes)
		copy(data, f.buf[:FrameBytes])
		f.buf = f.buf[FrameBytes:]
		frames = append(frames, f.frame(data))
	}
	return frames
}

// Flush returns the final zero-padded frame, or ok=false when no residue
// remains.
func (f *Framer) Flush() (audio.Frame, bool) {
	if len(f.buf) == 0 {
		return audio.Frame{}, false
	}
	data := make([]byte, FrameBytes)
	copy(data, f.buf)
	f.buf = f.buf[:0]
	return f.frame(data), true
}

func (f *Framer) frame(data []byte) audio.Frame {
	fr := audio.Frame{
		Data:       data,
		SampleRate: f.Format.SampleRate,
		Channels:   f.Format.Channels,
		Seq:        f.seq,
	}
	f.seq++
	return fr
}
