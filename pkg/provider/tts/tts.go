// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The pipeline hands each provider one sentence at a time; the provider
// returns a [Stream] of fixed-size PCM frames for playback. Long sentences
// are split into chunks below MaxChunkChars before synthesis so batch HTTP
// backends keep latency bounded. Implementations must be safe for concurrent
// use; the stream must be closed when synthesis completes, fails or ctx is
// cancelled, and callers must drain it.
package tts

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// MaxChunkChars is the longest text chunk submitted to a backend in one
// synthesis call.
const MaxChunkChars = 256

// FrameBytes is the size of each PCM frame emitted on the audio channel.
// The final frame of an utterance is zero-padded to this size so downstream
// playback always sees uniform frames.
const FrameBytes = 4096

// Provider synthesises one piece of text into a stream of PCM frames.
// An error from Synthesize means no audio was produced at all; failures
// after the first frame are reported through [Stream.Err].
type Provider interface {
	Synthesize(ctx context.Context, text string) (*Stream, error)
}

// Stream is one in-progress synthesis. Frames yields PCM frames until the
// provider closes the stream; after the frame channel is closed, Err reports
// whether synthesis ran to completion or failed mid-stream. A stream cut off
// by context cancellation carries the context error.
type Stream struct {
	frames chan audio.Frame

	mu  sync.Mutex
	err error
}

// NewStream returns a Stream whose frame channel holds up to buf frames.
// Providers push audio with Send and must finish with exactly one Close.
func NewStream(buf int) *Stream {
	return &Stream{frames: make(chan audio.Frame, buf)}
}

// Frames returns the frame channel. Callers must drain it even on error so
// the producing goroutine can exit.
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Err reports why the stream ended. It is nil for a complete synthesis and
// is only meaningful once Frames has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send delivers one frame, giving up when ctx is cancelled.
func (s *Stream) Send(ctx context.Context, f audio.Frame) error {
	select {
	case s.frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close records the terminal error (nil for success) and closes the frame
// channel. Providers call it once, after the last Send.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.frames)
}

// FindSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?') that is at the end of s or immediately followed
// by whitespace, or -1 when none exists. The whitespace requirement keeps
// abbreviations like "Dr." and decimals like "3.14" intact.
func FindSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// SplitText breaks text into chunks of at most maxChars runes, preferring
// sentence boundaries and falling back to word boundaries for oversized
// sentences. Whitespace-only chunks are dropped.
func SplitText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = MaxChunkChars
	}

	var out []string
	emit := func(s string) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	rest := text
	for rest != "" {
		if utf8.RuneCountInString(rest) <= maxChars {
			emit(rest)
			break
		}

		// Scan up to maxChars runes, remembering the last sentence boundary
		// and the last word boundary seen.
		lastSentence, lastSpace := -1, -1
		count := 0
		i := 0
		for i < len(rest) && count < maxChars {
			r, size := utf8.DecodeRuneInString(rest[i:])
			if unicode.IsSpace(r) {
				lastSpace = i
				if i > 0 {
					prev := rest[i-1]
					if prev == '.' || prev == '!' || prev == '?' {
						lastSentence = i
					}
				}
			}
			i += size
			count++
		}

		cut := i
		switch {
		case lastSentence > 0:
			cut = lastSentence
		case lastSpace > 0:
			cut = lastSpace
		}
		emit(rest[:cut])
		rest = rest[cut:]
	}
	return out
}

// SliceFrames cuts pcm into [FrameBytes]-sized frames in the given format,
// numbering them from startSeq. The last frame is zero-padded. It returns
// the frames and the next sequence number.
func SliceFrames(pcm []byte, format audio.Format, startSeq int) ([]audio.Frame, int) {
	if len(pcm) == 0 {
		return nil, startSeq
	}
	seq := startSeq
	var frames []audio.Frame
	for off := 0; off < len(pcm); off += FrameBytes {
		end := off + FrameBytes
		var data []byte
		if end <= len(pcm) {
			data = pcm[off:end]
		} else {
			data = make([]byte, FrameBytes)
			copy(data, pcm[off:])
		}
		frames = append(frames, audio.Frame{
			Data:       data,
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Seq:        seq,
		})
		seq++
	}
	return frames, seq
}
