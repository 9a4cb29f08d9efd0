package pipeline

import "github.com/hieuclc/ai-voice-agent/pkg/audio"

// Frame is the typed event passed between pipeline stages. Each stage
// handles the frame kinds it cares about and forwards the rest unchanged.
type Frame interface {
	pipelineFrame()
}

// audioInFrame carries one inbound PCM frame from the transport.
type audioInFrame struct {
	frame audio.Frame
}

// utteranceFrame carries one complete user utterance, emitted by the turn
// detector at end of speech.
type utteranceFrame struct {
	pcm    []byte
	format audio.Format
}

// runFrame triggers an LLM turn without a user utterance, e.g. the greeting
// kick-off on connect. The instruction is not recorded in the transcript.
type runFrame struct {
	instruction string
}

// transcriptFrame carries raw speech-to-text output.
type transcriptFrame struct {
	text string
}

// userMessageFrame carries the corrected user utterance text.
type userMessageFrame struct {
	text string
}

// speakFrame carries one bounded text segment to synthesize.
type speakFrame struct {
	text string
}

// audioOutFrame carries one synthesized PCM frame towards the transport.
type audioOutFrame struct {
	frame audio.Frame
}

// assistantMessageFrame carries the assistant's complete reply text for one
// turn, emitted after synthesis of the last segment was dispatched.
type assistantMessageFrame struct {
	text string
}

func (audioInFrame) pipelineFrame()          {}
func (utteranceFrame) pipelineFrame()        {}
func (runFrame) pipelineFrame()              {}
func (transcriptFrame) pipelineFrame()       {}
func (userMessageFrame) pipelineFrame()      {}
func (speakFrame) pipelineFrame()            {}
func (audioOutFrame) pipelineFrame()         {}
func (assistantMessageFrame) pipelineFrame() {}
