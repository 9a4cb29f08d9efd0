package pipeline

import "fmt"

// Error taxonomy. Transport errors are fatal to the pipeline; transcription,
// synthesis and LLM errors end the current turn and leave the pipeline live;
// tool errors are handled inside the tool round-trip; store errors are
// logged and never interrupt the conversation.

// TransportError wraps a failure of the transport connection itself.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// TranscriptionError wraps a speech-to-text failure for one turn.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// SynthesisError wraps a text-to-speech failure for one turn.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return "synthesis: " + e.Err.Error() }
func (e *SynthesisError) Unwrap() error { return e.Err }

// LLMError wraps a completion failure for one turn.
type LLMError struct {
	Err error
}

func (e *LLMError) Error() string { return "llm: " + e.Err.Error() }
func (e *LLMError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a tool invocation failure. It is fed back to the
// LLM as the tool result rather than ending the turn.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Err.Error())
}
func (e *ToolExecutionError) Unwrap() error { return e.Err }
