// Package tools manages the tool catalogue the agent exposes to the LLM.
//
// Tools come from two sources: external MCP servers (connected over stdio or
// streamable HTTP via the official Go SDK) and built-in Go functions running
// in-process. Both are subject to the same per-tool policies: an optional
// spoken filler phrase announced before a slow tool runs, and an execution
// timeout.
package tools

import (
	"context"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
)

// DefaultFiller is spoken before a tool marked spoken_filler runs, so the
// caller hears something while the lookup is in flight.
const DefaultFiller = "Tôi đang thực hiện tìm kiếm thông tin, vui lòng chờ trong giây lát..."

// DefaultTimeout bounds tool execution when no policy overrides it.
const DefaultTimeout = 30 * time.Second

// Handler runs a built-in tool. args is a JSON object string, "{}" for
// parameter-less tools. A non-nil error marks the result as an error.
type Handler func(ctx context.Context, args string) (string, error)

// Descriptor is the public description of one registered tool.
type Descriptor struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the tool's arguments.
	Parameters map[string]any

	// SpokenFiller requests that Filler is synthesized and played before
	// the tool is invoked.
	SpokenFiller bool
	Filler       string
	Timeout      time.Duration
}

// Definition converts the descriptor into the form sent to the LLM.
func (d Descriptor) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// Result holds the outcome of one tool invocation. IsError marks an
// application-level failure whose Content should be fed back to the LLM; a
// transport or protocol failure is returned as a Go error instead.
type Result struct {
	Content  string
	IsError  bool
	Duration time.Duration
}
