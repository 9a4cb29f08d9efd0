package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hieuclc/ai-voice-agent/internal/config"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
)

// ErrToolNotFound is returned by Invoke for unknown tool names.
var ErrToolNotFound = fmt.Errorf("tools: tool not found")

type toolEntry struct {
	desc       Descriptor
	serverName string

	// builtinFn is non-nil for in-process tools.
	builtinFn Handler
}

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// Gateway connects MCP servers and built-in tools behind one catalogue.
// Safe for concurrent use.
type Gateway struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]*mcpsdk.ClientSession

	// client is reused across all server connections; the SDK allows one
	// Client to manage multiple sessions.
	client *mcpsdk.Client

	policies map[string]config.ToolPolicy
}

// NewGateway returns an empty gateway. policies are applied by name to every
// tool registered later, from MCP servers and built-ins alike.
func NewGateway(policies []config.ToolPolicy) *Gateway {
	pm := make(map[string]config.ToolPolicy, len(policies))
	for _, p := range policies {
		pm[p.Name] = p
	}
	return &Gateway{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "ai-voice-agent", Version: "1.0.0"},
			nil,
		),
		policies: pm,
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. A server with the same name replaces the old connection
// and its tools.
func (g *Gateway) RegisterServer(ctx context.Context, cfg config.MCPServerConfig) error {
	var transport mcpsdk.Transport

	switch cfg.Transport {
	case config.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio server %q requires a command", cfg.Name)
		}
		transport = &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, executable, args...)}
	case config.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := g.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.servers[cfg.Name]; ok {
		_ = old.Close()
		for name, t := range g.tools {
			if t.serverName == cfg.Name {
				delete(g.tools, name)
			}
		}
	}
	g.servers[cfg.Name] = session

	for _, t := range discovered {
		desc := g.applyPolicy(Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
		g.tools[t.Name] = toolEntry{desc: desc, serverName: cfg.Name}
	}
	return nil
}

// RegisterBuiltin registers an in-process tool. A tool with the same name is
// replaced. Policies by the same name still apply on top of desc.
func (g *Gateway) RegisterBuiltin(desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("tools: builtin tool must have a name")
	}
	if handler == nil {
		return fmt.Errorf("tools: builtin tool %q must have a handler", desc.Name)
	}
	if desc.Parameters == nil {
		desc.Parameters = map[string]any{"type": "object"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools[desc.Name] = toolEntry{
		desc:       g.applyPolicy(desc),
		serverName: builtinServerName,
		builtinFn:  handler,
	}
	return nil
}

// applyPolicy overlays the configured policy for the tool name and fills
// defaults. Callers must hold no particular lock, the policy map is
// read-only after construction.
func (g *Gateway) applyPolicy(desc Descriptor) Descriptor {
	if p, ok := g.policies[desc.Name]; ok {
		desc.SpokenFiller = p.SpokenFiller
		if p.Filler != "" {
			desc.Filler = p.Filler
		}
		if p.TimeoutSeconds > 0 {
			desc.Timeout = time.Duration(p.TimeoutSeconds) * time.Second
		}
	}
	if desc.Filler == "" {
		desc.Filler = DefaultFiller
	}
	if desc.Timeout <= 0 {
		desc.Timeout = DefaultTimeout
	}
	return desc
}

// Tools returns all registered descriptors sorted by name.
func (g *Gateway) Tools() []Descriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Descriptor, 0, len(g.tools))
	for _, t := range g.tools {
		out = append(out, t.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions returns the LLM-facing definitions of all registered tools.
func (g *Gateway) Definitions() []llm.ToolDefinition {
	descs := g.Tools()
	out := make([]llm.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Definition())
	}
	return out
}

// Lookup returns the descriptor for name.
func (g *Gateway) Lookup(name string) (Descriptor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tools[name]
	return t.desc, ok
}

// Invoke runs the named tool with JSON-encoded args under the tool's
// configured timeout. A non-nil *Result is returned even when IsError is
// true; a Go error means transport or protocol failure (or an unknown tool).
func (g *Gateway) Invoke(ctx context.Context, name, args string) (*Result, error) {
	g.mu.RLock()
	entry, ok := g.tools[name]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tools: %q: %w", name, ErrToolNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, entry.desc.Timeout)
	defer cancel()

	start := time.Now()
	var result *Result
	var err error
	if entry.builtinFn != nil {
		result, err = g.invokeBuiltin(ctx, entry, args)
	} else {
		result, err = g.invokeMCP(ctx, entry, args)
	}
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (g *Gateway) invokeBuiltin(ctx context.Context, entry toolEntry, args string) (*Result, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	return &Result{Content: output}, nil
}

func (g *Gateway) invokeMCP(ctx context.Context, entry toolEntry, args string) (*Result, error) {
	g.mu.RLock()
	session, ok := g.servers[entry.serverName]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tools: server %q not connected for tool %q", entry.serverName, entry.desc.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("tools: invalid args for tool %q: %w", entry.desc.Name, err)
		}
	}

	callResult, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.desc.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("tools: call %q: %w", entry.desc.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &Result{Content: sb.String(), IsError: callResult.IsError}, nil
}

// Close shuts down all server connections. The gateway must not be used
// afterwards.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for name, session := range g.servers {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close server %q: %w", name, err)
		}
		delete(g.servers, name)
	}
	g.tools = make(map[string]toolEntry)
	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
