package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forgecore/forge/internal/core"
	. "github.com/forgecore/forge/internal/logging"
)

// MCPTransportKind selects how an MCP server is reached, mirroring the
// teacher pack's mcp.ServerConfig.Transport (glyphoxa's mcphost).
type MCPTransportKind string

const (
	MCPTransportStdio MCPTransportKind = "stdio"
	MCPTransportSSE   MCPTransportKind = "sse"
)

// MCPServerConfig describes one external tool server, connected lazily
// when MCPHost.Ensure is first called for it, not at AddServer time
// (spec.md §4.3: "lazy-connect, per-server failure isolation").
type MCPServerConfig struct {
	Name      string
	Transport MCPTransportKind
	Command   string            // stdio: executable + args, space-separated
	Env       map[string]string // stdio: additional environment
	URL       string            // sse: endpoint
}

// MCPHost lazily connects to configured MCP servers and exposes their
// tools through the Registry as ordinary Tool implementations, adapted
// from glyphoxa's mcphost.Host down to the subset spec.md §4.3 needs:
// discovery + call, without its latency-budget-tier machinery (no
// component in SPEC_FULL.md calls for tiered degradation).
type MCPHost struct {
	client   *mcpsdk.Client
	registry *Registry

	mu       sync.Mutex
	configs  map[string]MCPServerConfig
	sessions map[string]*mcpsdk.ClientSession
	failed   map[string]error
}

func NewMCPHost(registry *Registry) *MCPHost {
	return &MCPHost{
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "forge", Version: "0.1.0"}, nil),
		registry: registry,
		configs:  make(map[string]MCPServerConfig),
		sessions: make(map[string]*mcpsdk.ClientSession),
		failed:   make(map[string]error),
	}
}

// AddServer registers cfg for lazy connection; it does not dial out.
func (h *MCPHost) AddServer(cfg MCPServerConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs[cfg.Name] = cfg
}

// Ensure connects to cfg's server if not already connected, registering
// its tools into the Registry. A failure to connect is recorded and
// isolated to that server: it does not prevent other servers' tools
// from being available (spec.md §4.3 "per-server failure isolation").
func (h *MCPHost) Ensure(ctx context.Context, serverName string) error {
	h.mu.Lock()
	if _, ok := h.sessions[serverName]; ok {
		h.mu.Unlock()
		return nil
	}
	cfg, ok := h.configs[serverName]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("mcp: unknown server %q", serverName)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp: server %q: empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case MCPTransportSSE:
		if cfg.URL == "" {
			return fmt.Errorf("mcp: server %q: empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("mcp: server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		h.mu.Lock()
		h.failed[serverName] = err
		h.mu.Unlock()
		L_warn("mcp: connect failed, isolating server", "server", serverName, "error", err)
		return err
	}

	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp: list tools for %q: %w", serverName, err)
		}
		h.registry.Register(&mcpTool{session: session, def: *t, serverName: serverName})
	}

	h.mu.Lock()
	h.sessions[serverName] = session
	h.mu.Unlock()
	return nil
}

func (h *MCPHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		_ = s.Close()
	}
}

func splitCommand(cmd string) (string, []string) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// mcpTool adapts one MCP-advertised tool to the Tool interface. Unlike
// builtin tools, its Operation always reports OpExecute with Command
// "server/tool", since an external MCP tool's actual filesystem/network
// effects aren't visible to the Dispatcher — the Policy Engine governs
// MCP tools at the granularity of "which server tool", not "which path".
type mcpTool struct {
	session    *mcpsdk.ClientSession
	def        mcpsdk.Tool
	serverName string
}

func (t *mcpTool) Name() string        { return t.def.Name }
func (t *mcpTool) Description() string { return t.def.Description }

func (t *mcpTool) Schema() map[string]any {
	raw, err := json.Marshal(t.def.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

func (t *mcpTool) Operation(input json.RawMessage) core.Operation {
	return core.Operation{Kind: core.OpExecute, Command: t.serverName + "/" + t.def.Name}
}

func (t *mcpTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("mcp: invalid arguments: %w", err)
		}
	}
	result, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: t.def.Name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp: call %s: %w", t.def.Name, err)
	}
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return sb.String(), fmt.Errorf("mcp: tool %s reported an error", t.def.Name)
	}
	return sb.String(), nil
}
