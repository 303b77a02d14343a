// Package facade implements the Public API Facade (spec.md §6): the
// small in-process surface CLI/TUI/ACP/JSON-RPC servers consume instead
// of touching the orchestrator, provider registry, or tool dispatcher
// directly. Grounded on the teacher's internal/gateway.Gateway's public
// methods (New, ProcessMessage/RunAgent, GetSessionInfo, SetRegistry,
// Config), collapsed to spec.md §6's smaller named surface:
// init/conversation_start/chat/conversation/models/set_model/get_active_provider.
package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecore/forge/internal/compact"
	"github.com/forgecore/forge/internal/config"
	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/orchestrator"
	"github.com/forgecore/forge/internal/paths"
	"github.com/forgecore/forge/internal/policy"
	"github.com/forgecore/forge/internal/provider"
	"github.com/forgecore/forge/internal/tool"
)

// API is the facade handle returned by Init, mirroring the teacher's
// *Gateway as the one object a channel/CLI holds.
type API struct {
	restricted bool
	cwd        string

	mu            sync.RWMutex
	registry      *provider.Registry
	tools         *tool.Registry
	policyEngine  *policy.Engine
	dispatcher    *tool.Dispatcher
	compactor     *compact.Compactor
	conversations map[string]*core.Conversation
	agents        map[string]core.Agent
	activeAgent   string

	usage *usageMeter
}

// Deps bundles the already-constructed collaborators Init wires into the
// facade; the caller (cmd/forge's main) is responsible for constructing
// providers/tools/policy the same way the teacher's cmd/goclaw wires a
// Gateway from its own config.Load() result.
type Deps struct {
	Registry     *provider.Registry
	Tools        *tool.Registry
	PolicyEngine *policy.Engine
	Dispatcher   *tool.Dispatcher
	Compactor    *compact.Compactor
	Agents       map[string]core.Agent
	DefaultAgent string
}

// Init constructs the facade (spec.md §6 `init(restricted, cwd) -> API`).
// restricted narrows every Chat turn's tool allow-list to the agent's
// non-mutating tools (fs_write, fs_remove, shell and undo are removed);
// it does not change the Policy Engine's rules or default permission.
func Init(restricted bool, cwd string, deps Deps) (*API, error) {
	if deps.Registry == nil || deps.Tools == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("facade: Init requires Registry, Tools, and Dispatcher")
	}
	return &API{
		restricted:    restricted,
		cwd:           cwd,
		registry:      deps.Registry,
		tools:         deps.Tools,
		policyEngine:  deps.PolicyEngine,
		dispatcher:    deps.Dispatcher,
		compactor:     deps.Compactor,
		conversations: make(map[string]*core.Conversation),
		agents:        deps.Agents,
		activeAgent:   deps.DefaultAgent,
		usage:         newUsageMeter(),
	}, nil
}

// ConversationStart creates a new empty Conversation and returns its id
// (spec.md §6 `conversation_start(workflow) -> ConversationId`). workflow
// is currently just stored as the conversation's title; the spec treats
// it as an opaque caller-supplied label.
func (a *API) ConversationStart(workflow string) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	a.mu.Lock()
	a.conversations[id] = &core.Conversation{
		ID:        id,
		Title:     workflow,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.mu.Unlock()
	return id, nil
}

// Conversation returns the Conversation for id, or ok=false if unknown
// (spec.md §6 `conversation(id) -> Conversation?`).
func (a *API) Conversation(id string) (*core.Conversation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.conversations[id]
	return c, ok
}

// ChatRequest is the input to Chat (spec.md §6
// `chat(ChatRequest{event, conversation_id, workflow_path, confirm_fn})`).
type ChatRequest struct {
	ConversationID string
	Event          string // the user's natural-language prompt for this turn
	ConfirmFn      orchestrator.ConfirmFunc
}

// Chat runs one orchestrator turn for req.ConversationID and streams
// ChatResponse events back, mirroring the teacher's ProcessMessage
// dispatching into RunAgent against a channel of AgentEvent.
func (a *API) Chat(goCtx context.Context, req ChatRequest) (<-chan orchestrator.ChatResponse, error) {
	a.mu.RLock()
	conv, ok := a.conversations[req.ConversationID]
	agent, agentOK := a.agents[a.activeAgent]
	reg, tools, dispatcher, pol, compactor := a.registry, a.tools, a.dispatcher, a.policyEngine, a.compactor
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("facade: unknown conversation %q", req.ConversationID)
	}
	if !agentOK {
		return nil, fmt.Errorf("facade: no active agent configured")
	}
	if a.restricted {
		agent.AllowedToolNames = restrictToReadOnly(tools, agent)
	}

	conv.Context = conv.Context.Append(core.NewUserMessage(req.Event, ""))

	orch := orchestrator.New(orchestrator.Deps{
		Registry:   reg,
		Tools:      tools,
		Dispatcher: dispatcher,
		Policy:     pol,
		Compactor:  compactor,
	})

	out := make(chan orchestrator.ChatResponse, 16)
	go func() {
		_ = orch.Run(goCtx, agent, conv, out, req.ConfirmFn)
		persistConversation(conv)
	}()
	return a.usage.tapUsage(goCtx, out), nil
}

// persistConversation checkpoints conv to disk after a turn finishes, the
// facade's analogue of the teacher's session package saving session state
// after every ProcessMessage. A failure here is logged and swallowed: a
// conversation missing its on-disk checkpoint still lives in the facade's
// in-memory map and is usable for the rest of the process lifetime.
func persistConversation(conv *core.Conversation) {
	path, err := paths.ConversationPath(conv.ID)
	if err != nil {
		logging.L_warn("facade: resolve conversation checkpoint path", "error", err)
		return
	}
	if err := config.BackupAndWriteJSON(path, conv, config.DefaultBackupCount); err != nil {
		logging.L_warn("facade: checkpoint conversation", "id", conv.ID, "error", err)
	}
}

// restrictToReadOnly narrows an agent's tool allow-list to non-mutating
// tools when the facade was initialized with restricted=true, the
// facade-level analogue of the teacher's read-only sandbox mode.
func restrictToReadOnly(tools *tool.Registry, agent core.Agent) []string {
	defs := tools.Definitions(agent)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		if d.Name == "fs_write" || d.Name == "fs_remove" || d.Name == "shell" || d.Name == "undo" {
			continue
		}
		names = append(names, d.Name)
	}
	return names
}

// Models lists the models the active provider can serve (spec.md §6
// `models() -> list<Model>`).
func (a *API) Models(goCtx context.Context) ([]provider.Model, error) {
	a.mu.RLock()
	agent, ok := a.agents[a.activeAgent]
	reg := a.registry
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("facade: no active agent configured")
	}
	client, err := reg.Get(agent.ProviderID)
	if err != nil {
		return nil, err
	}
	return client.Models(goCtx)
}

// SetModel switches the active agent's model (spec.md §6
// `set_model(ModelId)`).
func (a *API) SetModel(model core.ModelId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	agent, ok := a.agents[a.activeAgent]
	if !ok {
		return fmt.Errorf("facade: no active agent configured")
	}
	agent.Model = model
	a.agents[a.activeAgent] = agent
	return nil
}

// GetActiveProvider returns the active agent's ProviderId (spec.md §6
// `get_active_provider()`).
func (a *API) GetActiveProvider() (core.ProviderId, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	agent, ok := a.agents[a.activeAgent]
	if !ok {
		return "", fmt.Errorf("facade: no active agent configured")
	}
	return agent.ProviderID, nil
}
