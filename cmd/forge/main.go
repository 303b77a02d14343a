// Command forge is Forge's CLI entrypoint: it loads configuration,
// wires the Provider Registry/Tool Registry/Policy Engine/Snapshot
// Store/Dispatcher/Compactor into a facade.API, and runs a simple
// line-oriented chat loop against it. Grounded on the teacher's
// cmd/goclaw/main.go (github.com/alecthomas/kong-based CLI wiring a
// Gateway from config.Load()'s result), trimmed from goclaw's
// gateway/daemon/cron/user/browser command surface down to the single
// `chat` command spec.md's facade actually exposes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/forgecore/forge/internal/compact"
	"github.com/forgecore/forge/internal/config"
	"github.com/forgecore/forge/internal/core"
	"github.com/forgecore/forge/internal/facade"
	"github.com/forgecore/forge/internal/orchestrator"
	"github.com/forgecore/forge/internal/policy"
	"github.com/forgecore/forge/internal/provider"
	"github.com/forgecore/forge/internal/snapshot"
	"github.com/forgecore/forge/internal/tool"
	"github.com/forgecore/forge/internal/tool/builtin"
)

type cli struct {
	Config string `help:"Path to the YAML config file." default:""`
	Agent  string `help:"Agent id to run." default:"default"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("forge"), kong.Description("Forge orchestrator core CLI"))

	path := c.Config
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forge: load config:", err)
		os.Exit(1)
	}
	if c.Agent != "" {
		cfg.ActiveAgent = c.Agent
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(cfg, path); err != nil {
			fmt.Fprintln(os.Stderr, "forge: bootstrap config:", err)
		}
	}

	api, err := buildFacade(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forge: build facade:", err)
		os.Exit(1)
	}

	if err := runChat(api); err != nil {
		fmt.Fprintln(os.Stderr, "forge:", err)
		os.Exit(1)
	}
}

// buildFacade wires every collaborator the facade needs, the same
// assembly order as the teacher's cmd/goclaw building a Gateway:
// providers first, then tools, then the dispatcher that ties tools to
// policy/snapshots, then the facade itself.
func buildFacade(cfg *config.Config) (*facade.API, error) {
	registry := provider.NewRegistry()
	if cfg.OpenRouterKey != "" {
		registry.Register(core.ProviderOpenRouter, provider.NewOpenAICompat("openrouter", cfg.OpenRouterKey, "https://openrouter.ai/api"))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		anthropic, err := provider.NewAnthropic("anthropic", key, cfg.BaseURL, true)
		if err != nil {
			return nil, err
		}
		registry.Register(core.ProviderAnthropic, anthropic)
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		registry.Register(core.ProviderOllama, provider.NewOllama("ollama", baseURL))
	}

	tools := tool.NewRegistry()
	tools.Register(&builtin.FSRead{Cwd: cfg.Cwd})
	tools.Register(&builtin.FSWrite{Cwd: cfg.Cwd})
	tools.Register(&builtin.FSRemove{Cwd: cfg.Cwd})
	tools.Register(&builtin.Shell{Cwd: cfg.Cwd})
	tools.Register(builtin.NewFetch())
	tools.Register(&builtin.FollowUp{})
	tools.Register(&builtin.AttemptCompletion{})

	policyEngine, err := policy.NewEngine(policy.Layered{
		Global: policy.Policy{DefaultPermission: core.PermissionConfirm},
	})
	if err != nil {
		return nil, err
	}

	snaps := snapshotStore()
	dispatcher := tool.NewDispatcher(tools, policyEngine, snaps)
	tools.Register(&builtin.Undo{Snaps: snaps})

	estimator, err := compact.NewEstimator()
	if err != nil {
		return nil, err
	}
	summaryClient, err := registry.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("no provider registered for summarization: %w", err)
	}
	compactor := compact.NewCompactor(estimator, compact.ChatSummarizer(summaryClient))

	agent := core.Agent{
		ID:                   cfg.ActiveAgent,
		Model:                cfg.LargeModel,
		ProviderID:           cfg.DefaultProvider,
		SystemPromptTemplate: defaultSystemPromptTemplate,
	}

	return facade.Init(false, cfg.Cwd, facade.Deps{
		Registry:     registry,
		Tools:        tools,
		PolicyEngine: policyEngine,
		Dispatcher:   dispatcher,
		Compactor:    compactor,
		Agents:       map[string]core.Agent{cfg.ActiveAgent: agent},
		DefaultAgent: cfg.ActiveAgent,
	})
}

const defaultSystemPromptTemplate = `You are Forge, an interactive coding agent.

Workspace: {{workspace}}
Model: {{model}}
Context usage: {{context_usage}}

Available tools:
{{tools}}`

// runChat reads lines from stdin as user turns and prints each
// ChatResponse event, the CLI's equivalent of the teacher's TUI message
// loop, minus rendering.
func runChat(api *facade.API) error {
	goCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	convID, err := api.ConversationStart("cli")
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("forge> ready. Ctrl-D to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		out, err := api.Chat(goCtx, facade.ChatRequest{
			ConversationID: convID,
			Event:          line,
			ConfirmFn:      confirmOnStdin,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "forge:", err)
			continue
		}
		printResponses(out)
	}
}

// confirmOnStdin asks the terminal user to approve a Confirm-tier
// operation, offering the three-way accept/reject/remember outcome
// spec.md §4.3 point 3 describes.
func confirmOnStdin(op core.Operation) core.ConfirmOutcome {
	fmt.Printf("\nconfirm %s %s? [y]es / [n]o / [a]lways: ", op.Kind, op.Path+op.Command+op.URL)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch line {
	case "y\n", "Y\n":
		return core.ConfirmAccept
	case "a\n", "A\n":
		return core.ConfirmAcceptAndRemember
	default:
		return core.ConfirmReject
	}
}

// printResponses renders a turn's ChatResponse stream to stdout,
// mirroring the teacher's TUI event loop minus styling.
func printResponses(out <-chan orchestrator.ChatResponse) {
	for r := range out {
		switch r.Kind {
		case orchestrator.RespText:
			fmt.Print(r.Text)
		case orchestrator.RespToolCallStart:
			fmt.Printf("\n[tool: %s]\n", r.ToolCallName)
		case orchestrator.RespToolResult:
			fmt.Printf("[result: %s]\n", truncateForDisplay(r.ToolResult))
		case orchestrator.RespError:
			fmt.Fprintln(os.Stderr, "error:", r.Err)
		case orchestrator.RespComplete:
			fmt.Println()
		}
	}
}

func truncateForDisplay(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// snapshotStore builds the in-memory Snapshot Store the Dispatcher and
// Undo tool share, matching how the teacher's gateway wires one
// snapshot manager to every mutating tool in a process.
func snapshotStore() *snapshot.Store {
	return snapshot.NewStore()
}
