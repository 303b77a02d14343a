// Package promptbuilder assembles an Agent's system prompt from its
// SystemPromptTemplate plus runtime context, grounded on the teacher's
// internal/context.BuildSystemPrompt/PromptParams, generalized from the
// teacher's fixed section list (identity, tooling, workspace files,
// skills, memory) down to the template-substitution model spec.md's
// Agent entity requires (SystemPromptTemplate is caller-authored, not a
// teacher-style hardcoded set of sections).
package promptbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forgecore/forge/internal/core"
)

// Params is the runtime context substituted into an Agent's
// SystemPromptTemplate, mirroring the fields of teacher's PromptParams
// that survive the generalization to a template model.
type Params struct {
	WorkspaceDir string
	Model        core.ModelId
	Channel      string
	Tools        []core.ToolDefinition
	TotalTokens  int
	MaxTokens    int
}

// placeholders recognized inside an Agent.SystemPromptTemplate, each
// substituted with the corresponding rendered section below.
const (
	phTools     = "{{tools}}"
	phWorkspace = "{{workspace}}"
	phContext   = "{{context_usage}}"
	phModel     = "{{model}}"
	phChannel   = "{{channel}}"
)

// Build renders an Agent's system prompt, substituting each recognized
// placeholder in its SystemPromptTemplate. Unrecognized text passes
// through unchanged, the same permissive behavior as the teacher's
// section-concatenation approach (an empty/absent section is simply
// omitted rather than erroring).
func Build(template string, p Params) string {
	out := template
	out = strings.ReplaceAll(out, phTools, buildToolingSection(p.Tools))
	out = strings.ReplaceAll(out, phWorkspace, buildWorkspaceSection(p.WorkspaceDir))
	out = strings.ReplaceAll(out, phContext, buildContextUsageSection(p.TotalTokens, p.MaxTokens))
	out = strings.ReplaceAll(out, phModel, string(p.Model))
	out = strings.ReplaceAll(out, phChannel, p.Channel)
	return out
}

// buildToolingSection lists each available tool by name and description,
// mirroring the teacher's buildToolingSection but sourced from
// []core.ToolDefinition instead of *tools.Registry.
func buildToolingSection(tools []core.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	sorted := make([]core.ToolDefinition, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, t := range sorted {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	return sb.String()
}

func buildWorkspaceSection(dir string) string {
	if dir == "" {
		return ""
	}
	return "Working directory: " + dir
}

func buildContextUsageSection(total, max int) string {
	if max == 0 {
		return ""
	}
	pct := float64(total) / float64(max) * 100
	return fmt.Sprintf("Context usage: %d/%d tokens (%.1f%%)", total, max, pct)
}
