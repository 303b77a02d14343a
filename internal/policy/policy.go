// Package policy implements the Policy Engine (spec.md §4.4): a
// first-match rule matcher from core.Operation to core.Permission, with
// global/project/session layers merged before matching. It generalizes
// the teacher's single fixed workspace-root boundary
// (internal/sandbox.ValidatePath/ValidateWritePath) into a declarative
// rule set, since the spec requires arbitrary allow/deny/confirm rules
// per operation kind rather than one hardcoded sandbox root.
package policy

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"dario.cat/mergo"

	"github.com/forgecore/forge/internal/core"
)

// Rule is one entry in a Policy. A Rule matches an Operation when Kind
// matches (or Kind is empty, matching any) and Pattern matches the
// operation's subject (Path for Read/Write, Command for Execute, URL for
// Fetch) via filepath.Match-style globbing for paths and regexp for
// commands/URLs.
type Rule struct {
	Kind       core.OperationKind
	Pattern    string
	Permission core.Permission
}

// Policy is an ordered list of Rules; the first matching Rule wins.
// A Policy with no matching rule falls back to DefaultPermission.
type Policy struct {
	Rules             []Rule
	DefaultPermission core.Permission
}

// Layered holds the three policy layers the spec allows (global, project,
// session), which are merged project-over-global and session-over-both
// before matching, narrowest layer winning ties via rule order: session
// rules are tried first, then project, then global.
type Layered struct {
	Global  Policy
	Project Policy
	Session Policy
}

// Merge concatenates the three layers into one matching Policy, session
// rules first (checked before project/global), using mergo only to
// combine the three DefaultPermission fields (session's wins if set,
// falling back to project's, then global's) — mergo.Merge is grounded on
// how the teacher's internal/config layers config file + env + flags.
func (l Layered) Merge() (Policy, error) {
	merged := Policy{DefaultPermission: core.PermissionConfirm}
	defaults := struct{ DefaultPermission core.Permission }{DefaultPermission: l.Global.DefaultPermission}
	if err := mergo.Merge(&defaults, struct{ DefaultPermission core.Permission }{DefaultPermission: l.Project.DefaultPermission}, mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return Policy{}, err
	}
	if err := mergo.Merge(&defaults, struct{ DefaultPermission core.Permission }{DefaultPermission: l.Session.DefaultPermission}, mergo.WithOverride, mergo.WithoutDereference); err != nil {
		return Policy{}, err
	}
	if defaults.DefaultPermission != "" {
		merged.DefaultPermission = defaults.DefaultPermission
	}
	merged.Rules = append(merged.Rules, l.Session.Rules...)
	merged.Rules = append(merged.Rules, l.Project.Rules...)
	merged.Rules = append(merged.Rules, l.Global.Rules...)
	return merged, nil
}

// Engine evaluates Operations against a merged Policy. It keeps the
// unmerged Layered value around (not just the flattened Policy) so
// Remember can append to the session layer and re-merge without
// disturbing project/global rules.
type Engine struct {
	mu     sync.RWMutex
	layers Layered
	policy Policy
}

func NewEngine(layers Layered) (*Engine, error) {
	p, err := layers.Merge()
	if err != nil {
		return nil, err
	}
	return &Engine{layers: layers, policy: p}, nil
}

// Evaluate returns the Permission for op: the Permission of the first
// Rule whose Kind and Pattern match, or the Policy's DefaultPermission if
// none match (spec.md §4.4 Edge case: "no rule matches").
func (e *Engine) Evaluate(op core.Operation) core.Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.policy.Rules {
		if r.Kind != "" && r.Kind != op.Kind {
			continue
		}
		if matchRule(r, op) {
			return r.Permission
		}
	}
	return e.policy.DefaultPermission
}

// Remember persists an Allow rule for op into the session layer and
// re-merges, so future matching operations in this session auto-allow
// without a confirm round-trip (spec.md §4.4 "Outputs a Permission plus,
// optionally, the policy path to be updated on AcceptAndRemember").
// Session rules are tried before project/global rules (Layered.Merge),
// so a remembered rule always takes effect even if a broader project or
// global rule would otherwise have matched first.
func (e *Engine) Remember(op core.Operation) error {
	rule := Rule{Kind: op.Kind, Pattern: patternFor(op), Permission: core.PermissionAllow}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers.Session.Rules = append([]Rule{rule}, e.layers.Session.Rules...)
	merged, err := e.layers.Merge()
	if err != nil {
		return err
	}
	e.policy = merged
	return nil
}

// patternFor extracts the exact-match pattern a Remember rule should
// match on for op's kind: the literal path for Read/Write, and a
// regexp-quoted literal command/URL for Execute/Fetch so matchRegexOrPrefix
// treats it as an exact string rather than a pattern with regex meaning.
func patternFor(op core.Operation) string {
	switch op.Kind {
	case core.OpRead, core.OpWrite:
		return op.Path
	case core.OpExecute:
		return "^" + regexp.QuoteMeta(op.Command) + "$"
	case core.OpFetch:
		return "^" + regexp.QuoteMeta(op.URL) + "$"
	default:
		return ""
	}
}

func matchRule(r Rule, op core.Operation) bool {
	if r.Pattern == "" {
		return true
	}
	switch op.Kind {
	case core.OpRead, core.OpWrite:
		ok, _ := filepath.Match(r.Pattern, op.Path)
		if ok {
			return true
		}
		return matchPathPrefix(r.Pattern, op.Path)
	case core.OpExecute:
		return matchRegexOrPrefix(r.Pattern, op.Command)
	case core.OpFetch:
		return matchRegexOrPrefix(r.Pattern, op.URL)
	default:
		return false
	}
}

// matchPathPrefix additionally allows a pattern ending in "/**" to match
// an entire subtree, the shape the teacher's writeProtectedDirs list
// implies ("skills", "media" block the whole directory).
func matchPathPrefix(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return false
}

func matchRegexOrPrefix(pattern, subject string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.HasPrefix(subject, pattern)
	}
	return re.MatchString(subject)
}
