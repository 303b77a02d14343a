package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forge/internal/core"
)

func TestEngine_FirstMatchWins(t *testing.T) {
	e, err := NewEngine(Layered{
		Global: Policy{
			Rules: []Rule{
				{Kind: core.OpWrite, Pattern: "/workspace/**", Permission: core.PermissionAllow},
				{Kind: core.OpWrite, Pattern: "/workspace/secrets/**", Permission: core.PermissionDeny},
			},
			DefaultPermission: core.PermissionConfirm,
		},
	})
	require.NoError(t, err)

	// The broad allow rule is listed first, so it wins even though a
	// narrower deny rule also matches — first-match semantics, not
	// most-specific-match.
	got := e.Evaluate(core.Operation{Kind: core.OpWrite, Path: "/workspace/secrets/key.pem"})
	assert.Equal(t, core.PermissionAllow, got)
}

func TestEngine_DefaultPermissionWhenNoRuleMatches(t *testing.T) {
	e, err := NewEngine(Layered{
		Global: Policy{DefaultPermission: core.PermissionConfirm},
	})
	require.NoError(t, err)

	got := e.Evaluate(core.Operation{Kind: core.OpExecute, Command: "rm -rf /"})
	assert.Equal(t, core.PermissionConfirm, got)
}

func TestEngine_SessionRulesTakePriorityOverGlobal(t *testing.T) {
	e, err := NewEngine(Layered{
		Global: Policy{
			Rules:             []Rule{{Kind: core.OpExecute, Pattern: ".*", Permission: core.PermissionDeny}},
			DefaultPermission: core.PermissionDeny,
		},
		Session: Policy{
			Rules: []Rule{{Kind: core.OpExecute, Pattern: "^git status$", Permission: core.PermissionAllow}},
		},
	})
	require.NoError(t, err)

	got := e.Evaluate(core.Operation{Kind: core.OpExecute, Command: "git status"})
	assert.Equal(t, core.PermissionAllow, got)
}

func TestEngine_SessionDefaultPermissionOverridesGlobal(t *testing.T) {
	e, err := NewEngine(Layered{
		Global:  Policy{DefaultPermission: core.PermissionDeny},
		Session: Policy{DefaultPermission: core.PermissionAllow},
	})
	require.NoError(t, err)

	got := e.Evaluate(core.Operation{Kind: core.OpFetch, URL: "https://example.com"})
	assert.Equal(t, core.PermissionAllow, got)
}

func TestMatchPathPrefix_Subtree(t *testing.T) {
	e, err := NewEngine(Layered{
		Global: Policy{
			Rules: []Rule{{Kind: core.OpWrite, Pattern: "/workspace/skills/**", Permission: core.PermissionDeny}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, core.PermissionDeny, e.Evaluate(core.Operation{Kind: core.OpWrite, Path: "/workspace/skills/x/y.md"}))
	assert.NotEqual(t, core.PermissionDeny, e.Evaluate(core.Operation{Kind: core.OpWrite, Path: "/workspace/other/y.md"}))
}
