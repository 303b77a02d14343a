package compact

import (
	"context"

	"github.com/forgecore/forge/internal/core"
)

// Checkpoint is a lightweight structured snapshot of a conversation's
// state between full Compact runs: topics covered, open questions, and
// decisions made so far. Grounded on the teacher's
// internal/session.CheckpointGenerator/CheckpointData, trimmed to drop
// its async generation/threshold-tracking machinery (compact.Compactor
// already owns the token-budget decision of when to run).
type Checkpoint struct {
	Topics        []string
	OpenQuestions []string
	Decisions     []string
}

// CheckpointFunc produces a Checkpoint from the messages since the last
// one, analogous to Summarizer but returning structured fields instead
// of prose.
type CheckpointFunc func(ctx context.Context, messages []core.Message, model core.ModelId) (Checkpoint, error)

// RecordCheckpoint runs gen over convCtx's messages from index sinceIndex
// onward (a negative sinceIndex is treated as 0), the cheaper incremental
// counterpart to a full Compact. If sinceIndex is at or past the end of
// the messages it returns an empty Checkpoint without calling gen.
// Nothing in this repository calls it; the caller decides when to run it.
func RecordCheckpoint(ctx context.Context, gen CheckpointFunc, convCtx core.Context, model core.ModelId, sinceIndex int) (Checkpoint, error) {
	if sinceIndex < 0 {
		sinceIndex = 0
	}
	if sinceIndex >= len(convCtx.Messages) {
		return Checkpoint{}, nil
	}
	return gen(ctx, convCtx.Messages[sinceIndex:], model)
}
