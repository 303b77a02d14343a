// Package snapshot implements the Snapshot Store (spec.md §4.6): a
// per-file undo log capturing a path's pre-state immediately before a
// mutating tool call touches it. original_source's forge_snaps crate is
// present in the retrieval pack only as an empty lib.rs stub, so this
// package is designed directly from spec.md rather than ported from Rust;
// its concurrency shape (a mutex-guarded map keyed by a string) follows
// the teacher's provider cooldown map (internal/llm.Registry.cooldowns).
package snapshot

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecore/forge/internal/core"
)

// Store holds an append-only history of Snapshots per path, serialized
// by a per-path mutex so concurrent tool calls touching different files
// never block each other.
type Store struct {
	mu        sync.Mutex
	history   map[string][]core.Snapshot
	pathLocks map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		history:   make(map[string][]core.Snapshot),
		pathLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		s.pathLocks[path] = l
	}
	return l
}

// Capture records path's pre-state (content, or Absent=true if the path
// doesn't yet exist) before a mutating tool runs. Call this from the
// Dispatcher immediately before invoking a tool.Mutating tool, never
// after — a snapshot taken post-mutation is useless for undo.
func (s *Store) Capture(path string, preContent []byte, absent bool, op core.OperationKind) core.Snapshot {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	snap := core.Snapshot{
		ID:         core.SnapshotId(uuid.NewString()),
		Path:       path,
		PreContent: preContent,
		Absent:     absent,
		Timestamp:  time.Now(),
		OpKind:     op,
	}

	s.mu.Lock()
	s.history[path] = append(s.history[path], snap)
	s.mu.Unlock()

	return snap
}

// Latest returns the most recent Snapshot for path, or false if path has
// no recorded history.
func (s *Store) Latest(path string) (core.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[path]
	if len(h) == 0 {
		return core.Snapshot{}, false
	}
	return h[len(h)-1], true
}

// Undo pops the most recent Snapshot for path and returns it so the
// caller can restore PreContent (or delete the file, when Absent is
// true). Undo is the one operation in this package that mutates history
// rather than only appending to it, per spec.md §4.6 ("append-only
// except for undo").
func (s *Store) Undo(path string) (core.Snapshot, bool) {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[path]
	if len(h) == 0 {
		return core.Snapshot{}, false
	}
	last := h[len(h)-1]
	s.history[path] = h[:len(h)-1]
	return last, true
}

// History returns path's full snapshot history, oldest first.
func (s *Store) History(path string) []core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Snapshot, len(s.history[path]))
	copy(out, s.history[path])
	return out
}
