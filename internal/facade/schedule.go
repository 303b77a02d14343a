package facade

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Scheduler drives cron-triggered turns against the facade, kept from
// the teacher's internal/cron feature (scheduler.go/service.go) as a
// thin convenience that calls the same Chat entrypoint a human caller
// would — the orchestrator itself stays schedule-agnostic, exactly as
// the teacher's CronService calls into the same Gateway.ProcessMessage
// a chat channel uses.
type Scheduler struct {
	api *API
	c   *cron.Cron
}

// NewScheduler wraps api with a cron.Cron using second-level precision,
// matching the teacher's cron.New(cron.WithSeconds()). Jobs do not run
// until Start is called.
func NewScheduler(api *API) *Scheduler {
	return &Scheduler{api: api, c: cron.New(cron.WithSeconds())}
}

// AddJob schedules event to be submitted as a Chat turn against
// conversationID on the given cron spec, discarding the resulting
// response stream (cron-triggered turns are fire-and-forget from the
// scheduler's perspective: the turn runs with no ConfirmFn, and its
// output is visible only through the stored Conversation).
func (s *Scheduler) AddJob(spec, conversationID, event string) (cron.EntryID, error) {
	return s.c.AddFunc(spec, func() {
		out, err := s.api.Chat(context.Background(), ChatRequest{
			ConversationID: conversationID,
			Event:          event,
		})
		if err != nil {
			return
		}
		for range out {
			// drain; see AddJob's doc comment on fire-and-forget semantics.
		}
	})
}

// RemoveJob cancels a previously scheduled job.
func (s *Scheduler) RemoveJob(id cron.EntryID) { s.c.Remove(id) }

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the scheduler without waiting; the returned context is done
// once any running job has finished.
func (s *Scheduler) Stop() context.Context { return s.c.Stop() }
