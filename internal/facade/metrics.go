package facade

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/forgecore/forge/internal/orchestrator"
)

// usageMeter records token usage emitted by orchestrator turns as OTel
// counters, the facade-boundary equivalent of the teacher's
// internal/metrics.Manager (which persists counters to disk); spec.md's
// core deliberately emits usage only through its event sink, so metrics
// aggregation lives here at the facade rather than inside the
// orchestrator.
type usageMeter struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
}

func newUsageMeter() *usageMeter {
	meter := otel.Meter("github.com/forgecore/forge/internal/facade")
	prompt, _ := meter.Int64Counter("forge.provider.prompt_tokens")
	completion, _ := meter.Int64Counter("forge.provider.completion_tokens")
	return &usageMeter{promptTokens: prompt, completionTokens: completion}
}

func (m *usageMeter) record(goCtx context.Context, r orchestrator.ChatResponse) {
	if r.Kind != orchestrator.RespUsage || m == nil {
		return
	}
	if m.promptTokens != nil {
		m.promptTokens.Add(goCtx, int64(r.Usage.PromptTokens))
	}
	if m.completionTokens != nil {
		m.completionTokens.Add(goCtx, int64(r.Usage.CompletionTokens))
	}
}

// tapUsage forwards every item from in to the returned channel unchanged,
// while recording Usage events along the way.
func (m *usageMeter) tapUsage(goCtx context.Context, in <-chan orchestrator.ChatResponse) <-chan orchestrator.ChatResponse {
	out := make(chan orchestrator.ChatResponse, 16)
	go func() {
		defer close(out)
		for r := range in {
			m.record(goCtx, r)
			out <- r
		}
	}()
	return out
}
