package aggregate

import (
	"time"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// Reconsider recomputes every one of a trace's derived summary fields from
// its current resident events (spec.md §4.4: "on any mutation, the trace's
// [derived state] is reconsidered by the Aggregator"). The scheduler runs
// this before every upsertTrace, and after every appendEvents through
// store.UpdateDerived; in the append case the store's append notification
// still carries the summary from before this pass, and UpdateDerived's
// update notification carries the recomputed fields.
//
// The representative model fed to contextWindowPct/costEstimateUsd is the
// trace's top token-share model, since both take a single model name and a
// trace may mix models across a session.
func Reconsider(trace *tracemodel.Trace, events []*tracemodel.NormalizedEvent, cfg *config.Config, now time.Time) {
	trace.EventKindCounts = EventKindCounts(events)
	trace.ErrorCount = ErrorCount(events)
	trace.ToolUseCount, trace.ToolResultCount = ToolCounts(events)
	trace.UnmatchedToolUses, trace.UnmatchedToolResults = UnmatchedToolCounts(events)
	trace.TopTools = TopTools(events, cfg.TraceInspector.TopToolCount)

	trace.TokenTotals = TokenTotals(events)
	trace.ModelTokenShares = ModelTokenSharesTop(events, cfg.TraceInspector.TopModelCount)

	model := ""
	if len(trace.ModelTokenShares) > 0 {
		model = trace.ModelTokenShares[0].Model
	}
	trace.ContextWindowPct = ContextWindowPct(trace.TokenTotals, model, cfg)
	trace.CostEstimateUsd = CostEstimateUsd(trace.TokenTotals, model, cfg)

	trace.ActivityStatus, trace.ActivityReason = ActivityStatus(events, cfg, now)
	trace.ActivityBins = ActivityBins(
		events,
		cfg.TraceInspector.ActivityWindowMinutes,
		cfg.TraceInspector.ActivityBinMinutes,
		cfg.TraceInspector.ActivityBinCount,
		cfg.Scan.RecentEventWindow,
		now,
	)
}
