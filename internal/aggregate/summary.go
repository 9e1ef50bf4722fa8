package aggregate

import (
	"sort"
	"time"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// EventKindCounts tallies events by Kind (spec.md §4.6 eventKindCounts).
func EventKindCounts(events []*tracemodel.NormalizedEvent) map[tracemodel.EventKind]int {
	counts := make(map[tracemodel.EventKind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}

// ErrorCount counts events with HasError set.
func ErrorCount(events []*tracemodel.NormalizedEvent) int {
	n := 0
	for _, e := range events {
		if e.HasError {
			n++
		}
	}
	return n
}

// ToolCounts returns (toolUseCount, toolResultCount).
func ToolCounts(events []*tracemodel.NormalizedEvent) (toolUse, toolResult int) {
	for _, e := range events {
		switch e.Kind {
		case tracemodel.EventToolUse:
			toolUse++
		case tracemodel.EventToolResult:
			toolResult++
		}
	}
	return
}

// UnmatchedToolCounts computes the set difference between tool_use and
// tool_result events keyed by toolUseId (spec.md §4.6
// unmatchedToolUses/Results).
func UnmatchedToolCounts(events []*tracemodel.NormalizedEvent) (unmatchedUses, unmatchedResults int) {
	uses := make(map[string]bool)
	results := make(map[string]bool)
	for _, e := range events {
		switch e.Kind {
		case tracemodel.EventToolUse:
			if e.ToolUseID != "" {
				uses[e.ToolUseID] = true
			}
		case tracemodel.EventToolResult:
			if e.ToolUseID != "" {
				results[e.ToolUseID] = true
			}
		}
	}
	for id := range uses {
		if !results[id] {
			unmatchedUses++
		}
	}
	for id := range results {
		if !uses[id] {
			unmatchedResults++
		}
	}
	return
}

// TopTools returns the top N tool names by usage count, ties broken
// alphabetically (spec.md §4.6 topTools).
func TopTools(events []*tracemodel.NormalizedEvent, topN int) []tracemodel.ToolCount {
	counts := make(map[string]int)
	for _, e := range events {
		if e.ToolName == "" {
			continue
		}
		if e.Kind == tracemodel.EventToolUse || e.Kind == tracemodel.EventToolResult {
			counts[e.ToolName]++
		}
	}
	out := make([]tracemodel.ToolCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, tracemodel.ToolCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// ContextWindowPct computes totalTokens / contextWindow(model) * 100,
// looking up the window size through cfg.MaxContextTokens (spec.md §4.6
// contextWindowPct).
func ContextWindowPct(totals tracemodel.TokenTotals, model string, cfg *config.Config) float64 {
	window := cfg.MaxContextTokens(model)
	if window <= 0 {
		return 0
	}
	return float64(totals.Total()) / float64(window) * 100
}

// CostEstimateUsd prices every token bucket in totals at the single given
// model's rate from cfg.Cost.ModelRates (spec.md §4.6 costEstimateUsd):
// input and cache-creation tokens at the input rate, cached reads at the
// cached-read rate, output and reasoning tokens at the output rate. Tokens
// that other models in the trace used are not priced at their own rates,
// and only the given model is checked against the unknown-model policy.
// Returns nil when cost estimation is disabled, or when that model lacks a
// rate under the "n_a" policy (the "zero" policy yields 0).
func CostEstimateUsd(totals tracemodel.TokenTotals, model string, cfg *config.Config) *float64 {
	if !cfg.Cost.Enabled {
		return nil
	}
	rate, ok := cfg.ModelRate(model)
	if !ok {
		switch cfg.Cost.UnknownModelPolicy {
		case "zero":
			zero := 0.0
			return &zero
		default: // "n_a" or unset
			return nil
		}
	}

	input := float64(totals.InputTokens+totals.CachedCreateTokens) * rate.InputPerMTokUsd / 1e6
	cachedRead := float64(totals.CachedReadTokens) * rate.CachedReadPerMTokUsd / 1e6
	output := float64(totals.OutputTokens+totals.ReasoningOutputTokens) * rate.OutputPerMTokUsd / 1e6
	cost := input + cachedRead + output
	return &cost
}

// ActivityStatus classifies a trace's liveness from its most recent event
// (spec.md §4.6 activityStatus). now is passed in explicitly so callers
// (and tests) control the clock.
func ActivityStatus(events []*tracemodel.NormalizedEvent, cfg *config.Config, now time.Time) (tracemodel.ActivityStatus, string) {
	if len(events) == 0 {
		return tracemodel.ActivityIdle, "no events"
	}
	last := events[len(events)-1]

	if last.Kind == tracemodel.EventToolUse {
		if !hasMatchingResult(events, last) {
			return tracemodel.ActivityRunning, "pending tool_use with no matching tool_result"
		}
	}

	if last.Timestamp != nil {
		age := now.Sub(time.UnixMilli(*last.Timestamp))
		if age < time.Duration(cfg.Scan.StatusRunningTtlMs)*time.Millisecond {
			return tracemodel.ActivityRunning, "recent event within statusRunningTtlMs"
		}
		if last.Kind == tracemodel.EventAssistant && age < time.Duration(cfg.Scan.StatusWaitingTtlMs)*time.Millisecond {
			return tracemodel.ActivityWaitingInput, "assistant message within statusWaitingTtlMs"
		}
	}

	return tracemodel.ActivityIdle, "no recent activity"
}

func hasMatchingResult(events []*tracemodel.NormalizedEvent, use *tracemodel.NormalizedEvent) bool {
	if use.ToolUseID == "" {
		return false
	}
	for _, e := range events {
		if e.Kind == tracemodel.EventToolResult && e.ToolUseID == use.ToolUseID {
			return true
		}
	}
	return false
}

// ActivityBins partitions the recent event stream into a histogram
// (spec.md §4.6 activityBins). When at least half the events in the
// window carry timestamps, bins are wall-clock windows of
// binMinutes each going back windowMinutes; otherwise bins are an
// equal-count partition of the last recentEventWindow events
// ("event_index" mode).
func ActivityBins(events []*tracemodel.NormalizedEvent, windowMinutes, binMinutes, binCount, recentEventWindow int, now time.Time) []tracemodel.ActivityBin {
	recent := events
	if recentEventWindow > 0 && len(recent) > recentEventWindow {
		recent = recent[len(recent)-recentEventWindow:]
	}

	withTs := 0
	for _, e := range recent {
		if e.Timestamp != nil {
			withTs++
		}
	}

	if len(recent) > 0 && withTs*2 >= len(recent) {
		return timeModeBins(recent, windowMinutes, binMinutes, binCount, now)
	}
	return indexModeBins(recent, binCount)
}

func timeModeBins(events []*tracemodel.NormalizedEvent, windowMinutes, binMinutes, binCount int, now time.Time) []tracemodel.ActivityBin {
	if binCount <= 0 {
		binCount = 1
	}
	start := now.Add(-time.Duration(windowMinutes) * time.Minute)
	binDur := time.Duration(binMinutes) * time.Minute
	bins := make([]tracemodel.ActivityBin, binCount)
	for i := range bins {
		bins[i].Start = start.Add(time.Duration(i) * binDur)
		bins[i].End = bins[i].Start.Add(binDur)
	}
	for _, e := range events {
		if e.Timestamp == nil {
			continue
		}
		ts := time.UnixMilli(*e.Timestamp)
		if ts.Before(start) || ts.After(now) {
			continue
		}
		idx := int(ts.Sub(start) / binDur)
		if idx >= 0 && idx < len(bins) {
			bins[idx].Count++
		}
	}
	return bins
}

func indexModeBins(events []*tracemodel.NormalizedEvent, binCount int) []tracemodel.ActivityBin {
	if binCount <= 0 {
		binCount = 1
	}
	bins := make([]tracemodel.ActivityBin, binCount)
	if len(events) == 0 {
		return bins
	}
	perBin := (len(events) + binCount - 1) / binCount
	if perBin == 0 {
		perBin = 1
	}
	for i := range bins {
		startIdx := i * perBin
		if startIdx >= len(events) {
			break
		}
		endIdx := startIdx + perBin
		if endIdx > len(events) {
			endIdx = len(events)
		}
		bins[i].Count = endIdx - startIdx
	}
	return bins
}
