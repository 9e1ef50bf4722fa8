package aggregate

import (
	"sort"
	"time"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// traceRecency is the minimal view TierOf needs per trace.
type traceRecency struct {
	ID          string
	LastEventTs *int64
	MtimeMs     int64
}

// TierOf resolves every trace's residency tier under the configured
// retention strategy (spec.md §4.6 Tier decision). Under
// "aggressive_recency", traces are ranked by max(lastEventTs, mtimeMs)
// descending; the top hotTraceCount are hot, the next warmTraceCount are
// warm, the rest cold. Under "full_memory", every trace is hot.
func TierOf(traces []*tracemodel.Trace, cfg config.RetentionConfig) map[string]tracemodel.Tier {
	result := make(map[string]tracemodel.Tier, len(traces))

	if cfg.Strategy == "full_memory" {
		for _, t := range traces {
			result[t.ID] = tracemodel.TierHot
		}
		return result
	}

	ranked := make([]traceRecency, 0, len(traces))
	for _, t := range traces {
		ranked = append(ranked, traceRecency{ID: t.ID, LastEventTs: t.LastEventTs, MtimeMs: t.MtimeMs})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return recencyOf(ranked[i]) > recencyOf(ranked[j])
	})

	for i, r := range ranked {
		switch {
		case i < cfg.HotTraceCount:
			result[r.ID] = tracemodel.TierHot
		case i < cfg.HotTraceCount+cfg.WarmTraceCount:
			result[r.ID] = tracemodel.TierWarm
		default:
			result[r.ID] = tracemodel.TierCold
		}
	}
	return result
}

func recencyOf(r traceRecency) int64 {
	if r.LastEventTs != nil && *r.LastEventTs > r.MtimeMs {
		return *r.LastEventTs
	}
	return r.MtimeMs
}

// Overview computes the coarse cross-trace accumulator returned by
// getOverview() (spec.md §4.4 "a coarse overview accumulator", §6
// getOverview()): per-activity and per-tier counts, total tokens, and
// total cost (nil if any trace's own cost is nil, i.e. cost is disabled
// or the policy is n_a for an unknown model).
func Overview(traces []*tracemodel.Trace, now time.Time) tracemodel.OverviewStats {
	stats := tracemodel.OverviewStats{TraceCount: len(traces), UpdatedAtMs: now.UnixMilli()}

	var totalCost float64
	costKnown := true
	anyCost := false

	for _, t := range traces {
		switch t.ActivityStatus {
		case tracemodel.ActivityRunning:
			stats.RunningCount++
		case tracemodel.ActivityWaitingInput:
			stats.WaitingCount++
		default:
			stats.IdleCount++
		}

		switch t.ResidentTier {
		case tracemodel.TierHot:
			stats.HotCount++
		case tracemodel.TierWarm:
			stats.WarmCount++
		default:
			stats.ColdCount++
		}

		stats.TotalTokens += t.TokenTotals.Total()

		if t.CostEstimateUsd != nil {
			totalCost += *t.CostEstimateUsd
			anyCost = true
		} else {
			costKnown = false
		}
	}

	if anyCost && costKnown {
		stats.TotalCostUsd = &totalCost
	}
	return stats
}
