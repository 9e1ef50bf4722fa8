package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

func ts(ms int64) *int64 { return &ms }

func TestTokenTotals_SumsAcrossUsageConventions(t *testing.T) {
	events := []*tracemodel.NormalizedEvent{
		{Raw: map[string]any{"message": map[string]any{"usage": map[string]any{
			"input_tokens": float64(100), "output_tokens": float64(50),
		}}}},
		{Raw: map[string]any{"info": map[string]any{"total_token_usage": map[string]any{
			"input_tokens": float64(10), "reasoning_output_tokens": float64(5), "output_tokens": float64(3),
		}}}},
		{Raw: nil},
	}

	totals := TokenTotals(events)
	assert.Equal(t, 110, totals.InputTokens)
	assert.Equal(t, 53, totals.OutputTokens)
	assert.Equal(t, 5, totals.ReasoningOutputTokens)
}

func TestModelTokenSharesTop_OrdersByTokensThenAlpha(t *testing.T) {
	events := []*tracemodel.NormalizedEvent{
		{Raw: map[string]any{"model": "gpt-5", "usage": map[string]any{"output_tokens": float64(10)}}},
		{Raw: map[string]any{"model": "claude-opus", "usage": map[string]any{"output_tokens": float64(90)}}},
		{Raw: map[string]any{"model": "gemini-pro", "usage": map[string]any{"output_tokens": float64(10)}}},
	}

	shares := ModelTokenSharesTop(events, 2)
	if assert.Len(t, shares, 2) {
		assert.Equal(t, "claude-opus", shares[0].Model)
		assert.InDelta(t, 81.8, shares[0].Percent, 0.5)
		assert.Equal(t, "gemini-pro", shares[1].Model, "tie on tokens broken alphabetically")
	}
}

func TestEventKindCounts(t *testing.T) {
	events := []*tracemodel.NormalizedEvent{
		{Kind: tracemodel.EventUser},
		{Kind: tracemodel.EventAssistant},
		{Kind: tracemodel.EventAssistant},
	}
	counts := EventKindCounts(events)
	assert.Equal(t, 1, counts[tracemodel.EventUser])
	assert.Equal(t, 2, counts[tracemodel.EventAssistant])
}

func TestUnmatchedToolCounts(t *testing.T) {
	events := []*tracemodel.NormalizedEvent{
		{Kind: tracemodel.EventToolUse, ToolUseID: "a"},
		{Kind: tracemodel.EventToolUse, ToolUseID: "b"},
		{Kind: tracemodel.EventToolResult, ToolUseID: "a"},
	}
	uses, results := UnmatchedToolCounts(events)
	assert.Equal(t, 1, uses, "b has no matching result")
	assert.Equal(t, 0, results)
}

func TestTopTools_TieBrokenAlphabetically(t *testing.T) {
	events := []*tracemodel.NormalizedEvent{
		{Kind: tracemodel.EventToolUse, ToolName: "Zebra"},
		{Kind: tracemodel.EventToolUse, ToolName: "Apple"},
		{Kind: tracemodel.EventToolUse, ToolName: "Zebra"},
		{Kind: tracemodel.EventToolUse, ToolName: "Apple"},
		{Kind: tracemodel.EventToolUse, ToolName: "Mango"},
	}
	top := TopTools(events, 3)
	if assert.Len(t, top, 3) {
		assert.Equal(t, "Apple", top[0].Name)
		assert.Equal(t, "Zebra", top[1].Name)
		assert.Equal(t, "Mango", top[2].Name)
	}
}

func TestContextWindowPct(t *testing.T) {
	cfg := &config.Config{Models: config.ModelsConfig{DefaultContextWindowTokens: 100000}}
	totals := tracemodel.TokenTotals{InputTokens: 50000}
	pct := ContextWindowPct(totals, "unknown-model", cfg)
	assert.InDelta(t, 50.0, pct, 0.01)
}

func TestCostEstimateUsd_DisabledReturnsNil(t *testing.T) {
	cfg := &config.Config{Cost: config.CostConfig{Enabled: false}}
	assert.Nil(t, CostEstimateUsd(tracemodel.TokenTotals{InputTokens: 1000}, "gpt-5", cfg))
}

func TestCostEstimateUsd_UnknownModelPolicy(t *testing.T) {
	naCfg := &config.Config{Cost: config.CostConfig{Enabled: true, UnknownModelPolicy: "n_a"}}
	assert.Nil(t, CostEstimateUsd(tracemodel.TokenTotals{InputTokens: 1000}, "mystery", naCfg))

	zeroCfg := &config.Config{Cost: config.CostConfig{Enabled: true, UnknownModelPolicy: "zero"}}
	got := CostEstimateUsd(tracemodel.TokenTotals{InputTokens: 1000}, "mystery", zeroCfg)
	if assert.NotNil(t, got) {
		assert.Equal(t, 0.0, *got)
	}
}

func TestCostEstimateUsd_ComputesFromRate(t *testing.T) {
	cfg := &config.Config{Cost: config.CostConfig{
		Enabled: true,
		ModelRates: []config.ModelRate{
			{Model: "gpt-5", InputPerMTokUsd: 2, OutputPerMTokUsd: 10},
		},
	}}
	totals := tracemodel.TokenTotals{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	got := CostEstimateUsd(totals, "gpt-5", cfg)
	if assert.NotNil(t, got) {
		assert.InDelta(t, 12.0, *got, 0.0001)
	}
}

func TestActivityStatus_RunningOnPendingToolUse(t *testing.T) {
	cfg := &config.Config{Scan: config.ScanConfig{StatusRunningTtlMs: 1000, StatusWaitingTtlMs: 2000}}
	events := []*tracemodel.NormalizedEvent{
		{Kind: tracemodel.EventToolUse, ToolUseID: "t1", Timestamp: ts(0)},
	}
	status, _ := ActivityStatus(events, cfg, time.UnixMilli(0).Add(time.Hour))
	assert.Equal(t, tracemodel.ActivityRunning, status)
}

func TestActivityStatus_WaitingInputOnRecentAssistant(t *testing.T) {
	cfg := &config.Config{Scan: config.ScanConfig{StatusRunningTtlMs: 1000, StatusWaitingTtlMs: 60_000}}
	now := time.UnixMilli(100_000)
	events := []*tracemodel.NormalizedEvent{
		{Kind: tracemodel.EventAssistant, Timestamp: ts(90_000)},
	}
	status, _ := ActivityStatus(events, cfg, now)
	assert.Equal(t, tracemodel.ActivityWaitingInput, status)
}

func TestActivityStatus_IdleWhenStale(t *testing.T) {
	cfg := &config.Config{Scan: config.ScanConfig{StatusRunningTtlMs: 1000, StatusWaitingTtlMs: 2000}}
	now := time.UnixMilli(1_000_000)
	events := []*tracemodel.NormalizedEvent{
		{Kind: tracemodel.EventAssistant, Timestamp: ts(0)},
	}
	status, _ := ActivityStatus(events, cfg, now)
	assert.Equal(t, tracemodel.ActivityIdle, status)
}

func TestActivityBins_TimeModeWhenMostEventsTimestamped(t *testing.T) {
	now := time.UnixMilli(int64(10 * time.Minute / time.Millisecond))
	events := []*tracemodel.NormalizedEvent{
		{Timestamp: ts(int64(1 * time.Minute / time.Millisecond))},
		{Timestamp: ts(int64(9 * time.Minute / time.Millisecond))},
	}
	bins := ActivityBins(events, 10, 5, 2, 100, now)
	assert.Len(t, bins, 2)
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	assert.Equal(t, 2, total)
}

func TestActivityBins_IndexModeWhenMostlyUntimestamped(t *testing.T) {
	events := make([]*tracemodel.NormalizedEvent, 10)
	for i := range events {
		events[i] = &tracemodel.NormalizedEvent{}
	}
	bins := ActivityBins(events, 10, 5, 5, 10, time.UnixMilli(0))
	assert.Len(t, bins, 5)
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	assert.Equal(t, 10, total)
}

func TestTierOf_AggressiveRecency(t *testing.T) {
	traces := []*tracemodel.Trace{
		{ID: "old", MtimeMs: 1},
		{ID: "new", MtimeMs: 100},
		{ID: "mid", MtimeMs: 50},
	}
	cfg := config.RetentionConfig{Strategy: "aggressive_recency", HotTraceCount: 1, WarmTraceCount: 1}
	tiers := TierOf(traces, cfg)
	assert.Equal(t, tracemodel.TierHot, tiers["new"])
	assert.Equal(t, tracemodel.TierWarm, tiers["mid"])
	assert.Equal(t, tracemodel.TierCold, tiers["old"])
}

func TestTierOf_FullMemoryKeepsAllHot(t *testing.T) {
	traces := []*tracemodel.Trace{{ID: "a"}, {ID: "b"}}
	cfg := config.RetentionConfig{Strategy: "full_memory"}
	tiers := TierOf(traces, cfg)
	assert.Equal(t, tracemodel.TierHot, tiers["a"])
	assert.Equal(t, tracemodel.TierHot, tiers["b"])
}

func TestOverview_AggregatesActivityTierAndCost(t *testing.T) {
	costA, costB := 1.5, 2.5
	traces := []*tracemodel.Trace{
		{ActivityStatus: tracemodel.ActivityRunning, ResidentTier: tracemodel.TierHot, TokenTotals: tracemodel.TokenTotals{InputTokens: 10}, CostEstimateUsd: &costA},
		{ActivityStatus: tracemodel.ActivityIdle, ResidentTier: tracemodel.TierCold, TokenTotals: tracemodel.TokenTotals{InputTokens: 20}, CostEstimateUsd: &costB},
	}
	overview := Overview(traces, time.UnixMilli(1000))
	assert.Equal(t, 2, overview.TraceCount)
	assert.Equal(t, 1, overview.RunningCount)
	assert.Equal(t, 1, overview.IdleCount)
	assert.Equal(t, 1, overview.HotCount)
	assert.Equal(t, 1, overview.ColdCount)
	assert.Equal(t, 30, overview.TotalTokens)
	if assert.NotNil(t, overview.TotalCostUsd) {
		assert.InDelta(t, 4.0, *overview.TotalCostUsd, 0.0001)
	}
}

func TestOverview_UnknownCostMakesTotalNil(t *testing.T) {
	traces := []*tracemodel.Trace{
		{ActivityStatus: tracemodel.ActivityIdle, CostEstimateUsd: nil},
	}
	overview := Overview(traces, time.UnixMilli(0))
	assert.Nil(t, overview.TotalCostUsd)
}
