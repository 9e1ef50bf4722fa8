package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/discovery"
	"github.com/tracehub/tracehub/internal/parser"
	"github.com/tracehub/tracehub/internal/store"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	cfg := &config.Config{
		Scan: config.ScanConfig{
			Mode: "adaptive", IntervalMinMs: 10, IntervalMaxMs: 1000, FullRescanIntervalMs: 60_000,
		},
		Retention: config.RetentionConfig{
			Strategy: "full_memory", MaxResidentEventsPerHotTrace: 1000, MaxResidentEventsPerWarmTrace: 1000,
		},
		Cost: config.CostConfig{Enabled: false},
		TraceInspector: config.TraceInspectorConfig{
			TopToolCount: 5, TopModelCount: 3,
			ActivityWindowMinutes: 60, ActivityBinMinutes: 5, ActivityBinCount: 12,
		},
	}
	reg := parser.NewRegistry()
	st := store.New(cfg, reg, nil)
	sched := New(cfg, reg, nil, st, make(chan discovery.DirtyEvent))
	return sched, st
}

func TestNextInterval_ShrinksOnWorkGrowsOnIdle(t *testing.T) {
	sched, _ := newTestScheduler(t)
	start := 100 * time.Millisecond

	shrunk := sched.nextInterval(start, true)
	assert.Equal(t, 50*time.Millisecond, shrunk)

	grown := sched.nextInterval(start, false)
	assert.Equal(t, 200*time.Millisecond, grown)
}

func TestNextInterval_ClampsToBounds(t *testing.T) {
	sched, _ := newTestScheduler(t)
	min := time.Duration(sched.cfg.Scan.IntervalMinMs) * time.Millisecond
	max := time.Duration(sched.cfg.Scan.IntervalMaxMs) * time.Millisecond

	assert.Equal(t, min, sched.nextInterval(min, true))
	assert.Equal(t, max, sched.nextInterval(max, false))
}

func TestNextInterval_FixedModeIgnoresAdaptiveLogic(t *testing.T) {
	sched, _ := newTestScheduler(t)
	sched.cfg.Scan.Mode = "fixed"
	sched.cfg.Scan.IntervalSeconds = 3
	assert.Equal(t, 3*time.Second, sched.nextInterval(10*time.Millisecond, true))
}

func TestRefreshFile_FullReparseThenIncrementalAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")
	userLine := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"hi"}]}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(userLine), 0o644))

	sched, st := newTestScheduler(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	f := discovery.DiscoveredTraceFile{ID: "trace-1", Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli()}

	changed := sched.refreshFile(f)
	assert.True(t, changed)

	summary, ok := st.GetSummary("trace-1")
	require.True(t, ok)
	assert.Equal(t, 1, summary.EventCount)

	// Append-only growth with an unchanged prefix should go through the
	// incremental path and only add the new suffix's events.
	appended := userLine + `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ok"}]}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(appended), 0o644))

	changed = sched.refreshFile(f)
	assert.True(t, changed)

	summary, ok = st.GetSummary("trace-1")
	require.True(t, ok)
	assert.Equal(t, 2, summary.EventCount)
}

func TestRefreshFile_TruncationTriggersFullReparse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"a"}`+"\n"+`{"type":"b"}`+"\n"+`{"type":"c"}`+"\n"), 0o644))

	sched, st := newTestScheduler(t)
	info, _ := os.Stat(path)
	f := discovery.DiscoveredTraceFile{ID: "trace-1", Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli()}
	sched.refreshFile(f)

	summary, _ := st.GetSummary("trace-1")
	require.Equal(t, 3, summary.EventCount)

	// Replace with a single new, shorter line -- a truncation/rotation.
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"fresh"}`+"\n"), 0o644))
	sched.refreshFile(f)

	summary, _ = st.GetSummary("trace-1")
	assert.Equal(t, 1, summary.EventCount, "truncation forces a full reparse, not an append")
}

func TestRefreshFile_AppendEquivalence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")
	first := `{"type":"a"}` + "\n"
	second := `{"type":"b"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(first), 0o644))

	sched, st := newTestScheduler(t)
	info, err := os.Stat(path)
	require.NoError(t, err)
	f := discovery.DiscoveredTraceFile{ID: "trace-1", Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli()}
	sched.refreshFile(f)

	require.NoError(t, os.WriteFile(path, []byte(first+second), 0o644))
	sched.refreshFile(f)

	appended, ok := st.GetPage("trace-1", nil, 0)
	require.True(t, ok)
	require.Len(t, appended.Events, 2)

	// A from-scratch full reparse of the same final bytes must land on the
	// exact same indices, offsets, and IDs as the incremental append (§8
	// append equivalence).
	sched2, st2 := newTestScheduler(t)
	f2 := discovery.DiscoveredTraceFile{ID: "trace-1", Path: path, SizeBytes: int64(len(first) + len(second)), MtimeMs: f.MtimeMs}
	sched2.refreshFile(f2)
	fromScratch, ok := st2.GetPage("trace-1", nil, 0)
	require.True(t, ok)
	require.Len(t, fromScratch.Events, 2)

	for i := range fromScratch.Events {
		assert.Equal(t, fromScratch.Events[i].Index, appended.Events[i].Index)
		assert.Equal(t, fromScratch.Events[i].Offset, appended.Events[i].Offset)
		assert.Equal(t, fromScratch.Events[i].ID, appended.Events[i].ID)
	}
	// The appended event's offset must sit at or after the prior tail, not
	// reset back near zero as a suffix-relative offset would.
	assert.Greater(t, appended.Events[1].Offset, appended.Events[0].Offset)
}

func TestRefreshFile_ReconsiderPopulatesAggregateFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")
	lines := `{"type":"assistant","sessionId":"s1","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"cmd":"ls"}}]}}` + "\n" +
		`{"type":"user","sessionId":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu1","content":"ok"}]}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	sched, st := newTestScheduler(t)
	info, err := os.Stat(path)
	require.NoError(t, err)
	f := discovery.DiscoveredTraceFile{
		ID: "trace-1", Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli(),
		ParserHint: tracemodel.AgentClaude,
	}
	require.True(t, sched.refreshFile(f))

	summary, ok := st.GetSummary("trace-1")
	require.True(t, ok)
	assert.Equal(t, 1, summary.ToolUseCount)
	assert.Equal(t, 1, summary.ToolResultCount)
	assert.Equal(t, 0, summary.UnmatchedToolUses)
	assert.Equal(t, 0, summary.UnmatchedToolResults)
	assert.Equal(t, tracemodel.ActivityIdle, summary.ActivityStatus)
	assert.Equal(t, []tracemodel.ToolCount{{Name: "Bash", Count: 2}}, summary.TopTools)
}

func TestReconcileTiers_DemotesLeastRecentBeyondCaps(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Scan: config.ScanConfig{Mode: "adaptive", IntervalMinMs: 10, IntervalMaxMs: 1000, FullRescanIntervalMs: 60_000},
		Retention: config.RetentionConfig{
			Strategy: "aggressive_recency", HotTraceCount: 1, WarmTraceCount: 1,
			MaxResidentEventsPerHotTrace: 1000, MaxResidentEventsPerWarmTrace: 1000,
		},
		TraceInspector: config.TraceInspectorConfig{
			TopToolCount: 5, TopModelCount: 3,
			ActivityWindowMinutes: 60, ActivityBinMinutes: 5, ActivityBinCount: 12,
		},
	}
	reg := parser.NewRegistry()
	st := store.New(cfg, reg, nil)
	sched := New(cfg, reg, nil, st, make(chan discovery.DirtyEvent))

	mk := func(name string, mtime time.Time) discovery.DiscoveredTraceFile {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(`{"type":"a"}`+"\n"), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		info, err := os.Stat(path)
		require.NoError(t, err)
		return discovery.DiscoveredTraceFile{ID: name, Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli()}
	}

	now := time.Now()
	oldest := mk("oldest.jsonl", now.Add(-3*time.Hour))
	middle := mk("middle.jsonl", now.Add(-2*time.Hour))
	newest := mk("newest.jsonl", now.Add(-1*time.Hour))

	sched.refreshFile(oldest)
	sched.refreshFile(middle)
	sched.refreshFile(newest)

	summary, ok := st.GetSummary("newest.jsonl")
	require.True(t, ok)
	assert.Equal(t, tracemodel.TierHot, summary.ResidentTier)

	summary, ok = st.GetSummary("middle.jsonl")
	require.True(t, ok)
	assert.Equal(t, tracemodel.TierWarm, summary.ResidentTier)

	summary, ok = st.GetSummary("oldest.jsonl")
	require.True(t, ok)
	assert.Equal(t, tracemodel.TierCold, summary.ResidentTier)
}

func TestSourceHealth_DegradesThenFailsThenRecovers(t *testing.T) {
	sched, _ := newTestScheduler(t)

	var events []SourceHealthEvent
	sched.SetHealthCallback(func(ev SourceHealthEvent) { events = append(events, ev) })

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.jsonl")
	f := discovery.DiscoveredTraceFile{ID: "trace-1", SourceProfile: "claude", Path: missing}

	for i := 0; i < degradedThreshold; i++ {
		sched.refreshFile(f)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, HealthDegraded, events[0].Status)
	assert.Equal(t, HealthFailed, events[len(events)-1].Status)

	path := filepath.Join(dir, "trace.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"a"}`+"\n"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	sched.refreshFile(discovery.DiscoveredTraceFile{ID: "trace-1", SourceProfile: "claude", Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli()})

	assert.Equal(t, HealthHealthy, events[len(events)-1].Status)
}

func TestStats_AggregatesTierCountsFromStore(t *testing.T) {
	sched, st := newTestScheduler(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"a"}`+"\n"), 0o644))
	info, _ := os.Stat(path)

	sched.refreshFile(discovery.DiscoveredTraceFile{ID: "trace-1", Path: path, SizeBytes: info.Size(), MtimeMs: info.ModTime().UnixMilli()})

	stats := sched.Stats()
	assert.Equal(t, int64(1), stats.FullRefreshCount)
	assert.Equal(t, 1, stats.HotCount, "full_memory retention strategy keeps every trace hot")
	_ = st
}
