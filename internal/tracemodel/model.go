// Package tracemodel defines the canonical Trace/NormalizedEvent data model
// shared by discovery, parsing, indexing, and aggregation.
package tracemodel

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// AgentKind identifies the coding-agent tool that produced a trace file.
type AgentKind string

const (
	AgentClaude   AgentKind = "claude"
	AgentCodex    AgentKind = "codex"
	AgentCursor   AgentKind = "cursor"
	AgentOpenCode AgentKind = "opencode"
	AgentGemini   AgentKind = "gemini"
	AgentPi       AgentKind = "pi"
	AgentUnknown  AgentKind = "unknown"
)

// EventKind classifies a NormalizedEvent's role in the session transcript.
type EventKind string

const (
	EventSystem    EventKind = "system"
	EventAssistant EventKind = "assistant"
	EventUser      EventKind = "user"
	EventToolUse   EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventReasoning EventKind = "reasoning"
	EventMeta      EventKind = "meta"
)

// ActivityStatus is the live classification of a trace's session.
type ActivityStatus string

const (
	ActivityRunning      ActivityStatus = "running"
	ActivityWaitingInput ActivityStatus = "waiting_input"
	ActivityIdle         ActivityStatus = "idle"
)

// Tier is a trace's residency class, controlling memory footprint.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

const previewMaxLen = 140

// StableHash returns a deterministic 24-hex-character identifier for the
// given parts, joined with a separator that cannot collide with part
// contents (parts are always hashed, never concatenated raw).
func StableHash(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum64()
	// 24 hex chars: the 64-bit digest followed by the low 32 bits of a
	// simple avalanche of it, so the tail doesn't just repeat the digest.
	mixed := sum ^ (sum>>33)*0x9E3779B97F4A7C15
	return fmt.Sprintf("%016x%08x", sum, uint32(mixed))
}

// TraceID derives the stable identifier for a trace from its source profile
// name and absolute path.
func TraceID(sourceProfile, absPath string) string {
	return StableHash(sourceProfile, absPath)
}

// EventID derives the stable identifier for a NormalizedEvent.
func EventID(traceID string, index int, offset int64) string {
	return StableHash(traceID, strconv.Itoa(index), strconv.FormatInt(offset, 10))
}

// ReindexEvents assigns sequential 1-based-from-startIndex indices to
// events (§3: "index is 1-based... equal to 1-based file-line order") and
// recomputes each event's ID from its final (traceId, index, offset), since
// a parser's own builder only knows a provisional 0-based position within
// its own call. Every caller that hands a parser's output onward to the
// store -- full reparse, incremental append, lazy disk reload -- must run
// events through this before the index/offset pair backing eventId is
// considered final.
func ReindexEvents(traceID string, events []*NormalizedEvent, startIndex int) {
	for i, e := range events {
		e.Index = startIndex + i
		e.TraceID = traceID
		e.ID = EventID(traceID, e.Index, e.Offset)
	}
}

// TokenTotals sums the per-bucket token usage pulled from an agent's raw
// usage records.
type TokenTotals struct {
	InputTokens          int `json:"inputTokens"`
	CachedReadTokens     int `json:"cachedReadTokens"`
	CachedCreateTokens   int `json:"cachedCreateTokens"`
	OutputTokens         int `json:"outputTokens"`
	ReasoningOutputTokens int `json:"reasoningOutputTokens"`
}

// Total returns the sum of all token buckets.
func (t TokenTotals) Total() int {
	return t.InputTokens + t.CachedReadTokens + t.CachedCreateTokens + t.OutputTokens + t.ReasoningOutputTokens
}

// ModelShare is one entry of the top-N model token-share breakdown.
type ModelShare struct {
	Model   string  `json:"model"`
	Tokens  int     `json:"tokens"`
	Percent float64 `json:"percent"`
}

// ActivityBin is one bucket of the recent activity histogram.
type ActivityBin struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

// ToolCount is one entry of the top-tools-by-usage breakdown.
type ToolCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Trace is the in-memory representation of one agent session log file.
type Trace struct {
	ID              string    `json:"id"`
	SourceProfile   string    `json:"sourceProfile"`
	Path            string    `json:"path"`
	Agent           AgentKind `json:"agent"`
	Parser          string    `json:"parser"`
	SessionID       string    `json:"sessionId"`
	SizeBytes       int64     `json:"sizeBytes"`
	MtimeMs         int64     `json:"mtimeMs"`
	FirstEventTs    *int64    `json:"firstEventTs,omitempty"`
	LastEventTs     *int64    `json:"lastEventTs,omitempty"`
	EventCount      int       `json:"eventCount"`
	Parseable       bool      `json:"parseable"`
	ParseError      string    `json:"parseError,omitempty"`
	ErrorCount      int       `json:"errorCount"`
	ToolUseCount    int       `json:"toolUseCount"`
	ToolResultCount int       `json:"toolResultCount"`
	UnmatchedToolUses   int   `json:"unmatchedToolUses"`
	UnmatchedToolResults int  `json:"unmatchedToolResults"`

	ActivityStatus ActivityStatus `json:"activityStatus"`
	ActivityReason string         `json:"activityReason,omitempty"`
	ActivityBins   []ActivityBin  `json:"activityBins,omitempty"`

	TokenTotals        TokenTotals  `json:"tokenTotals"`
	ModelTokenShares    []ModelShare `json:"modelTokenShares,omitempty"`
	ContextWindowPct    float64      `json:"contextWindowPct"`
	CostEstimateUsd     *float64     `json:"costEstimateUsd,omitempty"`
	EventKindCounts     map[EventKind]int `json:"eventKindCounts,omitempty"`

	ResidentTier   Tier `json:"residentTier"`
	Materialized   bool `json:"materialized"`
	TopTools       []ToolCount `json:"topTools,omitempty"`

	// Process enrichment (SPEC_FULL §4.8). Display hints only; never
	// feed ActivityStatus classification.
	PID        int    `json:"pid,omitempty"`
	IsChurning bool   `json:"isChurning,omitempty"`
	TmuxTarget string `json:"tmuxTarget,omitempty"`

	// Events is not filled in by the store, which keeps each trace's
	// resident event window separately (capped per tier, empty for cold
	// traces) while EventCount is preserved; Clone always clears it.
	Events []*NormalizedEvent `json:"-"`
}

// Clone returns a deep copy of the trace suitable for copy-on-read
// (summary reads must not observe later in-place mutation by the driver).
func (t *Trace) Clone() *Trace {
	c := *t
	if t.FirstEventTs != nil {
		v := *t.FirstEventTs
		c.FirstEventTs = &v
	}
	if t.LastEventTs != nil {
		v := *t.LastEventTs
		c.LastEventTs = &v
	}
	if t.CostEstimateUsd != nil {
		v := *t.CostEstimateUsd
		c.CostEstimateUsd = &v
	}
	if len(t.ActivityBins) > 0 {
		c.ActivityBins = append([]ActivityBin(nil), t.ActivityBins...)
	}
	if len(t.ModelTokenShares) > 0 {
		c.ModelTokenShares = append([]ModelShare(nil), t.ModelTokenShares...)
	}
	if len(t.TopTools) > 0 {
		c.TopTools = append([]ToolCount(nil), t.TopTools...)
	}
	if t.EventKindCounts != nil {
		c.EventKindCounts = make(map[EventKind]int, len(t.EventKindCounts))
		for k, v := range t.EventKindCounts {
			c.EventKindCounts[k] = v
		}
	}
	// Events intentionally NOT deep-copied here: summary reads never touch
	// Events directly, and page reads take an index-bounded slice instead.
	c.Events = nil
	return &c
}

// NormalizedEvent is one logical record inside a trace.
type NormalizedEvent struct {
	ID        string    `json:"id"`
	TraceID   string    `json:"traceId"`
	Index     int       `json:"index"`
	Offset    int64     `json:"offset"`
	Timestamp *int64    `json:"timestamp,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Kind      EventKind `json:"kind"`
	RawType   string    `json:"rawType"`
	Role      string    `json:"role,omitempty"`
	Preview   string    `json:"preview"`
	TextBlocks []string `json:"textBlocks,omitempty"`

	ToolUseID       string `json:"toolUseId,omitempty"`
	ParentToolUseID string `json:"parentToolUseId,omitempty"`
	ToolName        string `json:"toolName,omitempty"`
	ToolType        string `json:"toolType,omitempty"`
	ToolCallID      string `json:"toolCallId,omitempty"`
	FunctionName    string `json:"functionName,omitempty"`
	ToolArgsText    string `json:"toolArgsText,omitempty"`
	ToolResultText  string `json:"toolResultText,omitempty"`

	ParentEventID string `json:"parentEventId,omitempty"`
	TocLabel      string `json:"tocLabel,omitempty"`
	HasError      bool   `json:"hasError,omitempty"`

	SearchText string `json:"-"`

	// Raw is the opaque decoded JSON value for this line, subject to
	// redaction. Not serialized directly -- consumers read the typed
	// fields above; Raw backs lazily-added detail views.
	Raw map[string]any `json:"-"`
}

// IndexPerformanceStats is the Scheduler's published health/performance
// snapshot (spec.md §4.5 Statistics), exposed via getPerfStats().
type IndexPerformanceStats struct {
	IncrementalRefreshCount  int64   `json:"incrementalRefreshCount"`
	FullRefreshCount         int64   `json:"fullRefreshCount"`
	AverageRefreshDurationMs float64 `json:"averageRefreshDurationMs"`
	LastRefreshDurationMs    int64   `json:"lastRefreshDurationMs"`
	LastRefreshAtMs          int64   `json:"lastRefreshAtMs,omitempty"`
	QueueDepth               int     `json:"queueDepth"`
	HotCount                 int     `json:"hotCount"`
	WarmCount                int     `json:"warmCount"`
	ColdCount                int     `json:"coldCount"`
	MaterializedCount        int     `json:"materializedCount"`
	CurrentIntervalMs        int     `json:"currentIntervalMs"`
}

// OverviewStats is the coarse cross-trace accumulator returned by
// getOverview() (spec.md §4.4 "a coarse overview accumulator", §6
// getOverview()).
type OverviewStats struct {
	TraceCount     int     `json:"traceCount"`
	RunningCount   int     `json:"runningCount"`
	WaitingCount   int     `json:"waitingCount"`
	IdleCount      int     `json:"idleCount"`
	HotCount       int     `json:"hotCount"`
	WarmCount      int     `json:"warmCount"`
	ColdCount      int     `json:"coldCount"`
	TotalTokens    int     `json:"totalTokens"`
	TotalCostUsd   *float64 `json:"totalCostUsd,omitempty"`
	UpdatedAtMs    int64   `json:"updatedAtMs"`
}

// TruncatePreview trims s to the first line, capped at previewMaxLen runes.
func TruncatePreview(s string) string {
	// First line only.
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > previewMaxLen {
		return string(runes[:previewMaxLen])
	}
	return s
}
