// Package aggregate implements spec.md §4.6's pure aggregator functions:
// derive token totals, cost estimates, context-window percentage,
// activity status/bins, and top-tool/model breakdowns from a trace's
// events. All of them are pure except Reconsider, which writes the derived
// results onto the trace it is given.
//
// Grounded on the teacher's internal/monitor/jsonl.go TokenUsage/
// TotalContext (the input/cache/output token bucket shape) and
// codex_source.go's total_token_usage handling (adds
// reasoning_output_tokens, absent from Claude's own usage block).
package aggregate

import "github.com/tracehub/tracehub/internal/tracemodel"

// usageFieldSet is one agent convention's set of key names for a token
// usage bucket, tried in order until a field is present.
type usageFieldSet struct {
	input, cachedRead, cachedCreate, output, reasoning []string
	model                                               []string
}

var knownUsageFields = usageFieldSet{
	input:        []string{"input_tokens", "inputTokens", "promptTokenCount"},
	cachedRead:   []string{"cache_read_input_tokens", "cached_input_tokens", "cachedContentTokenCount"},
	cachedCreate: []string{"cache_creation_input_tokens"},
	output:       []string{"output_tokens", "outputTokens", "candidatesTokenCount"},
	reasoning:    []string{"reasoning_output_tokens", "thoughtsTokenCount"},
	model:        []string{"model"},
}

// findUsageBlock locates the usage map within an event's raw JSON, trying
// the agent-convention locations observed across the pack: a top-level
// "usage" key, a nested "message.usage" (Claude), or "info.total_token_usage"
// (Codex's token_count event_msg).
func findUsageBlock(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	if u, ok := asMap(raw["usage"]); ok {
		return u
	}
	if u, ok := asMap(raw["usageMetadata"]); ok {
		return u
	}
	if msg, ok := asMap(raw["message"]); ok {
		if u, ok := asMap(msg["usage"]); ok {
			return u
		}
	}
	if info, ok := asMap(raw["info"]); ok {
		if u, ok := asMap(info["total_token_usage"]); ok {
			return u
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func firstIntField(m map[string]any, keys []string) int {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := asInt(v); ok {
				return n
			}
		}
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// eventUsage extracts one event's token buckets and detected model, or
// (TokenTotals{}, "", false) if the event carries no usage data.
func eventUsage(e *tracemodel.NormalizedEvent) (tracemodel.TokenTotals, string, bool) {
	block := findUsageBlock(e.Raw)
	if block == nil {
		return tracemodel.TokenTotals{}, "", false
	}
	totals := tracemodel.TokenTotals{
		InputTokens:           firstIntField(block, knownUsageFields.input),
		CachedReadTokens:      firstIntField(block, knownUsageFields.cachedRead),
		CachedCreateTokens:    firstIntField(block, knownUsageFields.cachedCreate),
		OutputTokens:          firstIntField(block, knownUsageFields.output),
		ReasoningOutputTokens: firstIntField(block, knownUsageFields.reasoning),
	}
	model := ""
	if e.Raw != nil {
		if msg, ok := asMap(e.Raw["message"]); ok {
			if m, ok := msg["model"].(string); ok {
				model = m
			}
		}
		if model == "" {
			if m, ok := e.Raw["model"].(string); ok {
				model = m
			}
		}
	}
	return totals, model, true
}

// TokenTotals sums the per-bucket token usage across every event in
// events that carries a recognizable usage block.
func TokenTotals(events []*tracemodel.NormalizedEvent) tracemodel.TokenTotals {
	var total tracemodel.TokenTotals
	for _, e := range events {
		usage, _, ok := eventUsage(e)
		if !ok {
			continue
		}
		total.InputTokens += usage.InputTokens
		total.CachedReadTokens += usage.CachedReadTokens
		total.CachedCreateTokens += usage.CachedCreateTokens
		total.OutputTokens += usage.OutputTokens
		total.ReasoningOutputTokens += usage.ReasoningOutputTokens
	}
	return total
}

// ModelTokenSharesTop groups outputTokens+reasoningOutputTokens by
// detected model per event and returns the top N by token count, each
// carrying its percentage of the grand total (spec.md §4.6
// modelTokenSharesTop).
func ModelTokenSharesTop(events []*tracemodel.NormalizedEvent, topN int) []tracemodel.ModelShare {
	byModel := make(map[string]int)
	var grandTotal int
	for _, e := range events {
		usage, model, ok := eventUsage(e)
		if !ok || model == "" {
			continue
		}
		tokens := usage.OutputTokens + usage.ReasoningOutputTokens
		byModel[model] += tokens
		grandTotal += tokens
	}

	shares := make([]tracemodel.ModelShare, 0, len(byModel))
	for model, tokens := range byModel {
		pct := 0.0
		if grandTotal > 0 {
			pct = float64(tokens) / float64(grandTotal) * 100
		}
		shares = append(shares, tracemodel.ModelShare{Model: model, Tokens: tokens, Percent: pct})
	}
	sortModelSharesDesc(shares)
	if topN > 0 && len(shares) > topN {
		shares = shares[:topN]
	}
	return shares
}

func sortModelSharesDesc(shares []tracemodel.ModelShare) {
	// Simple insertion sort: N is always small (top model list), and this
	// keeps the tie-break (alphabetical on equal token counts) explicit
	// without pulling in sort.Slice's closure overhead for a handful of
	// items.
	for i := 1; i < len(shares); i++ {
		j := i
		for j > 0 && less(shares[j], shares[j-1]) {
			shares[j], shares[j-1] = shares[j-1], shares[j]
			j--
		}
	}
}

func less(a, b tracemodel.ModelShare) bool {
	if a.Tokens != b.Tokens {
		return a.Tokens > b.Tokens
	}
	return a.Model < b.Model
}
