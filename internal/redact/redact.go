// Package redact implements spec.md §4.3's redactor: cycle-safe,
// reference-sharing-preserving replacement of sensitive strings across an
// arbitrary JSON-like graph, plus a normal event-field redaction entry
// point (RedactEvent) that the scheduler applies to parsed events before
// they reach the index store.
//
// Grounded on the teacher's internal/session/privacy.go (PrivacyFilter):
// the "mask a few named fields, fall back to short SHA-256 hashes for
// opaque identifiers" idea is kept for ShortHash, while the key/value
// pattern-matching walk over arbitrary maps is new (the teacher never
// redacts an open-ended JSON graph, only a fixed SessionState struct).
package redact

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

const (
	fallbackKeyPattern   = `(?i)(password|secret|token|api[_-]?key|authorization|cookie)`
	fallbackValuePattern = `(?i)sk-[a-z0-9]{20,}`
)

// Redactor compiles a config.RedactionConfig once and applies it to events
// and arbitrary JSON-like values repeatedly.
type Redactor struct {
	enabled      bool
	replacement  string
	keyPattern   *regexp.Regexp
	valuePattern *regexp.Regexp
}

// New compiles a Redactor from config, falling back to well-known patterns
// if the configured ones are empty or fail to compile (spec.md §4.3).
// Redaction is enabled iff mode != "off" or alwaysOn is set; once enabled,
// both keyPattern and valuePattern matching apply together, exactly as
// spec.md §4.3's algorithm describes (it draws no further distinction
// between "key-only" and "value-only" redaction).
func New(cfg config.RedactionConfig) *Redactor {
	r := &Redactor{
		enabled:     cfg.Mode != "off" || cfg.AlwaysOn,
		replacement: cfg.Replacement,
	}
	if r.replacement == "" {
		r.replacement = "[REDACTED]"
	}
	r.keyPattern = compileOrFallback(cfg.KeyPattern, fallbackKeyPattern)
	r.valuePattern = compileOrFallback(cfg.ValuePattern, fallbackValuePattern)
	return r
}

func compileOrFallback(pattern, fallback string) *regexp.Regexp {
	if pattern != "" {
		if re, err := regexp.Compile(pattern); err == nil {
			return re
		}
	}
	re, err := regexp.Compile(fallback)
	if err != nil {
		// The fallback patterns are compile-time constants under our
		// control; a failure here means a programming error, not bad
		// input, so panicking is appropriate (mirrors a MustCompile).
		panic(fmt.Sprintf("redact: fallback pattern %q failed to compile: %v", fallback, err))
	}
	return re
}

// Enabled reports whether this Redactor will transform anything.
func (r *Redactor) Enabled() bool { return r.enabled }

// RedactEvent returns a copy of event with all user-visible string fields
// and the Raw map redacted, and SearchText recomputed from the redacted
// fields (spec.md §4.3's redactEvent contract).
func (r *Redactor) RedactEvent(event *tracemodel.NormalizedEvent) *tracemodel.NormalizedEvent {
	if !r.enabled || event == nil {
		return event
	}

	out := *event
	out.Preview = r.redactString(event.Preview)
	out.TocLabel = r.redactString(event.TocLabel)
	out.ToolArgsText = r.redactString(event.ToolArgsText)
	out.ToolResultText = r.redactString(event.ToolResultText)
	if len(event.TextBlocks) > 0 {
		out.TextBlocks = make([]string, len(event.TextBlocks))
		for i, t := range event.TextBlocks {
			out.TextBlocks[i] = r.redactString(t)
		}
	}
	if event.Raw != nil {
		visited := make(map[uintptr]any)
		out.Raw, _ = r.redactValue(event.Raw, visited).(map[string]any)
	}

	var sb strings.Builder
	sb.WriteString(out.Preview)
	for _, t := range out.TextBlocks {
		sb.WriteByte(' ')
		sb.WriteString(t)
	}
	sb.WriteByte(' ')
	sb.WriteString(event.RawType)
	sb.WriteByte(' ')
	sb.WriteString(out.ToolArgsText)
	sb.WriteByte(' ')
	sb.WriteString(out.ToolResultText)
	out.SearchText = strings.ToLower(sb.String())

	return &out
}

// redactString replaces every valuePattern match with the replacement
// token.
func (r *Redactor) redactString(s string) string {
	if s == "" {
		return s
	}
	return r.valuePattern.ReplaceAllString(s, r.replacement)
}

// redactValue walks an arbitrary JSON-like value (map[string]any, []any,
// string, or scalar), replacing key-matched map values wholesale and
// pattern-matching string scalars, with a cycle guard keyed by object
// identity so shared references are redacted once and the output
// preserves the same sharing structure as the input.
//
// Go maps/slices don't expose a stable pointer usable as a map key via
// reflection without unsafe, so the guard here keys on the map/slice
// header's data pointer via a type switch + reflect, which is sufficient
// to detect true aliasing (two variables referencing the identical
// underlying map or slice) without false positives on equal-but-distinct
// structures.
func (r *Redactor) redactValue(v any, visited map[uintptr]any) any {
	switch val := v.(type) {
	case map[string]any:
		if ptr, ok := mapIdentity(val); ok {
			if cached, seen := visited[ptr]; seen {
				return cached
			}
			out := make(map[string]any, len(val))
			visited[ptr] = out
			for k, vv := range val {
				if r.keyPattern.MatchString(k) {
					out[k] = r.replacement
					continue
				}
				out[k] = r.redactValue(vv, visited)
			}
			return out
		}
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if r.keyPattern.MatchString(k) {
				out[k] = r.replacement
				continue
			}
			out[k] = r.redactValue(vv, visited)
		}
		return out

	case []any:
		if ptr, ok := sliceIdentity(val); ok {
			if cached, seen := visited[ptr]; seen {
				return cached
			}
			out := make([]any, len(val))
			visited[ptr] = out
			for i, vv := range val {
				out[i] = r.redactValue(vv, visited)
			}
			return out
		}
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = r.redactValue(vv, visited)
		}
		return out

	case string:
		return r.redactString(val)

	default:
		return val
	}
}

// ShortHash returns a truncated SHA-256 hex digest, used for masking
// opaque identifiers (session ids) rather than for eventId/traceId
// derivation, which uses tracemodel.StableHash instead. Grounded on the
// teacher's privacy.go shortHash.
func ShortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
