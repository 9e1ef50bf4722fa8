package parser

import (
	"encoding/json"
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// splitLines splits a JSONL file's full text into non-empty lines,
// preserving each line's byte offset from the start of the file so
// NormalizedEvent.Offset can seed incremental reparse.
func splitLines(fullText string) []lineAt {
	lines := make([]lineAt, 0, 64)
	offset := int64(0)
	for {
		idx := strings.IndexByte(fullText, '\n')
		var line string
		if idx < 0 {
			line = fullText
		} else {
			line = fullText[:idx]
		}
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) != "" {
			lines = append(lines, lineAt{text: trimmed, offset: offset})
		}
		if idx < 0 {
			break
		}
		consumed := int64(idx + 1)
		offset += consumed
		fullText = fullText[idx+1:]
	}
	return lines
}

type lineAt struct {
	text   string
	offset int64
}

// eventBuilder accumulates NormalizedEvents for one trace, assigning
// sequential indices and stable IDs as it goes.
type eventBuilder struct {
	traceID string
	events  []*tracemodel.NormalizedEvent
}

func newEventBuilder(traceID string) *eventBuilder {
	return &eventBuilder{traceID: traceID}
}

// add finalizes and appends one event: assigns Index/ID, fills Preview and
// SearchText from TextBlocks/ToolArgsText/ToolResultText if not already set.
func (b *eventBuilder) add(e *tracemodel.NormalizedEvent, offset int64) *tracemodel.NormalizedEvent {
	e.Index = len(b.events)
	e.Offset = offset
	e.TraceID = b.traceID
	e.ID = tracemodel.EventID(b.traceID, e.Index, offset)

	if e.Preview == "" {
		switch {
		case len(e.TextBlocks) > 0:
			e.Preview = tracemodel.TruncatePreview(strings.Join(e.TextBlocks, "\n"))
		case e.ToolResultText != "":
			e.Preview = tracemodel.TruncatePreview(e.ToolResultText)
		case e.ToolArgsText != "":
			e.Preview = tracemodel.TruncatePreview(e.ToolName + " " + e.ToolArgsText)
		default:
			e.Preview = tracemodel.TruncatePreview(e.RawType)
		}
	}

	var sb strings.Builder
	sb.WriteString(e.Preview)
	for _, t := range e.TextBlocks {
		sb.WriteByte(' ')
		sb.WriteString(t)
	}
	if e.ToolName != "" {
		sb.WriteByte(' ')
		sb.WriteString(e.ToolName)
	}
	if e.ToolArgsText != "" {
		sb.WriteByte(' ')
		sb.WriteString(e.ToolArgsText)
	}
	if e.ToolResultText != "" {
		sb.WriteByte(' ')
		sb.WriteString(e.ToolResultText)
	}
	e.SearchText = strings.ToLower(sb.String())

	b.events = append(b.events, e)
	return e
}

// guessTimestamp tries a priority-ordered list of map keys commonly used for
// event timestamps across agent formats and returns a Unix-millis pointer if
// one parses, per spec.md §4.2's "timestamp guess" rule.
func guessTimestamp(m map[string]any) *int64 {
	keys := []string{"timestamp", "ts", "time", "created_at", "createdAt", "event_timestamp"}
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if ms, ok := parseTimestampValue(v); ok {
			return &ms
		}
	}
	return nil
}

func parseTimestampValue(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		return parseTimestampString(t)
	case float64:
		// Heuristic: treat values above 10^12 as already-millis, else seconds.
		if t > 1e12 {
			return int64(t), true
		}
		return int64(t * 1000), true
	}
	return 0, false
}

// decodeJSONLine unmarshals one JSONL line into a generic map, skipping
// lines that are not a JSON object (malformed or truncated tail lines are
// tolerated per spec.md §7, not fatal to the whole file).
func decodeJSONLine(line string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return nil, false
	}
	return m, true
}

// stringField reads a string field from a decoded JSON map, tolerating
// absence or wrong type.
func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// textFromContentBlocks extracts "text"-typed block strings from an
// Anthropic-style content array (used by Claude and Cursor, whose stream
// formats share this shape).
func textFromContentBlocks(content []any) []string {
	var out []string
	for _, c := range content {
		block, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if stringField(block, "type") == "text" {
			if t := stringField(block, "text"); strings.TrimSpace(t) != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// toolUseBlock is one tool_use block (id, name, input) of an
// Anthropic-style content array, as extracted by toolUseBlocksFrom.
type toolUseBlock struct {
	ID    string
	Name  string
	Input any
}

func toolUseBlocksFrom(content []any) []toolUseBlock {
	var out []toolUseBlock
	for _, c := range content {
		block, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if stringField(block, "type") != "tool_use" {
			continue
		}
		out = append(out, toolUseBlock{
			ID:    stringField(block, "id"),
			Name:  stringField(block, "name"),
			Input: block["input"],
		})
	}
	return out
}

func jsonCompact(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
