package parser

import (
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// OpenCodeParser recognizes and parses OpenCode's JSONL session format:
// one JSON object per line carrying a "type" discriminator (message/
// message.part.updated/tool) and a "part" object whose own "type"
// (text/tool/reasoning/step-start/step-finish) determines the rendered
// shape, with text content keyed by a field-priority list rather than one
// fixed field name.
//
// Grounded on _examples/other_examples' go-agent-v2 event_normalizer.go
// (NormalizeEvent/classifyEvent): the field-priority text extraction
// (delta > text > content > output > message) and the big switch-based
// type classification are both carried over, re-targeted at OpenCode's
// message/part vocabulary instead of codex's.
type OpenCodeParser struct{}

// NewOpenCodeParser constructs the OpenCode agent parser.
func NewOpenCodeParser() *OpenCodeParser { return &OpenCodeParser{} }

func (p *OpenCodeParser) Name() string               { return "opencode" }
func (p *OpenCodeParser) Agent() tracemodel.AgentKind { return tracemodel.AgentOpenCode }

func (p *OpenCodeParser) CanParse(file DiscoveredFile, headText string) float64 {
	score := 0.0
	if strings.Contains(file.Path, ".local/share/opencode/") || strings.Contains(file.Path, "/opencode/storage/") {
		score += 0.5
	}
	if strings.Contains(headText, `"message.part.updated"`) || strings.Contains(headText, `"message.updated"`) {
		score += 0.3
	}
	if strings.Contains(headText, `"providerID"`) || strings.Contains(headText, `"sessionID"`) {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (p *OpenCodeParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentOpenCode, Parser: p.Name()}

	for _, line := range splitLines(fullText) {
		m, ok := decodeJSONLine(line.text)
		if !ok {
			continue
		}
		if out.SessionID == "" {
			if sid := stringField(m, "sessionID"); sid != "" {
				out.SessionID = sid
			}
		}
		ts := guessTimestamp(m)
		typ := stringField(m, "type")
		kind, role := classifyOpenCodeEvent(typ)

		part, hasPart := m["part"].(map[string]any)
		var (
			text     = extractPriorityText(m)
			toolName string
			toolArgs string
			hasError bool
		)
		if hasPart {
			if partText := extractPriorityText(part); partText != "" {
				text = partText
			}
			switch stringField(part, "type") {
			case "tool":
				toolName = stringField(part, "tool")
				toolArgs = jsonCompact(part["input"])
			case "reasoning":
				kind = tracemodel.EventReasoning
			}
			if errVal, ok := part["error"]; ok && errVal != nil {
				hasError = true
			}
		}

		e := &tracemodel.NormalizedEvent{
			Kind: kind, RawType: typ, Role: role, Timestamp: ts, SessionID: out.SessionID,
			ToolName: toolName, ToolArgsText: toolArgs, HasError: hasError, Raw: m,
		}
		if text != "" {
			e.TextBlocks = []string{text}
		}
		b.add(e, line.offset)
	}

	out.Events = b.events
	return out
}

// extractPriorityText mirrors the teacher's field-priority text extraction:
// delta > text > content > output > message.
func extractPriorityText(m map[string]any) string {
	for _, key := range []string{"delta", "text", "content", "output", "message"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// classifyOpenCodeEvent maps OpenCode's message/part type vocabulary to an
// event kind and role, the same switch-table shape as the teacher's
// classifyEvent.
func classifyOpenCodeEvent(typ string) (tracemodel.EventKind, string) {
	switch typ {
	case "message.updated", "message.part.updated":
		return tracemodel.EventAssistant, "assistant"
	case "message.user":
		return tracemodel.EventUser, "user"
	case "tool", "tool.updated":
		return tracemodel.EventToolUse, ""
	case "step-start", "step-finish", "session.idle", "session.updated":
		return tracemodel.EventMeta, ""
	case "error":
		return tracemodel.EventMeta, ""
	default:
		return tracemodel.EventMeta, ""
	}
}
