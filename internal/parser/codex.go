package parser

import (
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// CodexParser recognizes and parses OpenAI Codex CLI rollout JSONL files
// (~/.codex/sessions/YYYY/MM/DD/rollout-*.jsonl). Codex has shipped two
// wire shapes over time: a new {"type","payload"} envelope format, and an
// older bare-object-per-line format. Both are handled, mirroring the
// teacher's internal/monitor/codex_source.go dual dispatch
// (parseCodexEnvelope / parseCodexBareItem), generalized from a
// rolling-aggregate parse into a per-line NormalizedEvent stream.
type CodexParser struct{}

// NewCodexParser constructs the Codex agent parser.
func NewCodexParser() *CodexParser { return &CodexParser{} }

func (p *CodexParser) Name() string               { return "codex" }
func (p *CodexParser) Agent() tracemodel.AgentKind { return tracemodel.AgentCodex }

func (p *CodexParser) CanParse(file DiscoveredFile, headText string) float64 {
	score := 0.0
	if strings.Contains(file.Path, ".codex/sessions/") || strings.Contains(file.Path, ".codex\\sessions\\") {
		score += 0.5
	}
	if strings.HasPrefix(lastPathSegment(file.Path), "rollout-") {
		score += 0.2
	}
	if strings.Contains(headText, `"session_meta"`) || strings.Contains(headText, `"event_msg"`) ||
		strings.Contains(headText, `"response_item"`) {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func lastPathSegment(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (p *CodexParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentCodex, Parser: p.Name()}

	for i, line := range splitLines(fullText) {
		m, ok := decodeJSONLine(line.text)
		if !ok {
			continue
		}

		typ := stringField(m, "type")
		payload, hasPayload := m["payload"].(map[string]any)

		if hasPayload && typ != "" {
			p.parseEnvelope(b, typ, payload, line.offset, &out)
			continue
		}

		if i == 0 {
			if sid := stringField(m, "session_id"); sid != "" {
				out.SessionID = sid
			} else if sid := stringField(m, "conversation_id"); sid != "" {
				out.SessionID = sid
			}
		}
		p.parseBareItem(b, typ, m, line.offset)
	}

	out.Events = b.events
	return out
}

func (p *CodexParser) parseEnvelope(b *eventBuilder, typ string, payload map[string]any, offset int64, out *ParseOutput) {
	ts := guessTimestamp(payload)
	switch typ {
	case "session_meta":
		if sid := stringField(payload, "session_id"); sid != "" {
			out.SessionID = sid
		} else if sid := stringField(payload, "conversation_id"); sid != "" {
			out.SessionID = sid
		}
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: "session_meta", Timestamp: ts, Raw: payload}, offset)

	case "event_msg":
		inner := stringField(payload, "type")
		innerPayload, _ := payload["payload"].(map[string]any)
		p.parseEventMsg(b, inner, innerPayload, ts, offset)

	case "response_item":
		p.parseResponseItem(b, payload, ts, offset)

	case "env_context":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: "env_context", Timestamp: ts, Raw: payload}, offset)

	default:
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: payload}, offset)
	}
}

func (p *CodexParser) parseEventMsg(b *eventBuilder, inner string, payload map[string]any, ts *int64, offset int64) {
	switch inner {
	case "user_message":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventUser, RawType: inner, Timestamp: ts, Raw: payload, TextBlocks: textIfPresent(payload, "message")}, offset)
	case "agent_message":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventAssistant, RawType: inner, Timestamp: ts, Raw: payload, TextBlocks: textIfPresent(payload, "message")}, offset)
	case "reasoning":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventReasoning, RawType: inner, Timestamp: ts, Raw: payload}, offset)
	case "tool_call":
		p.emitToolCall(b, payload, ts, offset)
	default:
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: inner, Timestamp: ts, Raw: payload}, offset)
	}
}

func (p *CodexParser) parseResponseItem(b *eventBuilder, payload map[string]any, ts *int64, offset int64) {
	typ := stringField(payload, "type")
	switch typ {
	case "message":
		role := stringField(payload, "role")
		kind := tracemodel.EventAssistant
		if role == "user" {
			kind = tracemodel.EventUser
		}
		b.add(&tracemodel.NormalizedEvent{Kind: kind, RawType: typ, Role: role, Timestamp: ts, Raw: payload, TextBlocks: textIfPresent(payload, "content")}, offset)
	case "command_execution":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: "Bash", Timestamp: ts, ToolArgsText: stringField(payload, "command"), Raw: payload}, offset)
	case "file_change":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: "FileEdit", Timestamp: ts, Raw: payload}, offset)
	case "mcp_tool_call":
		name := stringField(payload, "tool_name")
		if name == "" {
			name = stringField(payload, "name")
		}
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: name, Timestamp: ts, Raw: payload}, offset)
	case "tool_call":
		p.emitToolCall(b, payload, ts, offset)
	case "reasoning":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventReasoning, RawType: typ, Timestamp: ts, Raw: payload}, offset)
	case "web_search":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: "WebSearch", Timestamp: ts, Raw: payload}, offset)
	default:
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: payload}, offset)
	}
}

func (p *CodexParser) parseBareItem(b *eventBuilder, typ string, m map[string]any, offset int64) {
	ts := guessTimestamp(m)
	switch typ {
	case "message":
		role := stringField(m, "role")
		kind := tracemodel.EventAssistant
		if role == "user" {
			kind = tracemodel.EventUser
		}
		b.add(&tracemodel.NormalizedEvent{Kind: kind, RawType: typ, Role: role, Timestamp: ts, Raw: m, TextBlocks: textIfPresent(m, "content")}, offset)
	case "command_execution":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: "Bash", Timestamp: ts, ToolArgsText: stringField(m, "command"), Raw: m}, offset)
	case "file_change":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: "FileEdit", Timestamp: ts, Raw: m}, offset)
	case "mcp_tool_call":
		name := stringField(m, "tool_name")
		if name == "" {
			name = stringField(m, "name")
		}
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: name, Timestamp: ts, Raw: m}, offset)
	case "tool_call":
		p.emitToolCall(b, m, ts, offset)
	case "reasoning":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventReasoning, RawType: typ, Timestamp: ts, Raw: m}, offset)
	case "web_search":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: typ, ToolName: "WebSearch", Timestamp: ts, Raw: m}, offset)
	case "session_meta", "token_count", "turn_started":
		b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, offset)
	default:
		if typ != "" {
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, offset)
		}
	}
}

func (p *CodexParser) emitToolCall(b *eventBuilder, m map[string]any, ts *int64, offset int64) {
	name := stringField(m, "tool_name")
	if name == "" {
		name = stringField(m, "name")
	}
	if name == "" {
		if tool, ok := m["tool"].(map[string]any); ok {
			name = stringField(tool, "name")
		}
	}
	b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolUse, RawType: "tool_call", ToolName: name, Timestamp: ts, Raw: m}, offset)
}

// textIfPresent extracts a string or []any-of-text-blocks field as a single
// TextBlocks slice, tolerating either shape since Codex's "content"/"message"
// fields vary between a plain string and an Anthropic-style block array.
func textIfPresent(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return []string{v}
		}
	case []any:
		return textFromContentBlocks(v)
	}
	return nil
}
