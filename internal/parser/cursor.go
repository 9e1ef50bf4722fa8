package parser

import (
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// CursorParser recognizes and parses Cursor Agent CLI's stream-json
// transcript format. Cursor reuses Claude's stream-json shape almost
// verbatim but emits "thinking" events (skipped, no user-visible content)
// and "tool_call" events with subtypes "started"/"completed" instead of
// Claude's separate tool_use/tool_result event types.
//
// Grounded on _examples/other_examples' perles cursor parser
// (providers/cursor/parser.go): thinking-skip, tool_call subtype mapping,
// and context-exhaustion detection via error.code=="invalid_request" +
// "Prompt is too long".
type CursorParser struct{}

// NewCursorParser constructs the Cursor agent parser.
func NewCursorParser() *CursorParser { return &CursorParser{} }

func (p *CursorParser) Name() string               { return "cursor" }
func (p *CursorParser) Agent() tracemodel.AgentKind { return tracemodel.AgentCursor }

func (p *CursorParser) CanParse(file DiscoveredFile, headText string) float64 {
	score := 0.0
	if strings.Contains(file.Path, ".cursor/") || strings.Contains(file.Path, "cursor-agent") {
		score += 0.4
	}
	if strings.Contains(headText, `"thinking"`) {
		score += 0.2
	}
	if strings.Contains(headText, `"tool_call"`) && (strings.Contains(headText, `"started"`) || strings.Contains(headText, `"completed"`)) {
		score += 0.3
	}
	// Cursor shares Claude's "sessionId"/content-block shape, so without a
	// path or subtype hint it is indistinguishable from Claude; keep the
	// unconditional score low so ClaudeParser wins ties on content alone.
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (p *CursorParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentCursor, Parser: p.Name()}
	toolNameByCallID := map[string]string{}

	for _, line := range splitLines(fullText) {
		m, ok := decodeJSONLine(line.text)
		if !ok {
			continue
		}
		if out.SessionID == "" {
			if sid := stringField(m, "session_id"); sid != "" {
				out.SessionID = sid
			} else if sid := stringField(m, "sessionId"); sid != "" {
				out.SessionID = sid
			}
		}
		ts := guessTimestamp(m)
		typ := stringField(m, "type")
		subType := stringField(m, "subtype")

		switch typ {
		case "thinking":
			continue // no user-visible content

		case "tool_call":
			callID := stringField(m, "call_id")
			toolCall, _ := m["tool_call"].(map[string]any)
			name := toolCallName(toolCall)
			switch subType {
			case "started":
				toolNameByCallID[callID] = name
				b.add(&tracemodel.NormalizedEvent{
					Kind: tracemodel.EventToolUse, RawType: typ, Timestamp: ts, SessionID: out.SessionID,
					ToolUseID: callID, ToolName: name, ToolArgsText: jsonCompact(toolCall), Raw: m,
				}, line.offset)
			case "completed":
				b.add(&tracemodel.NormalizedEvent{
					Kind: tracemodel.EventToolResult, RawType: typ, Timestamp: ts, SessionID: out.SessionID,
					ToolUseID: callID, ToolName: toolNameByCallID[callID], ToolResultText: jsonCompact(toolCall), Raw: m,
				}, line.offset)
			}

		case "user", "assistant":
			msg, _ := m["message"].(map[string]any)
			role := stringField(msg, "role")
			if role == "" {
				role = typ
			}
			content, _ := msg["content"].([]any)
			var texts []string
			for _, t := range textFromContentBlocks(content) {
				texts = append(texts, strings.TrimSpace(t))
			}
			hasTool := len(toolUseBlocksFrom(content)) > 0
			if len(texts) == 0 && !hasTool {
				continue // whitespace-only assistant message between thinking/output
			}
			if len(texts) > 0 {
				kind := tracemodel.EventUser
				if typ == "assistant" {
					kind = tracemodel.EventAssistant
				}
				e := &tracemodel.NormalizedEvent{
					Kind: kind, RawType: typ, Role: role, Timestamp: ts, SessionID: out.SessionID,
					TextBlocks: texts, Raw: m,
				}
				if errObj, ok := m["error"].(map[string]any); ok && stringField(errObj, "code") == "invalid_request" {
					joined := strings.Join(texts, " ")
					if strings.Contains(joined, "Prompt is too long") {
						e.HasError = true
						e.ToolResultText = "context_exceeded"
					}
				}
				b.add(e, line.offset)
			}
			for _, tu := range toolUseBlocksFrom(content) {
				b.add(&tracemodel.NormalizedEvent{
					Kind: tracemodel.EventToolUse, RawType: typ, Role: role, Timestamp: ts, SessionID: out.SessionID,
					ToolUseID: tu.ID, ToolName: tu.Name, ToolArgsText: jsonCompact(tu.Input), Raw: m,
				}, line.offset)
			}

		case "system":
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventSystem, RawType: typ, Timestamp: ts, Raw: m}, line.offset)

		default:
			if typ != "" {
				b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, line.offset)
			}
		}
	}

	out.Events = b.events
	return out
}

// toolCallName extracts the tool name from Cursor's polymorphic tool_call
// body (one of shellToolCall/mcpToolCall/editToolCall/readToolCall).
func toolCallName(toolCall map[string]any) string {
	for _, key := range []string{"shellToolCall", "mcpToolCall", "editToolCall", "readToolCall"} {
		if _, ok := toolCall[key]; ok {
			return key
		}
	}
	return stringField(toolCall, "name")
}
