package parser

import (
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// PiParser recognizes and parses the Pi agent's JSONL transcript format:
// session / agent_start / turn_start / message_start / message_update /
// message_end / tool_execution_start|end / turn_end / agent_end, with tool
// calls nested under message_update.assistantMessageEvent
// (toolcall_start/delta/end) and text under text_start/delta/end.
//
// Grounded on _examples/other_examples' hal pi parser (internal/engine/pi
// parser.go), generalized from a running-totals accumulator into a
// per-line NormalizedEvent stream; accumulateUsage's totalTokens-wins /
// sum-fallback logic is kept verbatim.
type PiParser struct{}

// NewPiParser constructs the Pi agent parser.
func NewPiParser() *PiParser { return &PiParser{} }

func (p *PiParser) Name() string               { return "pi" }
func (p *PiParser) Agent() tracemodel.AgentKind { return tracemodel.AgentPi }

func (p *PiParser) CanParse(file DiscoveredFile, headText string) float64 {
	score := 0.0
	if strings.Contains(file.Path, ".pi/") || strings.Contains(file.Path, "/pi/sessions/") {
		score += 0.3
	}
	if strings.Contains(headText, `"assistantMessageEvent"`) {
		score += 0.4
	}
	if strings.Contains(headText, `"tool_execution_start"`) || strings.Contains(headText, `"agent_start"`) {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (p *PiParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentPi, Parser: p.Name()}
	var textBuf strings.Builder

	for _, line := range splitLines(fullText) {
		m, ok := decodeJSONLine(line.text)
		if !ok {
			continue
		}
		ts := guessTimestamp(m)
		typ := stringField(m, "type")

		switch typ {
		case "session":
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, line.offset)

		case "message_start":
			msg, _ := m["message"].(map[string]any)
			if stringField(msg, "role") == "assistant" {
				if model := stringField(msg, "model"); model != "" {
					b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: "model_init", Timestamp: ts, Raw: msg, TextBlocks: []string{model}}, line.offset)
				}
			}

		case "message_update":
			ame, _ := m["assistantMessageEvent"].(map[string]any)
			switch stringField(ame, "type") {
			case "toolcall_end":
				p.emitToolCallEnd(b, ame, ts, line.offset)
			case "text_end":
				if c := stringField(ame, "content"); c != "" {
					textBuf.WriteString(c)
				}
			}

		case "message_end":
			msg, _ := m["message"].(map[string]any)
			if stringField(msg, "role") == "assistant" && textBuf.Len() > 0 {
				b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventAssistant, RawType: typ, Role: "assistant", Timestamp: ts, Raw: msg, TextBlocks: []string{textBuf.String()}}, line.offset)
				textBuf.Reset()
			}

		case "tool_execution_end":
			if isErr, _ := m["isError"].(bool); isErr {
				toolName := stringField(m, "toolName")
				msg := toolName + " failed"
				if result, ok := m["result"].(map[string]any); ok {
					if content, ok := result["content"].([]any); ok {
						for _, item := range content {
							block, ok := item.(map[string]any)
							if !ok {
								continue
							}
							if t := stringField(block, "text"); t != "" {
								msg = t
								break
							}
						}
					}
				}
				b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventToolResult, RawType: typ, Timestamp: ts, HasError: true, ToolResultText: msg, ToolName: stringField(m, "toolName"), Raw: m}, line.offset)
			}

		case "turn_end", "agent_end", "agent_start", "turn_start", "tool_execution_start":
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, line.offset)

		default:
			if typ != "" {
				b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, line.offset)
			}
		}
	}

	out.Events = b.events
	return out
}

func (p *PiParser) emitToolCallEnd(b *eventBuilder, ame map[string]any, ts *int64, offset int64) {
	tc, _ := ame["toolCall"].(map[string]any)
	name := strings.ToLower(stringField(tc, "name"))
	b.add(&tracemodel.NormalizedEvent{
		Kind: tracemodel.EventToolUse, RawType: "toolcall_end", ToolName: name, Timestamp: ts,
		ToolArgsText: jsonCompact(tc["arguments"]), Raw: tc,
	}, offset)
}
