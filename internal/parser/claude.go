package parser

import (
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// ClaudeParser recognizes and parses Claude Code's `~/.claude/projects/**/*.jsonl`
// transcript format: one JSON object per line, `type` in
// {"user","assistant","system","summary"}, assistant lines carrying a
// nested `message.content` block array (text/tool_use/thinking).
//
// Grounded on the teacher's internal/monitor/jsonl.go (ParseSessionJSONL,
// parseAssistantMessage, encodeProjectPath/DecodeProjectPath), generalized
// from a rolling-aggregate parse into a full per-line NormalizedEvent
// stream per spec.md §4.2.
type ClaudeParser struct{}

// NewClaudeParser constructs the Claude agent parser.
func NewClaudeParser() *ClaudeParser { return &ClaudeParser{} }

func (p *ClaudeParser) Name() string                  { return "claude" }
func (p *ClaudeParser) Agent() tracemodel.AgentKind    { return tracemodel.AgentClaude }

// CanParse scores path and content heuristics: Claude sessions live under a
// ".claude/projects" directory tree and each line carries a "sessionId" key
// and a type in the known set.
func (p *ClaudeParser) CanParse(file DiscoveredFile, headText string) float64 {
	score := 0.0
	if strings.Contains(file.Path, ".claude/projects/") || strings.Contains(file.Path, ".claude\\projects\\") {
		score += 0.5
	}
	if strings.Contains(headText, `"sessionId"`) {
		score += 0.2
	}
	if strings.Contains(headText, `"type":"user"`) || strings.Contains(headText, `"type":"assistant"`) ||
		strings.Contains(headText, `"type": "user"`) || strings.Contains(headText, `"type": "assistant"`) {
		score += 0.2
	}
	if strings.Contains(headText, `"uuid"`) {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (p *ClaudeParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentClaude, Parser: p.Name()}
	toolNameByUseID := map[string]string{}

	for _, line := range splitLines(fullText) {
		m, ok := decodeJSONLine(line.text)
		if !ok {
			continue
		}
		if out.SessionID == "" {
			if sid := stringField(m, "sessionId"); sid != "" {
				out.SessionID = sid
			}
		}
		ts := guessTimestamp(m)
		typ := stringField(m, "type")

		switch typ {
		case "summary":
			e := &tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}
			if s := stringField(m, "summary"); s != "" {
				e.TextBlocks = []string{s}
			}
			b.add(e, line.offset)

		case "user", "assistant":
			msg, _ := m["message"].(map[string]any)
			role := stringField(msg, "role")
			if role == "" {
				role = typ
			}
			content, _ := msg["content"].([]any)

			if texts := textFromContentBlocks(content); len(texts) > 0 {
				kind := tracemodel.EventUser
				if typ == "assistant" {
					kind = tracemodel.EventAssistant
				}
				e := &tracemodel.NormalizedEvent{
					Kind: kind, RawType: typ, Role: role, Timestamp: ts,
					SessionID: out.SessionID, TextBlocks: texts, Raw: m,
				}
				b.add(e, line.offset)
			}
			if typ == "assistant" {
				for _, tu := range toolUseBlocksFrom(content) {
					toolNameByUseID[tu.ID] = tu.Name
					e := &tracemodel.NormalizedEvent{
						Kind: tracemodel.EventToolUse, RawType: typ, Role: role, Timestamp: ts,
						SessionID: out.SessionID, ToolUseID: tu.ID, ToolName: tu.Name,
						ToolArgsText: jsonCompact(tu.Input), Raw: m,
					}
					b.add(e, line.offset)
				}
			}
			if typ == "user" {
				for _, block := range content {
					bm, ok := block.(map[string]any)
					if !ok || stringField(bm, "type") != "tool_result" {
						continue
					}
					useID := stringField(bm, "tool_use_id")
					e := &tracemodel.NormalizedEvent{
						Kind: tracemodel.EventToolResult, RawType: typ, Role: role, Timestamp: ts,
						SessionID: out.SessionID, ToolUseID: useID, ToolName: toolNameByUseID[useID],
						ToolResultText: jsonCompact(bm["content"]), HasError: boolField(bm, "is_error"), Raw: m,
					}
					b.add(e, line.offset)
				}
			}

		case "system":
			e := &tracemodel.NormalizedEvent{Kind: tracemodel.EventSystem, RawType: typ, Timestamp: ts, Raw: m}
			if s := stringField(m, "content"); s != "" {
				e.TextBlocks = []string{s}
			}
			b.add(e, line.offset)

		default:
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Timestamp: ts, Raw: m}, line.offset)
		}
	}

	out.Events = b.events
	return out
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
