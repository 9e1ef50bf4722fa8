package parser

import (
	"encoding/json"
	"strings"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// GeminiParser recognizes and parses Google Gemini CLI session files
// (~/.gemini/tmp/<hash>/chats/session-*.json). Unlike the other agents,
// Gemini rewrites the entire file as a JSON array (or an object wrapping
// one under "messages"/"conversation"/"history") on every turn rather than
// appending JSONL lines, so the whole array is re-normalized on each parse
// and each message's array index doubles as its synthetic byte offset.
//
// Grounded on the teacher's internal/monitor/gemini_source.go
// (parseGeminiSession, geminiMessage/geminiContent/geminiPart,
// geminiContextWindow), generalized from a running SourceUpdate into a
// per-message NormalizedEvent stream.
type GeminiParser struct{}

// NewGeminiParser constructs the Gemini agent parser.
func NewGeminiParser() *GeminiParser { return &GeminiParser{} }

func (p *GeminiParser) Name() string               { return "gemini" }
func (p *GeminiParser) Agent() tracemodel.AgentKind { return tracemodel.AgentGemini }

func (p *GeminiParser) CanParse(file DiscoveredFile, headText string) float64 {
	score := 0.0
	if strings.Contains(file.Path, ".gemini/tmp/") {
		score += 0.5
	}
	if strings.HasPrefix(lastPathSegment(file.Path), "session-") && strings.HasSuffix(file.Path, ".json") {
		score += 0.2
	}
	trimmed := strings.TrimSpace(headText)
	if strings.HasPrefix(trimmed, "[") || (strings.HasPrefix(trimmed, "{") && strings.Contains(headText, `"usageMetadata"`)) {
		score += 0.2
	}
	if strings.Contains(headText, `"functionCall"`) || strings.Contains(headText, `"promptTokenCount"`) {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

type geminiMessage struct {
	Role          string        `json:"role"`
	Type          string        `json:"type"`
	Model         string        `json:"model,omitempty"`
	Content       geminiContent `json:"content"`
	Timestamp     string        `json:"timestamp,omitempty"`
	UsageMetadata *geminiUsage  `json:"usageMetadata,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	Thought      string              `json:"thought,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (p *GeminiParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentGemini, Parser: p.Name()}

	messages, ok := parseGeminiMessages([]byte(fullText))
	if !ok {
		out.ParseError = "unrecognized gemini session file shape"
		out.Events = b.events
		return out
	}

	for i, msg := range messages {
		offset := int64(i)
		ts := guessGeminiTimestamp(msg.Timestamp)
		role := msg.Role
		if role == "" {
			role = msg.Type
		}

		switch role {
		case "user":
			var texts []string
			for _, part := range msg.Content.Parts {
				if part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventUser, RawType: "message", Role: role, Timestamp: ts, TextBlocks: texts}, offset)

		case "model":
			var texts []string
			for _, part := range msg.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					b.add(&tracemodel.NormalizedEvent{
						Kind: tracemodel.EventToolUse, RawType: "functionCall", Role: role, Timestamp: ts,
						ToolName: part.FunctionCall.Name, ToolArgsText: string(part.FunctionCall.Args),
					}, offset)
				case part.Thought != "":
					b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventReasoning, RawType: "thought", Role: role, Timestamp: ts, TextBlocks: []string{part.Thought}}, offset)
				case part.Text != "":
					texts = append(texts, part.Text)
				}
			}
			if len(texts) > 0 {
				b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventAssistant, RawType: "message", Role: role, Timestamp: ts, TextBlocks: texts}, offset)
			}
		}

		if msg.Model != "" && out.SessionID == "" {
			// Gemini session files carry no explicit session id, so SessionID
			// stays empty; the model name is not used in its place.
			out.SessionID = ""
		}
	}

	out.Events = b.events
	return out
}

func parseGeminiMessages(data []byte) ([]geminiMessage, bool) {
	var messages []geminiMessage
	if err := json.Unmarshal(data, &messages); err == nil {
		return messages, true
	}
	var wrapper struct {
		Messages     []geminiMessage `json:"messages"`
		Conversation []geminiMessage `json:"conversation"`
		History      []geminiMessage `json:"history"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, false
	}
	switch {
	case wrapper.Messages != nil:
		return wrapper.Messages, true
	case wrapper.Conversation != nil:
		return wrapper.Conversation, true
	case wrapper.History != nil:
		return wrapper.History, true
	}
	return nil, false
}

func guessGeminiTimestamp(s string) *int64 {
	if s == "" {
		return nil
	}
	if ms, ok := parseTimestampString(s); ok {
		return &ms
	}
	return nil
}

// geminiContextWindow returns the known context window size for a Gemini
// model; the Gemini CLI itself hardcodes these per-family (see the
// teacher's comment citing packages/core/src/core/tokenLimits.ts).
func geminiContextWindow(model string) int {
	switch {
	case strings.HasPrefix(model, "gemini-2.5-"), strings.HasPrefix(model, "gemini-2.0-"):
		return 1_048_576
	case strings.HasPrefix(model, "gemini-3-"):
		return 1_000_000
	case strings.HasPrefix(model, "gemini-1.5-pro"):
		return 2_097_152
	case strings.HasPrefix(model, "gemini-1.5-flash"):
		return 1_048_576
	default:
		return 1_048_576
	}
}
