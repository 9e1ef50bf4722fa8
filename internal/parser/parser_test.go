package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

func TestRegistry_DispatchByPathAndContent(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name     string
		file     DiscoveredFile
		headText string
		want     string
	}{
		{
			name:     "claude by path and content",
			file:     DiscoveredFile{Path: "/home/u/.claude/projects/-home-u-proj/abc.jsonl"},
			headText: `{"type":"user","sessionId":"abc","uuid":"1"}`,
			want:     "claude",
		},
		{
			name:     "codex by path and envelope content",
			file:     DiscoveredFile{Path: "/home/u/.codex/sessions/2026/07/31/rollout-1-2.jsonl"},
			headText: `{"type":"session_meta","payload":{"session_id":"x"}}`,
			want:     "codex",
		},
		{
			name:     "gemini by path and json array content",
			file:     DiscoveredFile{Path: "/home/u/.gemini/tmp/abc123/chats/session-2026.json"},
			headText: `[{"role":"user","content":{"parts":[{"text":"hi"}]}}]`,
			want:     "gemini",
		},
		{
			name:     "pi by assistantMessageEvent marker",
			file:     DiscoveredFile{Path: "/home/u/.pi/sessions/x.jsonl"},
			headText: `{"type":"message_update","assistantMessageEvent":{"type":"text_end"}}`,
			want:     "pi",
		},
		{
			name:     "opencode by storage path",
			file:     DiscoveredFile{Path: "/home/u/.local/share/opencode/storage/x.jsonl"},
			headText: `{"type":"message.part.updated","sessionID":"s1"}`,
			want:     "opencode",
		},
		{
			name:     "unrecognized falls back to generic",
			file:     DiscoveredFile{Path: "/tmp/mystery.log"},
			headText: `{"hello":"world"}`,
			want:     "generic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Dispatch(tt.file, tt.headText)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestRegistry_ParserHintOverridesScore(t *testing.T) {
	r := NewRegistry()
	file := DiscoveredFile{Path: "/tmp/ambiguous.jsonl", ParserHint: tracemodel.AgentCodex}
	p := r.Dispatch(file, `{"type":"user","sessionId":"abc"}`)
	require.NotNil(t, p)
	assert.Equal(t, "codex", p.Name())
}

func TestRegistry_GenericAlwaysScoresPointZeroOne(t *testing.T) {
	g := NewGenericParser()
	assert.Equal(t, 0.01, g.CanParse(DiscoveredFile{}, ""))
}

func TestClaudeParser_ParsesUserAssistantAndToolPair(t *testing.T) {
	jsonl := `{"type":"user","sessionId":"s1","uuid":"u1","message":{"role":"user","content":[{"type":"text","text":"hello"}]}}
{"type":"assistant","sessionId":"s1","message":{"role":"assistant","content":[{"type":"text","text":"hi there"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}
{"type":"user","sessionId":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"file.txt"}]}}
`
	p := NewClaudeParser()
	out := p.Parse("trace1", DiscoveredFile{}, jsonl)

	require.Equal(t, "s1", out.SessionID)
	require.Len(t, out.Events, 4)

	assert.Equal(t, tracemodel.EventUser, out.Events[0].Kind)
	assert.Equal(t, tracemodel.EventAssistant, out.Events[1].Kind)
	assert.Equal(t, tracemodel.EventToolUse, out.Events[2].Kind)
	assert.Equal(t, "Bash", out.Events[2].ToolName)
	assert.Equal(t, tracemodel.EventToolResult, out.Events[3].Kind)
	assert.Equal(t, "t1", out.Events[3].ToolUseID)
	assert.Equal(t, "Bash", out.Events[3].ToolName, "tool name should be carried from the matching tool_use")

	for i, e := range out.Events {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, "trace1", e.TraceID)
		assert.NotEmpty(t, e.ID)
	}
}

func TestClaudeParser_SkipsMalformedLines(t *testing.T) {
	jsonl := "not json\n{\"type\":\"user\",\"message\":{\"role\":\"user\",\"content\":[{\"type\":\"text\",\"text\":\"ok\"}]}}\n"
	p := NewClaudeParser()
	out := p.Parse("trace1", DiscoveredFile{}, jsonl)
	require.Len(t, out.Events, 1)
	assert.Equal(t, 0, out.Events[0].Index, "index must equal position among produced events, not raw line number")
}

func TestCodexParser_HandlesEnvelopeAndBareFormats(t *testing.T) {
	envelope := `{"type":"session_meta","payload":{"session_id":"sess-1"}}
{"type":"event_msg","payload":{"type":"user_message","payload":{"message":"do the thing"}}}
{"type":"event_msg","payload":{"type":"tool_call","payload":{"name":"Bash"}}}
`
	p := NewCodexParser()
	out := p.Parse("t1", DiscoveredFile{}, envelope)
	require.Equal(t, "sess-1", out.SessionID)
	require.Len(t, out.Events, 3)
	assert.Equal(t, tracemodel.EventToolUse, out.Events[2].Kind)
	assert.Equal(t, "Bash", out.Events[2].ToolName)

	bare := `{"type":"command_execution","command":"ls -la"}
{"type":"file_change"}
`
	out2 := p.Parse("t2", DiscoveredFile{}, bare)
	require.Len(t, out2.Events, 2)
	assert.Equal(t, "Bash", out2.Events[0].ToolName)
	assert.Equal(t, "FileEdit", out2.Events[1].ToolName)
}

func TestCursorParser_SkipsThinkingAndWhitespaceOnlyAssistant(t *testing.T) {
	jsonl := `{"type":"thinking","subtype":"delta"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"   "}]}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"real answer"}]}}
`
	p := NewCursorParser()
	out := p.Parse("t1", DiscoveredFile{}, jsonl)
	require.Len(t, out.Events, 1)
	assert.Equal(t, []string{"real answer"}, out.Events[0].TextBlocks)
}

func TestCursorParser_ToolCallStartedCompletedPairing(t *testing.T) {
	jsonl := `{"type":"tool_call","subtype":"started","call_id":"c1","tool_call":{"shellToolCall":{"command":"ls"}}}
{"type":"tool_call","subtype":"completed","call_id":"c1","tool_call":{"shellToolCall":{"output":"a.txt"}}}
`
	p := NewCursorParser()
	out := p.Parse("t1", DiscoveredFile{}, jsonl)
	require.Len(t, out.Events, 2)
	assert.Equal(t, tracemodel.EventToolUse, out.Events[0].Kind)
	assert.Equal(t, tracemodel.EventToolResult, out.Events[1].Kind)
	assert.Equal(t, "shellToolCall", out.Events[1].ToolName)
}

func TestGeminiParser_ParsesTopLevelArray(t *testing.T) {
	data := `[
		{"role":"user","content":{"parts":[{"text":"hi"}]}},
		{"role":"model","content":{"parts":[{"text":"hello back"}]},"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":5}},
		{"role":"model","content":{"parts":[{"functionCall":{"name":"read_file"}}]}}
	]`
	p := NewGeminiParser()
	out := p.Parse("t1", DiscoveredFile{}, data)
	require.Len(t, out.Events, 3)
	assert.Equal(t, tracemodel.EventUser, out.Events[0].Kind)
	assert.Equal(t, tracemodel.EventAssistant, out.Events[1].Kind)
	assert.Equal(t, tracemodel.EventToolUse, out.Events[2].Kind)
	assert.Equal(t, "read_file", out.Events[2].ToolName)
}

func TestGeminiParser_UnrecognizedShapeSetsParseError(t *testing.T) {
	p := NewGeminiParser()
	out := p.Parse("t1", DiscoveredFile{}, `"just a string"`)
	assert.NotEmpty(t, out.ParseError)
	assert.Empty(t, out.Events)
}

func TestPiParser_AccumulatesTextAcrossDeltasAndEmitsToolCalls(t *testing.T) {
	jsonl := `{"type":"message_start","message":{"role":"assistant","model":"pi-large"}}
{"type":"message_update","assistantMessageEvent":{"type":"text_end","content":"hello "}}
{"type":"message_update","assistantMessageEvent":{"type":"toolcall_end","toolCall":{"name":"Bash","arguments":{"command":"ls"}}}}
{"type":"message_end","message":{"role":"assistant"}}
`
	p := NewPiParser()
	out := p.Parse("t1", DiscoveredFile{}, jsonl)
	var sawTool, sawAssistant bool
	for _, e := range out.Events {
		if e.Kind == tracemodel.EventToolUse {
			sawTool = true
			assert.Equal(t, "bash", e.ToolName)
		}
		if e.Kind == tracemodel.EventAssistant {
			sawAssistant = true
			assert.Equal(t, []string{"hello "}, e.TextBlocks)
		}
	}
	assert.True(t, sawTool)
	assert.True(t, sawAssistant)
}

func TestOpenCodeParser_ExtractsPriorityTextAndToolFields(t *testing.T) {
	jsonl := `{"type":"message.part.updated","sessionID":"s1","part":{"type":"text","text":"hi"}}
{"type":"message.part.updated","sessionID":"s1","part":{"type":"tool","tool":"grep","input":{"pattern":"foo"}}}
`
	p := NewOpenCodeParser()
	out := p.Parse("t1", DiscoveredFile{}, jsonl)
	require.Len(t, out.Events, 2)
	assert.Equal(t, []string{"hi"}, out.Events[0].TextBlocks)
	assert.Equal(t, "grep", out.Events[1].ToolName)
}

func TestGenericParser_NeverErrorsOnUnknownShape(t *testing.T) {
	jsonl := `{"whatever":"value"}
not even json
{"type":"custom_event","role":"assistant","text":"hi"}
`
	p := NewGenericParser()
	out := p.Parse("t1", DiscoveredFile{}, jsonl)
	require.Len(t, out.Events, 3)
	assert.Equal(t, "unknown", out.Events[0].RawType)
	assert.Equal(t, "unparsed", out.Events[1].RawType)
	assert.Equal(t, []string{"hi"}, out.Events[2].TextBlocks)
}
