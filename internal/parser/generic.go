package parser

import (
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// GenericParser is the universal fallback: it recognizes nothing in
// particular (fixed confidence 0.01, per spec.md §4.2) and emits one meta
// event per JSON line, best-effort extracting the type, role, session id,
// timestamp and text fields it recognizes by common name so unrecognized
// or novel agent formats still produce a browsable trace instead of an
// unparseable one. Tool fields are not extracted.
type GenericParser struct{}

// NewGenericParser constructs the generic fallback parser.
func NewGenericParser() *GenericParser { return &GenericParser{} }

func (p *GenericParser) Name() string               { return "generic" }
func (p *GenericParser) Agent() tracemodel.AgentKind { return tracemodel.AgentUnknown }

// CanParse always returns the fixed fallback confidence; every other
// parser's score must exceed it for the file to be scored as theirs.
func (p *GenericParser) CanParse(file DiscoveredFile, headText string) float64 {
	return 0.01
}

func (p *GenericParser) Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput {
	b := newEventBuilder(traceID)
	out := ParseOutput{Agent: tracemodel.AgentUnknown, Parser: p.Name()}

	for _, line := range splitLines(fullText) {
		m, ok := decodeJSONLine(line.text)
		if !ok {
			b.add(&tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: "unparsed", Preview: tracemodel.TruncatePreview(line.text)}, line.offset)
			continue
		}
		if out.SessionID == "" {
			for _, key := range []string{"sessionId", "session_id", "sessionID"} {
				if sid := stringField(m, key); sid != "" {
					out.SessionID = sid
					break
				}
			}
		}
		ts := guessTimestamp(m)
		typ := stringField(m, "type")
		if typ == "" {
			typ = "unknown"
		}
		role := stringField(m, "role")
		e := &tracemodel.NormalizedEvent{Kind: tracemodel.EventMeta, RawType: typ, Role: role, Timestamp: ts, Raw: m}
		if text := extractPriorityText(m); text != "" {
			e.TextBlocks = []string{text}
		}
		b.add(e, line.offset)
	}

	out.Events = b.events
	return out
}
