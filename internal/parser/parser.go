// Package parser selects and runs an agent-specific parser over a trace
// file's bytes and produces a canonical NormalizedEvent stream.
package parser

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tracehub/tracehub/internal/tracemodel"
)

// HeadBytes is the number of leading bytes of a file passed to canParse for
// heuristic scoring (spec.md §4.2).
const HeadBytes = 8192

// DiscoveredFile is the minimal file context a Parser needs to score and
// parse a candidate trace.
type DiscoveredFile struct {
	Path          string
	SourceProfile string
	ParserHint    tracemodel.AgentKind
}

// ParseOutput is the result of running a Parser over a file's full text.
type ParseOutput struct {
	Agent      tracemodel.AgentKind
	Parser     string
	SessionID  string
	Events     []*tracemodel.NormalizedEvent
	ParseError string
}

// Parser is a plug-in capable of recognizing and parsing one agent's trace
// format (spec.md §4.2).
type Parser interface {
	// Name is a short lowercase identifier, e.g. "claude".
	Name() string
	// Agent is the agent kind this parser produces events for.
	Agent() tracemodel.AgentKind
	// CanParse returns a confidence in [0,1] that this parser can handle
	// the given file, based on its path and the first HeadBytes bytes.
	CanParse(file DiscoveredFile, headText string) float64
	// Parse reads the full text of the file and produces a ParseOutput.
	// traceID is threaded through so events carry the right TraceID and
	// deterministic EventID.
	Parse(traceID string, file DiscoveredFile, fullText string) ParseOutput
}

// Registry holds an ordered list of parsers and dispatches files to the
// best-fit parser (spec.md §4.2).
type Registry struct {
	mu      sync.RWMutex
	parsers []Parser
}

// NewRegistry creates a registry pre-populated with the six built-in agent
// parsers plus the generic fallback, in the documented tiebreak order.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewClaudeParser())
	r.Register(NewCodexParser())
	r.Register(NewCursorParser())
	r.Register(NewOpenCodeParser())
	r.Register(NewGeminiParser())
	r.Register(NewPiParser())
	r.Register(NewGenericParser())
	return r
}

// Register appends a parser to the registry. Registration order is the
// tiebreak for equal canParse scores and for parserHint lookups.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = append(r.parsers, p)
}

// Dispatch chooses a parser for the given file and head bytes, per the
// rules in spec.md §4.2: an explicit, non-unknown parserHint wins outright;
// otherwise the highest canParse score wins, ties broken by registration
// order.
func (r *Registry) Dispatch(file DiscoveredFile, headText string) Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if file.ParserHint != "" && file.ParserHint != tracemodel.AgentUnknown {
		for _, p := range r.parsers {
			if p.Agent() == file.ParserHint {
				return p
			}
		}
	}

	var best Parser
	bestScore := -1.0
	for _, p := range r.parsers {
		score := p.CanParse(file, headText)
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	return best
}

// ParseFile dispatches and parses file using fullText. headText should be
// the first HeadBytes of fullText (callers that already have fullText in
// memory may just slice it).
func (r *Registry) ParseFile(traceID string, file DiscoveredFile, fullText string) (ParseOutput, error) {
	head := fullText
	if len(head) > HeadBytes {
		head = head[:HeadBytes]
	}
	p := r.Dispatch(file, head)
	if p == nil {
		return ParseOutput{}, fmt.Errorf("no parser available for %s", file.Path)
	}
	return p.Parse(traceID, file, fullText), nil
}

// ParseFileAsync runs ParseFile on a goroutine and returns a channel
// delivering the single result. It exists to satisfy the "superset of
// sync and async parse APIs" resolution in SPEC_FULL.md §9.
func (r *Registry) ParseFileAsync(traceID string, file DiscoveredFile, fullText string) <-chan asyncParseResult {
	ch := make(chan asyncParseResult, 1)
	go func() {
		out, err := r.ParseFile(traceID, file, fullText)
		ch <- asyncParseResult{Output: out, Err: err}
	}()
	return ch
}

type asyncParseResult struct {
	Output ParseOutput
	Err    error
}

// Names returns the registered parser names in registration order, mostly
// useful for diagnostics and tests.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// sortedScores is a test/debug helper that returns parser names sorted by
// descending canParse score for a given file/head.
func (r *Registry) sortedScores(file DiscoveredFile, headText string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type scored struct {
		name  string
		score float64
	}
	scores := make([]scored, len(r.parsers))
	for i, p := range r.parsers {
		scores[i] = scored{p.Name(), p.CanParse(file, headText)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	names := make([]string, len(scores))
	for i, s := range scores {
		names[i] = s.name
	}
	return names
}
