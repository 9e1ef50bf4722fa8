// Package store implements spec.md §4.4's process-wide in-memory trace
// catalog: atomic mutation-then-notify operations, tiered event residency
// with LRU-style demotion, and lazy rematerialization from disk for cold
// queries.
//
// Grounded on the teacher's internal/session/store.go (RWMutex-guarded
// map, copy-on-read via struct copy) generalized from a flat session map
// to a tiered, notify-coupled trace catalog -- the capability the
// teacher's own monitor.go assumed existed (BatchUpdateAndNotify/
// UpdateAndNotify/BatchRemoveAndNotify, called but never defined in
// store.go; see DESIGN.md Open Question 4) is what this package actually
// builds.
package store

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/parser"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// ChangeKind classifies a store mutation for the notify hook.
type ChangeKind string

const (
	ChangeTraceAdded     ChangeKind = "trace_added"
	ChangeTraceUpdated   ChangeKind = "trace_updated"
	ChangeTraceRemoved   ChangeKind = "trace_removed"
	ChangeEventsAppended ChangeKind = "events_appended"
)

// Change describes one store mutation, passed to the store's notify hook
// under the same lock acquisition that performed the mutation (mirroring
// the teacher's UpdateAndNotify: do not call back into Store methods from
// inside a notify hook, or it deadlocks against the write lock it is
// still holding).
type Change struct {
	Kind       ChangeKind
	Trace      *tracemodel.Trace // copy-on-read snapshot, safe to retain
	NewEvents  []*tracemodel.NormalizedEvent
	TraceID    string // populated on ChangeTraceRemoved, where Trace is nil
}

// TocEntry is one row of a trace's table of contents (spec.md §4.4
// getToc): a navigable label at a given event index.
type TocEntry struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// residentTrace pairs a Trace summary with its resident event window.
type residentTrace struct {
	trace  *tracemodel.Trace
	events []*tracemodel.NormalizedEvent // bounded by the tier cap; may be a suffix of the full file
}

// Store is the process-wide trace catalog.
type Store struct {
	mu       sync.RWMutex
	traces   map[string]*residentTrace
	cfg      *config.Config
	registry *parser.Registry
	onChange func(Change)
}

// New creates an empty Store. onChange may be nil.
func New(cfg *config.Config, registry *parser.Registry, onChange func(Change)) *Store {
	return &Store{
		traces:   make(map[string]*residentTrace),
		cfg:      cfg,
		registry: registry,
		onChange: onChange,
	}
}

func (s *Store) notify(c Change) {
	if s.onChange != nil {
		s.onChange(c)
	}
}

func capFor(tier tracemodel.Tier, cfg config.RetentionConfig) int {
	switch tier {
	case tracemodel.TierHot:
		return cfg.MaxResidentEventsPerHotTrace
	case tracemodel.TierWarm:
		return cfg.MaxResidentEventsPerWarmTrace
	default:
		return 0
	}
}

// truncateToCap keeps only the newest cap events by index, preserving
// eventCount on the caller's Trace (spec.md §4.4: "the oldest events (by
// index) are dropped; eventCount is preserved").
func truncateToCap(events []*tracemodel.NormalizedEvent, cap int) []*tracemodel.NormalizedEvent {
	if cap <= 0 || len(events) <= cap {
		return events
	}
	return events[len(events)-cap:]
}

// UpsertTrace replaces all events for a trace atomically (spec.md §4.4
// upsertTrace).
func (s *Store) UpsertTrace(trace *tracemodel.Trace, events []*tracemodel.NormalizedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.traces[trace.ID]

	resident := truncateToCap(events, capFor(trace.ResidentTier, s.cfg.Retention))
	trace.Materialized = len(resident) == len(events) || trace.ResidentTier == tracemodel.TierHot || trace.ResidentTier == tracemodel.TierWarm
	stored := *trace
	s.traces[trace.ID] = &residentTrace{trace: &stored, events: resident}

	kind := ChangeTraceUpdated
	if !existed {
		kind = ChangeTraceAdded
	}
	s.notify(Change{Kind: kind, Trace: stored.Clone()})
}

// AppendEvents appends contiguous events whose index starts at the
// current eventCount+1 (spec.md §4.4 appendEvents). Returns an error if
// startIndex doesn't match, or if the trace is unknown.
func (s *Store) AppendEvents(traceID string, startIndex int, events []*tracemodel.NormalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.traces[traceID]
	if !ok {
		return fmt.Errorf("store: unknown trace %q", traceID)
	}
	if startIndex != rt.trace.EventCount+1 {
		return fmt.Errorf("store: appendEvents startIndex %d does not match eventCount+1 (%d) for trace %q", startIndex, rt.trace.EventCount+1, traceID)
	}

	rt.events = append(rt.events, events...)
	rt.events = truncateToCap(rt.events, capFor(rt.trace.ResidentTier, s.cfg.Retention))
	rt.trace.EventCount += len(events)
	if len(events) > 0 {
		last := events[len(events)-1].Timestamp
		if last != nil {
			if rt.trace.LastEventTs == nil || *last > *rt.trace.LastEventTs {
				v := *last
				rt.trace.LastEventTs = &v
			}
		}
	}

	s.notify(Change{Kind: ChangeEventsAppended, Trace: rt.trace.Clone(), NewEvents: events})
	return nil
}

// RemoveTrace deletes a trace from the catalog (spec.md §4.4 removeTrace).
func (s *Store) RemoveTrace(traceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.traces[traceID]; !ok {
		return
	}
	delete(s.traces, traceID)
	s.notify(Change{Kind: ChangeTraceRemoved, TraceID: traceID})
}

// GetSummary returns a copy-on-read Trace summary without its event
// buffer (spec.md §4.4 getSummary).
func (s *Store) GetSummary(id string) (*tracemodel.Trace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.traces[id]
	if !ok {
		return nil, false
	}
	return rt.trace.Clone(), true
}

// ListSummaries returns every trace summary matching filter (nil means
// all), sorted by less (nil means no particular order) (spec.md §4.4
// listSummaries).
func (s *Store) ListSummaries(filter func(*tracemodel.Trace) bool, less func(a, b *tracemodel.Trace) bool) []*tracemodel.Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*tracemodel.Trace, 0, len(s.traces))
	for _, rt := range s.traces {
		if filter != nil && !filter(rt.trace) {
			continue
		}
		out = append(out, rt.trace.Clone())
	}
	if less != nil {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// Events returns a copy of a trace's currently resident event buffer, for
// the Aggregator's reconsider-on-mutation pass (spec.md §4.4 data flow:
// "Index Store -> Aggregator"). Bounded by the trace's tier cap, same as a
// page read.
func (s *Store) Events(id string) []*tracemodel.NormalizedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.traces[id]
	if !ok {
		return nil
	}
	return append([]*tracemodel.NormalizedEvent(nil), rt.events...)
}

// UpdateDerived applies fn to a trace's stored summary fields in place and
// notifies subscribers, without touching its resident event buffer. Used to
// materialize the Aggregator's derived fields (activity, tokens, cost, tools)
// after an append whose events never round-tripped through UpsertTrace.
func (s *Store) UpdateDerived(id string, fn func(*tracemodel.Trace)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.traces[id]
	if !ok {
		return
	}
	fn(rt.trace)
	s.notify(Change{Kind: ChangeTraceUpdated, Trace: rt.trace.Clone()})
}

// SetTier changes a trace's residency tier, truncating its resident event
// window to the new tier's cap (spec.md §4.4 setTier).
func (s *Store) SetTier(id string, tier tracemodel.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.traces[id]
	if !ok {
		return
	}
	rt.trace.ResidentTier = tier
	if tier == tracemodel.TierCold {
		rt.events = nil
		rt.trace.Materialized = false
		return
	}
	rt.events = truncateToCap(rt.events, capFor(tier, s.cfg.Retention))
	rt.trace.Materialized = true
}

// EvictDetail drops a trace's resident event buffer while preserving its
// summary and eventCount (spec.md §4.4 evictDetail).
func (s *Store) EvictDetail(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.traces[id]
	if !ok {
		return
	}
	rt.events = nil
	rt.trace.Materialized = false
}

// loadFromDisk re-reads and re-parses a trace's source file, used for
// lazy_from_disk rematerialization (spec.md §4.4: "if a query targets
// events not resident, the store calls ParserRegistry.parseFile
// synchronously and materializes a temporary window covering the
// request"). Callers pass the trace's identifying fields by value
// (captured under the read lock) rather than the live residentTrace, so
// the disk read and reparse never touch fields a concurrent mutation
// could be changing.
func (s *Store) loadFromDisk(traceID, path, sourceProfile string, agentHint tracemodel.AgentKind) ([]*tracemodel.NormalizedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: lazy reload of %s: %w", path, err)
	}
	file := parser.DiscoveredFile{
		Path:          path,
		SourceProfile: sourceProfile,
		ParserHint:    agentHint,
	}
	out, err := s.registry.ParseFile(traceID, file, string(data))
	if err != nil {
		return nil, err
	}
	tracemodel.ReindexEvents(traceID, out.Events, 1)
	return out.Events, nil
}
