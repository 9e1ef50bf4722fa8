// Package scheduler drives the index pipeline with two loops -- an
// adaptive incremental scan and a coarser full rescan -- deciding per file
// whether an append-only suffix read suffices or a full reparse is needed
// (spec.md §4.5).
//
// Grounded on the teacher's internal/monitor/monitor.go Start/poll: a
// ticker-driven loop that snapshots config under a read lock, discovers,
// parses, and pushes updates into the store. The adaptive interval
// (shrink/grow by a factor of 2 between intervalMinMs/intervalMaxMs) and
// the incremental-vs-full decision based on a prefix fingerprint are new
// since the teacher always does a byte-offset-only incremental parse
// (session sources never truncate/rotate in practice for its agents);
// spec.md explicitly requires handling rotation/truncation, which the
// teacher's own offset-only approach would silently miscompute.
package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tracehub/tracehub/internal/aggregate"
	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/discovery"
	"github.com/tracehub/tracehub/internal/parser"
	"github.com/tracehub/tracehub/internal/redact"
	"github.com/tracehub/tracehub/internal/store"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

const prefixFingerprintBytes = 256

// fileState tracks what the scheduler last saw for one known path, to
// decide incremental vs full reparse on the next tick.
type fileState struct {
	traceID  string
	sizeBytes int64
	prefix    []byte
}

// Scheduler owns the adaptive scan loop, the full rescan loop, and the
// incremental/full reparse decision for every discovered trace file.
type Scheduler struct {
	cfg      *config.Config
	registry *parser.Registry
	redactor *redact.Redactor
	store    *store.Store
	dirty    <-chan discovery.DirtyEvent

	known map[string]*fileState // keyed by absolute path

	statsMu sync.Mutex
	stats   tracemodel.IndexPerformanceStats

	healthMu sync.Mutex
	health   map[string]*sourceHealth
	onHealth func(SourceHealthEvent)
}

func New(cfg *config.Config, registry *parser.Registry, redactor *redact.Redactor, st *store.Store, dirty <-chan discovery.DirtyEvent) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		redactor: redactor,
		store:    st,
		dirty:    dirty,
		known:    make(map[string]*fileState),
		health:   make(map[string]*sourceHealth),
	}
}

// Run drives both loops until ctx is cancelled. A full scan is performed
// immediately so the store is populated before the first adaptive tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.fullRescan()

	fullEvery := time.Duration(s.cfg.Scan.FullRescanIntervalMs) * time.Millisecond
	if fullEvery <= 0 {
		fullEvery = 30 * time.Second
	}
	fullTicker := time.NewTicker(fullEvery)
	defer fullTicker.Stop()

	interval := s.initialInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return
		case <-fullTicker.C:
			s.fullRescan()
		case <-timer.C:
			didWork := s.tick()
			interval = s.nextInterval(interval, didWork)
			timer.Reset(interval)
		}
	}
}

func (s *Scheduler) initialInterval() time.Duration {
	if s.cfg.Scan.Mode == "fixed" {
		return s.cfg.Scan.TickInterval()
	}
	ms := s.cfg.Scan.IntervalMinMs
	if ms <= 0 {
		ms = 250
	}
	return time.Duration(ms) * time.Millisecond
}

// nextInterval implements the adaptive backoff: shrink toward
// intervalMinMs (factor 2) when the last tick produced work, grow toward
// intervalMaxMs (factor 2) when idle (spec.md §4.5 point 1). Fixed mode
// bypasses this entirely.
func (s *Scheduler) nextInterval(current time.Duration, didWork bool) time.Duration {
	if s.cfg.Scan.Mode == "fixed" {
		return s.cfg.Scan.TickInterval()
	}
	min := time.Duration(s.cfg.Scan.IntervalMinMs) * time.Millisecond
	max := time.Duration(s.cfg.Scan.IntervalMaxMs) * time.Millisecond
	if min <= 0 {
		min = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	next := current
	if didWork {
		next = current / 2
		if next < min {
			next = min
		}
	} else {
		next = current * 2
		if next > max {
			next = max
		}
	}
	return next
}

// tick drains the dirty-path queue and refreshes every path found in it.
// Returns true if any path actually produced new events.
func (s *Scheduler) tick() bool {
	seen := make(map[string]bool)
	var paths []string

	// Non-blocking drain: collect whatever is currently queued without
	// waiting for more, since the adaptive timer -- not the channel -- paces
	// this loop.
drain:
	for {
		select {
		case ev, ok := <-s.dirty:
			if !ok {
				break drain
			}
			if !seen[ev.Path] {
				seen[ev.Path] = true
				paths = append(paths, ev.Path)
			}
		default:
			break drain
		}
	}

	if len(paths) == 0 {
		return false
	}

	didWork := false
	for _, path := range paths {
		if s.refreshPath(path) {
			didWork = true
		}
	}
	return didWork
}

// fullRescan runs discovery from scratch, diffs it against the current
// index, and refreshes every path (spec.md §4.5 point 2).
func (s *Scheduler) fullRescan() {
	start := time.Now()
	files := discovery.Snapshot(s.cfg)

	currentPaths := make(map[string]discovery.DiscoveredTraceFile, len(files))
	for _, f := range files {
		currentPaths[f.Path] = f
	}

	for path, f := range currentPaths {
		s.refreshFile(f)
		_ = path
	}

	// Remove traces whose files disappeared.
	known := s.store.ListSummaries(nil, nil)
	for _, t := range known {
		if _, ok := currentPaths[t.Path]; !ok {
			s.store.RemoveTrace(t.ID)
			delete(s.known, t.Path)
		}
	}

	s.recordRefresh(true, time.Since(start))
}

// refreshPath re-discovers a single dirty path (the watcher only reports
// paths, not full metadata) and refreshes it if it still exists.
func (s *Scheduler) refreshPath(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// File removed or inaccessible; if we were tracking it, drop it.
		if st, ok := s.known[path]; ok {
			s.store.RemoveTrace(st.traceID)
			delete(s.known, path)
		}
		return false
	}

	f := discovery.DiscoveredTraceFile{
		ID:        tracemodel.StableHash(path, path),
		Path:      path,
		SizeBytes: info.Size(),
		MtimeMs:   info.ModTime().UnixMilli(),
	}
	if st, ok := s.known[path]; ok {
		f.ID = st.traceID
	}
	start := time.Now()
	changed := s.refreshFile(f)
	s.recordRefresh(false, time.Since(start))
	return changed
}

// refreshFile applies the incremental-vs-full decision for one discovered
// file (spec.md §4.5 "Incremental vs full decision") and returns whether
// it produced any change.
func (s *Scheduler) refreshFile(f discovery.DiscoveredTraceFile) bool {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		log.Printf("scheduler: read %s: %v", f.Path, err)
		s.reportReadFailure(f.SourceProfile, err)
		return false
	}
	s.reportReadSuccess(f.SourceProfile)
	f.SizeBytes = int64(len(data))

	prefixLen := prefixFingerprintBytes
	if prefixLen > len(data) {
		prefixLen = len(data)
	}
	prefix := append([]byte(nil), data[:prefixLen]...)

	prior, known := s.known[f.Path]

	if known && f.SizeBytes >= prior.sizeBytes && bytesEqual(prior.prefix, prefix[:min(len(prefix), len(prior.prefix))]) {
		return s.incrementalRefresh(f, prior, data)
	}
	return s.fullReparse(f, data, prefix)
}

func (s *Scheduler) incrementalRefresh(f discovery.DiscoveredTraceFile, prior *fileState, data []byte) bool {
	if f.SizeBytes == prior.sizeBytes {
		return false // no new bytes
	}
	suffix := data[prior.sizeBytes:]
	out, err := s.registry.ParseFile(prior.traceID, f.ToParserFile(), string(suffix))
	if err != nil {
		log.Printf("scheduler: incremental parse %s: %v", f.Path, err)
		return s.fullReparse(f, data, data[:min(len(data), prefixFingerprintBytes)])
	}

	events := s.redactEvents(out.Events)
	summary, ok := s.store.GetSummary(prior.traceID)
	if !ok {
		return s.fullReparse(f, data, data[:min(len(data), prefixFingerprintBytes)])
	}

	// The suffix was parsed in isolation, so its events carry offsets
	// relative to the suffix's own start; shift them back to absolute file
	// offsets before they're reindexed, so appended events' offsets stay
	// monotonic with the trace's existing tail (§3).
	baseOffset := prior.sizeBytes
	for _, e := range events {
		e.Offset += baseOffset
	}
	startIndex := summary.EventCount + 1
	tracemodel.ReindexEvents(prior.traceID, events, startIndex)

	if err := s.store.AppendEvents(prior.traceID, startIndex, events); err != nil {
		log.Printf("scheduler: appendEvents %s: %v", f.Path, err)
		return s.fullReparse(f, data, data[:min(len(data), prefixFingerprintBytes)])
	}

	prior.sizeBytes = f.SizeBytes
	prior.prefix = data[:min(len(data), prefixFingerprintBytes)]

	if len(events) == 0 {
		return false
	}

	all := s.store.Events(prior.traceID)
	now := time.Now()
	s.store.UpdateDerived(prior.traceID, func(t *tracemodel.Trace) {
		aggregate.Reconsider(t, all, s.cfg, now)
	})
	s.reconcileTiers()
	return true
}

func (s *Scheduler) fullReparse(f discovery.DiscoveredTraceFile, data []byte, prefix []byte) bool {
	out, err := s.registry.ParseFile(f.ID, f.ToParserFile(), string(data))
	if err != nil {
		log.Printf("scheduler: full parse %s: %v", f.Path, err)
		s.reportReadFailure(f.SourceProfile, err)
		return false
	}

	events := s.redactEvents(out.Events)
	tracemodel.ReindexEvents(f.ID, events, 1)

	trace := &tracemodel.Trace{
		ID:            f.ID,
		SourceProfile: f.SourceProfile,
		Path:          f.Path,
		Agent:         out.Agent,
		Parser:        out.Parser,
		SessionID:     out.SessionID,
		SizeBytes:     f.SizeBytes,
		MtimeMs:       f.MtimeMs,
		EventCount:    len(events),
		Parseable:     out.ParseError == "",
		ParseError:    out.ParseError,
		ResidentTier:  tracemodel.TierHot,
	}
	if len(events) > 0 {
		trace.FirstEventTs = events[0].Timestamp
		trace.LastEventTs = events[len(events)-1].Timestamp
	}
	aggregate.Reconsider(trace, events, s.cfg, time.Now())

	s.store.UpsertTrace(trace, events)
	s.known[f.Path] = &fileState{traceID: f.ID, sizeBytes: f.SizeBytes, prefix: prefix}
	s.reconcileTiers()
	return true
}

// reconcileTiers re-derives every trace's residency tier from the retention
// config (spec.md §4.4: "on any mutation, the trace's tier is reconsidered
// by the Aggregator using the retention config") and applies any change via
// Store.SetTier so the hot/warm caps always hold. A trace demoted to cold
// also has its resident detail explicitly evicted.
func (s *Scheduler) reconcileTiers() {
	traces := s.store.ListSummaries(nil, nil)
	tiers := aggregate.TierOf(traces, s.cfg.Retention)
	for _, t := range traces {
		tier, ok := tiers[t.ID]
		if !ok || tier == t.ResidentTier {
			continue
		}
		s.store.SetTier(t.ID, tier)
		if tier == tracemodel.TierCold {
			s.store.EvictDetail(t.ID)
		}
	}
}

func (s *Scheduler) redactEvents(events []*tracemodel.NormalizedEvent) []*tracemodel.NormalizedEvent {
	if s.redactor == nil || !s.redactor.Enabled() {
		return events
	}
	out := make([]*tracemodel.NormalizedEvent, len(events))
	for i, e := range events {
		out[i] = s.redactor.RedactEvent(e)
	}
	return out
}

func (s *Scheduler) recordRefresh(full bool, dur time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if full {
		s.stats.FullRefreshCount++
	} else {
		s.stats.IncrementalRefreshCount++
	}
	ms := float64(dur.Milliseconds())
	const alpha = 0.2
	if s.stats.AverageRefreshDurationMs == 0 {
		s.stats.AverageRefreshDurationMs = ms
	} else {
		s.stats.AverageRefreshDurationMs = alpha*ms + (1-alpha)*s.stats.AverageRefreshDurationMs
	}
	s.stats.LastRefreshDurationMs = dur.Milliseconds()
	s.stats.LastRefreshAtMs = time.Now().UnixMilli()
}

// Stats returns the scheduler's current performance snapshot, filling in
// queue depth and tier/materialized counts from the store
// (spec.md §4.5 Statistics, exposed via getPerfStats()).
func (s *Scheduler) Stats() tracemodel.IndexPerformanceStats {
	s.statsMu.Lock()
	out := s.stats
	s.statsMu.Unlock()

	out.QueueDepth = len(s.dirty)
	for _, t := range s.store.ListSummaries(nil, nil) {
		switch t.ResidentTier {
		case tracemodel.TierHot:
			out.HotCount++
		case tracemodel.TierWarm:
			out.WarmCount++
		default:
			out.ColdCount++
		}
		if t.Materialized {
			out.MaterializedCount++
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
