package store

import "github.com/tracehub/tracehub/internal/tracemodel"

// Page is the result of GetPage: a bounded event window plus cursors for
// continued pagination (spec.md §4.4 Paging).
type Page struct {
	Events     []*tracemodel.NormalizedEvent
	NextBefore *int
	LiveCursor int
	Toc        []TocEntry
	Summary    *tracemodel.Trace
}

// GetPage returns up to limit events with index < before (or the tail
// when before is nil), plus cursors and the trace's (possibly truncated)
// summary/ToC (spec.md §4.4 Paging). If the requested window isn't
// resident, it is rematerialized from disk for this call only —
// detailLoadMode = lazy_from_disk.
func (s *Store) GetPage(id string, before *int, limit int) (Page, bool) {
	s.mu.RLock()
	rt, ok := s.traces[id]
	if !ok {
		s.mu.RUnlock()
		return Page{}, false
	}
	summary := rt.trace.Clone()
	liveCursor := rt.trace.EventCount
	events := rt.events
	needsReload := !coversRequest(events, before, limit, liveCursor)
	traceID, path, sourceProfile, agentHint := rt.trace.ID, rt.trace.Path, rt.trace.SourceProfile, rt.trace.Agent
	s.mu.RUnlock()

	if needsReload {
		if reloaded, err := s.loadFromDisk(traceID, path, sourceProfile, agentHint); err == nil {
			events = reloaded
		}
		// On reload failure, fall back to whatever was resident; a
		// partial/stale page beats an error for a read-only query path.
	}

	page := selectPage(events, before, limit)
	return Page{
		Events:     page.Events,
		NextBefore: page.NextBefore,
		LiveCursor: liveCursor,
		Toc:        tocFrom(events),
		Summary:    summary,
	}, true
}

// coversRequest reports whether the resident window already contains
// every index the request needs, avoiding an unnecessary disk reload.
func coversRequest(events []*tracemodel.NormalizedEvent, before *int, limit int, liveCursor int) bool {
	if len(events) == 0 {
		return liveCursor == 0
	}
	oldestResident := events[0].Index
	wantUpTo := liveCursor
	if before != nil {
		wantUpTo = *before - 1
	}
	wantFrom := wantUpTo - limit + 1
	if limit <= 0 {
		wantFrom = oldestResident
	}
	return oldestResident <= wantFrom || oldestResident == 0
}

type selectedPage struct {
	Events     []*tracemodel.NormalizedEvent
	NextBefore *int
}

func selectPage(events []*tracemodel.NormalizedEvent, before *int, limit int) selectedPage {
	upperExclusive := len(events)
	if before != nil {
		upperExclusive = 0
		for i, e := range events {
			if e.Index < *before {
				upperExclusive = i + 1
			} else {
				break
			}
		}
	}

	lowerInclusive := 0
	if limit > 0 && upperExclusive-limit > 0 {
		lowerInclusive = upperExclusive - limit
	}

	page := events[lowerInclusive:upperExclusive]
	if len(page) == 0 {
		return selectedPage{Events: page}
	}
	next := page[0].Index
	return selectedPage{Events: page, NextBefore: &next}
}

// tocFrom builds a trace's table of contents from events carrying a
// non-empty TocLabel (spec.md §4.4 getToc).
func tocFrom(events []*tracemodel.NormalizedEvent) []TocEntry {
	var toc []TocEntry
	for _, e := range events {
		if e.TocLabel != "" {
			toc = append(toc, TocEntry{Index: e.Index, Label: e.TocLabel})
		}
	}
	return toc
}

// GetToc returns just the table of contents for a trace, using whatever
// window is currently resident (spec.md §4.4 getToc).
func (s *Store) GetToc(id string) ([]TocEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.traces[id]
	if !ok {
		return nil, false
	}
	return tocFrom(rt.events), true
}
