package api

import "github.com/tracehub/tracehub/internal/tracemodel"

// TraceFilter narrows listTraces() by activity status, source profile,
// and/or a substring of the trace's lower-cased session id and path
// (spec.md §6 "listTraces(filter)").
type TraceFilter struct {
	ActivityStatus tracemodel.ActivityStatus `json:"activityStatus,omitempty"`
	Query          string                    `json:"query,omitempty"`
	SourceProfile  string                    `json:"sourceProfile,omitempty"`
}

// TracePage is getTrace(id, {before, limit})'s response shape: a bounded
// event window plus cursors and the trace's own summary (spec.md §6).
type TracePage struct {
	Trace      *tracemodel.Trace          `json:"trace"`
	Events     []*tracemodel.NormalizedEvent `json:"events"`
	NextBefore *int                       `json:"nextBefore,omitempty"`
	LiveCursor int                        `json:"liveCursor"`
	Toc        []TocEntryView             `json:"toc,omitempty"`
}

// TocEntryView mirrors store.TocEntry for the wire format, keeping
// internal/api decoupled from internal/store's own type identity.
type TocEntryView struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// EventsPage is getEvents(id, {before, limit, includeMeta})'s response:
// the same paging cursors as TracePage without the full trace summary.
type EventsPage struct {
	Events     []*tracemodel.NormalizedEvent `json:"events"`
	NextBefore *int                       `json:"nextBefore,omitempty"`
	LiveCursor int                        `json:"liveCursor"`
}

// errorResponse is the JSON body written for any non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
