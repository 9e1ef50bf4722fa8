// Command traced is the trace-engine daemon: it discovers coding-agent
// session log files, indexes them in a tiered in-memory catalog, and
// serves the query surface (spec.md §6) over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tracehub/tracehub/internal/api"
	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/discovery"
	"github.com/tracehub/tracehub/internal/parser"
	"github.com/tracehub/tracehub/internal/redact"
	"github.com/tracehub/tracehub/internal/scheduler"
	"github.com/tracehub/tracehub/internal/store"
	"github.com/tracehub/tracehub/internal/streambus"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/tracehub/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	registry := parser.NewRegistry()
	redactor := redact.New(cfg.Redaction)

	bus := streambus.New(nil)

	st := store.New(cfg, registry, func(c store.Change) {
		publishChange(bus, c)
	})
	bus.SetSnapshotFn(func() any { return buildSnapshot(st) })

	watcher, err := discovery.NewWatcher(cfg)
	if err != nil {
		log.Fatalf("Failed to start file watcher: %v", err)
	}
	defer watcher.Close()

	sched := scheduler.New(cfg, registry, redactor, st, watcher.Dirty())
	sched.SetHealthCallback(func(ev scheduler.SourceHealthEvent) {
		bus.PublishSourceHealth(ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watcher.Run()
	go bus.Run()
	go sched.Run(ctx)

	server := api.NewServer(cfg, st, sched, bus)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		bus.Close()
		os.Exit(0)
	}()

	log.Printf("tracehub: indexing %d source profile(s)", len(cfg.Sources))
	if err := api.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// publishChange maps a store.Change onto the corresponding bus envelope
// type, keeping the store's mutate-then-notify contract (internal/store)
// wired straight through to subscribed clients.
func publishChange(bus *streambus.Bus, c store.Change) {
	switch c.Kind {
	case store.ChangeTraceAdded:
		bus.PublishTraceAdded(c.Trace.ID, c.Trace)
	case store.ChangeTraceUpdated:
		bus.PublishTraceUpdated(c.Trace.ID, c.Trace)
	case store.ChangeTraceRemoved:
		bus.PublishTraceRemoved(c.TraceID, nil)
	case store.ChangeEventsAppended:
		bus.PublishEventsAppended(c.Trace.ID, c.NewEvents)
	}
}

type snapshotPayload struct {
	Traces []*snapshotTrace `json:"traces"`
}

type snapshotTrace struct {
	ID             string `json:"id"`
	SessionID      string `json:"sessionId"`
	ActivityStatus string `json:"activityStatus"`
}

// buildSnapshot is sent to every new subscriber immediately on Subscribe()
// so a freshly connected UI has a full picture before the first delta
// arrives (spec.md §4.7 change stream).
func buildSnapshot(st *store.Store) any {
	traces := st.ListSummaries(nil, nil)
	payload := snapshotPayload{Traces: make([]*snapshotTrace, 0, len(traces))}
	for _, t := range traces {
		payload.Traces = append(payload.Traces, &snapshotTrace{
			ID:             t.ID,
			SessionID:      t.SessionID,
			ActivityStatus: string(t.ActivityStatus),
		})
	}
	return payload
}
