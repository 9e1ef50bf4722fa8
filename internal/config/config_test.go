package config

import "testing"

func TestMaxContextTokens(t *testing.T) {
	cfg := defaultConfig()
	cfg.Models.ContextWindows = []ContextWindow{
		{Model: "claude-*", Tokens: 200_000},
		{Model: "claude-opus-4-*", Tokens: 500_000},
		{Model: "gpt-4o", Tokens: 128_000},
	}

	tests := []struct {
		model string
		want  int
	}{
		{"gpt-4o", 128_000},
		{"claude-opus-4-5-20251101", 500_000}, // longest prefix wins
		{"claude-sonnet-4", 200_000},
		{"totally-unknown-model", DefaultContextWindow},
	}

	for _, tt := range tests {
		if got := cfg.MaxContextTokens(tt.model); got != tt.want {
			t.Errorf("MaxContextTokens(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestMaxContextTokens_NoDefaultConfigured(t *testing.T) {
	cfg := &Config{}
	if got := cfg.MaxContextTokens("anything"); got != DefaultContextWindow {
		t.Errorf("MaxContextTokens with empty config = %d, want %d", got, DefaultContextWindow)
	}
}

func TestModelRate_ExactMatchOnly(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cost.ModelRates = []ModelRate{
		{Model: "claude-opus-4-5-20251101", InputPerMTokUsd: 15, OutputPerMTokUsd: 75},
	}

	rate, ok := cfg.ModelRate("claude-opus-4-5-20251101")
	if !ok || rate.OutputPerMTokUsd != 75 {
		t.Fatalf("expected exact match rate, got %+v ok=%v", rate, ok)
	}

	if _, ok := cfg.ModelRate("claude-opus-4-6-unreleased"); ok {
		t.Errorf("ModelRate should not prefix-match, only exact match")
	}
}

func TestDefaultConfig_Scan(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Scan.Mode != "adaptive" {
		t.Errorf("default scan.mode = %q, want adaptive", cfg.Scan.Mode)
	}
	if cfg.Scan.IntervalMinMs >= cfg.Scan.IntervalMaxMs {
		t.Errorf("scan.intervalMinMs (%d) must be < intervalMaxMs (%d)", cfg.Scan.IntervalMinMs, cfg.Scan.IntervalMaxMs)
	}
}

func TestScanConfig_TickInterval(t *testing.T) {
	s := ScanConfig{Mode: "fixed", IntervalSeconds: 3}
	if got := s.TickInterval(); got.Seconds() != 3 {
		t.Errorf("TickInterval() = %v, want 3s", got)
	}
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault returned error for missing file: %v", err)
	}
	if cfg.Retention.HotTraceCount != defaultConfig().Retention.HotTraceCount {
		t.Errorf("LoadOrDefault did not return defaults")
	}
}

func TestDiff_DetectsSourceChanges(t *testing.T) {
	old := defaultConfig()
	newCfg := defaultConfig()
	newCfg.Sources["codex"] = SourceProfile{Enabled: false}

	changes := Diff(old, newCfg)
	if len(changes) == 0 {
		t.Fatalf("expected at least one change, got none")
	}
}
