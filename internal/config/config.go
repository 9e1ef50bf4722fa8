// Package config loads and hot-reload-diffs the engine's YAML
// configuration, following the teacher's Load/LoadOrDefault/Diff pattern
// (internal/config/config.go) extended with the trace-engine's own
// sections (scan, retention, redaction, cost, models, sources,
// sessionLogDirectories) per SPEC_FULL.md §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultContextWindow is the fallback context window size (in tokens)
// used when no model-specific entry or "default" key is found.
const DefaultContextWindow = 200000

// Config is the root configuration object, loaded from YAML and subject
// to hot reload (see Diff).
type Config struct {
	Scan                  ScanConfig               `yaml:"scan"`
	Retention             RetentionConfig          `yaml:"retention"`
	Redaction             RedactionConfig          `yaml:"redaction"`
	Cost                  CostConfig               `yaml:"cost"`
	Models                ModelsConfig             `yaml:"models"`
	Sources               map[string]SourceProfile `yaml:"sources"`
	SessionLogDirectories []SessionLogDirectory    `yaml:"sessionLogDirectories"`
	Server                ServerConfig             `yaml:"server"`
	ProcessEnrichment     ProcessEnrichmentConfig  `yaml:"process_enrichment"`
	TraceInspector        TraceInspectorConfig     `yaml:"traceInspector"`
}

// ScanConfig governs the discovery/scheduler cadence (SPEC_FULL.md §6).
type ScanConfig struct {
	Mode                 string `yaml:"mode"` // "adaptive" | "fixed"
	IntervalMinMs        int    `yaml:"intervalMinMs"`
	IntervalMaxMs        int    `yaml:"intervalMaxMs"`
	IntervalSeconds      int    `yaml:"intervalSeconds"` // used only when Mode == "fixed"
	FullRescanIntervalMs int    `yaml:"fullRescanIntervalMs"`
	BatchDebounceMs      int    `yaml:"batchDebounceMs"`
	RecentEventWindow    int    `yaml:"recentEventWindow"`
	IncludeMetaDefault   bool   `yaml:"includeMetaDefault"`
	StatusRunningTtlMs   int    `yaml:"statusRunningTtlMs"`
	StatusWaitingTtlMs   int    `yaml:"statusWaitingTtlMs"`
}

// TickInterval returns the scheduler's fixed-mode sleep duration; only
// meaningful when Mode == "fixed" (SPEC_FULL.md §9 resolves the scan.mode
// Open Question literally: bypass the adaptive state machine entirely).
func (s ScanConfig) TickInterval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// RetentionConfig governs tiered in-memory residency (SPEC_FULL.md §6).
type RetentionConfig struct {
	Strategy                      string `yaml:"strategy"` // "aggressive_recency" | "full_memory"
	HotTraceCount                 int    `yaml:"hotTraceCount"`
	WarmTraceCount                int    `yaml:"warmTraceCount"`
	MaxResidentEventsPerHotTrace  int    `yaml:"maxResidentEventsPerHotTrace"`
	MaxResidentEventsPerWarmTrace int    `yaml:"maxResidentEventsPerWarmTrace"`
}

// RedactionConfig governs the redactor (spec.md §4.3).
type RedactionConfig struct {
	Mode         string `yaml:"mode"` // "off" disables; any other value (conventionally "keys") enables both key- and value-pattern matching together
	AlwaysOn     bool   `yaml:"alwaysOn"`
	Replacement  string `yaml:"replacement"`
	KeyPattern   string `yaml:"keyPattern"`
	ValuePattern string `yaml:"valuePattern"`
}

// ModelRate is one entry of the cost-estimation per-model pricing table.
type ModelRate struct {
	Model                string  `yaml:"model"`
	InputPerMTokUsd      float64 `yaml:"inputPerMTokUsd"`
	OutputPerMTokUsd     float64 `yaml:"outputPerMTokUsd"`
	CachedReadPerMTokUsd float64 `yaml:"cachedReadPerMTokUsd"`
}

// CostConfig governs token-cost estimation (spec.md §4.6).
type CostConfig struct {
	Enabled            bool        `yaml:"enabled"`
	Currency           string      `yaml:"currency"`
	UnknownModelPolicy string      `yaml:"unknownModelPolicy"` // "n_a" | "zero"
	ModelRates         []ModelRate `yaml:"modelRates"`
}

// ContextWindow is one entry of the context-window-size lookup table.
type ContextWindow struct {
	Model  string `yaml:"model"`
	Tokens int    `yaml:"tokens"`
}

// ModelsConfig resolves a model name to its context window size.
// Resolution order mirrors the teacher's MaxContextTokens: exact match →
// longest "*"-suffixed prefix match → defaultContextWindowTokens.
type ModelsConfig struct {
	DefaultContextWindowTokens int             `yaml:"defaultContextWindowTokens"`
	ContextWindows             []ContextWindow `yaml:"contextWindows"`
}

// SourceProfile describes one named discovery source (spec.md §4.1).
type SourceProfile struct {
	Enabled      bool     `yaml:"enabled"`
	Roots        []string `yaml:"roots"`
	IncludeGlobs []string `yaml:"includeGlobs"`
	ExcludeGlobs []string `yaml:"excludeGlobs"`
	MaxDepth     int      `yaml:"maxDepth"`
	AgentHint    string   `yaml:"agentHint"`
}

// SessionLogDirectory adds a default source profile keyed by agent kind
// (spec.md §6's sessionLogDirectories option).
type SessionLogDirectory struct {
	Directory string `yaml:"directory"`
	LogType   string `yaml:"logType"` // agent kind: claude, codex, cursor, opencode, gemini, pi
}

// ServerConfig is the thin HTTP/WS transport's own config, grounded on the
// teacher's ServerConfig (kept as-is: this is ambient transport config,
// not part of the engine's own external interface).
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

// TraceInspectorConfig governs the Aggregator's top-N breakdowns and
// activity histogram (spec.md §4.6 topTools, modelTokenSharesTop,
// activityBins).
type TraceInspectorConfig struct {
	TopToolCount          int `yaml:"topToolCount"`
	TopModelCount         int `yaml:"topModelCount"`
	ActivityWindowMinutes int `yaml:"activityWindowMinutes"`
	ActivityBinMinutes    int `yaml:"activityBinMinutes"`
	ActivityBinCount      int `yaml:"activityBinCount"`
}

// ProcessEnrichmentConfig gates the optional, non-binding process/tmux
// enrichment pass (SPEC_FULL.md §4.8).
type ProcessEnrichmentConfig struct {
	Enabled              bool    `yaml:"enabled"`
	ChurningCPUThreshold float64 `yaml:"churning_cpu_threshold"`
	RequireNetwork       bool    `yaml:"requires_network"`
}

// Load reads and parses a YAML config file, starting from defaultConfig()
// so unset fields keep sensible defaults, as the teacher's Load does.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config if
// the file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Scan: ScanConfig{
			Mode:                 "adaptive",
			IntervalMinMs:        250,
			IntervalMaxMs:        10_000,
			IntervalSeconds:      2,
			FullRescanIntervalMs: 30_000,
			BatchDebounceMs:      150,
			RecentEventWindow:    200,
			IncludeMetaDefault:   false,
			StatusRunningTtlMs:   10_000,
			StatusWaitingTtlMs:   120_000,
		},
		Retention: RetentionConfig{
			Strategy:                      "aggressive_recency",
			HotTraceCount:                 20,
			WarmTraceCount:                100,
			MaxResidentEventsPerHotTrace:  5000,
			MaxResidentEventsPerWarmTrace: 500,
		},
		Redaction: RedactionConfig{
			Mode:         "keys",
			AlwaysOn:     false,
			Replacement:  "[REDACTED]",
			KeyPattern:   `(?i)(password|secret|token|api[_-]?key|authorization)`,
			ValuePattern: `(?i)sk-[a-z0-9]{20,}`,
		},
		Cost: CostConfig{
			Enabled:            true,
			Currency:           "USD",
			UnknownModelPolicy: "n_a",
		},
		Models: ModelsConfig{
			DefaultContextWindowTokens: DefaultContextWindow,
		},
		Sources: map[string]SourceProfile{
			"claude": {
				Enabled:      true,
				Roots:        []string{"~/.claude/projects"},
				IncludeGlobs: []string{"**/*.jsonl"},
				MaxDepth:     4,
				AgentHint:    "claude",
			},
			"codex": {
				Enabled:      true,
				Roots:        []string{"~/.codex/sessions"},
				IncludeGlobs: []string{"**/rollout-*.jsonl"},
				MaxDepth:     4,
				AgentHint:    "codex",
			},
			"gemini": {
				Enabled:      false,
				Roots:        []string{"~/.gemini/tmp"},
				IncludeGlobs: []string{"**/chats/session-*.json"},
				MaxDepth:     4,
				AgentHint:    "gemini",
			},
		},
		Server: ServerConfig{
			Port:           8099,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
		},
		ProcessEnrichment: ProcessEnrichmentConfig{
			Enabled:              false,
			ChurningCPUThreshold: 15.0,
			RequireNetwork:       false,
		},
		TraceInspector: TraceInspectorConfig{
			TopToolCount:          5,
			TopModelCount:         3,
			ActivityWindowMinutes: 60,
			ActivityBinMinutes:    5,
			ActivityBinCount:      12,
		},
	}
}

// MaxContextTokens resolves the context window size for a model.
// Resolution order: exact match → longest prefix match ("*"-suffixed
// entries) → defaultContextWindowTokens. Mirrors the teacher's
// MaxContextTokens resolution order exactly.
func (c *Config) MaxContextTokens(model string) int {
	bestLen := -1
	bestVal := 0
	for _, entry := range c.Models.ContextWindows {
		if entry.Model == model {
			return entry.Tokens
		}
		if n := len(entry.Model); n > 0 && entry.Model[n-1] == '*' {
			prefix := entry.Model[:n-1]
			if hasPrefix(model, prefix) && len(prefix) > bestLen {
				bestLen = len(prefix)
				bestVal = entry.Tokens
			}
		}
	}
	if bestLen >= 0 {
		return bestVal
	}
	if c.Models.DefaultContextWindowTokens > 0 {
		return c.Models.DefaultContextWindowTokens
	}
	return DefaultContextWindow
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ModelRate looks up the pricing entry for a model, returning ok=false if
// no exact match exists (spec.md §4.6 leaves prefix matching to context
// windows only; cost rates are looked up exactly).
func (c *Config) ModelRate(model string) (ModelRate, bool) {
	for _, r := range c.Cost.ModelRates {
		if r.Model == model {
			return r, true
		}
	}
	return ModelRate{}, false
}

func defaultConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "tracehub", "config.yaml")
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for hot-reload reporting. Mirrors the teacher's Diff.
func Diff(old, newCfg *Config) []string {
	var changes []string

	if old.Scan != newCfg.Scan {
		changes = append(changes, "scan: configuration changed")
	}
	if old.Retention != newCfg.Retention {
		changes = append(changes, "retention: configuration changed")
	}
	if old.Redaction != newCfg.Redaction {
		changes = append(changes, "redaction: configuration changed")
	}
	if old.TraceInspector != newCfg.TraceInspector {
		changes = append(changes, "traceInspector: configuration changed")
	}
	if old.Cost.Enabled != newCfg.Cost.Enabled {
		changes = append(changes, fmt.Sprintf("cost.enabled: %v → %v", old.Cost.Enabled, newCfg.Cost.Enabled))
	}
	if !slices.Equal(rateModels(old.Cost.ModelRates), rateModels(newCfg.Cost.ModelRates)) {
		changes = append(changes, "cost.modelRates: changed")
	}

	for name, prof := range newCfg.Sources {
		if oldProf, ok := old.Sources[name]; !ok {
			changes = append(changes, fmt.Sprintf("sources: added %s", name))
		} else if oldProf.Enabled != prof.Enabled {
			changes = append(changes, fmt.Sprintf("sources.%s.enabled: %v → %v", name, oldProf.Enabled, prof.Enabled))
		}
	}
	for name := range old.Sources {
		if _, ok := newCfg.Sources[name]; !ok {
			changes = append(changes, fmt.Sprintf("sources: removed %s", name))
		}
	}

	return changes
}

func rateModels(rates []ModelRate) []string {
	names := make([]string, len(rates))
	for i, r := range rates {
		names[i] = r.Model
	}
	return names
}
