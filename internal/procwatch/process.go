// Package procwatch implements SPEC_FULL.md §4.8's optional process
// enrichment pass: an out-of-band scan that reports a live PID, CPU-churn
// hint, and tmux pane target for running agent processes. Nothing in the
// engine calls it or attaches its results to a trace. It never feeds
// activityStatus classification (spec.md §4.6's aggregator
// stays a pure function of events and config); enrichment is gated by
// config.ProcessEnrichmentConfig and off by default.
//
// Grounded on the teacher's internal/monitor/process.go DiscoverSessions/
// DiscoverProcessActivity, which hand-rolled /proc/<pid>/stat and
// /proc/<pid>/net/tcp parsing for PID discovery, CPU-tick deltas, and
// ESTABLISHED TCP connection counts. This package replaces that
// Linux-only hand parsing with github.com/shirou/gopsutil/v3/process,
// which already wraps platform-specific process enumeration, CPU percent,
// and connection listing — the domain dependency the teacher's own
// go.mod never needed because its monitor only ever ran on the
// developer's own Linux/macOS box, not as a general enrichment layer.
package procwatch

import (
	"strings"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/tracehub/tracehub/internal/config"
)

// ProcessActivity is one running agent process's churn signal, matched
// to a trace via working directory.
type ProcessActivity struct {
	PID        int32
	WorkingDir string
	CPUPercent float64
	TCPConns   int
	CmdLine    string
}

// IsChurning reports whether this process shows signs of active work,
// per config.ProcessEnrichmentConfig's threshold (spec.md §4.8).
func (pa ProcessActivity) IsChurning(cfg config.ProcessEnrichmentConfig) bool {
	if pa.CPUPercent < cfg.ChurningCPUThreshold {
		return false
	}
	if cfg.RequireNetwork && pa.TCPConns == 0 {
		return false
	}
	return true
}

var agentBinaryNames = []string{"claude", "claude-code", "codex", "gemini", "cursor", "opencode"}

func isAgentProcess(name, cmdline string) bool {
	name = strings.ToLower(name)
	for _, known := range agentBinaryNames {
		if name == known {
			return true
		}
	}
	if name == "node" || name == "bun" || name == "python" || name == "python3" {
		lower := strings.ToLower(cmdline)
		if strings.Contains(lower, "node_modules/.bin") {
			return false
		}
		for _, known := range agentBinaryNames {
			if strings.Contains(lower, known) {
				return true
			}
		}
	}
	return false
}

// Discover scans running processes for known coding-agent binaries and
// reports their CPU usage and established TCP connection counts
// (spec.md §4.8). Disabled entirely unless cfg.Enabled.
func Discover(cfg config.ProcessEnrichmentConfig) ([]ProcessActivity, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, err
	}

	var out []ProcessActivity
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		if !isAgentProcess(name, cmdline) {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil {
			continue
		}

		cpuPct, _ := p.CPUPercent()
		conns, _ := p.Connections()
		established := 0
		for _, c := range conns {
			if strings.EqualFold(c.Status, "ESTABLISHED") {
				established++
			}
		}

		out = append(out, ProcessActivity{
			PID:        p.Pid,
			WorkingDir: cwd,
			CPUPercent: cpuPct,
			TCPConns:   established,
			CmdLine:    cmdline,
		})
	}
	return out, nil
}

// sampleInterval is the minimum gap gopsutil needs between two
// CPUPercent() calls on the same process to report a meaningful delta;
// callers polling faster than this will see 0% on repeat calls.
const sampleInterval = time.Second
