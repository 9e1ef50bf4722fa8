// Package discovery enumerates trace files under configured source
// profiles and watches them for changes (spec.md §4.1).
//
// Grounded on the teacher's internal/monitor/jsonl.go FindRecentSessionFiles
// (directory-walk-plus-mtime-cutoff enumeration) for the listing half, and
// on the pack's github.com/standardbeagle/lci internal/indexing/watcher.go
// FileWatcher (fsnotify.Watcher plus a path-set debouncer) for the watch
// half -- the only pack repo wiring both bmatcuk/doublestar/v4 and
// fsnotify/fsnotify together for exactly this kind of include/exclude-glob
// filtered recursive watch.
package discovery

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/parser"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// DiscoveredTraceFile is one candidate trace file found under a source
// profile (spec.md §4.1).
type DiscoveredTraceFile struct {
	ID            string
	SourceProfile string
	Path          string
	AgentHint     tracemodel.AgentKind
	ParserHint    tracemodel.AgentKind
	SizeBytes     int64
	MtimeMs       int64
}

// ToParserFile projects the discovery-level record down to the minimal
// view internal/parser needs to dispatch and parse.
func (d DiscoveredTraceFile) ToParserFile() parser.DiscoveredFile {
	return parser.DiscoveredFile{
		Path:          d.Path,
		SourceProfile: d.SourceProfile,
		ParserHint:    d.ParserHint,
	}
}

func agentKindOf(hint string) tracemodel.AgentKind {
	switch strings.ToLower(hint) {
	case string(tracemodel.AgentClaude):
		return tracemodel.AgentClaude
	case string(tracemodel.AgentCodex):
		return tracemodel.AgentCodex
	case string(tracemodel.AgentCursor):
		return tracemodel.AgentCursor
	case string(tracemodel.AgentOpenCode):
		return tracemodel.AgentOpenCode
	case string(tracemodel.AgentGemini):
		return tracemodel.AgentGemini
	case string(tracemodel.AgentPi):
		return tracemodel.AgentPi
	default:
		return tracemodel.AgentUnknown
	}
}

// expandHome replaces a leading "~" with the current user's home
// directory (spec.md §4.1: "Home-prefix ~ in roots is expanded").
func expandHome(root string) string {
	if root == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return root
	}
	if strings.HasPrefix(root, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, root[2:])
		}
	}
	return root
}

// matchesGlobs reports whether relPath matches at least one include glob
// (if any are configured) and no exclude glob.
func matchesGlobs(relPath string, include, exclude []string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pat := range exclude {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
	}
	return false
}

// depthOf returns the number of path components in relPath (its separators
// plus one), used to bound enumeration to maxDepth (0 means unbounded).
func depthOf(relPath string) int {
	relPath = filepath.ToSlash(relPath)
	if relPath == "." || relPath == "" {
		return 0
	}
	return strings.Count(relPath, "/") + 1
}

// ListSources enumerates every file under every enabled source profile in
// cfg, matching include/exclude globs and bounded by maxDepth. Unreadable
// directories are logged and skipped, never aborting the whole listing
// (spec.md §4.1 Failure clause).
func ListSources(cfg *config.Config) []DiscoveredTraceFile {
	var out []DiscoveredTraceFile
	for name, profile := range cfg.Sources {
		if !profile.Enabled {
			continue
		}
		agentHint := agentKindOf(profile.AgentHint)
		for _, rawRoot := range profile.Roots {
			root := expandHome(rawRoot)
			out = append(out, listRoot(name, root, profile, agentHint)...)
		}
	}
	return out
}

func listRoot(sourceName, root string, profile config.SourceProfile, agentHint tracemodel.AgentKind) []DiscoveredTraceFile {
	var out []DiscoveredTraceFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("[discovery] skipping %s: %v", path, err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			relPath = path
		}
		if profile.MaxDepth > 0 && depthOf(relPath) > profile.MaxDepth {
			return nil
		}
		if !matchesGlobs(relPath, profile.IncludeGlobs, profile.ExcludeGlobs) {
			return nil
		}
		out = append(out, DiscoveredTraceFile{
			ID:            tracemodel.StableHash(sourceName, path),
			SourceProfile: sourceName,
			Path:          path,
			AgentHint:     agentHint,
			ParserHint:    agentHint,
			SizeBytes:     info.Size(),
			MtimeMs:       info.ModTime().UnixMilli(),
		})
		return nil
	})
	if err != nil {
		log.Printf("[discovery] failed to enumerate root %s (%s): %v", root, sourceName, err)
	}
	return out
}

// Snapshot returns a full listing of every discoverable file across all
// enabled source profiles, matching spec.md §4.1's periodic fullListing()
// signal. It is a synchronous re-walk, not a cached view.
func Snapshot(cfg *config.Config) []DiscoveredTraceFile {
	return ListSources(cfg)
}
