package procwatch

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// TmuxPane is a single tmux pane and the shell PID running inside it.
type TmuxPane struct {
	SessionName string
	WindowIndex int
	PaneIndex   int
	PanePID     int32
	Target      string // "session:window.pane", ready for tmux commands
}

// TmuxResolver maps a process PID to its containing tmux pane, walking
// the process tree upward via gopsutil's cross-platform Ppid() lookup
// (spec.md §4.8) -- the teacher's tmux_linux.go/tmux_other.go split on
// /proc parsing vs. shelling out to `ps` is unnecessary once Ppid()
// resolution goes through gopsutil, which already abstracts that
// platform difference.
type TmuxResolver struct {
	targetByPID map[int32]string
}

// NewTmuxResolver queries tmux for all panes. Returns nil (not an error)
// when tmux isn't running or isn't installed -- enrichment degrades
// gracefully.
func NewTmuxResolver() *TmuxResolver {
	panes, err := listTmuxPanes()
	if err != nil || len(panes) == 0 {
		return nil
	}
	targetByPID := make(map[int32]string, len(panes))
	for _, p := range panes {
		targetByPID[p.PanePID] = p.Target
	}
	return &TmuxResolver{targetByPID: targetByPID}
}

// Resolve walks the process tree from pid upward looking for a PID that
// matches a tmux pane's shell PID.
func (r *TmuxResolver) Resolve(pid int32) (string, bool) {
	if r == nil {
		return "", false
	}

	current := pid
	for i := 0; i < 10; i++ {
		if target, ok := r.targetByPID[current]; ok {
			return target, true
		}
		parent, err := parentPID(current)
		if err != nil || parent <= 1 || parent == current {
			break
		}
		current = parent
	}
	return "", false
}

func parentPID(pid int32) (int32, error) {
	p, err := gopsprocess.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	return p.Ppid()
}

func listTmuxPanes() ([]TmuxPane, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return nil, err
	}

	out, err := exec.Command(path, "list-panes", "-a", "-F",
		"#{pane_pid}\t#{session_name}\t#{window_index}\t#{pane_index}").Output()
	if err != nil {
		return nil, err
	}
	return parseTmuxPanes(string(out)), nil
}

func parseTmuxPanes(output string) []TmuxPane {
	var panes []TmuxPane
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}

		pid, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			continue
		}
		winIdx, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		paneIdx, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}

		sessionName := fields[1]
		panes = append(panes, TmuxPane{
			SessionName: sessionName,
			WindowIndex: winIdx,
			PaneIndex:   paneIdx,
			PanePID:     int32(pid),
			Target:      fmt.Sprintf("%s:%d.%d", sessionName, winIdx, paneIdx),
		})
	}
	return panes
}
