package procwatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tracehub/tracehub/internal/config"
)

func TestIsAgentProcess_MatchesKnownBinaries(t *testing.T) {
	assert.True(t, isAgentProcess("claude", ""))
	assert.True(t, isAgentProcess("codex", ""))
	assert.False(t, isAgentProcess("bash", ""))
}

func TestIsAgentProcess_MatchesNodeRunningAgent(t *testing.T) {
	assert.True(t, isAgentProcess("node", "/usr/bin/node /opt/claude/cli.js"))
	assert.False(t, isAgentProcess("node", "/usr/bin/node node_modules/.bin/claude-helper"))
}

func TestProcessActivity_IsChurning(t *testing.T) {
	cfg := config.ProcessEnrichmentConfig{ChurningCPUThreshold: 10, RequireNetwork: true}

	below := ProcessActivity{CPUPercent: 5, TCPConns: 3}
	assert.False(t, below.IsChurning(cfg))

	noNet := ProcessActivity{CPUPercent: 50, TCPConns: 0}
	assert.False(t, noNet.IsChurning(cfg))

	churning := ProcessActivity{CPUPercent: 50, TCPConns: 1}
	assert.True(t, churning.IsChurning(cfg))
}

func TestDiscover_DisabledReturnsNil(t *testing.T) {
	activity, err := Discover(config.ProcessEnrichmentConfig{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, activity)
}

func TestParseTmuxPanes(t *testing.T) {
	output := "1234\tmain\t0\t1\n5678\tside\t2\t0\n\n"
	panes := parseTmuxPanes(output)

	if assert.Len(t, panes, 2) {
		assert.Equal(t, "main:0.1", panes[0].Target)
		assert.Equal(t, int32(1234), panes[0].PanePID)
		assert.Equal(t, "side:2.0", panes[1].Target)
	}
}

func TestTmuxResolver_NilResolverIsSafe(t *testing.T) {
	var r *TmuxResolver
	target, ok := r.Resolve(1)
	assert.False(t, ok)
	assert.Empty(t, target)
}
