package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectNamePattern(t *testing.T) {
	assert.True(t, ProjectNamePattern.MatchString("a"))
	assert.True(t, ProjectNamePattern.MatchString("todo-app_v1.2"))
	assert.False(t, ProjectNamePattern.MatchString(""))
	assert.False(t, ProjectNamePattern.MatchString("has space"))
	assert.False(t, ProjectNamePattern.MatchString(string(make([]byte, 101))))
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusError.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
	assert.False(t, SessionStatusRunning.IsTerminal())
	assert.False(t, SessionStatusPaused.IsTerminal())
	assert.False(t, SessionStatusBlocked.IsTerminal())
}

func TestTestResolved(t *testing.T) {
	var tr Test
	assert.False(t, tr.Resolved())
	passed := true
	tr.Passed = &passed
	assert.True(t, tr.Resolved())
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"allow_untested_tasks":true,"model":"x"}`)))
	assert.True(t, m.Bool("allow_untested_tasks"))
	assert.Equal(t, "x", m.String("model"))
	assert.False(t, m.Bool("missing"))

	var empty JSONMap
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)
}

func TestMetricsSummaryScan(t *testing.T) {
	var s MetricsSummary
	require.NoError(t, s.Scan([]byte(`{"metrics_version":1,"quality_score":9,"error_rate":0.01}`)))
	assert.Equal(t, 9, s.QualityScore)
	assert.InDelta(t, 0.01, s.ErrorRate, 1e-9)
}

func TestEpicTierRetestRank(t *testing.T) {
	assert.Less(t, EpicTierFoundation.RetestRank(), EpicTierHighDependency.RetestRank())
	assert.Less(t, EpicTierHighDependency.RetestRank(), EpicTierStandard.RetestRank())
}

func TestProgressRemaining(t *testing.T) {
	p := Progress{TotalTasks: 12, CompletedTasks: 5}
	assert.Equal(t, 7, p.Remaining())
}
