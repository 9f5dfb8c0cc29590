package opt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsEvictOldestRun(t *testing.T) {
	RecordStats("evict-first", "u1", SolveStats{Outcome: "optimal", Nodes: 3})
	RecordStats("evict-first", "u2", SolveStats{Outcome: "infeasible"})
	got := GetStats("evict-first")
	assert.Len(t, got, 2)
	assert.Equal(t, 3, got["u1"].Nodes)

	for i := 0; i < StatsRuns; i++ {
		RecordStats(fmt.Sprintf("evict-%d", i), "u", SolveStats{Outcome: "optimal"})
	}
	assert.Empty(t, GetStats("evict-first"))
	assert.Len(t, GetStats(fmt.Sprintf("evict-%d", StatsRuns-1)), 1)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(store), StatsRuns)
	assert.Len(t, order, len(store))
}
