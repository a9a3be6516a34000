package aggregate_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stackvity/bqbatch/internal/testutil"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/aggregate"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg(conc int) batch.RunConfig {
	return batch.RunConfig{Concurrency: conc, Top: batch.DefaultTop, ThresholdPct: batch.DefaultThresholdPct}
}

func strategy(t *testing.T, tool batch.Tool, c batch.RunConfig) aggregate.Strategy {
	t.Helper()
	s, err := aggregate.For(tool, c)
	require.NoError(t, err)
	require.Equal(t, tool, s.Tool())
	return s
}

func TestFor(t *testing.T) {
	_, err := aggregate.For("lint", cfg(1))
	assert.ErrorIs(t, err, batch.ErrConfigValidation)

	bad := cfg(1)
	bad.ThresholdPct = -1
	_, err = aggregate.For(batch.ToolCompare, bad)
	assert.ErrorIs(t, err, batch.ErrConfigValidation)

	bad = cfg(1)
	bad.MinCostGB = -0.5
	_, err = aggregate.For(batch.ToolOptimize, bad)
	assert.ErrorIs(t, err, batch.ErrConfigValidation)
}

func TestCompare_CriticalDifference(t *testing.T) {
	items := testutil.Pairs(t, [2]string{"a.d.t1", "b.d.t1"}, [2]string{"a.d.t2", "b.d.t2"})
	analyzer := &testutil.StubAnalyzer{Payloads: map[string]any{
		"a.d.t1 vs b.d.t1": payload.Comparison{Identical: true, HasRowCounts: true, RowCountA: 1000, RowCountB: 1200},
		"a.d.t2 vs b.d.t2": payload.Comparison{Identical: true, HasRowCounts: true, RowCountA: 1000, RowCountB: 1050},
	}}
	run := testutil.Run(t, batch.ToolCompare, items, analyzer, cfg(2))

	report := strategy(t, batch.ToolCompare, cfg(2)).Aggregate(run)
	sum := report.Compare
	require.NotNil(t, sum)
	require.Len(t, sum.Pairs, 2)

	assert.True(t, sum.Pairs[0].Critical, "20 percent exceeds the 10 percent threshold")
	assert.InDelta(t, 20.0, sum.Pairs[0].RowDiffPct, 1e-9)
	assert.False(t, sum.Pairs[1].Critical, "5 percent stays under the threshold")
	assert.InDelta(t, 5.0, sum.Pairs[1].RowDiffPct, 1e-9)

	assert.Equal(t, 2, sum.RowCountDifference)
	assert.Equal(t, 1, sum.Critical)
	require.Len(t, sum.CriticalPairs, 1)
	assert.Equal(t, "a.d.t1 vs b.d.t1", sum.CriticalPairs[0].Label)
}

func TestCompare_Classify(t *testing.T) {
	testCases := []struct {
		name         string
		in           payload.Comparison
		wantClass    string
		wantCritical bool
	}{
		{"identical without counts", payload.Comparison{Identical: true}, aggregate.ClassIdentical, false},
		{"identical with equal counts", payload.Comparison{Identical: true, HasRowCounts: true, RowCountA: 7, RowCountB: 7}, aggregate.ClassIdentical, false},
		{"schema mismatch is always critical", payload.Comparison{OnlyInB: []payload.Field{{Name: "x"}}}, aggregate.ClassSchemaMismatch, true},
		{"type change", payload.Comparison{TypeChanges: []payload.TypeChange{{Field: "a"}}}, aggregate.ClassSchemaMismatch, true},
		{"empty left table", payload.Comparison{Identical: true, HasRowCounts: true, RowCountA: 0, RowCountB: 1}, aggregate.ClassRowCountDifference, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := aggregate.Classify(tc.in, 10)
			assert.Equal(t, tc.wantClass, got.Class)
			assert.Equal(t, tc.wantCritical, got.Critical)
		})
	}
	assert.InDelta(t, 100.0, aggregate.RowDiffPct(0, 1), 1e-9)
}

func TestCompare_CriticalOnlyRows(t *testing.T) {
	items := testutil.Pairs(t, [2]string{"a.d.x", "b.d.x"}, [2]string{"a.d.y", "b.d.y"}, [2]string{"a.d.z", "b.d.z"})
	analyzer := &testutil.StubAnalyzer{
		Payloads: map[string]any{
			"a.d.x vs b.d.x": payload.Comparison{Identical: true},
			"a.d.y vs b.d.y": payload.Comparison{OnlyInA: []payload.Field{{Name: "debug"}}},
		},
		Fail: map[string]error{"a.d.z vs b.d.z": errors.New("not found")},
	}
	c := cfg(1)
	c.CriticalOnly = true
	run := testutil.Run(t, batch.ToolCompare, items, analyzer, c)
	s := strategy(t, batch.ToolCompare, c)
	rows := s.ItemRows(run, s.Aggregate(run))

	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].SequenceIndex)
	assert.Equal(t, 2, rows[1].SequenceIndex)
	assert.Equal(t, "not found", rows[1].Error)
	assert.Len(t, rows[0].Cells, len(s.ItemColumns()))
}

func TestOptimize_Scoring(t *testing.T) {
	items := testutil.Queries(t, "q/big.sql", "q/bad.sql", "q/tiny.sql")
	analyzer := &testutil.StubAnalyzer{Payloads: map[string]any{
		"q/big.sql": payload.Optimization{GBProcessed: 50},
		"q/bad.sql": payload.Optimization{GBProcessed: 5, Recommendations: []payload.Recommendation{
			{Severity: "critical"}, {Severity: "medium"},
		}},
		"q/tiny.sql": payload.Optimization{GBProcessed: 0.01, Recommendations: []payload.Recommendation{{Severity: "low"}}},
	}}
	run := testutil.Run(t, batch.ToolOptimize, items, analyzer, cfg(3))
	report := strategy(t, batch.ToolOptimize, cfg(3)).Aggregate(run)
	sum := report.Optimize
	require.NotNil(t, sum)

	require.Len(t, sum.TopByScore, 3)
	assert.Equal(t, "q/bad.sql", sum.TopByScore[0].Label)
	assert.Equal(t, 65.0, sum.TopByScore[0].Score)
	assert.Equal(t, "q/big.sql", sum.TopByScore[1].Label)
	assert.Equal(t, 50.0, sum.TopByScore[1].Score)

	assert.Equal(t, "q/big.sql", sum.TopByGB[0].Label)
	assert.InDelta(t, 55.01, sum.TotalGB, 1e-9)
	assert.Equal(t, []aggregate.SeverityCount{
		{Severity: "critical", Count: 1}, {Severity: "high", Count: 0}, {Severity: "medium", Count: 1}, {Severity: "low", Count: 1},
	}, sum.Severity)
}

func TestOptimize_MinCostAndPrioritize(t *testing.T) {
	items := testutil.Queries(t, "a.sql", "b.sql", "c.sql", "d.sql")
	analyzer := &testutil.StubAnalyzer{
		Payloads: map[string]any{
			"a.sql": payload.Optimization{GBProcessed: 0.5},
			"b.sql": payload.Optimization{GBProcessed: 2},
			"c.sql": payload.Optimization{GBProcessed: 1, Recommendations: []payload.Recommendation{{Severity: "high"}}},
		},
		Fail: map[string]error{"d.sql": errors.New("syntax error")},
	}
	c := cfg(2)
	c.MinCostGB = 1
	c.Prioritize = true
	run := testutil.Run(t, batch.ToolOptimize, items, analyzer, c)
	s := strategy(t, batch.ToolOptimize, c)
	report := s.Aggregate(run)

	assert.Equal(t, 1, report.Optimize.BelowMinCost)
	assert.Len(t, report.Optimize.TopByScore, 2, "a.sql is under the floor")
	assert.InDelta(t, 3.5, report.Optimize.TotalGB, 1e-9, "totals still include it")

	rows := s.ItemRows(run, report)
	var order []string
	for _, r := range rows {
		order = append(order, r.Label)
	}
	assert.Equal(t, []string{"c.sql", "b.sql", "a.sql", "d.sql"}, order)
}

func TestOptimize_TopTiesBySequence(t *testing.T) {
	paths := make([]string, 12)
	payloads := map[string]any{}
	for i := range paths {
		paths[i] = fmt.Sprintf("q%02d.sql", i)
		payloads[paths[i]] = payload.Optimization{GBProcessed: 1}
	}
	c := cfg(4)
	c.Top = 3
	run := testutil.Run(t, batch.ToolOptimize, testutil.Queries(t, paths...), &testutil.StubAnalyzer{Payloads: payloads}, c)
	sum := strategy(t, batch.ToolOptimize, c).Aggregate(run).Optimize

	require.Len(t, sum.TopByScore, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{sum.TopByScore[0].SequenceIndex, sum.TopByScore[1].SequenceIndex, sum.TopByScore[2].SequenceIndex})
}

func TestProfile_Statistics(t *testing.T) {
	items := testutil.Tables(t, "p.d.small", "p.d.big", "p.d.empty", "p.d.broken")
	analyzer := &testutil.StubAnalyzer{
		Payloads: map[string]any{
			"p.d.small": payload.Profile{NumRows: 10, NumBytes: 100, AvgNullPct: 60, Partitioned: true},
			"p.d.big":   payload.Profile{NumRows: 1000, NumBytes: 9000, AvgNullPct: 5, Clustered: true, ClusteringFields: []string{"id"}},
			"p.d.empty": payload.Profile{},
		},
		Fail: map[string]error{"p.d.broken": batch.ToolError(batch.ErrToolNonZeroExit, "access denied")},
	}
	c := cfg(2)
	c.DetectAnomalies = true
	c.CompareProfiles = true
	run := testutil.Run(t, batch.ToolProfile, items, analyzer, c)
	s := strategy(t, batch.ToolProfile, c)
	report := s.Aggregate(run)
	sum := report.Profile
	require.NotNil(t, sum)

	assert.Equal(t, 3, sum.TablesProfiled)
	assert.Equal(t, int64(1010), sum.TotalRows)
	assert.Equal(t, int64(9100), sum.TotalBytes)
	assert.Equal(t, 1, sum.Partitioned)
	assert.Equal(t, 1, sum.Clustered)
	assert.Equal(t, "p.d.big", sum.LargestTables[0].Label)
	assert.Equal(t, "p.d.small", sum.MostNulls[0].Label)

	require.Len(t, sum.Anomalies, 2)
	assert.Equal(t, "p.d.small", sum.Anomalies[0].Label)
	assert.Equal(t, "p.d.empty", sum.Anomalies[1].Label)
	require.Len(t, sum.Comparison, 3)
	assert.InDelta(t, 100.0*9000/9100, sum.Comparison[1].ByteShare, 1e-9)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "p.d.broken", report.Errors[0].Label)
	assert.Equal(t, "access denied", report.Errors[0].Message)

	titles := []string{}
	for _, sec := range s.Sections(report) {
		titles = append(titles, sec.Title)
	}
	assert.Equal(t, []string{"Run", "Totals", "Largest tables", "Highest null rate", "Anomalies", "Comparison"}, titles)
}

func TestProfile_ContinueOnErrorExcludesFailure(t *testing.T) {
	items := testutil.Tables(t, "t0", "t1", "t2", "t3", "t4")
	payloads := map[string]any{}
	for _, it := range items {
		payloads[it.ID] = payload.Profile{NumRows: 100, NumBytes: 1000}
	}
	analyzer := &testutil.StubAnalyzer{Payloads: payloads, Fail: map[string]error{"t2": errors.New("timeout")}}
	run := testutil.Run(t, batch.ToolProfile, items, analyzer, cfg(2))

	report := strategy(t, batch.ToolProfile, cfg(2)).Aggregate(run)
	assert.Equal(t, 5, report.Completed)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, int64(400), report.Profile.TotalRows)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 2, report.Errors[0].SequenceIndex)
	assert.ErrorIs(t, run.Err(), batch.ErrItemExecution)
}

func TestUnexpectedPayloadIsReported(t *testing.T) {
	run := testutil.Run(t, batch.ToolProfile, testutil.Tables(t, "a", "b"), &testutil.StubAnalyzer{}, cfg(1))
	report := strategy(t, batch.ToolProfile, cfg(1)).Aggregate(run)
	assert.Zero(t, report.Profile.TablesProfiled)
	assert.Len(t, report.Errors, 2)
}

func TestAggregate_IdempotentAndConcurrencyInvariant(t *testing.T) {
	paths := make([]string, 30)
	payloads := map[string]any{}
	for i := range paths {
		paths[i] = fmt.Sprintf("q/%02d.sql", i)
		recs := make([]payload.Recommendation, i%4)
		for j := range recs {
			recs[j] = payload.Recommendation{Severity: batch.Severities[j]}
		}
		payloads[paths[i]] = payload.Optimization{GBProcessed: float64(i % 7), Recommendations: recs}
	}

	build := func(conc int) (*aggregate.Report, []aggregate.ItemRow) {
		c := cfg(conc)
		c.Prioritize = true
		run := testutil.Run(t, batch.ToolOptimize, testutil.Queries(t, paths...), &testutil.StubAnalyzer{Payloads: payloads}, c)
		s := strategy(t, batch.ToolOptimize, c)
		first := s.Aggregate(run)
		assert.Equal(t, first, s.Aggregate(run), "aggregate is idempotent")
		return first, s.ItemRows(run, first)
	}

	r1, rows1 := build(1)
	r8, rows8 := build(8)
	assert.Equal(t, r1, r8)
	assert.Equal(t, len(rows1), len(rows8))
	for i := range rows1 {
		rows1[i].DurationMillis, rows8[i].DurationMillis = 0, 0
	}
	assert.Equal(t, rows1, rows8)
}
