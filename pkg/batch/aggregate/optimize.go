package aggregate

import (
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/stackvity/bqbatch/pkg/batch"
	"github.com/stackvity/bqbatch/pkg/batch/payload"
)

// OptimizeSummary holds the cost-prioritized ranking of an optimize batch.
type OptimizeSummary struct {
	QueriesAnalyzed int             `json:"queriesAnalyzed"`
	TotalGB         float64         `json:"totalGbProcessed"`
	TotalCostUSD    float64         `json:"totalCostUsd"`
	Severity        []SeverityCount `json:"severityBreakdown"`
	MinCostGB       float64         `json:"minCostGb"`
	BelowMinCost    int             `json:"belowMinCost"`
	TopByScore      []QueryScore    `json:"topByScore"`
	TopByGB         []QueryScore    `json:"topByGbProcessed"`
}

// SeverityCount is one bucket of the severity histogram.
type SeverityCount struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// QueryScore is one query in a ranking.
type QueryScore struct {
	SequenceIndex int     `json:"sequenceIndex"`
	Label         string  `json:"label"`
	GBProcessed   float64 `json:"gbProcessed"`
	Score         float64 `json:"score"`
	Critical      int     `json:"critical"`
	High          int     `json:"high"`
	Medium        int     `json:"medium"`
	Low           int     `json:"low"`
}

// OptimizeStrategy aggregates bq-optimize results.
type OptimizeStrategy struct {
	cfg batch.RunConfig
}

// Tool implements Strategy.
func (s *OptimizeStrategy) Tool() batch.Tool { return batch.ToolOptimize }

// Score is GB processed plus the weight of every recommendation.
func Score(o payload.Optimization) float64 {
	score := o.GBProcessed
	for _, r := range o.Recommendations {
		score += batch.SeverityWeight(r.Severity)
	}
	return score
}

func scoreOf(seq int, label string, o payload.Optimization) QueryScore {
	counts := o.SeverityCounts()
	return QueryScore{
		SequenceIndex: seq,
		Label:         label,
		GBProcessed:   o.GBProcessed,
		Score:         Score(o),
		Critical:      counts[batch.SeverityCritical],
		High:          counts[batch.SeverityHigh],
		Medium:        counts[batch.SeverityMedium],
		Low:           counts[batch.SeverityLow],
	}
}

// Aggregate implements Strategy. Queries below the min-cost floor are counted
// in the totals but left out of both rankings.
func (s *OptimizeStrategy) Aggregate(run *batch.BatchRun) *Report {
	report, succeeded := collect(batch.ToolOptimize, run)
	sum := &OptimizeSummary{MinCostGB: s.cfg.MinCostGB}

	histogram := map[string]int{}
	ranked := make([]QueryScore, 0, len(succeeded))
	for _, o := range succeeded {
		opt, ok := o.env.Payload.(payload.Optimization)
		if !ok {
			unexpected(report, o)
			continue
		}
		sum.QueriesAnalyzed++
		sum.TotalGB += opt.GBProcessed
		sum.TotalCostUSD += opt.EstimatedCostUSD
		for sev, n := range opt.SeverityCounts() {
			histogram[sev] += n
		}
		if opt.GBProcessed < s.cfg.MinCostGB {
			sum.BelowMinCost++
			continue
		}
		ranked = append(ranked, scoreOf(o.env.SequenceIndex, o.item.Label(), opt))
	}

	for _, sev := range batch.Severities {
		sum.Severity = append(sum.Severity, SeverityCount{Severity: sev, Count: histogram[sev]})
	}

	seq := func(q QueryScore) int { return q.SequenceIndex }
	sum.TopByScore = rank(ranked, s.cfg.Top, func(q QueryScore) float64 { return q.Score }, seq)
	sum.TopByGB = rank(ranked, s.cfg.Top, func(q QueryScore) float64 { return q.GBProcessed }, seq)

	report.Optimize = sum
	return report
}

// ItemColumns implements Strategy.
func (s *OptimizeStrategy) ItemColumns() []string {
	return []string{"Processed", "Score", "Critical", "High", "Medium", "Low"}
}

// ItemRows implements Strategy. With Prioritize set, successful queries are
// listed by descending score, followed by failures in input order.
func (s *OptimizeStrategy) ItemRows(run *batch.BatchRun, _ *Report) []ItemRow {
	results := run.Results()
	rows := make([]ItemRow, 0, len(results))
	scores := make(map[int]float64, len(results))
	for _, env := range results {
		item, _ := run.Item(env.SequenceIndex)
		row := baseRow(item, env)
		if opt, ok := env.Payload.(payload.Optimization); ok {
			q := scoreOf(env.SequenceIndex, item.Label(), opt)
			scores[env.SequenceIndex] = q.Score
			row.Cells = []string{
				gb(q.GBProcessed),
				num(q.Score),
				strconv.Itoa(q.Critical),
				strconv.Itoa(q.High),
				strconv.Itoa(q.Medium),
				strconv.Itoa(q.Low),
			}
		}
		rows = append(rows, row)
	}

	if s.cfg.Prioritize {
		sort.SliceStable(rows, func(i, j int) bool {
			si, iok := scores[rows[i].SequenceIndex]
			sj, jok := scores[rows[j].SequenceIndex]
			if iok != jok {
				return iok
			}
			if si != sj {
				return si > sj
			}
			return rows[i].SequenceIndex < rows[j].SequenceIndex
		})
	}
	return rows
}

// Sections implements Strategy.
func (s *OptimizeStrategy) Sections(r *Report) []Section {
	sections := []Section{runSection(r)}
	sum := r.Optimize
	if sum == nil {
		return sections
	}

	totals := Section{
		Title:   "Totals",
		Columns: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Queries analyzed", strconv.Itoa(sum.QueriesAnalyzed)},
			{"Total processed", gb(sum.TotalGB)},
			{"Estimated cost", "$" + num(sum.TotalCostUSD)},
		},
	}
	if sum.MinCostGB > 0 {
		totals.Rows = append(totals.Rows, []string{"Below " + gb(sum.MinCostGB), strconv.Itoa(sum.BelowMinCost)})
	}

	severity := Section{Title: "Recommendations by severity", Columns: []string{"Severity", "Count"}, Rows: [][]string{}}
	for _, sc := range sum.Severity {
		severity.Rows = append(severity.Rows, []string{sc.Severity, strconv.Itoa(sc.Count)})
	}

	byScore := Section{Title: "Top queries by score", Columns: []string{"#", "Query", "Score", "Processed"}, Rows: [][]string{}}
	for i, q := range sum.TopByScore {
		byScore.Rows = append(byScore.Rows, []string{strconv.Itoa(i + 1), q.Label, num(q.Score), gb(q.GBProcessed)})
	}
	byGB := Section{Title: "Top queries by data processed", Columns: []string{"#", "Query", "Processed", "Score"}, Rows: [][]string{}}
	for i, q := range sum.TopByGB {
		byGB.Rows = append(byGB.Rows, []string{strconv.Itoa(i + 1), q.Label, gb(q.GBProcessed), num(q.Score)})
	}
	return append(sections, totals, severity, byScore, byGB)
}

func gb(f float64) string { return humanize.FormatFloat("#,###.##", f) + " GB" }
