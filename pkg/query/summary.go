package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

// MarkerCount is the number of rows and trials for one marker.
type MarkerCount struct {
	Marker string
	Rows   int64
	Trials int64
}

// GroupStats are per-group behavioural aggregates, computed over
// trials rather than rows.
type GroupStats struct {
	Group        string
	Trials       int64
	Accuracy     float64
	MeanLatency  sql.NullFloat64
	LatencyCount int64
}

// Summary describes a trial table.
type Summary struct {
	Rows    int64
	Trials  int64
	Markers []MarkerCount
	Groups  []GroupStats
}

// SummaryOptions names the columns used for the grouped aggregates.
type SummaryOptions struct {
	GroupBy string
	Correct string
	Latency string
}

// DefaultSummaryOptions groups by task type and reports accuracy and
// mean reaction time.
func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{
		GroupBy: "TaskType",
		Correct: "IsCorrect",
		Latency: "ReactionTime",
	}
}

// Summarize computes per-marker counts and, when the grouping columns
// exist, per-group accuracy and latency for a registered table.
func (e *Engine) Summarize(ctx context.Context, table string, opts SummaryOptions) (*Summary, error) {
	trial := quote(protocol.ColumnTrial)
	marker := quote(protocol.ColumnMarker)

	var s Summary
	row := e.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*), COUNT(DISTINCT %s) FROM %s", trial, table))
	if err := row.Scan(&s.Rows, &s.Trials); err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to count rows")
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %[1]s, COUNT(*), COUNT(DISTINCT %[2]s)
		 FROM %[3]s GROUP BY %[1]s ORDER BY MIN(%[2]s), %[1]s`, marker, trial, table))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to count markers")
	}
	for rows.Next() {
		var m MarkerCount
		if err := rows.Scan(&m.Marker, &m.Rows, &m.Trials); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.CodeInput, "failed to scan marker count")
		}
		s.Markers = append(s.Markers, m)
	}
	rows.Close()

	cols, err := e.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	if !have[opts.GroupBy] || !have[opts.Correct] || !have[opts.Latency] {
		return &s, nil
	}

	// Every row of a trial carries the same details, so one row per
	// trial is enough.
	q := fmt.Sprintf(`
		WITH per_trial AS (
			SELECT %[1]s, ANY_VALUE(%[2]s) AS grp, ANY_VALUE(%[3]s) AS ok, ANY_VALUE(%[4]s) AS lat
			FROM %[5]s GROUP BY %[1]s
		)
		SELECT CAST(grp AS VARCHAR), COUNT(*),
		       AVG(CASE WHEN ok THEN 1.0 ELSE 0.0 END),
		       AVG(lat) FILTER (WHERE NOT isnan(lat)),
		       COUNT(lat) FILTER (WHERE NOT isnan(lat))
		FROM per_trial GROUP BY grp ORDER BY grp`,
		trial, quote(opts.GroupBy), quote(opts.Correct), quote(opts.Latency), table)

	grows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInput, "failed to aggregate groups")
	}
	defer grows.Close()
	for grows.Next() {
		var g GroupStats
		var name sql.NullString
		if err := grows.Scan(&name, &g.Trials, &g.Accuracy, &g.MeanLatency, &g.LatencyCount); err != nil {
			return nil, errors.Wrap(err, errors.CodeInput, "failed to scan group")
		}
		g.Group = name.String
		s.Groups = append(s.Groups, g)
	}
	return &s, grows.Err()
}

func quote(ident string) string {
	return `"` + ident + `"`
}
