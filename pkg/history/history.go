// Package history loads the historical feature table a forecast run is seeded
// from.
//
// A Source returns the rows of one line together with the version of the
// table they came from, so a run can report exactly which prepared table and
// which artifact set produced its output.
package history

import (
	"context"
	"fmt"

	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/stabilize"
)

// Table is a historical feature table for one line.
type Table struct {
	Version string
	Rows    []series.Row
	// Stats describes the target over the whole table when Rows holds only
	// its most recent part. Nil means Rows is the whole table.
	Stats *stabilize.Stats
}

// Source loads historical tables.
type Source interface {
	Load(ctx context.Context, line string) (Table, error)
}

// NoTableError reports that no table exists for a line.
type NoTableError struct {
	Line   string
	Source string
}

func (e *NoTableError) Error() string {
	return fmt.Sprintf("history: no feature table for line %q in %s", e.Line, e.Source)
}

// StaticSource serves fixed tables, keyed by line. It is used by tests and by
// callers that already hold the table in memory.
type StaticSource map[string]Table

// Load returns a copy of the table for line.
func (s StaticSource) Load(ctx context.Context, line string) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	t, ok := s[line]
	if !ok {
		return Table{}, &NoTableError{Line: line, Source: "static source"}
	}
	rows := make([]series.Row, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = r.Clone()
	}
	out := Table{Version: t.Version, Rows: rows}
	if t.Stats != nil {
		stats := *t.Stats
		out.Stats = &stats
	}
	return out, nil
}

// tail keeps the last n rows; n <= 0 keeps all.
func tail(rows []series.Row, n int) []series.Row {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}
