// Package series holds the time-ordered rows a forecast run reads its lag and
// rolling features from.
//
// A Buffer is seeded once from the historical feature table and then grows by
// one row per forecast step. Every query is relative to the current tail, so a
// value appended at step i is visible to the lag and rolling lookups of step
// i+1 and never to anything computed before it was appended.
//
// A Buffer is owned by a single forecast run and is not safe for concurrent use.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Row is a single observation of the target signal with its derived columns.
type Row struct {
	Timestamp time.Time
	// Value is the target signal, observed or predicted.
	Value float64
	// Device is the line/device identifier, empty when unknown.
	Device string
	// Columns holds derived and carried columns (calendar, lag_k, roll_mean_w, ...).
	Columns map[string]float64
}

// Column returns a named derived column.
func (r Row) Column(name string) (float64, bool) {
	v, ok := r.Columns[name]
	return v, ok
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := r
	if r.Columns != nil {
		out.Columns = make(map[string]float64, len(r.Columns))
		for k, v := range r.Columns {
			out.Columns[k] = v
		}
	}
	return out
}

// ErrNotSeeded is returned by queries on a buffer that holds no rows.
var ErrNotSeeded = errors.New("series: buffer is empty")

// Buffer is an append-only, timestamp-ordered sequence of rows.
type Buffer struct {
	target string
	rows   []Row
}

// NewBuffer creates an empty buffer whose target column is resolved to Row.Value.
func NewBuffer(target string) *Buffer {
	return &Buffer{target: target}
}

// Target returns the name of the target column.
func (b *Buffer) Target() string {
	return b.target
}

// Seed initializes the buffer from historical rows, sorting them by timestamp.
// It fails with *EmptyHistoryError when fewer than minRows rows (or none) are
// given, and rejects duplicate timestamps. Seeding a non-empty buffer is an error.
func (b *Buffer) Seed(rows []Row, minRows int) error {
	if len(b.rows) > 0 {
		return errors.New("series: buffer already seeded")
	}
	if len(rows) == 0 || len(rows) < minRows {
		return &EmptyHistoryError{Rows: len(rows), Required: minRows}
	}

	seeded := make([]Row, len(rows))
	for i, r := range rows {
		seeded[i] = r.Clone()
	}
	sort.SliceStable(seeded, func(i, j int) bool {
		return seeded[i].Timestamp.Before(seeded[j].Timestamp)
	})

	for i := 1; i < len(seeded); i++ {
		if !seeded[i].Timestamp.After(seeded[i-1].Timestamp) {
			return fmt.Errorf("series: duplicate timestamp %s in history", seeded[i].Timestamp.Format(time.RFC3339))
		}
	}

	b.rows = seeded
	return nil
}

// Len returns the number of rows in the buffer.
func (b *Buffer) Len() int {
	return len(b.rows)
}

// Tail returns the most recent row.
func (b *Buffer) Tail() (Row, error) {
	if len(b.rows) == 0 {
		return Row{}, ErrNotSeeded
	}
	return b.rows[len(b.rows)-1], nil
}

// Rows returns a copy of the rows, oldest first.
func (b *Buffer) Rows() []Row {
	out := make([]Row, len(b.rows))
	copy(out, b.rows)
	return out
}

// LagValue returns column at position Len()-1-k.
// k == 0 is the tail itself. Fails with *InsufficientHistoryError when k >= Len().
func (b *Buffer) LagValue(column string, k int) (float64, error) {
	if k < 0 {
		return 0, fmt.Errorf("series: negative lag %d", k)
	}
	if k >= len(b.rows) {
		return 0, &InsufficientHistoryError{Column: column, Lag: k, Rows: len(b.rows)}
	}
	return b.value(b.rows[len(b.rows)-1-k], column)
}

// RollingMean returns the mean of the last w values of column, or of all
// values when the buffer holds fewer than w rows.
func (b *Buffer) RollingMean(column string, w int) (float64, error) {
	if w <= 0 {
		return 0, fmt.Errorf("series: rolling window must be > 0, got %d", w)
	}
	if len(b.rows) == 0 {
		return 0, ErrNotSeeded
	}

	start := len(b.rows) - w
	if start < 0 {
		start = 0
	}

	window := make([]float64, 0, len(b.rows)-start)
	for _, r := range b.rows[start:] {
		v, err := b.value(r, column)
		if err != nil {
			return 0, err
		}
		window = append(window, v)
	}
	return stat.Mean(window, nil), nil
}

// Values returns every value of column, oldest first.
func (b *Buffer) Values(column string) ([]float64, error) {
	out := make([]float64, 0, len(b.rows))
	for _, r := range b.rows {
		v, err := b.value(r, column)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Append adds a row after the tail. The row's timestamp must be strictly
// greater than the tail's.
func (b *Buffer) Append(row Row) error {
	if len(b.rows) > 0 {
		tail := b.rows[len(b.rows)-1]
		if !row.Timestamp.After(tail.Timestamp) {
			return fmt.Errorf("series: append at %s is not after tail %s",
				row.Timestamp.Format(time.RFC3339), tail.Timestamp.Format(time.RFC3339))
		}
	}
	b.rows = append(b.rows, row.Clone())
	return nil
}

func (b *Buffer) value(r Row, column string) (float64, error) {
	if column == b.target {
		return r.Value, nil
	}
	v, ok := r.Columns[column]
	if !ok {
		return 0, fmt.Errorf("series: column %q missing at %s", column, r.Timestamp.Format(time.RFC3339))
	}
	return v, nil
}
