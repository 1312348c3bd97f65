package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/stabilize"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VersionLayout formats the timestamp of the last row into a table version.
const VersionLayout = "20060102T150405"

// PostgresSource reads history from a table shaped
//
//	(ts timestamptz, device_id text, value double precision, features jsonb)
//
// The version of a loaded table is the timestamp of its most recent row.
type PostgresSource struct {
	pool    *pgxpool.Pool
	table   string
	maxRows int
}

// NewPostgresSource connects to connStr and verifies the connection.
// maxRows bounds the rows read per load; 0 loads all rows.
func NewPostgresSource(ctx context.Context, connStr, table string, maxRows int) (*PostgresSource, error) {
	if connStr == "" {
		return nil, errors.New("postgres connection string cannot be empty")
	}
	if table == "" {
		return nil, errors.New("postgres table cannot be empty")
	}
	if maxRows < 0 {
		return nil, fmt.Errorf("max rows must not be negative, got %d", maxRows)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres pool creation failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	return &PostgresSource{pool: pool, table: table, maxRows: maxRows}, nil
}

// Load returns the most recent rows of line in ascending time order. When
// maxRows cuts the result short, Table.Stats describes every row of line.
func (s *PostgresSource) Load(ctx context.Context, line string) (Table, error) {
	ident := pgx.Identifier{s.table}.Sanitize()
	query := fmt.Sprintf(`SELECT ts, device_id, value, features FROM %s WHERE device_id = $1 ORDER BY ts DESC`, ident)
	args := []any{line}
	if s.maxRows > 0 {
		query += ` LIMIT $2`
		args = append(args, s.maxRows)
	}

	pgRows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Table{}, fmt.Errorf("history: query %s: %w", s.table, err)
	}
	defer pgRows.Close()

	var rows []series.Row
	for pgRows.Next() {
		var (
			ts       time.Time
			device   string
			value    float64
			features []byte
		)
		if err := pgRows.Scan(&ts, &device, &value, &features); err != nil {
			return Table{}, fmt.Errorf("history: scan row: %w", err)
		}

		columns, err := decodeFeatures(features)
		if err != nil {
			return Table{}, fmt.Errorf("history: features at %s: %w", ts.Format(time.RFC3339), err)
		}
		rows = append(rows, series.Row{Timestamp: ts, Value: value, Device: device, Columns: columns})
	}
	if err := pgRows.Err(); err != nil {
		return Table{}, fmt.Errorf("history: read rows: %w", err)
	}
	if len(rows) == 0 {
		return Table{}, &NoTableError{Line: line, Source: "postgres table " + s.table}
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	version := rows[len(rows)-1].Timestamp.UTC().Format(VersionLayout)
	out := Table{Version: version, Rows: rows}
	if s.maxRows > 0 && len(rows) == s.maxRows {
		stats, err := s.describe(ctx, ident, line)
		if err != nil {
			return Table{}, err
		}
		if stats.Count > len(rows) {
			out.Stats = &stats
		}
	}
	return out, nil
}

// describe aggregates the target over every row of line.
func (s *PostgresSource) describe(ctx context.Context, ident, line string) (stabilize.Stats, error) {
	query := fmt.Sprintf(`SELECT count(*), coalesce(min(value), 0), coalesce(max(value), 0),
		coalesce(avg(value), 0), coalesce(stddev_samp(value), 0)
		FROM %s WHERE device_id = $1`, ident)

	var (
		count int64
		stats stabilize.Stats
	)
	if err := s.pool.QueryRow(ctx, query, line).Scan(&count, &stats.Min, &stats.Max, &stats.Mean, &stats.Std); err != nil {
		return stabilize.Stats{}, fmt.Errorf("history: describe %s: %w", s.table, err)
	}
	stats.Count = int(count)
	return stats, nil
}

// decodeFeatures reads a jsonb feature object. Null members are left out
// like empty CSV cells, so they never read as 0.
func decodeFeatures(raw []byte) (map[string]float64, error) {
	columns := map[string]float64{}
	if len(raw) == 0 {
		return columns, nil
	}
	var values map[string]*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	for name, v := range values {
		if v != nil {
			columns[name] = *v
		}
	}
	return columns, nil
}

// Ping checks the connection.
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}
