package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/stabilize"
)

// Well-known columns of a feature table.
const (
	TimeColumn   = "_time"
	DeviceColumn = "device_id"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTime parses the timestamp formats found in exported tables. Values
// without a zone are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ReadOptions control how a CSV table is parsed.
type ReadOptions struct {
	// Target is the column read into Row.Value.
	Target string
	// Line keeps only rows whose device_id equals it; empty keeps all rows.
	Line string
	// Location applies to timestamps without a zone. Defaults to time.Local.
	Location *time.Location
}

// ReadCSV parses a feature table. The header must contain _time and the
// target column; device_id is optional; every other column must be numeric.
// Empty cells leave the column absent from that row.
func ReadCSV(r io.Reader, opts ReadOptions) ([]series.Row, error) {
	if opts.Target == "" {
		return nil, errors.New("history: target column is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("history: read header: %w", err)
	}
	header = append([]string(nil), header...)

	timeIdx, targetIdx, deviceIdx := -1, -1, -1
	for i, name := range header {
		switch name {
		case TimeColumn, "timestamp":
			timeIdx = i
		case opts.Target:
			targetIdx = i
		case DeviceColumn:
			deviceIdx = i
		}
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("history: header has no %s column", TimeColumn)
	}
	if targetIdx < 0 {
		return nil, fmt.Errorf("history: header has no %s column", opts.Target)
	}

	var rows []series.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %w", line, err)
		}

		if deviceIdx >= 0 && opts.Line != "" && rec[deviceIdx] != opts.Line {
			continue
		}

		ts, err := ParseTime(rec[timeIdx], loc)
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rec[targetIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %s: %w", line, opts.Target, err)
		}

		row := series.Row{
			Timestamp: ts,
			Value:     value,
			Columns:   make(map[string]float64, len(header)),
		}
		if deviceIdx >= 0 {
			row.Device = rec[deviceIdx]
		}
		for i, cell := range rec {
			if i == timeIdx || i == targetIdx || i == deviceIdx {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("history: line %d: %s: %w", line, header[i], err)
			}
			row.Columns[header[i]] = v
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// WriteCSV writes rows as a feature table: _time, device_id, target, then
// every column present on any row in sorted order.
func WriteCSV(w io.Writer, rows []series.Row, target string) error {
	names := make(map[string]struct{})
	for _, r := range rows {
		for name := range r.Columns {
			names[name] = struct{}{}
		}
	}
	columns := make([]string, 0, len(names))
	for name := range names {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	cw := csv.NewWriter(w)
	header := append([]string{TimeColumn, DeviceColumn, target}, columns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("history: write header: %w", err)
	}

	rec := make([]string, len(header))
	for _, r := range rows {
		rec[0] = r.Timestamp.Format(time.RFC3339)
		rec[1] = r.Device
		rec[2] = strconv.FormatFloat(r.Value, 'g', -1, 64)
		for i, name := range columns {
			if v, ok := r.Columns[name]; ok {
				rec[3+i] = strconv.FormatFloat(v, 'g', -1, 64)
			} else {
				rec[3+i] = ""
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("history: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// CSVSource loads the newest dataset_final_{version}.csv from a directory.
type CSVSource struct {
	Dir    string
	Target string
	// MaxRows keeps only the most recent rows; 0 keeps all.
	MaxRows  int
	Location *time.Location
}

const (
	tablePrefix = "dataset_final_"
	tableSuffix = ".csv"
)

// TableFileName returns the file name of a prepared table version.
func TableFileName(version string) string {
	return tablePrefix + version + tableSuffix
}

// Latest returns the newest table version in the directory.
func (s *CSVSource) Latest() (string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("history: read data dir: %w", err)
	}

	latest := ""
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, tablePrefix) || !strings.HasSuffix(name, tableSuffix) {
			continue
		}
		v := strings.TrimSuffix(strings.TrimPrefix(name, tablePrefix), tableSuffix)
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

// Load reads the newest table and keeps the rows of line. When MaxRows drops
// older rows, Table.Stats still covers all of them.
func (s *CSVSource) Load(ctx context.Context, line string) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}

	version, err := s.Latest()
	if err != nil {
		return Table{}, err
	}
	if version == "" {
		return Table{}, &NoTableError{Line: line, Source: s.Dir}
	}

	f, err := os.Open(filepath.Join(s.Dir, TableFileName(version)))
	if err != nil {
		return Table{}, fmt.Errorf("history: open table: %w", err)
	}
	defer f.Close()

	rows, err := ReadCSV(f, ReadOptions{Target: s.Target, Line: line, Location: s.Location})
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", TableFileName(version), err)
	}
	if len(rows) == 0 {
		return Table{}, &NoTableError{Line: line, Source: filepath.Join(s.Dir, TableFileName(version))}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	table := Table{Version: version, Rows: tail(rows, s.MaxRows)}
	if len(table.Rows) < len(rows) {
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = r.Value
		}
		stats := stabilize.Describe(values)
		table.Stats = &stats
	}
	return table, nil
}
