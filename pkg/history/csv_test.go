package history

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/linecast/pkg/series"
	"github.com/HatiCode/linecast/pkg/stabilize"
)

const sampleTable = `_time,device_id,velocity_bpm,hour,lag_1,notes_score
2025-03-01 10:00:00,L1,100,10,98,
2025-03-01T10:01:00Z,L1,102,10,100,1.5
2025-03-01 10:00:30,L2,50,10,49,
2025-03-01 10:02:00,L1,101,10,102,
`

func TestReadCSV(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(sampleTable), ReadOptions{
		Target:   "velocity_bpm",
		Line:     "L1",
		Location: time.UTC,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}

	first := rows[0]
	if !first.Timestamp.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", first.Timestamp)
	}
	if first.Value != 100 || first.Device != "L1" {
		t.Errorf("row = %+v", first)
	}
	if first.Columns["lag_1"] != 98 {
		t.Errorf("lag_1 = %v", first.Columns["lag_1"])
	}
	if _, ok := first.Columns["notes_score"]; ok {
		t.Error("empty cell should leave the column absent")
	}
	if _, ok := first.Columns["velocity_bpm"]; ok {
		t.Error("target must not be duplicated into Columns")
	}
	if rows[1].Columns["notes_score"] != 1.5 {
		t.Errorf("notes_score = %v", rows[1].Columns["notes_score"])
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"no time column":   "device_id,velocity_bpm\nL1,1\n",
		"no target column": "_time,device_id\n2025-03-01 10:00:00,L1\n",
		"bad timestamp":    "_time,velocity_bpm\nyesterday,1\n",
		"bad target":       "_time,velocity_bpm\n2025-03-01 10:00:00,fast\n",
		"bad feature":      "_time,velocity_bpm,hour\n2025-03-01 10:00:00,1,ten\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(data), ReadOptions{Target: "velocity_bpm"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWriteCSV_ReadBack(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []series.Row{
		{Timestamp: start, Device: "L1", Value: 100.25, Columns: map[string]float64{"lag_1": 99, "hour": 10}},
		{Timestamp: start.Add(time.Minute), Device: "L1", Value: 101, Columns: map[string]float64{"hour": 10}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, "velocity_bpm"); err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	if header != "_time,device_id,velocity_bpm,hour,lag_1" {
		t.Errorf("header = %q", header)
	}

	got, err := ReadCSV(&buf, ReadOptions{Target: "velocity_bpm", Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Value != 100.25 || got[0].Columns["lag_1"] != 99 {
		t.Errorf("read back %+v", got)
	}
	if _, ok := got[1].Columns["lag_1"]; ok {
		t.Error("missing value should stay missing")
	}
}

func TestCSVSource_Load(t *testing.T) {
	dir := t.TempDir()
	older := "_time,device_id,velocity_bpm\n2025-02-01 10:00:00,L1,1\n"
	if err := os.WriteFile(filepath.Join(dir, TableFileName("20250201")), []byte(older), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, TableFileName("20250301")), []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &CSVSource{Dir: dir, Target: "velocity_bpm", MaxRows: 2, Location: time.UTC}
	table, err := src.Load(context.Background(), "L1")
	if err != nil {
		t.Fatal(err)
	}
	if table.Version != "20250301" {
		t.Errorf("Version = %q, want 20250301", table.Version)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}
	if table.Rows[0].Value != 102 || table.Rows[1].Value != 101 {
		t.Errorf("rows not the most recent in order: %v, %v", table.Rows[0].Value, table.Rows[1].Value)
	}

	// Statistics cover the dropped 10:00 row too.
	if table.Stats == nil {
		t.Fatal("Stats = nil, want statistics over the whole line")
	}
	if table.Stats.Count != 3 || table.Stats.Min != 100 || table.Stats.Max != 102 || table.Stats.Mean != 101 {
		t.Errorf("Stats = %+v, want count 3 over 100..102", *table.Stats)
	}

	src.MaxRows = 0
	all, err := src.Load(context.Background(), "L1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Rows) != 3 || all.Stats != nil {
		t.Errorf("MaxRows=0: len(Rows) = %d, Stats = %v; want 3 rows and nil Stats", len(all.Rows), all.Stats)
	}
}

func TestCSVSource_NoTable(t *testing.T) {
	dir := t.TempDir()
	src := &CSVSource{Dir: dir, Target: "velocity_bpm"}

	var noTable *NoTableError
	if _, err := src.Load(context.Background(), "L1"); !errors.As(err, &noTable) {
		t.Fatalf("error = %v, want *NoTableError", err)
	}

	if err := os.WriteFile(filepath.Join(dir, TableFileName("1")), []byte(sampleTable), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Load(context.Background(), "L9"); !errors.As(err, &noTable) {
		t.Fatalf("unknown line: error = %v, want *NoTableError", err)
	}
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{
		"L1": {
			Version: "v1",
			Rows:    []series.Row{{Value: 1, Columns: map[string]float64{"a": 1}}},
			Stats:   &stabilize.Stats{Min: 1, Max: 9, Count: 40},
		},
	}
	table, err := src.Load(context.Background(), "L1")
	if err != nil {
		t.Fatal(err)
	}
	table.Rows[0].Columns["a"] = 99
	table.Stats.Max = 99

	again, _ := src.Load(context.Background(), "L1")
	if again.Rows[0].Columns["a"] != 1 {
		t.Error("Load() must return copies")
	}
	if again.Stats == nil || again.Stats.Max != 9 {
		t.Errorf("Stats = %v, want an unchanged copy", again.Stats)
	}

	var noTable *NoTableError
	if _, err := src.Load(context.Background(), "L2"); !errors.As(err, &noTable) {
		t.Errorf("error = %v, want *NoTableError", err)
	}
}
