package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/linecast/pkg/forecast"
)

const (
	timeColumn      = "_time"
	predictedPrefix = "predicted_"
)

// WriteCSV writes the records of res as _time,predicted_{target}.
func WriteCSV(w io.Writer, res *forecast.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{timeColumn, predictedPrefix + res.Target}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range res.Records {
		rec := []string{
			r.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(r.Value, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file written by WriteCSV. Only Target and Records are set.
func ReadCSV(r io.Reader) (*forecast.Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != timeColumn || !strings.HasPrefix(header[1], predictedPrefix) {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	res := &forecast.Result{Target: strings.TrimPrefix(header[1], predictedPrefix)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse value: %w", err)
		}
		res.Records = append(res.Records, forecast.StepRecord{Timestamp: ts, Value: v})
	}
	return res, nil
}
