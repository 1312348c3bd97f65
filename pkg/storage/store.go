// Package storage persists completed forecast results.
//
// A result is identified by its line, horizon and run date. A repeated run
// for the same key replaces the earlier result; the last writer wins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/linecast/pkg/forecast"
)

// DateLayout formats the run date of a key.
const DateLayout = "2006-01-02"

// Key identifies a stored forecast.
type Key struct {
	Line  string
	Hours int
	Date  string
}

// KeyFor returns the key of res, dated by its GeneratedAt in its own location.
func KeyFor(res *forecast.Result) Key {
	return Key{Line: res.Line, Hours: res.Hours, Date: res.GeneratedAt.Format(DateLayout)}
}

// Validate checks that the key is safe to use in file names and Redis keys.
func (k Key) Validate() error {
	if err := ValidateLine(k.Line); err != nil {
		return err
	}
	if k.Hours <= 0 {
		return fmt.Errorf("hours must be > 0, got %d", k.Hours)
	}
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", k.Date, err)
	}
	return nil
}

// FileName returns forecast_{line}_{hours}h_{date}.csv.
func (k Key) FileName() string {
	return fmt.Sprintf("forecast_%s_%dh_%s.csv", k.Line, k.Hours, k.Date)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%dh/%s", k.Line, k.Hours, k.Date)
}

// ValidateLine accepts alphanumerics, hyphens, underscores and dots.
func ValidateLine(line string) error {
	if line == "" {
		return errors.New("line name required")
	}
	if line == "." || line == ".." {
		return fmt.Errorf("invalid line name %q", line)
	}
	for _, c := range line {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("invalid line name %q: only alphanumeric, hyphens, underscores and dots allowed", line)
		}
	}
	return nil
}

// Store persists forecast results.
type Store interface {
	Put(ctx context.Context, res *forecast.Result) error
	GetLatest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error)
}

// Multi writes to every store and reads from the first one holding a result.
type Multi []Store

// Put stores res in every store and joins their errors.
func (m Multi) Put(ctx context.Context, res *forecast.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Put(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetLatest returns the first result found.
func (m Multi) GetLatest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error) {
	var errs []error
	for _, s := range m {
		res, found, err := s.GetLatest(ctx, line, hours)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if found {
			return res, true, nil
		}
	}
	return nil, false, errors.Join(errs...)
}
