package forecast

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/HatiCode/linecast/pkg/features"
)

// Config is the complete configuration of one run. It is passed by value to
// NewDriver and never read from process-wide state.
type Config struct {
	Line    string
	Hours   int
	Lags    []int
	Windows []int
	Step    time.Duration
	Target  string
}

// DefaultConfig returns the default feature configuration for line and hours.
func DefaultConfig(line string, hours int) Config {
	fc := features.DefaultConfig()
	return Config{
		Line:    line,
		Hours:   hours,
		Lags:    fc.Lags,
		Windows: fc.Windows,
		Step:    fc.Step,
		Target:  fc.Target,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Line) == "" {
		return errors.New("line cannot be empty")
	}
	if strings.ContainsAny(c.Line, `/\`) {
		return fmt.Errorf("line %q must not contain path separators", c.Line)
	}
	if c.Hours <= 0 {
		return fmt.Errorf("hours must be > 0, got %d", c.Hours)
	}
	if err := c.Features().Validate(); err != nil {
		return err
	}
	if time.Hour%c.Step != 0 {
		return fmt.Errorf("step %v must divide one hour evenly", c.Step)
	}
	return nil
}

// StepsPerHour returns the number of steps in one hour.
func (c Config) StepsPerHour() int {
	if c.Step <= 0 {
		return 0
	}
	return int(time.Hour / c.Step)
}

// Steps returns the number of records a run produces.
func (c Config) Steps() int {
	return c.Hours * c.StepsPerHour()
}

// Features returns the feature engine configuration.
func (c Config) Features() features.Config {
	return features.Config{
		Lags:    slices.Clone(c.Lags),
		Windows: slices.Clone(c.Windows),
		Step:    c.Step,
		Target:  c.Target,
	}
}

func (c Config) clone() Config {
	c.Lags = slices.Clone(c.Lags)
	c.Windows = slices.Clone(c.Windows)
	return c
}
