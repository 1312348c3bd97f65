package series

import "fmt"

// EmptyHistoryError reports a historical table too short to seed a run.
type EmptyHistoryError struct {
	Rows     int
	Required int
}

func (e *EmptyHistoryError) Error() string {
	return fmt.Sprintf("series: history has %d rows, need at least %d", e.Rows, e.Required)
}

// InsufficientHistoryError reports a lag that reaches before the first row.
type InsufficientHistoryError struct {
	Column string
	Lag    int
	Rows   int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("series: lag %d of %q needs more than %d rows", e.Lag, e.Column, e.Rows)
}
