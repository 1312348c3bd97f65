package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Calendar feature names.
const (
	Hour      = "hour"
	Minute    = "minute"
	DayOfWeek = "dayofweek"
	IsWeekend = "is_weekend"
	Shift     = "shift"
	HourSin   = "hour_sin"
	HourCos   = "hour_cos"
	MinuteSin = "minute_sin"
	MinuteCos = "minute_cos"
	DowSin    = "dow_sin"
	DowCos    = "dow_cos"
)

const (
	lagPrefix  = "lag_"
	rollPrefix = "roll_mean_"
)

// CalendarNames lists every calendar feature in the order Calendar emits them.
var CalendarNames = []string{
	Hour, Minute, DayOfWeek, IsWeekend, Shift,
	HourSin, HourCos, MinuteSin, MinuteCos, DowSin, DowCos,
}

// Calendar derives the time features of ts in its own location.
// dayofweek counts from Monday = 0. The night shift runs from 19:00 to 07:00.
func Calendar(ts time.Time) map[string]float64 {
	hour := ts.Hour()
	minute := ts.Minute()
	dow := (int(ts.Weekday()) + 6) % 7

	weekend := 0.0
	if dow >= 5 {
		weekend = 1
	}
	shift := 0.0
	if hour >= 19 || hour < 7 {
		shift = 1
	}

	h := 2 * math.Pi * float64(hour) / 24
	m := 2 * math.Pi * float64(minute) / 60
	d := 2 * math.Pi * float64(dow) / 7

	return map[string]float64{
		Hour:      float64(hour),
		Minute:    float64(minute),
		DayOfWeek: float64(dow),
		IsWeekend: weekend,
		Shift:     shift,
		HourSin:   math.Sin(h),
		HourCos:   math.Cos(h),
		MinuteSin: math.Sin(m),
		MinuteCos: math.Cos(m),
		DowSin:    math.Sin(d),
		DowCos:    math.Cos(d),
	}
}

// LagName returns the column name of lag k.
func LagName(k int) string {
	return lagPrefix + strconv.Itoa(k)
}

// RollName returns the column name of the rolling mean over w steps.
func RollName(w int) string {
	return rollPrefix + strconv.Itoa(w)
}

// parseWindowed reports whether name is shaped like prefix<n> and returns n.
func parseWindowed(name, prefix string) (int, bool, error) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || n <= 0 {
		return 0, true, fmt.Errorf("malformed window in %q", name)
	}
	return n, true, nil
}

func isCalendar(name string) bool {
	for _, c := range CalendarNames {
		if c == name {
			return true
		}
	}
	return false
}
