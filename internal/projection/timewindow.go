package projection

import (
	"time"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// Window is a timestamp and a schedule window folded into one cycle, so that
// Start <= Time <= End is a plain range check even across midnight.
type Window struct {
	Time  int64
	Start int64
	End   int64
}

func (w Window) Contains() bool {
	return w.Start <= w.Time && w.Time <= w.End
}

// Normalize folds timestamp and [windowStart, windowEnd] into one comparable
// domain. A window whose end precedes its start crosses midnight: both bounds
// are reduced to one day and the end moves to the following day. The
// timestamp is reduced modulo the smallest whole number of days covering the
// end; for a crossing window a reduced time before the start belongs to the
// next-day half and is lifted by one day.
func Normalize(timestamp, windowStart, windowEnd int64) Window {
	start, end := windowStart, windowEnd
	crosses := end < start
	if crosses {
		start = floorMod(windowStart, gapeka.DayMs)
		end = floorMod(windowEnd, gapeka.DayMs) + gapeka.DayMs
	}

	t := floorMod(timestamp, cycleFor(end))
	if crosses && t < start {
		t += gapeka.DayMs
	}
	return Window{Time: t, Start: start, End: end}
}

// IsWithin reports whether now falls inside [start, end] after normalization.
func IsWithin(now, start, end int64) bool {
	return Normalize(now, start, end).Contains()
}

// ServiceMs converts a wall-clock instant to milliseconds since local
// midnight in loc, the domain timetable times are expressed in.
func ServiceMs(t time.Time, loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	y, m, d := local.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return local.Sub(midnight).Milliseconds()
}

// cycleFor returns the smallest whole number of days >= end, never less than
// one day.
func cycleFor(end int64) int64 {
	if end <= gapeka.DayMs {
		return gapeka.DayMs
	}
	days := (end + gapeka.DayMs - 1) / gapeka.DayMs
	return days * gapeka.DayMs
}

func floorMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
