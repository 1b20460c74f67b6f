package projection

import (
	"math"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// cm per ms to km/h
const cmPerMsToKmh = 36.0

// PickActiveStep returns the first step whose [StartMs, DepartMs] window
// contains now. Steps are expected in chronological order.
func PickActiveStep(now int64, steps []gapeka.Step) (gapeka.Step, bool) {
	for _, s := range steps {
		if IsWithin(now, s.StartMs, s.DepartMs) {
			return s, true
		}
	}
	return gapeka.Step{}, false
}

// ProjectTrain derives where train is at now (ms of service day) from its
// schedule alone. It reports false when the train is not running, or when the
// active step names a station or route missing from snap, or when the route
// geometry does not cover the computed distance. A train whose schedule runs
// past midnight with times beyond one day is also tried one day later, so
// its next-day legs stay visible after midnight.
func ProjectTrain(now int64, train gapeka.Train, snap *gapeka.Snapshot) (gapeka.ProjectedPosition, bool) {
	if pos, ok := projectAt(now, train, snap); ok {
		return pos, true
	}
	if train.DepartMs <= train.ArrivMs && train.ArrivMs > gapeka.DayMs {
		return projectAt(floorMod(now, gapeka.DayMs)+gapeka.DayMs, train, snap)
	}
	return gapeka.ProjectedPosition{}, false
}

func projectAt(now int64, train gapeka.Train, snap *gapeka.Snapshot) (gapeka.ProjectedPosition, bool) {
	timeMs := Normalize(now, train.DepartMs, train.ArrivMs).Time

	step, ok := PickActiveStep(timeMs, train.Steps)
	if !ok {
		return gapeka.ProjectedPosition{}, false
	}

	pos := gapeka.ProjectedPosition{
		TrainID:     train.ID,
		Code:        train.Code,
		Name:        train.Name,
		OriginCode:  train.OriginCode,
		DestCode:    train.DestCode,
		StationCode: step.StationCode,
	}

	// Dwell and travel are measured in the step's own window, which may use
	// a different day offset than the train's.
	leg := Normalize(timeMs, step.StartMs, step.DepartMs)
	arriv := legArrival(step, leg)

	// dwelling at the step's station
	if arriv <= leg.Time && leg.Time <= leg.End {
		st, ok := snap.Station(step.StationID)
		if !ok {
			return gapeka.ProjectedPosition{}, false
		}
		pos.Position = st.Coord
		pos.Progress = 1
		return pos, true
	}

	if step.RouteID == nil {
		return gapeka.ProjectedPosition{}, false
	}
	route, ok := snap.Route(*step.RouteID)
	if !ok {
		return gapeka.ProjectedPosition{}, false
	}

	duration := arriv - leg.Start
	if duration < 1 {
		duration = 1
	}
	cmPerMs := route.LenCm / float64(duration)
	elapsed := float64(leg.Time - leg.Start)
	forward := cmPerMs * elapsed
	progress := forward
	if step.Inverse {
		progress = route.LenCm - forward
	}

	seg, frac, ok := SegmentAt(route, progress)
	if !ok {
		return gapeka.ProjectedPosition{}, false
	}
	bearing := bearingDeg(seg.From, seg.To)
	if step.Inverse {
		bearing = math.Mod(bearing+180, 360)
	}

	pos.Position = seg.From.Lerp(seg.To, frac)
	pos.Moving = true
	pos.BearingDeg = bearing
	pos.SpeedKmh = cmPerMs * cmPerMsToKmh
	pos.Progress = math.Max(0, math.Min(1, elapsed/float64(duration)))
	return pos, true
}

// legArrival places the step's arrival in the same domain as leg. On a step
// that crosses midnight an arrival written as plain time of day belongs to
// the next day once it falls before the step start.
func legArrival(step gapeka.Step, leg Window) int64 {
	if step.DepartMs >= step.StartMs {
		return step.ArrivMs
	}
	arriv := floorMod(step.ArrivMs, gapeka.DayMs)
	if arriv < leg.Start {
		arriv += gapeka.DayMs
	}
	return arriv
}

// ProjectAll projects every train of snap in feed order, omitting trains that
// are inactive or cannot be resolved. A nil snapshot yields nil.
func ProjectAll(now int64, snap *gapeka.Snapshot) []gapeka.ProjectedPosition {
	if snap == nil {
		return nil
	}
	out := make([]gapeka.ProjectedPosition, 0, len(snap.Trains))
	for _, t := range snap.Trains {
		if p, ok := ProjectTrain(now, t, snap); ok {
			out = append(out, p)
		}
	}
	return out
}
