package projection

import (
	"math"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// PositionOnRoute maps a distance along route (cm, clamped to the route
// length) to a coordinate. It reports false when no segment covers the
// distance, which means the geometry has a gap.
func PositionOnRoute(route gapeka.Route, distanceCm float64) (gapeka.Coordinate, bool) {
	seg, frac, ok := SegmentAt(route, distanceCm)
	if !ok {
		return gapeka.Coordinate{}, false
	}
	return seg.From.Lerp(seg.To, frac), true
}

// SegmentAt returns the first segment containing the clamped distance and
// the fractional position inside it.
func SegmentAt(route gapeka.Route, distanceCm float64) (gapeka.RouteSegment, float64, bool) {
	d := math.Max(0, math.Min(route.LenCm, distanceCm))
	for _, seg := range route.Segments {
		if seg.StartCm <= d && d <= seg.EndCm {
			segLen := seg.EndCm - seg.StartCm
			if segLen == 0 {
				segLen = 1
			}
			return seg, (d - seg.StartCm) / segLen, true
		}
	}
	return gapeka.RouteSegment{}, 0, false
}

// bearingDeg is the initial great-circle heading from a to b, in [0, 360).
func bearingDeg(a, b gapeka.Coordinate) float64 {
	if a == b {
		return 0
	}
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	y := math.Sin(toRad(b.Lng-a.Lng)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lng-a.Lng))
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}
