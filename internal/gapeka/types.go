package gapeka

import "time"

// DayMs is one schedule day in milliseconds.
const DayMs int64 = 86_400_000

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Lerp returns the point at fraction t of the straight line from c to to.
func (c Coordinate) Lerp(to Coordinate, t float64) Coordinate {
	return Coordinate{
		Lat: c.Lat + (to.Lat-c.Lat)*t,
		Lng: c.Lng + (to.Lng-c.Lng)*t,
	}
}

type Station struct {
	ID    int64
	Code  string
	Name  string
	Coord Coordinate
}

// RouteSegment is one straight piece of track covering [StartCm, EndCm]
// along its route.
type RouteSegment struct {
	From    Coordinate
	To      Coordinate
	StartCm float64
	EndCm   float64
}

type Route struct {
	ID       int64
	LenCm    float64
	Segments []RouteSegment
}

// Step is one scheduled leg between two consecutive stations. Times are
// milliseconds of day and may exceed DayMs to express the next day.
type Step struct {
	OriginStationID   int64
	OriginStationCode string
	StationID         int64
	StationCode       string
	RouteID           *int64 // nil when the leg has no geometry
	Inverse           bool   // travel runs against the stored geometry
	StartMs           int64
	ArrivMs           int64
	DepartMs          int64

	UserArrival   string
	UserDeparture string
	UserNote      string
}

type Train struct {
	ID         int64
	Code       string
	Name       string
	OriginCode string
	DestCode   string
	DepartMs   int64
	ArrivMs    int64
	ModDayMs   int64
	Steps      []Step
}

// Snapshot is one immutable view of the timetable. Nothing mutates a
// snapshot after it has been handed to the tracker.
type Snapshot struct {
	Stations  map[int64]Station
	Routes    map[int64]Route
	Trains    []Train
	FetchedAt time.Time
	Source    string
}

func (s *Snapshot) Station(id int64) (Station, bool) {
	if s == nil {
		return Station{}, false
	}
	st, ok := s.Stations[id]
	return st, ok
}

func (s *Snapshot) Route(id int64) (Route, bool) {
	if s == nil {
		return Route{}, false
	}
	r, ok := s.Routes[id]
	return r, ok
}

// ProjectedPosition is the schedule-derived location of one train for one
// tick.
type ProjectedPosition struct {
	TrainID     int64      `json:"id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	OriginCode  string     `json:"originCode"`
	DestCode    string     `json:"destCode"`
	StationCode string     `json:"stationCode"`
	Position    Coordinate `json:"position"`
	Moving      bool       `json:"moving"`
	BearingDeg  float64    `json:"bearing"`
	SpeedKmh    float64    `json:"speedKmh"`
	Progress    float64    `json:"progress"` // 0..1 along the active leg
}
