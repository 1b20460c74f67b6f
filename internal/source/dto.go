package source

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// Wire shapes of the upstream timetable API. Positions are [lat, lng].

type StationDTO struct {
	ID   int64      `json:"st_id" yaml:"st_id" validate:"gt=0"`
	Code string     `json:"cd" yaml:"cd" validate:"required"`
	Name string     `json:"nm" yaml:"nm" validate:"required"`
	Pos  [2]float64 `json:"pos" yaml:"pos" validate:"latlng"`
}

type RoutePathDTO struct {
	Pos   [2][2]float64 `json:"pos" yaml:"pos"`
	PosCm [2]float64    `json:"pos_cm" yaml:"pos_cm"`
}

type RouteDTO struct {
	ID    int64          `json:"route_id" yaml:"route_id" validate:"gt=0"`
	LenCm float64        `json:"len_cm" yaml:"len_cm" validate:"gte=0"`
	Paths []RoutePathDTO `json:"paths" yaml:"paths" validate:"dive"`
}

type StepDTO struct {
	ArrivMs       int64   `json:"arriv_ms" yaml:"arriv_ms"`
	DepartMs      int64   `json:"depart_ms" yaml:"depart_ms"`
	StartMs       int64   `json:"start_ms" yaml:"start_ms"`
	InvRoute      bool    `json:"inv_route" yaml:"inv_route"`
	OrgStCode     string  `json:"org_st_cd" yaml:"org_st_cd"`
	OrgStID       int64   `json:"org_st_id" yaml:"org_st_id"`
	RouteID       *int64  `json:"route_id" yaml:"route_id"`
	StCode        string  `json:"st_cd" yaml:"st_cd" validate:"required"`
	StID          int64   `json:"st_id" yaml:"st_id" validate:"gt=0"`
	UserArrival   *string `json:"usr_arriv" yaml:"usr_arriv"`
	UserDeparture *string `json:"usr_depart" yaml:"usr_depart"`
	UserNote      *string `json:"usr_note" yaml:"usr_note"`
}

type TrainDTO struct {
	ArrivMs   int64     `json:"arriv_ms" yaml:"arriv_ms"`
	DepartMs  int64     `json:"depart_ms" yaml:"depart_ms"`
	ModDayMs  int64     `json:"mod_day_ms" yaml:"mod_day_ms"`
	StartCode string    `json:"start_st_cd" yaml:"start_st_cd" validate:"required"`
	EndCode   string    `json:"end_st_cd" yaml:"end_st_cd" validate:"required"`
	Code      string    `json:"tr_cd" yaml:"tr_cd" validate:"required"`
	ID        int64     `json:"tr_id" yaml:"tr_id" validate:"gt=0"`
	Name      string    `json:"tr_name" yaml:"tr_name"`
	Paths     []StepDTO `json:"paths" yaml:"paths" validate:"dive"`
}

// Document is a whole timetable in one file.
type Document struct {
	Stations []StationDTO `json:"stations" yaml:"stations" validate:"dive"`
	Routes   []RouteDTO   `json:"routes" yaml:"routes" validate:"dive"`
	Trains   []TrainDTO   `json:"trains" yaml:"trains" validate:"dive"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("latlng", func(fl validator.FieldLevel) bool {
		pos, ok := fl.Field().Interface().([2]float64)
		if !ok {
			return false
		}
		return pos[0] >= -90 && pos[0] <= 90 && pos[1] >= -180 && pos[1] <= 180
	})
	return v
}

// validateAll checks every element and reports the first failure with its
// index.
func validateAll[T any](v *validator.Validate, kind string, items []T) error {
	for i := range items {
		if err := v.Struct(items[i]); err != nil {
			return fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
	}
	return nil
}

// toSnapshot converts validated DTOs into the immutable domain snapshot.
func toSnapshot(stations []StationDTO, routes []RouteDTO, trains []TrainDTO, source string, at time.Time) *gapeka.Snapshot {
	snap := &gapeka.Snapshot{
		Stations:  make(map[int64]gapeka.Station, len(stations)),
		Routes:    make(map[int64]gapeka.Route, len(routes)),
		Trains:    make([]gapeka.Train, 0, len(trains)),
		FetchedAt: at,
		Source:    source,
	}
	for _, s := range stations {
		snap.Stations[s.ID] = gapeka.Station{
			ID:    s.ID,
			Code:  s.Code,
			Name:  s.Name,
			Coord: gapeka.Coordinate{Lat: s.Pos[0], Lng: s.Pos[1]},
		}
	}
	for _, r := range routes {
		route := gapeka.Route{ID: r.ID, LenCm: r.LenCm, Segments: make([]gapeka.RouteSegment, 0, len(r.Paths))}
		for _, p := range r.Paths {
			route.Segments = append(route.Segments, gapeka.RouteSegment{
				From:    gapeka.Coordinate{Lat: p.Pos[0][0], Lng: p.Pos[0][1]},
				To:      gapeka.Coordinate{Lat: p.Pos[1][0], Lng: p.Pos[1][1]},
				StartCm: p.PosCm[0],
				EndCm:   p.PosCm[1],
			})
		}
		snap.Routes[r.ID] = route
	}
	for _, t := range trains {
		train := gapeka.Train{
			ID:         t.ID,
			Code:       t.Code,
			Name:       t.Name,
			OriginCode: t.StartCode,
			DestCode:   t.EndCode,
			DepartMs:   t.DepartMs,
			ArrivMs:    t.ArrivMs,
			ModDayMs:   t.ModDayMs,
			Steps:      make([]gapeka.Step, 0, len(t.Paths)),
		}
		for _, p := range t.Paths {
			step := gapeka.Step{
				OriginStationID:   p.OrgStID,
				OriginStationCode: p.OrgStCode,
				StationID:         p.StID,
				StationCode:       p.StCode,
				Inverse:           p.InvRoute,
				StartMs:           p.StartMs,
				ArrivMs:           p.ArrivMs,
				DepartMs:          p.DepartMs,
				UserArrival:       deref(p.UserArrival),
				UserDeparture:     deref(p.UserDeparture),
				UserNote:          deref(p.UserNote),
			}
			if p.RouteID != nil {
				id := *p.RouteID
				step.RouteID = &id
			}
			train.Steps = append(train.Steps, step)
		}
		snap.Trains = append(snap.Trains, train)
	}
	return snap
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
