package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mrevanzak/persepuran/internal/gapeka"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchSnapshot loads a whole timetable. Every table is read once and joined
// in memory.
func FetchSnapshot(ctx context.Context, db *sql.DB, now time.Time) (*gapeka.Snapshot, error) {
	stations, err := FetchStations(ctx, db)
	if err != nil {
		return nil, err
	}
	routes, err := FetchRoutes(ctx, db)
	if err != nil {
		return nil, err
	}
	trains, err := FetchTrains(ctx, db)
	if err != nil {
		return nil, err
	}
	return &gapeka.Snapshot{
		Stations:  stations,
		Routes:    routes,
		Trains:    trains,
		FetchedAt: now,
		Source:    "postgres",
	}, nil
}

func FetchStations(ctx context.Context, db *sql.DB) (map[int64]gapeka.Station, error) {
	q := `SELECT station_id, code, COALESCE(name, ''), lat, lon FROM stations ORDER BY station_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]gapeka.Station)
	for rows.Next() {
		var s gapeka.Station
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Coord.Lat, &s.Coord.Lng); err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// RoutePoint is one vertex of a stored route polyline.
type RoutePoint struct {
	Lat, Lon float64
	// DistCm is the cumulative distance from the route start, when stored.
	DistCm sql.NullFloat64
}

// FetchRoutes builds route geometry from route_points. Missing cumulative
// distances are computed with the haversine formula. A NULL routes.len_cm
// falls back to the last cumulative distance.
func FetchRoutes(ctx context.Context, db *sql.DB) (map[int64]gapeka.Route, error) {
	lengths := make(map[int64]sql.NullFloat64)
	var order []int64
	rows, err := db.QueryContext(ctx, `SELECT route_id, len_cm FROM routes ORDER BY route_id`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	for rows.Next() {
		var id int64
		var l sql.NullFloat64
		if err := rows.Scan(&id, &l); err != nil {
			rows.Close()
			return nil, err
		}
		lengths[id] = l
		order = append(order, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	q := `SELECT route_id, lat, lon, dist_cm FROM route_points ORDER BY route_id, seq`
	rows, err = db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query route_points: %w", err)
	}
	defer rows.Close()
	points := make(map[int64][]RoutePoint)
	for rows.Next() {
		var id int64
		var p RoutePoint
		if err := rows.Scan(&id, &p.Lat, &p.Lon, &p.DistCm); err != nil {
			return nil, err
		}
		points[id] = append(points[id], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[int64]gapeka.Route, len(order))
	for _, id := range order {
		out[id] = BuildRoute(id, points[id], lengths[id])
	}
	return out, nil
}

// BuildRoute turns an ordered polyline into consecutive route segments.
func BuildRoute(id int64, pts []RoutePoint, lenCm sql.NullFloat64) gapeka.Route {
	r := gapeka.Route{ID: id}
	cum := CumDistances(pts)
	for i := 1; i < len(pts); i++ {
		r.Segments = append(r.Segments, gapeka.RouteSegment{
			From:    gapeka.Coordinate{Lat: pts[i-1].Lat, Lng: pts[i-1].Lon},
			To:      gapeka.Coordinate{Lat: pts[i].Lat, Lng: pts[i].Lon},
			StartCm: cum[i-1],
			EndCm:   cum[i],
		})
	}
	switch {
	case lenCm.Valid:
		r.LenCm = lenCm.Float64
	case len(cum) > 0:
		r.LenCm = cum[len(cum)-1]
	}
	return r
}

// FetchTrains loads trains and their ordered steps. Times are stored as
// HH:MM:SS text and may exceed 24:00:00 for overnight services.
func FetchTrains(ctx context.Context, db *sql.DB) ([]gapeka.Train, error) {
	q := `SELECT train_id, code, COALESCE(name, ''), start_st_cd, end_st_cd,
                 COALESCE(depart_time::text, ''), COALESCE(arriv_time::text, ''), COALESCE(mod_day_ms, 0)
          FROM trains ORDER BY train_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query trains: %w", err)
	}
	var trains []gapeka.Train
	index := make(map[int64]int)
	for rows.Next() {
		var t gapeka.Train
		var dep, arr string
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.OriginCode, &t.DestCode, &dep, &arr, &t.ModDayMs); err != nil {
			rows.Close()
			return nil, err
		}
		t.DepartMs = parseDayMs(dep)
		t.ArrivMs = parseDayMs(arr)
		index[t.ID] = len(trains)
		trains = append(trains, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	q = `SELECT ts.train_id, ts.origin_station_id, COALESCE(o.code, ''), ts.station_id, s.code,
                ts.route_id, ts.inv_route,
                COALESCE(ts.start_time::text, ''), COALESCE(ts.arriv_time::text, ''), COALESCE(ts.depart_time::text, ''),
                ts.usr_arriv, ts.usr_depart, ts.usr_note
         FROM train_steps ts
         JOIN stations s ON s.station_id = ts.station_id
         LEFT JOIN stations o ON o.station_id = ts.origin_station_id
         ORDER BY ts.train_id, ts.seq`
	rows, err = db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query train_steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			trainID               int64
			st                    gapeka.Step
			routeID               sql.NullInt64
			start, arr, dep       string
			usrArr, usrDep, usrNt sql.NullString
		)
		if err := rows.Scan(&trainID, &st.OriginStationID, &st.OriginStationCode, &st.StationID, &st.StationCode,
			&routeID, &st.Inverse, &start, &arr, &dep, &usrArr, &usrDep, &usrNt); err != nil {
			return nil, err
		}
		i, ok := index[trainID]
		if !ok {
			// step rows for a train that was not listed
			continue
		}
		if routeID.Valid {
			id := routeID.Int64
			st.RouteID = &id
		}
		st.StartMs = parseDayMs(start)
		st.ArrivMs = parseDayMs(arr)
		st.DepartMs = parseDayMs(dep)
		st.UserArrival = usrArr.String
		st.UserDeparture = usrDep.String
		st.UserNote = usrNt.String
		trains[i].Steps = append(trains[i].Steps, st)
	}
	return trains, rows.Err()
}

// parseDayMs parses HH:MM:SS possibly with hours >= 24, returning milliseconds.
func parseDayMs(s string) int64 {
	return int64(parseDaySeconds(s)) * 1000
}

// parseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func parseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}

// Haversine distance in meters
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// CumDistances returns the cumulative distance in centimetres for each point.
// Stored distances win when every point has one; they are clamped to be
// non-decreasing.
func CumDistances(pts []RoutePoint) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	stored := true
	for _, p := range pts {
		if !p.DistCm.Valid {
			stored = false
			break
		}
	}
	if stored {
		prev := 0.0
		for i := 0; i < n; i++ {
			d := pts[i].DistCm.Float64
			if d < prev {
				d = prev
			}
			cum[i] = d
			prev = d
		}
		return cum
	}
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += haversine(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon) * 100
		cum[i] = sum
	}
	return cum
}
