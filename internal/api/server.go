// Package api serves the tracker's current state over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mrevanzak/persepuran/internal/animation"
	"github.com/mrevanzak/persepuran/internal/feed"
	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// Board is the read side of the live position store.
type Board interface {
	Positions() ([]gapeka.ProjectedPosition, time.Time)
	Position(id int64) (gapeka.ProjectedPosition, bool)
	Frame() (animation.Frame, bool)
	Rendered(id int64) (gapeka.Coordinate, bool)
}

type Options struct {
	Board Board
	// Snapshot returns the timetable in use, or nil before the first load.
	Snapshot       func() *gapeka.Snapshot
	Metrics        http.Handler
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler with CORS, recovery and access logging.
func NewRouter(opts Options) http.Handler {
	h := &handlers{board: opts.Board, snapshot: opts.Snapshot}

	r := mux.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(loggingMiddleware)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/trains", h.trains).Methods(http.MethodGet)
	r.HandleFunc("/trains/{id:[0-9]+}", h.train).Methods(http.MethodGet)
	r.HandleFunc("/frames", h.frames).Methods(http.MethodGet)
	r.HandleFunc("/gtfs-rt/vehicle-positions", h.vehiclePositions).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Origin"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(addr string, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(opts),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type handlers struct {
	board    Board
	snapshot func() *gapeka.Snapshot
}

type healthResponse struct {
	Status    string    `json:"status"`
	Source    string    `json:"source,omitempty"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	Trains    int       `json:"trains"`
	Projected int       `json:"projected"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	var snap *gapeka.Snapshot
	if h.snapshot != nil {
		snap = h.snapshot()
	}
	if snap == nil {
		resp.Status = "waiting_for_snapshot"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Source = snap.Source
	resp.FetchedAt = snap.FetchedAt
	resp.Trains = len(snap.Trains)
	positions, _ := h.board.Positions()
	resp.Projected = len(positions)
	writeJSON(w, http.StatusOK, resp)
}

type trainsResponse struct {
	At     time.Time                  `json:"at"`
	Trains []gapeka.ProjectedPosition `json:"trains"`
}

func (h *handlers) trains(w http.ResponseWriter, r *http.Request) {
	positions, at := h.board.Positions()
	if positions == nil {
		positions = []gapeka.ProjectedPosition{}
	}
	writeJSON(w, http.StatusOK, trainsResponse{At: at, Trains: positions})
}

type trainResponse struct {
	Projected gapeka.ProjectedPosition `json:"projected"`
	Rendered  *gapeka.Coordinate       `json:"rendered"`
}

func (h *handlers) train(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid train id")
		return
	}
	p, ok := h.board.Position(id)
	if !ok {
		writeError(w, http.StatusNotFound, "train not active")
		return
	}
	resp := trainResponse{Projected: p}
	if c, ok := h.board.Rendered(id); ok {
		resp.Rendered = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

type framesResponse struct {
	At        time.Time                    `json:"at"`
	Positions map[string]gapeka.Coordinate `json:"positions"`
}

func (h *handlers) frames(w http.ResponseWriter, r *http.Request) {
	resp := framesResponse{Positions: map[string]gapeka.Coordinate{}}
	if f, ok := h.board.Frame(); ok {
		resp.At = f.At
		for id, c := range f.Positions {
			resp.Positions[strconv.FormatInt(id, 10)] = c
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) vehiclePositions(w http.ResponseWriter, r *http.Request) {
	positions, at := h.board.Positions()
	if at.IsZero() {
		at = time.Now()
	}
	msg := feed.BuildVehiclePositions(positions, at)
	b, ct, err := feed.Marshal(msg, r.URL.Query().Get("format") == "json")
	if err != nil {
		log.Printf("marshal vehicle positions: %v", err)
		writeError(w, http.StatusInternalServerError, "encode feed")
		return
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
