package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mrevanzak/persepuran/internal/api"
	"github.com/mrevanzak/persepuran/internal/config"
	"github.com/mrevanzak/persepuran/internal/db"
	"github.com/mrevanzak/persepuran/internal/gapeka"
	"github.com/mrevanzak/persepuran/internal/livestore"
	"github.com/mrevanzak/persepuran/internal/metrics"
	"github.com/mrevanzak/persepuran/internal/publisher"
	"github.com/mrevanzak/persepuran/internal/sim"
	"github.com/mrevanzak/persepuran/internal/source"
	"github.com/mrevanzak/persepuran/internal/store"
)

// queries already running on a replaced connection pool get this long to finish
const retireGrace = time.Minute

func main() {
	initLogging()

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.TickInterval, cfg.FrameInterval, cfg.RefreshInterval)
	var wg sync.WaitGroup
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr)
		shutdownOnDone(ctx, &wg, srv)
	}

	inner, closeSource, pg, err := openProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("source error: %v", err)
	}
	defer closeSource()
	provider := source.NewCachedProvider(inner, cfg.SnapshotTTL, cfg.SnapshotStale)
	provider.OnStale = func(error) { mcol.Refreshes.WithLabelValues("stale").Inc() }

	board := livestore.New(boardTTL(cfg.TickInterval))
	opts := sim.Options{
		TickInterval:      cfg.TickInterval,
		FrameInterval:     cfg.FrameInterval,
		RefreshInterval:   cfg.RefreshInterval,
		AnimationDuration: cfg.AnimationDuration,
		CoordEpsilon:      cfg.CoordEpsilon,
		Location:          cfg.Location,
		FocusTrainID:      cfg.FocusTrainID,
		Provider:          provider,
		TickSinks:         []sim.TickSink{board},
		FrameSinks:        []sim.FrameSink{board},
		Metrics:           mcol,
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, cfg.PublishFrames, cfg.NATSStreamName, mcol.NATS())
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		opts.TickSinks = append(opts.TickSinks, pub)
		opts.FrameSinks = append(opts.FrameSinks, pub)
		opts.FocusSink = pub
		log.Printf("publishing to NATS at %s", cfg.NATSURL)
	}
	if cfg.RedisAddr != "" {
		rc, err := store.New(cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer rc.Close()
		opts.TickSinks = append(opts.TickSinks, rc)
		log.Printf("storing positions in Redis at %s", cfg.RedisAddr)
	}

	mgr := sim.NewManager(opts)
	if err := mgr.RefreshSnapshot(ctx); err != nil {
		log.Fatalf("initial snapshot error: %v", err)
	}
	if pg != nil {
		pg.Watch(ctx, &wg, 30*time.Minute, mcol, func() {
			provider.Invalidate()
			if err := mgr.RefreshSnapshot(ctx); err != nil {
				log.Printf("refresh after db switch error: %v", err)
			}
		})
	}
	mgr.Start(ctx)
	mgr.StartRefresher(ctx)

	srv := api.NewServer(cfg.HTTPAddr, api.Options{
		Board:          board,
		Snapshot:       mgr.Snapshot,
		Metrics:        mcol.Handler(),
		AllowedOrigins: cfg.AllowedOrigins,
	})
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()
	shutdownOnDone(ctx, &wg, srv)

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	wg.Wait()
	log.Println("shutdown complete")
}

// openProvider returns the configured timetable source. watch is non-nil
// only for a Postgres source that follows TIMETABLE imports.
func openProvider(ctx context.Context, cfg *config.Config) (p source.Provider, closeFn func(), watch *pgSource, err error) {
	switch cfg.Source {
	case config.SourceFile:
		log.Printf("reading timetable from %s", cfg.SnapshotFile)
		return source.NewFileProvider(cfg.SnapshotFile), func() {}, nil, nil
	case config.SourcePostgres:
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Timetable != "" {
			watch = pg
		}
		return pg, pg.Close, watch, nil
	default:
		log.Printf("reading timetable from %s", cfg.APIBaseURL)
		return source.NewAPIProvider(cfg.APIBaseURL, cfg.HTTPTimeout), func() {}, nil, nil
	}
}

// pgSource reads snapshots from the timetable database. The connection is
// swapped when a newer import of the timetable appears.
type pgSource struct {
	baseDSN   string
	timetable string
	dbName    string
	current   atomic.Pointer[sql.DB]
}

// openPostgres connects to the timetable database. With TIMETABLE set the
// newest successful import is resolved through the cluster's meta database.
func openPostgres(ctx context.Context, cfg *config.Config) (*pgSource, error) {
	s := &pgSource{baseDSN: cfg.DatabaseURL, timetable: cfg.Timetable}
	finalDSN := s.baseDSN
	if s.timetable != "" {
		name, err := resolveImport(ctx, s.baseDSN, s.timetable)
		if err != nil {
			return nil, fmt.Errorf("resolve latest import for timetable %q: %w", s.timetable, err)
		}
		s.dbName = name
		if finalDSN, err = db.WithDBName(s.baseDSN, name); err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
		log.Printf("Using database %q for timetable %q", name, s.timetable)
	}
	sqlDB, err := db.Open(finalDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	s.current.Store(sqlDB)
	return s, nil
}

func (s *pgSource) Fetch(ctx context.Context) (*gapeka.Snapshot, error) {
	return db.FetchSnapshot(ctx, s.current.Load(), time.Now())
}

func (s *pgSource) Close() {
	if c := s.current.Load(); c != nil {
		c.Close()
	}
}

// Watch re-resolves the timetable every interval and switches databases when
// a newer import exists or the current one stops answering. onSwitch runs
// after each switch.
func (s *pgSource) Watch(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, mcol *metrics.Collector, onSwitch func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			needSwitch := false
			if err := db.Ping(ctx, s.current.Load()); err != nil {
				log.Printf("db ping failed: %v, re-resolving timetable DB", err)
				mcol.Refreshes.WithLabelValues("db_ping_failure").Inc()
				needSwitch = true
			}
			newName, err := resolveImport(ctx, s.baseDSN, s.timetable)
			if err != nil {
				log.Printf("resolve latest import error: %v", err)
				continue
			}
			if newName != s.dbName {
				log.Printf("Detected updated DB for timetable %q: %q -> %q", s.timetable, s.dbName, newName)
				needSwitch = true
			}
			if !needSwitch {
				continue
			}

			newDSN, err := db.WithDBName(s.baseDSN, newName)
			if err != nil {
				log.Printf("compose DSN error: %v", err)
				continue
			}
			newDB, err := db.Open(newDSN)
			if err != nil {
				log.Printf("open new DB error: %v", err)
				continue
			}
			if err := db.Ping(ctx, newDB); err != nil {
				log.Printf("ping new DB error: %v", err)
				newDB.Close()
				continue
			}
			old := s.current.Swap(newDB)
			s.dbName = newName
			mcol.Refreshes.WithLabelValues("db_switch").Inc()
			log.Printf("Switched to DB %q for timetable %q", s.dbName, s.timetable)
			onSwitch()
			retire(old, retireGrace)
		}
	}()
}

func initLogging() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

// retire closes a replaced pool once in-flight snapshot reads had time to
// finish.
func retire(old *sql.DB, after time.Duration) *time.Timer {
	return time.AfterFunc(after, func() {
		if err := old.Close(); err != nil {
			log.Printf("close previous DB error: %v", err)
		}
	})
}

// resolveImport asks the cluster's 'postgres' database for the newest import.
func resolveImport(ctx context.Context, baseDSN, timetable string) (string, error) {
	rootDSN, err := db.WithDBName(baseDSN, "postgres")
	if err != nil {
		return "", err
	}
	metaDB, err := db.Open(rootDSN)
	if err != nil {
		return "", err
	}
	defer metaDB.Close()
	if err := db.Ping(ctx, metaDB); err != nil {
		return "", err
	}
	return db.ResolveLatestImportDBName(ctx, metaDB, timetable)
}

func boardTTL(tick time.Duration) time.Duration {
	if ttl := 5 * tick; ttl > 5*time.Second {
		return ttl
	}
	return 5 * time.Second
}

func shutdownOnDone(ctx context.Context, wg *sync.WaitGroup, srv *http.Server) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		// Shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
