package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const (
	stationsPath = "/public-station/stations"
	routesPath   = "/public-route/route-path"
	gapekaPath   = "/public-train/gapeka"
)

// APIProvider reads the three public timetable endpoints and joins them
// into one snapshot.
type APIProvider struct {
	baseURL  string
	client   *http.Client
	validate *validator.Validate
	now      func() time.Time
}

func NewAPIProvider(baseURL string, timeout time.Duration) *APIProvider {
	return NewAPIProviderWithClient(baseURL, &http.Client{Timeout: timeout})
}

// NewAPIProviderWithClient uses a caller-supplied HTTP client (useful for testing)
func NewAPIProviderWithClient(baseURL string, client *http.Client) *APIProvider {
	return &APIProvider{
		baseURL:  baseURL,
		client:   client,
		validate: newValidator(),
		now:      time.Now,
	}
}

type envelope[T any] struct {
	Data []T `json:"data"`
}

func (p *APIProvider) Fetch(ctx context.Context) (*gapeka.Snapshot, error) {
	var (
		stations []StationDTO
		routes   []RouteDTO
		trains   []TrainDTO
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stations, err = getData[StationDTO](gctx, p, stationsPath)
		if err == nil {
			err = validateAll(p.validate, "stations", stations)
		}
		return err
	})
	g.Go(func() (err error) {
		routes, err = getData[RouteDTO](gctx, p, routesPath)
		if err == nil {
			err = validateAll(p.validate, "routes", routes)
		}
		return err
	})
	g.Go(func() (err error) {
		trains, err = getData[TrainDTO](gctx, p, gapekaPath)
		if err == nil {
			err = validateAll(p.validate, "trains", trains)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return toSnapshot(stations, routes, trains, "api", p.now()), nil
}

func getData[T any](ctx context.Context, p *APIProvider, path string) ([]T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Data, nil
}
