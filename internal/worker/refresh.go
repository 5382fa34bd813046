package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/weather"
)

// ErrNotRunning is returned by commands issued before Start or after Stop.
var ErrNotRunning = errors.New("refresh orchestrator is not running")

// Store is the subset of the state store the orchestrator drives.
type Store interface {
	FetchWeather(ctx context.Context, q weather.Query) (*weather.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, q weather.Query) (*weather.ForecastBundle, error)
	IsFresh(id string, kind weather.Kind) bool
	Forecast(id string) (weather.ForecastBundle, bool)
}

// Admitter decides whether a selection may add a city to the next fetch.
type Admitter interface {
	Admit(cat ratelimit.Category) bool
}

// AdmissionMetrics receives limiter refusals. Optional.
type AdmissionMetrics interface {
	RecordAdmissionDenied(category string)
}

// OrchestratorConfig holds the orchestrator dependencies.
type OrchestratorConfig struct {
	Config  Config
	Store   Store
	Limiter Admitter
	Clock   clock.Clock
	Metrics AdmissionMetrics
	Logger  zerolog.Logger
}

// RefreshMetrics tracks refresh statistics.
type RefreshMetrics struct {
	Cycles  int64
	Issued  int64
	Skipped int64
	Failed  int64

	LastCycleAt       time.Time
	LastCycleDuration time.Duration
	WorkingSetSize    int
}

// Orchestrator keeps the working set refreshed.
type Orchestrator struct {
	config   Config
	store    Store
	limiter  Admitter
	clock    clock.Clock
	denials  AdmissionMetrics
	logger   zerolog.Logger

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	favorites []weather.CityRef
	set       []weather.CityRef
	ticker    clock.Ticker
	stopTick  chan struct{}

	wg sync.WaitGroup

	metricsMu sync.RWMutex
	metrics   RefreshMetrics
}

// NewOrchestrator creates a stopped orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	config := cfg.Config
	config.applyDefaults()

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	return &Orchestrator{
		config:   config,
		store:    cfg.Store,
		limiter:  cfg.Limiter,
		clock:    clk,
		denials:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Start computes the working set, fetches it immediately and arms the
// periodic refresh. The orchestrator stops when ctx is cancelled or Stop is
// called.
func (o *Orchestrator) Start(ctx context.Context, favorites []weather.CityRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true
	o.favorites = append([]weather.CityRef(nil), favorites...)
	o.set = WorkingSet(o.config.Defaults, o.favorites, nil)

	o.logger.Info().
		Int("cities", len(o.set)).
		Dur("interval", o.config.Interval).
		Msg("starting refresh orchestrator")

	o.dispatchLocked(o.set)
	o.armLocked(o.set)
}

// FavoritesChanged recomputes the working set, fetches it immediately and
// re-arms the periodic refresh with the new set.
func (o *Orchestrator) FavoritesChanged(favorites []weather.CityRef) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.favorites = append([]weather.CityRef(nil), favorites...)
	if !o.running {
		return
	}
	o.set = WorkingSet(o.config.Defaults, o.favorites, nil)

	o.logger.Debug().Int("cities", len(o.set)).Msg("favorites changed, refreshing working set")
	o.dispatchLocked(o.set)
	o.armLocked(o.set)
}

// Select fetches the working set including city once. The periodic refresh
// keeps running without the selection. A city outside the working set spends
// a weather admission; when none is left nothing is fetched.
func (o *Orchestrator) Select(city weather.CityRef) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrNotRunning
	}

	withSelection := WorkingSet(o.config.Defaults, o.favorites, &city)
	o.set = WorkingSet(o.config.Defaults, o.favorites, nil)
	if len(withSelection) > len(o.set) && !o.admit(ratelimit.CategoryWeather, city) {
		return ratelimit.ErrAdmissionDenied
	}

	o.logger.Debug().Str("city", city.Name).Msg("city selected")
	o.dispatchLocked(withSelection)
	o.armLocked(o.set)
	return nil
}

// RefreshNow fetches the current working set immediately without touching
// the periodic schedule.
func (o *Orchestrator) RefreshNow() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrNotRunning
	}
	o.dispatchLocked(o.set)
	return nil
}

// OpenDetail returns the city's forecast, fetching it unless a fresh one is
// stored under city.ID. The bool reports whether a fetch was issued. The
// returned bundle is keyed by the provider's city id, which may differ from
// city.ID.
func (o *Orchestrator) OpenDetail(ctx context.Context, city weather.CityRef) (*weather.ForecastBundle, bool, error) {
	if city.ID != "" && o.store.IsFresh(city.ID, weather.KindForecast) {
		if b, ok := o.store.Forecast(city.ID); ok {
			return &b, false, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
	defer cancel()

	o.addIssued(1)
	b, err := o.store.FetchForecast(ctx, weather.ByCoordinate(city.Coord.Lat, city.Coord.Lon))
	if err != nil {
		o.addFailed(1)
		return nil, true, err
	}
	return b, true, nil
}

// WorkingSet returns the cities the periodic refresh currently covers.
func (o *Orchestrator) WorkingSet() []weather.CityRef {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]weather.CityRef(nil), o.set...)
}

// Stop disarms the periodic refresh and waits for in-flight fetches.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.disarmLocked()
	o.mu.Unlock()

	o.wg.Wait()
	o.cancel()

	o.logger.Info().Msg("refresh orchestrator stopped")
}

// dispatchLocked runs one refresh cycle for set in the background.
func (o *Orchestrator) dispatchLocked(set []weather.CityRef) {
	ctx := o.ctx
	cities := append([]weather.CityRef(nil), set...)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCycle(ctx, cities)
	}()
}

// armLocked replaces the periodic refresh with one that re-fetches set.
func (o *Orchestrator) armLocked(set []weather.CityRef) {
	o.disarmLocked()

	ctx := o.ctx
	cities := append([]weather.CityRef(nil), set...)
	ticker := o.clock.NewTicker(o.config.Interval)
	stop := make(chan struct{})
	o.ticker = ticker
	o.stopTick = stop

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-ticker.C():
				o.runCycle(ctx, cities)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (o *Orchestrator) disarmLocked() {
	if o.stopTick == nil {
		return
	}
	o.ticker.Stop()
	close(o.stopTick)
	o.ticker = nil
	o.stopTick = nil
}

// runCycle fetches current weather for every city, Concurrency at a time.
// Cycles are never thinned by the limiter: the provider client serves cached
// cities and the provider's own 429 falls back to stale entries.
func (o *Orchestrator) runCycle(ctx context.Context, cities []weather.CityRef) {
	start := o.clock.Now()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
		issued int
		sem    = make(chan struct{}, o.config.Concurrency)
	)

	for _, city := range cities {
		if ctx.Err() != nil {
			break
		}
		issued++

		sem <- struct{}{}
		wg.Add(1)
		go func(city weather.CityRef) {
			defer wg.Done()
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
			defer cancel()

			if _, err := o.store.FetchWeather(fetchCtx, weather.ByCoordinate(city.Coord.Lat, city.Coord.Lon)); err != nil {
				o.logger.Warn().Err(err).Str("city", city.Name).Msg("weather refresh failed")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(city)
	}
	wg.Wait()

	duration := o.clock.Since(start)
	o.metricsMu.Lock()
	o.metrics.Cycles++
	o.metrics.Issued += int64(issued)
	o.metrics.Failed += int64(failed)
	o.metrics.LastCycleAt = start
	o.metrics.LastCycleDuration = duration
	o.metrics.WorkingSetSize = len(cities)
	o.metricsMu.Unlock()

	o.logger.Debug().
		Int("cities", len(cities)).
		Int("issued", issued).
		Int("failed", failed).
		Dur("duration", duration).
		Msg("refresh cycle completed")
}

func (o *Orchestrator) admit(cat ratelimit.Category, city weather.CityRef) bool {
	if o.limiter == nil || o.limiter.Admit(cat) {
		return true
	}
	o.logger.Warn().
		Str("category", string(cat)).
		Str("city", city.Name).
		Msg("client rate limit reached, selection refused")
	if o.denials != nil {
		o.denials.RecordAdmissionDenied(string(cat))
	}
	o.metricsMu.Lock()
	o.metrics.Skipped++
	o.metricsMu.Unlock()
	return false
}

func (o *Orchestrator) addIssued(n int64) {
	o.metricsMu.Lock()
	o.metrics.Issued += n
	o.metricsMu.Unlock()
}

func (o *Orchestrator) addFailed(n int64) {
	o.metricsMu.Lock()
	o.metrics.Failed += n
	o.metricsMu.Unlock()
}

// GetMetrics returns a copy of the current metrics.
func (o *Orchestrator) GetMetrics() RefreshMetrics {
	o.metricsMu.RLock()
	defer o.metricsMu.RUnlock()
	return o.metrics
}

// MetricsSnapshot returns the current metrics as a map.
func (o *Orchestrator) MetricsSnapshot() map[string]interface{} {
	m := o.GetMetrics()
	return map[string]interface{}{
		"cycles":              m.Cycles,
		"issued":              m.Issued,
		"skipped":             m.Skipped,
		"failed":              m.Failed,
		"last_cycle_at":       m.LastCycleAt,
		"last_cycle_duration": m.LastCycleDuration.String(),
		"working_set_size":    m.WorkingSetSize,
	}
}
