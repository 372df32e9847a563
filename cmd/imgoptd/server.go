package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/imgopt"
	"github.com/meigma/imgopt/cache"
	"github.com/meigma/imgopt/cache/disk"
	"github.com/meigma/imgopt/config"
	"github.com/meigma/imgopt/experiment"
	"github.com/meigma/imgopt/loader"
	"github.com/meigma/imgopt/probe"
	"github.com/meigma/imgopt/telemetry"
)

// optimizedPartition caches transformed upstream responses.
const optimizedPartition = "optimized"

type server struct {
	cfg        *config.Config
	logger     *slog.Logger
	opt        *imgopt.Optimizer
	store      cache.Store
	fetcher    *loader.HTTPFetcher
	collectors *telemetry.Collectors
	metrics    *telemetry.MetricsSender
	registry   *prometheus.Registry
	closers    []func() error
}

func newServer(cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{
		cfg:      cfg,
		logger:   logger,
		fetcher:  loader.NewHTTPFetcher(nil),
		registry: prometheus.NewRegistry(),
	}
	s.collectors = telemetry.NewCollectors(s.registry)

	budgets := cfg.Budgets()
	if _, ok := budgets[optimizedPartition]; !ok {
		budgets[optimizedPartition] = cache.Budget{}
	}
	if cfg.Cache.Dir != "" {
		store, err := disk.New(cfg.Cache.Dir, budgets)
		if err != nil {
			return nil, err
		}
		s.store = store
	} else {
		s.store = cache.NewMemory(budgets)
	}

	var assignerOpts []experiment.Option
	if cfg.AssignmentsDB != "" {
		store, err := experiment.OpenSQLite(cfg.AssignmentsDB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		assignerOpts = append(assignerOpts, experiment.WithStore(store))
	} else {
		assignerOpts = append(assignerOpts, experiment.WithStore(experiment.NewMemoryStore()))
	}
	assigner, err := experiment.NewAssigner(cfg.ExperimentSet(),
		append(assignerOpts, experiment.WithLogger(logger))...)
	if err != nil {
		return nil, err
	}

	optOpts := []imgopt.Option{
		imgopt.WithVariantResolver(assigner),
		imgopt.WithLogger(logger),
	}
	if cfg.SampleRef != "" {
		optOpts = append(optOpts, imgopt.WithProber(
			probe.New(cfg.ProxyBase, cfg.SampleRef, probe.WithLogger(logger))))
	}
	s.opt, err = imgopt.New(cfg.ProxyBase, optOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.Telemetry.MetricsEndpoint != "" {
		s.metrics = telemetry.NewMetricsSender(cfg.Telemetry.MetricsEndpoint,
			telemetry.WithBatchSize(cfg.Telemetry.BatchSize),
			telemetry.WithFlushInterval(time.Duration(cfg.Telemetry.FlushInterval)),
			telemetry.WithLogger(logger))
	}
	return s, nil
}

func (s *server) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /optimize", s.handleOptimize)
	mux.HandleFunc("GET /plan", s.handlePlan)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.metrics != nil {
		go s.metrics.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Listen, "proxy_base", s.cfg.ProxyBase)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	for _, closeFn := range s.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// handleOptimize serves a transformed image: cache, then upstream fetch,
// then stale entry, then generated placeholder. Every path produces a
// visible image.
func (s *server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.planFromRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	key := plan.Spec.URL

	if payload, ok := s.store.Get(ctx, optimizedPartition, key); ok {
		s.collectors.CacheHits.WithLabelValues(optimizedPartition).Inc()
		s.serveImage(w, payload, plan.Spec.Format, "HIT")
		return
	}
	s.collectors.CacheMisses.WithLabelValues(optimizedPartition).Inc()

	fetchCtx, cancel := context.WithTimeout(ctx, plan.FetchTimeout)
	start := time.Now()
	payload, err := s.fetcher.Fetch(fetchCtx, plan.Spec.URL)
	cancel()
	s.collectors.FetchDuration.WithLabelValues(plan.Spec.Format.String()).
		Observe(time.Since(start).Seconds())
	s.recordFetchMetric(r, time.Since(start))

	if err == nil {
		if perr := s.store.Put(ctx, optimizedPartition, key, payload); perr != nil {
			// Storage failure degrades to an uncached response.
			s.logger.Warn("cache put failed", "key", key, "error", perr)
		}
		s.collectors.Loads.WithLabelValues("loaded").Inc()
		s.serveImage(w, payload, plan.Spec.Format, "MISS")
		return
	}
	s.logger.Warn("upstream fetch failed", "url", plan.Spec.URL, "error", err)

	if stale, ok := s.store.(cache.Stale); ok {
		if payload, ok := stale.GetStale(ctx, optimizedPartition, key); ok {
			s.collectors.Loads.WithLabelValues("stale").Inc()
			s.serveImage(w, payload, plan.Spec.Format, "STALE")
			return
		}
	}

	s.collectors.Loads.WithLabelValues("errored").Inc()
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("X-Cache", "PLACEHOLDER")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(loader.Placeholder(plan.Spec.Width, plan.Spec.Height))
}

// handlePlan returns the derived render descriptor as JSON, for server-side
// renderers that emit their own markup.
func (s *server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.planFromRequest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		URL         string               `json:"url"`
		Width       int                  `json:"width"`
		Height      int                  `json:"height"`
		Format      string               `json:"format"`
		Quality     int                  `json:"quality"`
		SrcSet      []imgopt.SrcSetEntry `json:"srcset"`
		Placeholder string               `json:"placeholder"`
		TimeoutMS   int64                `json:"timeoutMs"`
	}{
		URL:         plan.Spec.URL,
		Width:       plan.Spec.Width,
		Height:      plan.Spec.Height,
		Format:      plan.Spec.Format.String(),
		Quality:     plan.Spec.Quality,
		SrcSet:      plan.SrcSet,
		Placeholder: plan.PlaceholderURL,
		TimeoutMS:   plan.FetchTimeout.Milliseconds(),
	})
}

func (s *server) planFromRequest(w http.ResponseWriter, r *http.Request) (imgopt.Plan, bool) {
	q := r.URL.Query()
	width, _ := strconv.Atoi(q.Get("w"))
	height, _ := strconv.Atoi(q.Get("h"))
	quality, _ := strconv.Atoi(q.Get("q"))

	profile := imgopt.DetectProfile(r.Header)
	plan, err := s.opt.Plan(r.Context(), imgopt.PlanRequest{
		SourceRef: q.Get("url"),
		Width:     width,
		Height:    height,
		Quality:   quality,
		Profile:   profile,
		UserID:    userID(r),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, imgopt.ErrInvalidRef) || errors.Is(err, imgopt.ErrInvalidDimensions) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return imgopt.Plan{}, false
	}

	// An explicit format override skips selection but keeps everything
	// else derived. The source set must carry the override too.
	if f := q.Get("f"); f != "" {
		format, err := imgopt.ParseFormat(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return imgopt.Plan{}, false
		}
		spec, err := s.opt.Builder().BuildRequest(
			q.Get("url"), width, height, format, plan.Spec.Quality, profile)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return imgopt.Plan{}, false
		}
		srcset, err := s.opt.Builder().SrcSet(
			q.Get("url"), width, height, format, plan.Spec.Quality, profile)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return imgopt.Plan{}, false
		}
		plan.Spec = spec
		plan.SrcSet = srcset
	}
	return plan, true
}

func (s *server) serveImage(w http.ResponseWriter, payload []byte, format imgopt.Format, cacheStatus string) {
	contentType := format.ContentType()
	if detected, ok := probe.Sniff(payload); ok {
		contentType = detected.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *server) recordFetchMetric(r *http.Request, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	ms := float64(elapsed.Milliseconds())
	s.metrics.Record(telemetry.Metric{
		MetricName: "edge_fetch_ms",
		Summary:    telemetry.Summary{Count: 1, Min: ms, Max: ms, Mean: ms},
		Profile:    imgopt.DetectProfile(r.Header),
		Timestamp:  time.Now().UTC(),
	})
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if c, err := r.Cookie("imgopt_uid"); err == nil {
		return c.Value
	}
	return ""
}
