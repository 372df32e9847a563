// Package telemetry reports pipeline behavior to external collectors.
//
// It provides best-effort batched JSON senders for the metrics-ingestion
// and analytics endpoints, plus Prometheus collectors for in-process
// observation. Delivery failures are logged and never propagate; a batch is
// retried once and then dropped.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/meigma/imgopt"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 30 * time.Second
	defaultSendTimeout   = 5 * time.Second
)

// Summary holds aggregate statistics for one metric observation window.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Metric is one entry in a metrics-ingestion batch.
type Metric struct {
	MetricName string               `json:"metricName"`
	Summary    Summary              `json:"summaryStats"`
	Profile    imgopt.DeviceProfile `json:"deviceProfile"`
	Timestamp  time.Time            `json:"timestamp"`
}

// MetricsSender batches metrics and posts them as JSON.
type MetricsSender struct {
	endpoint  string
	client    *http.Client
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	buf []Metric
}

// SenderOption configures a sender.
type SenderOption func(*senderConfig)

type senderConfig struct {
	client    *http.Client
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

// WithHTTPClient sets the HTTP client used for delivery.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(c *senderConfig) {
		c.client = client
	}
}

// WithBatchSize sets the flush-triggering batch size.
func WithBatchSize(n int) SenderOption {
	return func(c *senderConfig) {
		c.batchSize = n
	}
}

// WithFlushInterval sets the periodic flush interval used by Run.
func WithFlushInterval(d time.Duration) SenderOption {
	return func(c *senderConfig) {
		c.interval = d
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *slog.Logger) SenderOption {
	return func(c *senderConfig) {
		c.logger = logger
	}
}

func applySenderOpts(opts []SenderOption) senderConfig {
	cfg := senderConfig{
		client:    &http.Client{Timeout: defaultSendTimeout},
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: defaultSendTimeout}
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultFlushInterval
	}
	return cfg
}

// NewMetricsSender creates a sender targeting the metrics-ingestion
// endpoint.
func NewMetricsSender(endpoint string, opts ...SenderOption) *MetricsSender {
	cfg := applySenderOpts(opts)
	return &MetricsSender{
		endpoint:  endpoint,
		client:    cfg.client,
		batchSize: cfg.batchSize,
		interval:  cfg.interval,
		logger:    cfg.logger,
	}
}

// Record buffers a metric, flushing asynchronously when the batch is full.
func (s *MetricsSender) Record(m Metric) {
	s.mu.Lock()
	s.buf = append(s.buf, m)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		go s.Flush(context.Background())
	}
}

// Run flushes on the configured interval until ctx is canceled, then
// performs a final flush.
func (s *MetricsSender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush sends the buffered batch. Failed batches are retried once and then
// dropped with a logged warning.
func (s *MetricsSender) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	payload := struct {
		Metrics []Metric `json:"metrics"`
	}{Metrics: batch}
	if err := postJSON(ctx, s.client, s.endpoint, payload); err != nil {
		if err = postJSON(ctx, s.client, s.endpoint, payload); err != nil {
			s.log().Warn("metrics batch dropped", "count", len(batch), "error", err)
		}
	}
}

func (s *MetricsSender) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{status: resp.Status}
	}
	return nil
}

type statusError struct {
	status string
}

func (e *statusError) Error() string {
	return "telemetry: unexpected status " + e.status
}
