package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one analytics event.
type Event struct {
	Name      string            `json:"name"`
	Props     map[string]string `json:"props,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AnalyticsSender batches events per user and session and posts them as
// JSON. A fresh session ID is minted per sender.
type AnalyticsSender struct {
	endpoint  string
	userID    string
	sessionID string
	client    *http.Client
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	buf []Event
}

// NewAnalyticsSender creates a sender for the given user.
func NewAnalyticsSender(endpoint, userID string, opts ...SenderOption) *AnalyticsSender {
	cfg := applySenderOpts(opts)
	return &AnalyticsSender{
		endpoint:  endpoint,
		userID:    userID,
		sessionID: uuid.NewString(),
		client:    cfg.client,
		batchSize: cfg.batchSize,
		interval:  cfg.interval,
		logger:    cfg.logger,
	}
}

// SessionID returns the sender's session identifier.
func (s *AnalyticsSender) SessionID() string { return s.sessionID }

// Record buffers an event, flushing asynchronously when the batch is full.
func (s *AnalyticsSender) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.buf = append(s.buf, e)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		go s.Flush(context.Background())
	}
}

// Run flushes on the configured interval until ctx is canceled, then
// performs a final flush.
func (s *AnalyticsSender) Run(ctx context.Context) {
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

// Flush sends the buffered batch, retrying once before dropping it.
func (s *AnalyticsSender) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	payload := struct {
		UserID    string  `json:"userId"`
		SessionID string  `json:"sessionId"`
		Events    []Event `json:"events"`
	}{UserID: s.userID, SessionID: s.sessionID, Events: batch}

	if err := postJSON(ctx, s.client, s.endpoint, payload); err != nil {
		if err = postJSON(ctx, s.client, s.endpoint, payload); err != nil {
			s.log().Warn("analytics batch dropped", "count", len(batch), "error", err)
		}
	}
}

func (s *AnalyticsSender) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}
