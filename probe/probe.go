// Package probe determines which image formats a delivery path can actually
// produce and a client can decode.
//
// A probe requests a minimal 1x1 transcode of a known sample image in each
// candidate format from the optimization proxy and verifies the returned
// container bytes. Probes never fail hard: any inconclusive result resolves
// the format to unsupported, leaving the conservative jpg-only default.
package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/imgopt"
)

const (
	defaultProbeTimeout = 3 * time.Second

	// probePayloadLimit bounds how much of a probe response is read.
	// Container magic lives in the first handful of bytes.
	probePayloadLimit = 256
)

// Prober probes format support against an optimization proxy.
//
// The result is computed once per Prober and cached for its lifetime,
// mirroring the once-per-session semantics of client-side decode probes.
type Prober struct {
	base      string
	sampleRef string
	client    *http.Client
	timeout   time.Duration
	logger    *slog.Logger

	once    sync.Once
	support imgopt.FormatSupport
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient sets the HTTP client used for probe requests.
func WithClient(client *http.Client) Option {
	return func(p *Prober) {
		p.client = client
	}
}

// WithTimeout sets the per-format probe budget.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.timeout = d
	}
}

// WithLogger sets the logger for probe diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// New creates a Prober. The sampleRef is a small source image the proxy can
// fetch; its transcoded variants are used purely as decode probes.
func New(proxyBase, sampleRef string, opts ...Option) *Prober {
	p := &Prober{
		base:      proxyBase,
		sampleRef: sampleRef,
		client:    http.DefaultClient,
		timeout:   defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	return p
}

// Probe resolves format support, probing on first call and returning the
// cached result afterwards. It never returns an error: probe failures are
// logged and the affected format is reported unsupported.
func (p *Prober) Probe(ctx context.Context) imgopt.FormatSupport {
	p.once.Do(func() {
		p.support = p.probeAll(ctx)
	})
	return p.support
}

func (p *Prober) probeAll(ctx context.Context) imgopt.FormatSupport {
	var support imgopt.FormatSupport

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		support.AVIF = p.probeFormat(ctx, imgopt.FormatAVIF)
		return nil
	})
	g.Go(func() error {
		support.WebP = p.probeFormat(ctx, imgopt.FormatWebP)
		return nil
	})
	_ = g.Wait() //nolint:errcheck // probe goroutines never return errors

	return support
}

// probeFormat requests a 1x1 sample transcode and checks that the response
// really is the requested container.
func (p *Prober) probeFormat(ctx context.Context, format imgopt.Format) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.probeURL(format), nil)
	if err != nil {
		p.log().Debug("probe request build failed", "format", format.String(), "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log().Debug("probe fetch failed", "format", format.String(), "error", err)
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		p.log().Debug("probe rejected", "format", format.String(), "status", resp.Status)
		return false
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, probePayloadLimit))
	if err != nil {
		p.log().Debug("probe read failed", "format", format.String(), "error", err)
		return false
	}

	detected, ok := Sniff(payload)
	return ok && detected == format
}

func (p *Prober) probeURL(format imgopt.Format) string {
	q := url.Values{}
	q.Set("url", p.sampleRef)
	q.Set("w", "1")
	q.Set("h", "1")
	q.Set("q", "30")
	q.Set("f", format.String())
	q.Set("dpr", "1")
	return p.base + "/optimize?" + q.Encode()
}

func (p *Prober) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}
