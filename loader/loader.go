// Package loader schedules image loads by viewport proximity.
//
// Each tracked element moves through pending -> loading -> loaded, or
// pending -> loading -> errored after its fallback chain is exhausted.
// Loaded and errored are terminal. The scheduler issues no new transitions
// while offline and resumes every still-pending element when connectivity
// returns.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/imgopt"
)

// Defaults matching the proximity region of a client-side lazy loader.
const (
	DefaultMarginPx  = 50
	DefaultThreshold = 0.1
)

// State is an element's lifecycle state.
type State uint8

const (
	StatePending State = iota
	StateLoading
	StateLoaded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Element is one trackable image slot.
type Element struct {
	// ID uniquely identifies the element within the scheduler.
	ID string

	// URL is the real resource to load.
	URL string

	// FallbackURL is an optional alternate source tried once after the
	// primary fetch fails.
	FallbackURL string

	// Bounds is the element's layout rectangle, in the same coordinate
	// space as the viewport passed to UpdateViewport.
	Bounds Rect

	// Width and Height size the generated placeholder graphic when the
	// whole fallback chain fails.
	Width  int
	Height int
}

// Fetcher retrieves a resource's bytes. Implementations should honor the
// context deadline; an aborted fetch is treated as a failure.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StaleFunc looks up a stale cached payload for a URL. It is the
// second-to-last rung of the fallback chain.
type StaleFunc func(ctx context.Context, url string) ([]byte, bool)

// Result reports a terminal transition for one element.
type Result struct {
	ID    string
	State State

	// Data is the loaded payload. For errored elements that found a stale
	// cache entry, Data holds the stale payload and Stale is set.
	Data  []byte
	Stale bool

	// Placeholder is the generated graphic substituted when no payload
	// could be produced.
	Placeholder []byte

	// Err is the final fetch error for errored elements.
	Err error
}

// Scheduler tracks elements and transitions them as the viewport moves.
type Scheduler struct {
	fetcher   Fetcher
	margin    float64
	threshold float64
	timeout   time.Duration
	stale     StaleFunc
	deliver   func(Result)
	logger    *slog.Logger

	mu       sync.Mutex
	elems    map[string]*tracked
	viewport Rect
	offline  bool

	group singleflight.Group
	wg    sync.WaitGroup
}

type tracked struct {
	el    Element
	state State
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMargin sets the proximity margin in pixels. Defaults to 50.
func WithMargin(px float64) Option {
	return func(s *Scheduler) {
		s.margin = px
	}
}

// WithThreshold sets the visibility threshold as a fraction of the element
// area. Defaults to 0.1.
func WithThreshold(f float64) Option {
	return func(s *Scheduler) {
		s.threshold = f
	}
}

// WithNetwork derives the fetch abort budget from a network class.
func WithNetwork(n imgopt.NetworkClass) Option {
	return func(s *Scheduler) {
		s.timeout = n.FetchTimeout()
	}
}

// WithTimeout sets the fetch abort budget directly.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithStale sets the stale-cache lookup used when fetches fail.
func WithStale(f StaleFunc) Option {
	return func(s *Scheduler) {
		s.stale = f
	}
}

// WithDeliver sets the callback invoked on each terminal transition.
// The callback runs outside the scheduler lock.
func WithDeliver(f func(Result)) Option {
	return func(s *Scheduler) {
		s.deliver = f
	}
}

// WithLogger sets the logger for load diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a Scheduler using fetcher for resource loads.
func New(fetcher Fetcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:   fetcher,
		margin:    DefaultMarginPx,
		threshold: DefaultThreshold,
		timeout:   imgopt.NetworkUnknown.FetchTimeout(),
		elems:     make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track registers an element in the pending state and immediately evaluates
// it against the current viewport.
func (s *Scheduler) Track(el Element) error {
	if el.ID == "" {
		return errors.New("loader: element id is empty")
	}
	if el.URL == "" {
		return errors.New("loader: element url is empty")
	}

	s.mu.Lock()
	if _, ok := s.elems[el.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("loader: element %q already tracked", el.ID)
	}
	s.elems[el.ID] = &tracked{el: el, state: StatePending}
	s.evaluateLocked()
	s.mu.Unlock()
	return nil
}

// UpdateViewport records the new viewport rectangle and starts loads for
// pending elements that entered the proximity region.
func (s *Scheduler) UpdateViewport(vp Rect) {
	s.mu.Lock()
	s.viewport = vp
	s.evaluateLocked()
	s.mu.Unlock()
}

// SetOnline flips the connectivity gate. Going online re-evaluates every
// pending element against the last known viewport.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	s.offline = !online
	if online {
		s.evaluateLocked()
	}
	s.mu.Unlock()
}

// State returns the element's current state.
func (s *Scheduler) State(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.elems[id]
	if !ok {
		return StatePending, false
	}
	return t.state, true
}

// Wait blocks until all in-flight loads have delivered their results.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// evaluateLocked starts loads for pending elements inside the proximity
// region. Caller holds s.mu.
func (s *Scheduler) evaluateLocked() {
	if s.offline {
		return
	}
	region := s.viewport.Expand(s.margin)
	for _, t := range s.elems {
		if t.state != StatePending {
			continue
		}
		if !region.Covers(t.el.Bounds, s.threshold) {
			continue
		}
		t.state = StateLoading
		s.wg.Add(1)
		go s.load(t.el)
	}
}

// load runs the fetch and fallback chain for one element and delivers the
// terminal result.
func (s *Scheduler) load(el Element) {
	defer s.wg.Done()

	data, err := s.fetch(el.URL)
	if err != nil && el.FallbackURL != "" {
		s.log().Warn("primary fetch failed, trying fallback",
			"id", el.ID, "error", err)
		data, err = s.fetch(el.FallbackURL)
	}

	if err == nil {
		s.finish(Result{ID: el.ID, State: StateLoaded, Data: data})
		return
	}

	if s.stale != nil {
		if stale, ok := s.stale(context.Background(), el.URL); ok {
			s.log().Warn("serving stale cache entry", "id", el.ID, "error", err)
			s.finish(Result{ID: el.ID, State: StateErrored, Data: stale, Stale: true, Err: err})
			return
		}
	}

	s.log().Warn("load failed, substituting placeholder", "id", el.ID, "error", err)
	s.finish(Result{
		ID:          el.ID,
		State:       StateErrored,
		Placeholder: Placeholder(el.Width, el.Height),
		Err:         err,
	})
}

// fetch runs one fetch attempt under the abort budget, deduplicating
// concurrent loads of the same URL.
func (s *Scheduler) fetch(url string) ([]byte, error) {
	v, err, _ := s.group.Do(url, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		data, err := s.fetcher.Fetch(ctx, url)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", imgopt.ErrTimeout, url)
			}
			return nil, fmt.Errorf("%w: %v", imgopt.ErrFetchFailed, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Scheduler) finish(r Result) {
	s.mu.Lock()
	if t, ok := s.elems[r.ID]; ok {
		t.state = r.State
	}
	s.mu.Unlock()

	if s.deliver != nil {
		s.deliver(r)
	}
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}
