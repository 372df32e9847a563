// Package testutil provides shared fakes for pipeline tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Clock is a controllable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock starting at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ErrStubFetch is the error returned by StubFetcher for URLs without a
// configured response.
var ErrStubFetch = errors.New("testutil: no response configured")

// StubFetcher serves canned responses by URL and records every fetch.
type StubFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	failures  map[string]error
	delay     time.Duration
	calls     []string
}

// NewStubFetcher creates an empty StubFetcher.
func NewStubFetcher() *StubFetcher {
	return &StubFetcher{
		responses: make(map[string][]byte),
		failures:  make(map[string]error),
	}
}

// Respond configures a successful response for url.
func (f *StubFetcher) Respond(url string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = payload
	delete(f.failures, url)
}

// Fail configures a failure for url.
func (f *StubFetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = err
	delete(f.responses, url)
}

// SetDelay makes every fetch wait, respecting context cancellation.
func (f *StubFetcher) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Fetch implements the loader's Fetcher contract.
func (f *StubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	delay := f.delay
	payload, ok := f.responses[url]
	failure := f.failures[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, ErrStubFetch
	}
	return payload, nil
}

// Calls returns the fetched URLs in order.
func (f *StubFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
