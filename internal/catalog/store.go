package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/coinsentinel/internal/infra"
)

// DefaultTTL is the maximum snapshot age before a refresh is attempted.
const DefaultTTL = 5 * time.Minute

// Singleflight keys. Forced refreshes get their own flight so they never
// settle for a Get flight that found the held snapshot fresh.
const (
	refreshKey = "catalog"
	forcedKey  = "catalog:forced"
)

// Observer receives Store lifecycle events. internal/metrics implements it.
type Observer interface {
	RefreshSucceeded(entries int, took time.Duration)
	RefreshFailed(stale bool)
	SnapshotServed(age time.Duration)
}

type nopObserver struct{}

func (nopObserver) RefreshSucceeded(int, time.Duration) {}
func (nopObserver) RefreshFailed(bool)                  {}
func (nopObserver) SnapshotServed(time.Duration)        {}

// Observers fans events out to several observers in order. Nil entries
// are skipped.
func Observers(obs ...Observer) Observer {
	list := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) RefreshSucceeded(entries int, took time.Duration) {
	for _, o := range m {
		o.RefreshSucceeded(entries, took)
	}
}

func (m multiObserver) RefreshFailed(stale bool) {
	for _, o := range m {
		o.RefreshFailed(stale)
	}
}

func (m multiObserver) SnapshotServed(age time.Duration) {
	for _, o := range m {
		o.SnapshotServed(age)
	}
}

// Store is the sole owner of the current catalog snapshot.
//
// Get serves the held snapshot while it is younger than the TTL. Once stale,
// concurrent callers share one in-flight refresh. When a refresh fails the
// last good snapshot keeps being served, and no new attempt is made until
// the failure backoff has elapsed.
type Store struct {
	fetcher        Fetcher
	clock          infra.Clock
	ttl            time.Duration
	attempts       int
	retryBackoff   time.Duration
	failureBackoff time.Duration
	logger         *slog.Logger
	observer       Observer

	group singleflight.Group

	mu       sync.RWMutex
	current  *Snapshot
	failedAt time.Time // last failed refresh; zero after a success
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the staleness threshold.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects the clock used for staleness decisions.
func WithClock(c infra.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRefreshAttempts sets the fixed attempt budget for one refresh and
// the pause between attempts.
func WithRefreshAttempts(n int, backoff time.Duration) Option {
	return func(s *Store) {
		s.attempts = n
		s.retryBackoff = backoff
	}
}

// WithFailureBackoff sets how long a stale snapshot is served after a
// failed refresh before another refresh is attempted.
func WithFailureBackoff(d time.Duration) Option {
	return func(s *Store) { s.failureBackoff = d }
}

// WithObserver registers lifecycle callbacks.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// NewStore creates a Store backed by fetcher.
func NewStore(fetcher Fetcher, opts ...Option) *Store {
	s := &Store{
		fetcher:        fetcher,
		clock:          infra.SystemClock,
		ttl:            DefaultTTL,
		attempts:       2,
		retryBackoff:   500 * time.Millisecond,
		failureBackoff: 30 * time.Second,
		observer:       nopObserver{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// Get returns the current snapshot, refreshing it first when stale.
// It fails only when no snapshot has ever been fetched.
func (s *Store) Get(ctx context.Context) (*Snapshot, error) {
	cur, failedAt := s.state()
	now := s.clock.Now()
	if cur != nil && s.usable(cur, failedAt, now) {
		s.observer.SnapshotServed(cur.Age(now))
		return cur, nil
	}

	snap, err := s.refresh(ctx, false)
	if err == nil {
		s.observer.SnapshotServed(snap.Age(s.clock.Now()))
		return snap, nil
	}
	if last, ok := s.Peek(); ok {
		s.observer.SnapshotServed(last.Age(s.clock.Now()))
		return last, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
}

// Refresh fetches a new snapshot regardless of the current one's age.
// Concurrent Refresh and Get calls still share a single upstream fetch.
// Unlike Get, a failure is always returned; the held snapshot is kept.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	return s.refresh(ctx, true)
}

// Peek returns the held snapshot without refreshing.
func (s *Store) Peek() (*Snapshot, bool) {
	cur, _ := s.state()
	return cur, cur != nil
}

// Run refreshes the catalog every TTL until ctx is done, so interactive
// callers rarely wait on the upstream. Failures are logged and absorbed.
func (s *Store) Run(ctx context.Context) error {
	t := time.NewTicker(s.ttl)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduled catalog refresh failed", "error", err)
			}
		}
	}
}

func (s *Store) state() (*Snapshot, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.failedAt
}

// usable reports whether cur may be served at now without a refresh.
func (s *Store) usable(cur *Snapshot, failedAt, now time.Time) bool {
	if cur.Age(now) < s.ttl {
		return true
	}
	return !failedAt.IsZero() && now.Sub(failedAt) < s.failureBackoff
}

func (s *Store) refresh(ctx context.Context, force bool) (*Snapshot, error) {
	// The shared fetch must outlive any single caller that gives up waiting.
	detached := context.WithoutCancel(ctx)
	key := refreshKey
	if force {
		key = forcedKey
	}
	ch := s.group.DoChan(key, func() (any, error) {
		if !force {
			// Another caller may have refreshed between our check and here.
			if cur, failedAt := s.state(); cur != nil && s.usable(cur, failedAt, s.clock.Now()) {
				return cur, nil
			}
		}
		return s.fetch(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch performs one refresh with the fixed attempt budget and publishes
// the result. It runs at most once at a time via the singleflight group.
func (s *Store) fetch(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	var snap *Snapshot
	err := infra.Retry(ctx, s.attempts, s.retryBackoff, isRetryable, func(ctx context.Context) error {
		var err error
		snap, err = s.fetcher.Fetch(ctx)
		if err == nil && snap == nil {
			err = fmt.Errorf("%w: fetcher returned no snapshot", ErrUpstreamMalformed)
		}
		return err
	})

	s.mu.Lock()
	if err != nil {
		s.failedAt = s.clock.Now()
		stale := s.current != nil
		s.mu.Unlock()

		s.observer.RefreshFailed(stale)
		s.logger.Warn("catalog refresh failed", "error", err, "stale", stale)
		if errors.Is(err, ErrUpstreamMalformed) {
			return nil, err
		}
		if !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = s.clock.Now()
	}
	// A forced and a regular flight may overlap; keep the newer snapshot.
	if s.current == nil || !snap.FetchedAt.Before(s.current.FetchedAt) {
		s.current = snap
	}
	s.failedAt = time.Time{}
	s.mu.Unlock()

	took := time.Since(start)
	s.observer.RefreshSucceeded(snap.Len(), took)
	s.logger.Info("catalog refreshed", "entries", snap.Len(), "took", took)
	return snap, nil
}

func isRetryable(err error) bool {
	return !errors.Is(err, ErrUpstreamMalformed)
}
