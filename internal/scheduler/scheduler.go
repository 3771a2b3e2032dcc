// Package scheduler drives repeated refresh actions per monitored entity.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spread-monitor/internal/errors"
)

// Tick is handed to an action on every invocation.
type Tick struct {
	Key     string
	Attempt int
	entry   *entry
}

// Apply runs fn only while the entity is still active. Stop cannot interleave
// with fn, so a result fetched before cancellation is discarded, never
// applied after it.
func (t *Tick) Apply(fn func()) bool {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	if t.entry.stopped {
		return false
	}
	fn()
	return true
}

// Active reports whether the entity is still running.
func (t *Tick) Active() bool {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	return !t.entry.stopped
}

// Action is one refresh tick. A returned error counts as a failed fetch.
type Action func(ctx context.Context, tick *Tick) error

// State of a monitored entity.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

type entry struct {
	key      string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	stopped  bool
	failures int
	lastRun  time.Time
	lastErr  error
}

// EntryStatus describes one registered entity.
type EntryStatus struct {
	Key                 string        `json:"key"`
	Interval            time.Duration `json:"interval"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastRun             time.Time     `json:"lastRun"`
	LastError           string        `json:"lastError,omitempty"`
}

// Scheduler is a registry of independently running timers keyed by entity.
// Ticks for one key are serialized; different keys run concurrently.
type Scheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	backoff BackoffConfig
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates a scheduler. Cancelling parent stops every timer.
func New(parent context.Context, backoff BackoffConfig, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		backoff: backoff,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*entry),
	}
}

// Start runs action immediately and then every interval until Stop. Starting
// a running key replaces the previous timer.
func (s *Scheduler) Start(key string, interval time.Duration, action Action) error {
	if interval <= 0 {
		return errors.NewValidationError("interval", interval, "must be positive")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrNotRunning, "scheduler closed, cannot start %s", key)
	}
	prev := s.entries[key]
	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		key:      key,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.entries[key] = e
	s.mu.Unlock()

	if prev != nil {
		s.halt(prev)
		s.logger.Debug().Str("key", key).Msg("Restarted running entity")
	}

	go s.run(ctx, e, action)
	s.logger.Debug().Str("key", key).Dur("interval", interval).Msg("Entity started")
	return nil
}

// Stop cancels and removes key. Stopping a key that is not running is a no-op.
// It does not wait for an in-flight tick to return.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if ok {
		s.halt(e)
		s.logger.Debug().Str("key", key).Msg("Entity stopped")
	}
}

// IsActive reports whether key is running.
func (s *Scheduler) IsActive(key string) bool {
	return s.State(key) == StateRunning
}

// State returns the lifecycle state of key.
func (s *Scheduler) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return StateRunning
	}
	return StateStopped
}

// Keys returns the running keys in sorted order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Statuses returns a status per running key.
func (s *Scheduler) Statuses() []EntryStatus {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := EntryStatus{
			Key:                 e.key,
			Interval:            e.interval,
			ConsecutiveFailures: e.failures,
			LastRun:             e.lastRun,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Close stops every timer and waits for running ticks to return. Start fails
// after Close.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		s.halt(e)
	}
	s.cancel()
	for _, e := range entries {
		<-e.done
	}
}

func (s *Scheduler) halt(e *entry) {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()
}

func (s *Scheduler) run(ctx context.Context, e *entry, action Action) {
	defer close(e.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		attempt++
		err := s.invoke(ctx, e, action, attempt)

		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			return
		}
		e.lastRun = time.Now()
		e.lastErr = err
		if err != nil {
			e.failures++
		} else {
			e.failures = 0
		}
		failures := e.failures
		e.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("key", e.key).Int("consecutive_failures", failures).Msg("Refresh failed, keeping last known good state")
		}
		timer.Reset(s.backoff.Delay(e.interval, failures))
	}
}

// invoke isolates a panicking action so the timer keeps running.
func (s *Scheduler) invoke(ctx context.Context, e *entry, action Action, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("key", e.key).Msg("Refresh action panicked")
			err = errors.Wrapf(errors.ErrUpstreamUnavailable, "action panicked: %v", r)
		}
	}()
	return action(ctx, &Tick{Key: e.key, Attempt: attempt, entry: e})
}
