// Package poll repeatedly asks a remote system for the status of a resource
// until the status reaches one of a set of accepted values or a time budget
// runs out.
package poll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kelsos/devicefarm-ci/internal/logger"
)

const (
	// DefaultInterval is the pause between fetches for short waits.
	DefaultInterval = time.Second
	// LongInterval is the pause between fetches for long-running waits.
	LongInterval = 10 * time.Second
	// LongWaitThreshold is the timeout from which IntervalFor picks LongInterval.
	LongWaitThreshold = 5 * time.Minute
)

// ErrDeadlineExceeded is matched by every timeout returned from Until.
var ErrDeadlineExceeded = errors.New("poll deadline exceeded")

// DeadlineExceededError reports a resource that never reached an accepted status.
type DeadlineExceededError struct {
	ID         string
	LastStatus string
	Accepted   []string
	Timeout    time.Duration
	Elapsed    time.Duration
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %s: status %q not in %v",
		e.Elapsed, e.ID, e.LastStatus, e.Accepted)
}

func (e *DeadlineExceededError) Unwrap() error {
	return ErrDeadlineExceeded
}

// Fetcher returns the full current state of the resource identified by id.
type Fetcher[T any] func(ctx context.Context, id string) (T, error)

// StatusFunc extracts the status value from a fetched state.
type StatusFunc[T any] func(state T) string

// Outcome is the last observed state of a resource when polling ended.
type Outcome[T any] struct {
	State     T
	Status    string
	Succeeded bool
	Attempts  int
	Elapsed   time.Duration
}

// Option customises a single Until call.
type Option func(*settings)

type settings struct {
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	onStatus func(id, status string)
}

// WithInterval sets the pause between fetches. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces the wall clock and the sleeper, mostly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithStatusHook is called with every fetched status, accepted or not.
func WithStatusHook(fn func(id, status string)) Option {
	return func(s *settings) {
		s.onStatus = fn
	}
}

// IntervalFor picks a polling interval suited to the given timeout.
func IntervalFor(timeout time.Duration) time.Duration {
	if timeout >= LongWaitThreshold {
		return LongInterval
	}
	return DefaultInterval
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Until fetches id until status(state) is in accepted or timeout elapses.
//
// A fetch error is returned immediately without sleeping or retrying. An
// empty accepted set is allowed and always ends in a *DeadlineExceededError.
// The returned Outcome is populated on every path except a failed first fetch.
func Until[T any](
	ctx context.Context,
	fetch Fetcher[T],
	id string,
	status StatusFunc[T],
	accepted []string,
	timeout time.Duration,
	opts ...Option,
) (Outcome[T], error) {
	s := settings{
		interval: DefaultInterval,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(&s)
	}

	var outcome Outcome[T]
	start := s.now()
	lastStatus := ""

	for {
		state, err := fetch(ctx, id)
		outcome.Attempts++
		outcome.Elapsed = s.now().Sub(start)
		if err != nil {
			return outcome, fmt.Errorf("failed to fetch %s: %w", id, err)
		}

		current := status(state)
		outcome.State = state
		outcome.Status = current

		if s.onStatus != nil {
			s.onStatus(id, current)
		}

		if slices.Contains(accepted, current) {
			outcome.Succeeded = true
			logger.Debug("%s reached status %s after %d attempts", id, current, outcome.Attempts)
			return outcome, nil
		}

		if current != lastStatus {
			logger.Info("Waiting for %s status %s to be in %v", id, current, accepted)
			lastStatus = current
		} else {
			logger.Debug("Waiting for %s status %s to be in %v (attempt %d)", id, current, accepted, outcome.Attempts)
		}

		if outcome.Elapsed >= timeout {
			return outcome, &DeadlineExceededError{
				ID:         id,
				LastStatus: current,
				Accepted:   accepted,
				Timeout:    timeout,
				Elapsed:    outcome.Elapsed,
			}
		}

		// The last fetch lands on the deadline, never past it.
		if err := s.sleep(ctx, min(s.interval, timeout-outcome.Elapsed)); err != nil {
			return outcome, fmt.Errorf("polling %s interrupted: %w", id, err)
		}
	}
}
