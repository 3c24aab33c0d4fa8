// Package renewal renews the stored credential before the service expires
// it, independently of request traffic. Renewal goes through the session
// client's single-flight gate, so a tick that races a reactive 401 renewal
// joins it instead of rotating the refresh token a second time.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bookmarker/bookmarker-go/internal/credstore"
)

// Defaults tuned against a 30-minute access token lifetime.
const (
	DefaultInterval  = 25 * time.Minute
	DefaultThreshold = 20 * time.Minute
)

// Credentials is the part of the credential store the scheduler needs.
type Credentials interface {
	Load(ctx context.Context) (*credstore.Credential, error)
	Clear(ctx context.Context) error
}

// Refresher performs a renewal. Implemented by session.Client.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Outcome describes what a tick did.
type Outcome int

const (
	// Idle: no credential stored.
	Idle Outcome = iota
	// Fresh: the credential is younger than the threshold.
	Fresh
	// Renewed: the credential was renewed.
	Renewed
	// Ended: renewal failed and the credential was cleared.
	Ended
)

func (o Outcome) String() string {
	switch o {
	case Idle:
		return "idle"
	case Fresh:
		return "fresh"
	case Renewed:
		return "renewed"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Scheduler runs proactive renewal on a fixed interval.
type Scheduler struct {
	creds     Credentials
	refresher Refresher
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu        sync.Mutex
	interval  time.Duration
	threshold time.Duration
	changed   chan struct{}
}

// NewScheduler returns a Scheduler. Non-positive durations fall back to
// DefaultInterval and DefaultThreshold.
func NewScheduler(
	creds Credentials,
	refresher Refresher,
	logger *slog.Logger,
	interval, threshold time.Duration,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		creds:     creds,
		refresher: refresher,
		logger:    logger,
		nowFunc:   time.Now,
		changed:   make(chan struct{}, 1),
	}
	s.interval, s.threshold = withDefaults(interval, threshold)

	return s
}

func withDefaults(interval, threshold time.Duration) (time.Duration, time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return interval, threshold
}

// SetTiming changes the interval and threshold. A running loop picks up the
// new interval immediately.
func (s *Scheduler) SetTiming(interval, threshold time.Duration) {
	s.mu.Lock()
	s.interval, s.threshold = withDefaults(interval, threshold)
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Timing returns the current interval and threshold.
func (s *Scheduler) Timing() (interval, threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval, s.threshold
}

// Run ticks once immediately, then every interval, until ctx is done. It
// always returns nil; per-tick failures are logged.
func (s *Scheduler) Run(ctx context.Context) error {
	interval, threshold := s.Timing()

	s.logger.Info("renewal scheduler started",
		slog.Duration("interval", interval),
		slog.Duration("threshold", threshold),
	)

	s.tickLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("renewal scheduler stopped")
			return nil

		case <-s.changed:
			interval, _ = s.Timing()
			ticker.Reset(interval)

			s.logger.Info("renewal interval changed", slog.Duration("interval", interval))

		case <-ticker.C:
			s.tickLogged(ctx)
		}
	}
}

func (s *Scheduler) tickLogged(ctx context.Context) {
	outcome, err := s.Tick(ctx)
	if err != nil {
		s.logger.Warn("renewal tick failed",
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("renewal tick", slog.String("outcome", outcome.String()))
}

// Tick runs one renewal check. A failed renewal clears the credential and
// reports Ended along with the cause, unless the failure came from ctx
// being canceled, in which case the credential is left alone. If another
// process rotated the refresh token while the renewal was in flight, the
// newer credential is kept and the tick reports Renewed.
func (s *Scheduler) Tick(ctx context.Context) (Outcome, error) {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		return Idle, fmt.Errorf("renewal: loading credential: %w", err)
	}

	if cred == nil {
		return Idle, nil
	}

	_, threshold := s.Timing()

	age := cred.Age(s.nowFunc())
	if age <= threshold {
		return Fresh, nil
	}

	s.logger.Info("credential nearing expiry, renewing",
		slog.Duration("age", age.Round(time.Second)),
		slog.Duration("threshold", threshold),
	)

	refreshErr := s.refresher.Refresh(ctx)
	if refreshErr == nil {
		return Renewed, nil
	}

	if ctx.Err() != nil {
		return Fresh, fmt.Errorf("renewal: interrupted: %w", errors.Join(refreshErr, ctx.Err()))
	}

	// Another process sharing the store may have rotated the refresh token
	// while this renewal posted the old one.
	if current, err := s.creds.Load(context.WithoutCancel(ctx)); err == nil &&
		current != nil && current.RefreshToken != cred.RefreshToken {
		s.logger.Info("proactive renewal failed but the credential was rotated elsewhere",
			slog.String("error", refreshErr.Error()),
		)

		return Renewed, nil
	}

	s.logger.Warn("proactive renewal failed, ending session",
		slog.String("error", refreshErr.Error()),
	)

	if err := s.creds.Clear(context.WithoutCancel(ctx)); err != nil {
		return Ended, fmt.Errorf("renewal: clearing credential: %w", errors.Join(refreshErr, err))
	}

	return Ended, fmt.Errorf("renewal: %w", refreshErr)
}
