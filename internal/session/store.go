package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/swansong314/matlab-proxy/internal/domain"
	"github.com/swansong314/matlab-proxy/internal/metrics"
	"go.uber.org/atomic"
)

const (
	defaultPollInterval             = 5 * time.Second
	defaultFastPollInterval         = 1 * time.Second
	defaultConnectionErrorThreshold = 5
)

// Settings tunes snapshot derivation.
type Settings struct {
	PollInterval             time.Duration
	FastPollInterval         time.Duration
	ConnectionErrorThreshold int
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.FastPollInterval <= 0 {
		s.FastPollInterval = defaultFastPollInterval
	}
	if s.ConnectionErrorThreshold <= 0 {
		s.ConnectionErrorThreshold = defaultConnectionErrorThreshold
	}
	return s
}

// facts is the writer-side state a snapshot is derived from.
type facts struct {
	env            *domain.EnvConfig
	status         *domain.ServerStatus
	fetchFailures  int
	overlayVisible bool
	authenticated  bool
}

// Store is the single-writer, multi-reader holder of the session snapshot.
// Writer methods must only be called from one goroutine.
type Store struct {
	settings Settings
	facts    facts
	current  *atomic.Pointer[domain.Snapshot]
	derive   func(facts, Settings) domain.Snapshot
}

// NewStore creates a store with the overlay initially visible.
func NewStore(settings Settings) *Store {
	s := &Store{
		settings: settings.withDefaults(),
		facts:    facts{overlayVisible: true},
		current:  atomic.NewPointer[domain.Snapshot](nil),
		derive:   derive,
	}
	snap := s.derive(s.facts, s.settings)
	s.current.Store(&snap)
	return s
}

// Snapshot returns the current snapshot. Safe for concurrent use.
func (s *Store) Snapshot() domain.Snapshot {
	return *s.current.Load()
}

// ApplyEnvConfig records the environment configuration.
func (s *Store) ApplyEnvConfig(env domain.EnvConfig) (domain.Snapshot, error) {
	return s.update(func(f *facts) {
		f.env = &env
		if env.Authentication.Status {
			f.authenticated = true
		}
	})
}

// ApplyStatus records a successful status poll and clears the failure count.
func (s *Store) ApplyStatus(status domain.ServerStatus) (domain.Snapshot, error) {
	return s.update(func(f *facts) {
		if revealOnStatus(f.status, &status) {
			f.overlayVisible = true
		}
		f.status = &status
		f.fetchFailures = 0
	})
}

// RecordFetchFailure counts a failed status poll.
func (s *Store) RecordFetchFailure() (domain.Snapshot, error) {
	return s.update(func(f *facts) {
		f.fetchFailures++
		if f.fetchFailures == s.settings.ConnectionErrorThreshold {
			f.overlayVisible = true
		}
	})
}

// SetAuthenticated records the outcome of a token submission.
func (s *Store) SetAuthenticated(authenticated bool) (domain.Snapshot, error) {
	return s.update(func(f *facts) { f.authenticated = authenticated })
}

// SetOverlayVisible sets overlay visibility.
func (s *Store) SetOverlayVisible(visible bool) (domain.Snapshot, error) {
	return s.update(func(f *facts) { f.overlayVisible = visible })
}

// ToggleOverlayVisible flips overlay visibility.
func (s *Store) ToggleOverlayVisible() (domain.Snapshot, error) {
	return s.update(func(f *facts) { f.overlayVisible = !f.overlayVisible })
}

func (s *Store) update(mutate func(f *facts)) (domain.Snapshot, error) {
	candidate := s.facts
	mutate(&candidate)

	snap := s.derive(candidate, s.settings)
	if err := snap.Validate(); err != nil {
		metrics.SnapshotRejectionsTotal.Inc()
		slog.Warn("Rejected malformed snapshot", "error", err)
		return s.Snapshot(), fmt.Errorf("snapshot update rejected: %w", err)
	}

	s.facts = candidate
	s.current.Store(&snap)
	return snap, nil
}

// revealOnStatus reports whether a status change should bring the overlay back:
// MATLAB went down, or a new error appeared.
func revealOnStatus(prev, next *domain.ServerStatus) bool {
	if prev == nil {
		return false
	}
	prevDown := domain.ParseMatlabStatus(prev.Matlab.Status) == domain.MatlabDown
	nextDown := domain.ParseMatlabStatus(next.Matlab.Status) == domain.MatlabDown
	if nextDown && !prevDown {
		return true
	}
	return next.Error != nil && (prev.Error == nil || *prev.Error != *next.Error)
}
