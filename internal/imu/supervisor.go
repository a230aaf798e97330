package imu

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// SourceFactory produces a connected Source. The serial factory
// resolves a port and opens a FrameReader on it; the mock factory
// returns a MockSource and never fails.
type SourceFactory func() (Source, error)

// SerialFactory locates and opens a serial frame reader. A non-empty
// hint names the port to prefer; with no candidates the platform
// defaults are enumerated on every attempt, so a device that moves to
// a different port between reconnects is still found.
func SerialFactory(hint string, candidates []string) SourceFactory {
	loc := NewLocator()
	return func() (Source, error) {
		cands := candidates
		if len(cands) == 0 {
			cands = DefaultCandidates()
		}
		desc, err := loc.Locate(hint, cands)
		if err != nil {
			return nil, err
		}
		port, err := OpenPort(desc.Name)
		if err != nil {
			return nil, err
		}
		return NewFrameReader(desc.Name, port), nil
	}
}

// MockFactory returns synthetic orientation, for --mock and offline
// development.
func MockFactory() SourceFactory {
	return func() (Source, error) { return NewMockSource(), nil }
}

// SupervisorConfig tunes the reconnect policy.
type SupervisorConfig struct {
	// MaxRetries is the number of consecutive failed reconnect attempts
	// tolerated before the stream is declared Failed. Reaching Open
	// resets the budget.
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles per attempt up
	// to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// ReadTimeout bounds each Next call on the source. Cancellation is
	// observed within one such interval.
	ReadTimeout time.Duration
	// OnStateChange, if set, is called from the reader loop on every
	// stream state transition.
	OnStateChange func(StreamState)
}

const (
	defaultMaxRetries  = 5
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 8 * time.Second
	defaultReadTimeout = time.Second
)

// Supervisor owns the dedicated reader loop: the only goroutine that
// touches the serial handle and the only writer of the stream state.
// Consumers pull the newest sample from the single-slot mailbox and
// query State for UI feedback; they never see stream faults directly.
type Supervisor struct {
	cfg     SupervisorConfig
	factory SourceFactory
	mailbox Mailbox

	mu         sync.Mutex
	state      StreamState
	sourceName string
}

func NewSupervisor(cfg SupervisorConfig, factory SourceFactory) *Supervisor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Supervisor{cfg: cfg, factory: factory, state: StateClosed}
}

// State returns the current stream state.
func (s *Supervisor) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SourceName names the currently (or last) connected source.
func (s *Supervisor) SourceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceName
}

// Take returns the newest unread sample, or false when nothing fresh
// has arrived since the last call.
func (s *Supervisor) Take() (Sample, bool) { return s.mailbox.Take() }

// Latest returns the most recent sample even if already read.
func (s *Supervisor) Latest() (Sample, bool) { return s.mailbox.Latest() }

// Run drives the connect/read/reconnect loop until the context is
// cancelled (returns nil) or the retry budget is exhausted (state
// Failed, returns the final fault). Failed is terminal: recovering
// requires a fresh Supervisor.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	delay := s.cfg.BackoffBase

	for {
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}

		s.setState(StateConnecting)
		src, err := s.factory()
		if err == nil {
			s.setSourceName(src.Name())
			s.setState(StateOpen)
			attempt = 0
			delay = s.cfg.BackoffBase

			err = s.pump(ctx, src)
			src.Close()
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return nil
			}
		}
		log.Printf("[imu] stream fault: %v", err)

		s.setState(StateDegraded)
		attempt++
		if attempt > s.cfg.MaxRetries {
			s.setState(StateFailed)
			return fmt.Errorf("imu: retries exhausted after %d attempts: %w", s.cfg.MaxRetries, err)
		}

		log.Printf("[imu] reconnect attempt %d/%d in %v", attempt, s.cfg.MaxRetries, delay)
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax
		}
	}
}

// pump reads samples into the mailbox until the source faults or the
// context is cancelled.
func (s *Supervisor) pump(ctx context.Context, src Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample, err := src.Next(s.cfg.ReadTimeout)
		if err != nil {
			return err
		}
		s.mailbox.Put(sample)
	}
}

func (s *Supervisor) setState(next StreamState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next && s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

func (s *Supervisor) setSourceName(name string) {
	s.mu.Lock()
	s.sourceName = name
	s.mu.Unlock()
}
