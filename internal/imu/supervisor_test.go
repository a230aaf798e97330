package imu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource emits a fixed number of samples and then faults.
// budget < 0 means unlimited.
type scriptedSource struct {
	mu     sync.Mutex
	budget int
	fault  error
	seq    float64
	lastTS time.Time
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Next(timeout time.Duration) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget == 0 {
		return Sample{}, s.fault
	}
	if s.budget > 0 {
		s.budget--
	}
	s.seq++
	ts := time.Now()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts
	// Pace a little so the pump does not spin.
	time.Sleep(time.Millisecond)
	return Sample{Roll: s.seq, Timestamp: ts}, nil
}

func (s *scriptedSource) Close() error { return nil }

// stateRecorder collects transitions from the supervisor's hook.
type stateRecorder struct {
	mu     sync.Mutex
	states []StreamState
	notify chan StreamState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{notify: make(chan StreamState, 64)}
}

func (r *stateRecorder) record(s StreamState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.notify <- s
}

func (r *stateRecorder) snapshot() []StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamState(nil), r.states...)
}

func (r *stateRecorder) waitFor(t *testing.T, want StreamState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.notify:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v (saw %v)", want, r.snapshot())
		}
	}
}

func testConfig(rec *stateRecorder) SupervisorConfig {
	return SupervisorConfig{
		MaxRetries:    5,
		BackoffBase:   time.Millisecond,
		BackoffMax:    4 * time.Millisecond,
		ReadTimeout:   50 * time.Millisecond,
		OnStateChange: rec.record,
	}
}

func TestSupervisorReconnects(t *testing.T) {
	rec := newStateRecorder()

	// First source faults after three samples; the first reconnect
	// attempt fails to resolve a port, the second succeeds.
	call := 0
	factory := func() (Source, error) {
		call++
		switch call {
		case 1:
			return &scriptedSource{budget: 3, fault: errors.New("device detached")}, nil
		case 2:
			return nil, &PortNotFoundError{Tried: []string{"COM1"}}
		default:
			return &scriptedSource{budget: -1}, nil
		}
	}

	sup := NewSupervisor(testConfig(rec), factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	rec.waitFor(t, StateOpen)
	rec.waitFor(t, StateDegraded)
	rec.waitFor(t, StateOpen)
	cancel()

	require.NoError(t, <-done)
	assert.NotContains(t, rec.snapshot(), StateFailed)
	assert.Equal(t, StateClosed, sup.State())
	assert.LessOrEqual(t, call, 1+5, "retries must stay within the bound")
}

func TestSupervisorRetriesExhausted(t *testing.T) {
	rec := newStateRecorder()
	cfg := testConfig(rec)
	cfg.MaxRetries = 3

	calls := 0
	factory := func() (Source, error) {
		calls++
		return nil, errors.New("open failed")
	}

	sup := NewSupervisor(cfg, factory)
	err := sup.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateFailed, sup.State())
	assert.Equal(t, cfg.MaxRetries+1, calls)

	// Failed is terminal and idempotent for consumers.
	_, ok := sup.Take()
	assert.False(t, ok)
	assert.Equal(t, StateFailed, sup.State())
}

func TestSupervisorDeliversLatestSample(t *testing.T) {
	rec := newStateRecorder()
	factory := func() (Source, error) {
		return &scriptedSource{budget: -1}, nil
	}

	sup := NewSupervisor(testConfig(rec), factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	rec.waitFor(t, StateOpen)
	require.Eventually(t, func() bool {
		s, ok := sup.Latest()
		return ok && s.Roll >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	s, ok := sup.Take()
	require.True(t, ok)
	latest, _ := sup.Latest()
	assert.Equal(t, latest.Roll, s.Roll, "take must hand out the newest sample")

	_, ok = sup.Take()
	assert.False(t, ok, "no new sample after shutdown")
}

func TestSupervisorCancellation(t *testing.T) {
	rec := newStateRecorder()
	factory := func() (Source, error) {
		return &scriptedSource{budget: -1}, nil
	}

	sup := NewSupervisor(testConfig(rec), factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	rec.waitFor(t, StateOpen)
	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not observe cancellation")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateClosed, sup.State())
}

func TestSupervisorMockFactoryStaysOpen(t *testing.T) {
	rec := newStateRecorder()
	sup := NewSupervisor(testConfig(rec), MockFactory())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	rec.waitFor(t, StateOpen)
	require.Eventually(t, func() bool {
		_, ok := sup.Latest()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "mock", sup.SourceName())
	assert.Equal(t, StateOpen, sup.State())
	assert.NotContains(t, rec.snapshot(), StateDegraded)

	cancel()
	require.NoError(t, <-done)
}
