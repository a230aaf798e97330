package imu

import (
	"math"
	"sync"
	"time"
)

// mockRate is the nominal emission cadence, mirroring the firmware's
// ~50 Hz DMP output.
const mockRate = 20 * time.Millisecond

// MockSource generates smooth synthetic orientation so the downstream
// rendering path can be exercised without hardware. It implements the
// same Source interface as FrameReader and never fails with stream
// errors.
type MockSource struct {
	mu     sync.Mutex
	start  time.Time
	next   time.Time
	lastTS time.Time
}

func NewMockSource() *MockSource {
	now := time.Now()
	return &MockSource{start: now, next: now}
}

func (m *MockSource) Name() string { return "mock" }

// Next paces emission at the nominal rate and returns the sample for
// the current point of a bounded periodic motion.
func (m *MockSource) Next(timeout time.Duration) (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wait := time.Until(m.next); wait > 0 {
		time.Sleep(wait)
	}
	m.next = time.Now().Add(mockRate)

	t := time.Since(m.start).Seconds()
	ts := time.Now()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = ts

	return Sample{
		Roll:      40 * math.Sin(t*0.8),
		Pitch:     30 * math.Sin(t*0.6),
		Yaw:       90 * math.Sin(t*0.5),
		Timestamp: ts,
	}, nil
}

func (m *MockSource) Close() error { return nil }
