package imu

import "sync"

// Mailbox is the single-slot hand-off between the reader loop and the
// consumer. A new sample overwrites an unread one: staleness is
// acceptable, unbounded buffering is not.
type Mailbox struct {
	mu     sync.Mutex
	sample Sample
	fresh  bool
}

// Put stores the newest sample, replacing any unread one.
func (m *Mailbox) Put(s Sample) {
	m.mu.Lock()
	m.sample = s
	m.fresh = true
	m.mu.Unlock()
}

// Take returns the stored sample once. It reports false until a newer
// sample is put.
func (m *Mailbox) Take() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fresh {
		return Sample{}, false
	}
	m.fresh = false
	return m.sample, true
}

// Latest returns the most recent sample regardless of freshness. It
// reports false only before the first Put.
func (m *Mailbox) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sample, !m.sample.Timestamp.IsZero()
}
