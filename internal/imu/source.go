package imu

import (
	"errors"
	"fmt"
	"time"
)

// Sample is a single validated orientation reading from the firmware.
// Angles are in degrees; Timestamp carries a monotonic reading and is
// strictly increasing across successive samples from one stream.
type Sample struct {
	Roll      float64   `json:"roll"`
	Pitch     float64   `json:"pitch"`
	Yaw       float64   `json:"yaw"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is the interface all orientation backends implement.
// FrameReader is the live serial implementation; MockSource generates
// synthetic motion. The choice is made once at startup, not per call.
type Source interface {
	// Name returns the human-readable name of this source.
	Name() string
	// Next blocks until the next sample arrives or the timeout elapses.
	Next(timeout time.Duration) (Sample, error)
	// Close releases the underlying handle. Idempotent, safe to call
	// from a goroutine other than the one calling Next.
	Close() error
}

// StreamState describes the lifecycle of a sample stream as seen by
// consumers. Only the supervisor's reader loop mutates it.
type StreamState int

const (
	StateClosed StreamState = iota
	StateConnecting
	StateOpen
	StateDegraded
	StateFailed
)

func (s StreamState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrTimeout means no complete line arrived within the read window.
	// Recoverable; the supervisor decides when repeats become a fault.
	ErrTimeout = errors.New("imu: read timeout")

	// ErrClosed means the source handle has been released.
	ErrClosed = errors.New("imu: stream closed")
)

// DecodeError marks structural stream corruption (e.g. embedded null
// bytes indicating desynchronization). Ordinary malformed telemetry
// lines are skipped silently and never produce a DecodeError.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imu: corrupt stream: %s", e.Reason)
}

// PortNotFoundError is returned by Locate when neither the hint nor any
// candidate port could be opened.
type PortNotFoundError struct {
	Tried []string
}

func (e *PortNotFoundError) Error() string {
	return fmt.Sprintf("imu: no serial port found (tried %d candidates)", len(e.Tried))
}
