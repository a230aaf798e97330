package imu

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Port is the minimal surface of a serial device used by FrameReader.
// go.bug.st/serial's Port satisfies it; tests substitute scripted fakes.
type Port interface {
	io.Reader
	io.Closer
	SetReadTimeout(t time.Duration) error
}

const (
	// pollInterval is the per-Read timeout on the underlying port. Short
	// enough that Next observes its deadline (and Close) promptly.
	pollInterval = 50 * time.Millisecond

	// maxLineLen bounds the raw line buffer. A partial line growing past
	// this without a terminator is dropped as noise.
	maxLineLen = 512

	readChunkSize = 256
)

// FrameReader turns the byte stream of an open serial port into a
// sequence of validated orientation samples. The wire format is one
// sample per newline-terminated line: "<roll>,<pitch>,<yaw>\n", three
// decimal floats in degrees, roll first.
//
// Malformed lines (wrong field count, unparseable or non-finite values)
// are transient serial noise: they are skipped silently and reading
// continues. Only structural corruption — an embedded null byte — is
// surfaced, as *DecodeError.
type FrameReader struct {
	name string
	port Port

	buf    []byte // undecoded bytes of at most one partial line
	lastTS time.Time

	mu     sync.Mutex
	closed bool
}

// NewFrameReader wraps an open port. The reader takes ownership of the
// handle and releases it on Close.
func NewFrameReader(name string, port Port) *FrameReader {
	port.SetReadTimeout(pollInterval)
	return &FrameReader{name: name, port: port}
}

func (r *FrameReader) Name() string { return "serial:" + r.name }

// Next returns the next validated sample, in the order its terminating
// newline was observed. It fails with ErrTimeout when no decodable line
// arrives within the timeout, ErrClosed after Close, *DecodeError on
// structural corruption, or a wrapped I/O error from the port.
func (r *FrameReader) Next(timeout time.Duration) (Sample, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, readChunkSize)

	for {
		// Drain any complete lines already buffered before reading more.
		if s, ok, err := r.nextBuffered(); err != nil {
			return Sample{}, err
		} else if ok {
			return s, nil
		}

		if r.isClosed() {
			return Sample{}, ErrClosed
		}
		if !time.Now().Before(deadline) {
			return Sample{}, ErrTimeout
		}

		n, err := r.port.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
			if len(r.buf) > maxLineLen && bytes.IndexByte(r.buf, '\n') < 0 {
				// Runaway partial line, no terminator in sight. Drop it.
				r.buf = r.buf[:0]
			}
		}
		if err != nil {
			if r.isClosed() {
				return Sample{}, ErrClosed
			}
			return Sample{}, fmt.Errorf("imu: read %s: %w", r.name, err)
		}
		// n == 0 without error is the port-level poll timeout; loop.
	}
}

// nextBuffered extracts complete lines from the raw buffer until one
// decodes, skipping malformed lines.
func (r *FrameReader) nextBuffered() (Sample, bool, error) {
	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			return Sample{}, false, nil
		}
		line := string(r.buf[:idx])
		r.buf = r.buf[idx+1:]

		if strings.IndexByte(line, 0) >= 0 {
			return Sample{}, false, &DecodeError{Reason: "null byte in line"}
		}

		roll, pitch, yaw, ok := decodeLine(line)
		if !ok {
			continue
		}
		return r.stamp(roll, pitch, yaw), true, nil
	}
}

// stamp builds a sample with a strictly increasing timestamp.
func (r *FrameReader) stamp(roll, pitch, yaw float64) Sample {
	ts := time.Now()
	if !ts.After(r.lastTS) {
		ts = r.lastTS.Add(time.Nanosecond)
	}
	r.lastTS = ts
	return Sample{Roll: roll, Pitch: pitch, Yaw: yaw, Timestamp: ts}
}

// Close releases the serial handle. Idempotent.
func (r *FrameReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.port.Close()
}

func (r *FrameReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// decodeLine parses one wire line. The firmware emits roll before pitch;
// the wire order is authoritative. Returns ok=false for anything that is
// not exactly three finite floats — callers skip those lines.
func decodeLine(line string) (roll, pitch, yaw float64, ok bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 {
		return 0, 0, 0, false
	}
	var vals [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, false
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], true
}
