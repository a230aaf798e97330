package imu

import (
	"fmt"
	"log"
	"runtime"

	"go.bug.st/serial"
)

// Descriptor identifies a serial port chosen by Locate. It is produced
// at enumeration time and discarded once the port is opened for real.
type Descriptor struct {
	Name      string
	Available bool
}

// Locator probes candidate serial ports for an attached device. The
// probe briefly opens a candidate and closes it again; no handle is
// held past the probe.
type Locator struct {
	// Probe opens the named port and closes it, returning nil if the
	// port is usable. Defaults to a real open at 115200/8N1; tests
	// substitute their own.
	Probe func(name string) error
}

func NewLocator() *Locator {
	return &Locator{Probe: probeSerial}
}

// Locate picks a serial port. A non-empty hint is tried first and wins
// outright if it opens; otherwise candidates are tried in order. Fails
// with *PortNotFoundError when nothing opens.
func (l *Locator) Locate(hint string, candidates []string) (Descriptor, error) {
	tried := make([]string, 0, len(candidates)+1)

	if hint != "" {
		tried = append(tried, hint)
		if err := l.Probe(hint); err == nil {
			return Descriptor{Name: hint, Available: true}, nil
		} else {
			log.Printf("[locate] hint %s unavailable: %v", hint, err)
		}
	}

	for _, name := range candidates {
		if name == hint {
			continue
		}
		tried = append(tried, name)
		if err := l.Probe(name); err == nil {
			log.Printf("[locate] found device on %s", name)
			return Descriptor{Name: name, Available: true}, nil
		}
	}

	return Descriptor{}, &PortNotFoundError{Tried: tried}
}

// DefaultCandidates returns the ports to try when no hint is given:
// whatever the OS enumerates, then the usual platform device names for
// USB-serial adapters.
func DefaultCandidates() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	if ports, err := serial.GetPortsList(); err == nil {
		for _, p := range ports {
			add(p)
		}
	} else {
		log.Printf("[locate] port enumeration failed: %v", err)
	}

	switch runtime.GOOS {
	case "windows":
		for i := 1; i < 20; i++ {
			add(fmt.Sprintf("COM%d", i))
		}
	case "linux":
		for i := 0; i < 10; i++ {
			add(fmt.Sprintf("/dev/ttyUSB%d", i))
		}
		for i := 0; i < 10; i++ {
			add(fmt.Sprintf("/dev/ttyACM%d", i))
		}
	case "darwin":
		for i := 0; i < 10; i++ {
			add(fmt.Sprintf("/dev/cu.usbserial-%d", i))
		}
		for i := 0; i < 10; i++ {
			add(fmt.Sprintf("/dev/cu.SLAB_USBtoUART%d", i))
		}
	}
	return out
}

// firmwareBaud is the fixed line rate of the MPU6050 firmware protocol.
const firmwareBaud = 115200

func serialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: firmwareBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func probeSerial(name string) error {
	port, err := serial.Open(name, serialMode())
	if err != nil {
		return err
	}
	return port.Close()
}

// OpenPort opens the named port for reading at the protocol's fixed
// baud rate.
func OpenPort(name string) (Port, error) {
	port, err := serial.Open(name, serialMode())
	if err != nil {
		return nil, fmt.Errorf("imu: failed to open %s: %w", name, err)
	}
	return port, nil
}
