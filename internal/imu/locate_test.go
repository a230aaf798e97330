package imu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProbe(available ...string) func(string) error {
	ok := make(map[string]bool, len(available))
	for _, a := range available {
		ok[a] = true
	}
	return func(name string) error {
		if ok[name] {
			return nil
		}
		return errors.New("no such device")
	}
}

func TestLocateHintWins(t *testing.T) {
	loc := &Locator{Probe: fakeProbe("/dev/ttyUSB0", "/dev/ttyACM1")}
	desc, err := loc.Locate("/dev/ttyACM1", []string{"/dev/ttyUSB0"})
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Name: "/dev/ttyACM1", Available: true}, desc)
}

func TestLocateFallsBackToCandidates(t *testing.T) {
	loc := &Locator{Probe: fakeProbe("/dev/ttyUSB1")}
	desc, err := loc.Locate("/dev/ttyS0", []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", desc.Name)
}

func TestLocateNoHint(t *testing.T) {
	loc := &Locator{Probe: fakeProbe("COM3")}
	desc, err := loc.Locate("", []string{"COM1", "COM2", "COM3"})
	require.NoError(t, err)
	assert.Equal(t, "COM3", desc.Name)
}

func TestLocateExhausted(t *testing.T) {
	loc := &Locator{Probe: fakeProbe()}
	_, err := loc.Locate("COM9", []string{"COM1", "COM2"})

	var pnf *PortNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, []string{"COM9", "COM1", "COM2"}, pnf.Tried)
}

func TestLocateHintNotProbedTwice(t *testing.T) {
	calls := 0
	loc := &Locator{Probe: func(string) error {
		calls++
		return errors.New("nope")
	}}
	_, err := loc.Locate("COM1", []string{"COM1", "COM2"})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
