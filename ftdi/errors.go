package ftdi

import "github.com/pkg/errors"

var (
	// ErrDeviceUnavailable is returned when the bridge cannot be opened or claimed.
	ErrDeviceUnavailable = errors.New("FTDI device unavailable, check USB connections")

	// ErrDeviceNotResponding is returned when a ready poll got no reply twice in a row.
	ErrDeviceNotResponding = errors.New("FTDI device not responding, try restarting it")

	// ErrTimeout is returned when the ready line or a reply did not arrive in time.
	ErrTimeout = errors.New("timeout waiting for flash")

	// ErrInvalidLatchCombination is returned when both latches are requested at once.
	ErrInvalidLatchCombination = errors.New("can't set command and address latch simultaneously")

	// ErrShortRead is returned when the bridge delivered fewer bytes than requested.
	ErrShortRead = errors.New("short read from bridge")
)
