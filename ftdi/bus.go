package ftdi

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Protection is the state of the chip's write protect line.
type Protection int

const (
	Protected Protection = iota
	Unprotected
)

func (p Protection) String() string {
	if p == Unprotected {
		return "unprotected"
	}
	return "protected"
}

type BusConfig struct {
	// ReadyTimeout bounds WaitReady and ReadWait
	ReadyTimeout time.Duration

	// LatencyTimer in milliseconds, applied to the port during setup
	LatencyTimer byte

	Log logrus.FieldLogger
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		ReadyTimeout: 2 * time.Second,
		LatencyTimer: 1,
		Log:          logrus.StandardLogger(),
	}
}

// Bus speaks the NAND parallel bus through an FTDI bridge in MCU host bus
// emulation mode. It is not safe for concurrent use.
type Bus struct {
	port Port
	cfg  BusConfig
	log  logrus.FieldLogger

	protection Protection
}

// Open claims the USB bridge described by usb and prepares it for NAND access.
func Open(usb USBConfig, cfg BusConfig) (*Bus, error) {
	port, err := OpenUSB(usb)
	if err != nil {
		return nil, err
	}

	b, err := NewBus(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}

	return b, nil
}

// NewBus switches port to MCU mode and waits for the chip to be ready.
func NewBus(port Port, cfg BusConfig) (*Bus, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultBusConfig().ReadyTimeout
	}

	b := &Bus{
		port:       port,
		cfg:        cfg,
		log:        cfg.Log.WithField("component", "ftdi"),
		protection: Protected,
	}

	if err := b.setup(); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Bus) setup() error {
	if err := b.port.SetBitmode(0, BitmodeMCU); err != nil {
		return errors.Wrap(err, "set MCU bitmode")
	}
	if err := b.send([]byte{OpDisableClkDiv5}); err != nil {
		return err
	}
	if b.cfg.LatencyTimer > 0 {
		if err := b.port.SetLatencyTimer(b.cfg.LatencyTimer); err != nil {
			return errors.Wrap(err, "set latency timer")
		}
	}
	if err := b.port.Purge(); err != nil {
		return errors.Wrap(err, "purge buffers")
	}

	/* All high byte pins low, only bit 0 an output */
	if err := b.send([]byte{OpSetBitsHigh, 0x00, 0x01}); err != nil {
		return err
	}

	b.log.Debug("bridge in MCU host bus mode")
	return b.WaitReady()
}

func (b *Bus) Close() error {
	return b.port.Close()
}

func (b *Bus) Protection() Protection {
	return b.protection
}

// Unprotected runs fn with write protect released and restores the previous
// state afterwards, whatever fn returns.
func (b *Bus) Unprotected(fn func() error) error {
	prev := b.protection
	b.protection = Unprotected
	defer func() {
		b.protection = prev
	}()

	return fn()
}

func (b *Bus) send(cmds []byte) error {
	n, err := b.port.Write(cmds)
	if err != nil {
		return errors.Wrap(err, "bridge write")
	}
	if n != len(cmds) {
		return errors.Wrap(io.ErrShortWrite, "bridge write")
	}
	return nil
}

// Write puts data on the bus with at most one of the latches enabled.
func (b *Bus) Write(data []byte, command bool, address bool) error {
	control, err := controlByte(command, address, b.protection)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	return b.send(encodeWrite(control, data))
}

func (b *Bus) Command(cmd byte) error {
	return b.Write([]byte{cmd}, true, false)
}

// Address sends the low cycles bytes of addr, least significant first.
func (b *Bus) Address(addr uint64, cycles int) error {
	if cycles < 1 || cycles > 8 {
		return errors.Errorf("invalid address cycle count %d", cycles)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], addr)

	return b.Write(buf[:cycles], false, true)
}

func (b *Bus) Data(data []byte) error {
	return b.Write(data, false, false)
}

// Read clocks size bytes out of the chip with a single bulk read.
func (b *Bus) Read(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if err := b.send(encodeRead(size)); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := b.port.Read(buf)
	if err != nil {
		return nil, errors.Wrap(err, "bridge read")
	}
	if n != size {
		return buf[:n], errors.Wrapf(ErrShortRead, "got %d of %d bytes", n, size)
	}

	return buf, nil
}

// ReadWait is Read, but keeps fetching from the bridge until all bytes
// arrived or the ready timeout passed.
func (b *Bus) ReadWait(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if err := b.send(encodeRead(size)); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	deadline := time.Now().Add(b.cfg.ReadyTimeout)

	index := 0
	for index < size {
		n, err := b.port.Read(buf[index:])
		if err != nil {
			return nil, errors.Wrap(err, "bridge read")
		}
		index += n

		if index < size && time.Now().After(deadline) {
			return buf[:index], errors.Wrapf(ErrTimeout, "got %d of %d bytes", index, size)
		}
	}

	return buf, nil
}

func (b *Bus) readPins() (byte, error) {
	if err := b.send([]byte{OpGetBitsHigh}); err != nil {
		return 0, err
	}

	var buf [1]byte
	for try := 0; try < 2; try++ {
		n, err := b.port.Read(buf[:])
		if err != nil {
			return 0, errors.Wrap(err, "bridge read")
		}
		if n > 0 {
			return buf[0], nil
		}
	}

	return 0, ErrDeviceNotResponding
}

// WaitReady polls the R/B# line until the chip reports ready.
func (b *Bus) WaitReady() error {
	deadline := time.Now().Add(b.cfg.ReadyTimeout)

	for {
		pins, err := b.readPins()
		if err != nil {
			return err
		}
		if pins&ReadyBit != 0 {
			return nil
		}

		if time.Now().After(deadline) {
			b.log.WithField("pins", pins).Warn("chip stayed busy")
			return errors.Wrapf(ErrTimeout, "chip busy for more than %v", b.cfg.ReadyTimeout)
		}
	}
}
