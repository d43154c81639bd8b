package ftdi

// Port is the raw byte pipe to an FTDI bridge channel, as provided by a USB
// driver. Read returns whatever the bridge delivered within its own read
// timeout, which may be nothing at all.
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)

	SetBitmode(mask byte, mode byte) error
	SetLatencyTimer(ms byte) error
	Purge() error

	Close() error
}

/* MPSSE opcodes used in MCU host bus emulation mode */
const (
	OpSetBitsHigh    byte = 0x82
	OpGetBitsHigh    byte = 0x83
	OpSendImmediate  byte = 0x87
	OpDisableClkDiv5 byte = 0x8a
	OpReadShort      byte = 0x90
	OpReadExtended   byte = 0x91
	OpWriteShort     byte = 0x92
	OpWriteExtended  byte = 0x93

	BitmodeReset byte = 0x00
	BitmodeMCU   byte = 0x08
)

/* Control bits, sent as the high address byte of an extended write. Bit 6
 * drives the command latch, bit 7 the address latch and bit 5 releases
 * write protect. */
const (
	ControlCommandLatch    byte = 1 << 6
	ControlAddressLatch    byte = 1 << 7
	ControlWriteProtectOff byte = 1 << 5
)

// ReadyBit is the bit of the high byte port that carries the chip's R/B# line.
const ReadyBit byte = 1 << 1
