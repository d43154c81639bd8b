// Package nandsim emulates a NAND chip wired to an FTDI bridge in MCU host
// bus emulation mode. It implements ftdi.Port by decoding the MPSSE byte
// stream, so everything above the USB driver runs unmodified against it.
package nandsim

import (
	"encoding/binary"

	"github.com/BertoldVdb/nandflash/ftdi"
	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/BertoldVdb/nandflash/onfi"
	"github.com/pkg/errors"
)

/* Chip commands, kept local so the simulator does not trust the engine's
 * constants */
const (
	cmdRead0         = 0x00
	cmdProgPageStart = 0x10
	cmdReadStart     = 0x30
	cmdErase         = 0x60
	cmdStatus        = 0x70
	cmdProgPage      = 0x80
	cmdReadID        = 0x90
	cmdReadParamPage = 0xec
	cmdEraseStart    = 0xd0
)

const (
	StatusOK = 0xe0

	/* Ready, but write protect held the operation back */
	StatusProtected = 0x60

	/* Program/erase failure reported for out of range rows */
	StatusFail = 0xf1
)

// DefaultGeometry is a small ONFI chip, big enough for multi block tests.
func DefaultGeometry() geometry.Geometry {
	return geometry.Geometry{
		PageSize:       2048 + 64,
		OOBSize:        64,
		PagesPerBlock:  64,
		NumberOfBlocks: 64,
		AddressCycles:  5,
		ColumnCycles:   2,
		RowCycles:      3,
		ManufacturerID: 0x2c,
		Manufacturer:   "NANDSIM",
		Model:          "SIM2K64",
	}
}

type Chip struct {
	geo   geometry.Geometry
	pages map[int][]byte

	// PageShift is the number of column address bits below the row address
	PageShift uint

	// ONFI selects whether the chip answers the ONFI identification
	ONFI bool

	// BusyPolls is how many ready polls report busy after an operation
	BusyPolls int

	// DropReplies makes that many upcoming Read calls return nothing
	DropReplies int

	/* Counters for tests */
	Programs        int
	Erases          int
	ProtectedOps    int
	ProgrammedPages []int
	ErasedBlocks    []int

	failNext byte
	busy     int

	control  byte
	cmd      byte
	addr     []byte
	program  []byte
	out      []byte
	outPos   int
	inStatus bool
	status   byte

	rx []byte

	bitmode byte
	closed  bool
}

func New(g geometry.Geometry) *Chip {
	return &Chip{
		geo:       g,
		pages:     make(map[int][]byte),
		PageShift: 16,
		ONFI:      true,
		status:    StatusOK,
	}
}

func (c *Chip) Geometry() geometry.Geometry {
	return c.geo
}

// FailNext makes the next program or erase fail with the given status.
func (c *Chip) FailNext(status byte) {
	c.failNext = status
}

// Page returns a copy of the stored page, erased pages read as 0xFF.
func (c *Chip) Page(n int) []byte {
	page := make([]byte, c.geo.PageSize)
	if data, ok := c.pages[n]; ok {
		copy(page, data)
		return page
	}

	for i := range page {
		page[i] = 0xff
	}
	return page
}

// SetPage stores data directly, bypassing program semantics.
func (c *Chip) SetPage(n int, data []byte) {
	page := c.Page(n)
	copy(page, data)
	c.pages[n] = page
}

func (c *Chip) Closed() bool {
	return c.closed
}

func (c *Chip) Write(p []byte) (int, error) {
	if c.closed {
		return 0, errors.New("port closed")
	}

	need := func(i int, n int) error {
		if i+n > len(p) {
			return errors.Errorf("truncated opcode %02x", p[i])
		}
		return nil
	}

	for i := 0; i < len(p); {
		switch op := p[i]; op {
		case ftdi.OpDisableClkDiv5, ftdi.OpSendImmediate:
			i++

		case ftdi.OpSetBitsHigh:
			if err := need(i, 3); err != nil {
				return i, err
			}
			i += 3

		case ftdi.OpGetBitsHigh:
			c.rx = append(c.rx, c.pins())
			i++

		case ftdi.OpWriteExtended:
			if err := need(i, 4); err != nil {
				return i, err
			}
			c.control = p[i+1]
			c.latch(p[i+3])
			i += 4

		case ftdi.OpWriteShort:
			if err := need(i, 3); err != nil {
				return i, err
			}
			c.latch(p[i+2])
			i += 3

		case ftdi.OpReadExtended:
			if err := need(i, 3); err != nil {
				return i, err
			}
			c.rx = append(c.rx, c.next())
			i += 3

		case ftdi.OpReadShort:
			if err := need(i, 2); err != nil {
				return i, err
			}
			c.rx = append(c.rx, c.next())
			i += 2

		default:
			return i, errors.Errorf("unsupported opcode %02x", op)
		}
	}

	return len(p), nil
}

func (c *Chip) Read(p []byte) (int, error) {
	if c.closed {
		return 0, errors.New("port closed")
	}
	if c.DropReplies > 0 {
		c.DropReplies--
		return 0, nil
	}

	n := copy(p, c.rx)
	c.rx = c.rx[n:]
	return n, nil
}

func (c *Chip) SetBitmode(mask byte, mode byte) error {
	c.bitmode = mode
	return nil
}

func (c *Chip) SetLatencyTimer(ms byte) error {
	return nil
}

func (c *Chip) Purge() error {
	c.rx = nil
	return nil
}

func (c *Chip) Close() error {
	c.closed = true
	return nil
}

func (c *Chip) pins() byte {
	if c.bitmode != ftdi.BitmodeMCU {
		return 0
	}
	if c.busy > 0 {
		c.busy--
		return 0
	}
	return ftdi.ReadyBit
}

func (c *Chip) next() byte {
	if c.inStatus {
		return c.status
	}
	if c.outPos < len(c.out) {
		b := c.out[c.outPos]
		c.outPos++
		return b
	}
	return 0xff
}

func (c *Chip) output(data []byte) {
	c.out = data
	c.outPos = 0
}

func (c *Chip) latch(b byte) {
	switch {
	case c.control&ftdi.ControlCommandLatch != 0:
		c.command(b)
	case c.control&ftdi.ControlAddressLatch != 0:
		c.address(b)
	default:
		c.program = append(c.program, b)
	}
}

func (c *Chip) decodeAddress() uint64 {
	var buf [8]byte
	copy(buf[:], c.addr)
	return binary.LittleEndian.Uint64(buf[:])
}

func (c *Chip) address(b byte) {
	c.addr = append(c.addr, b)

	switch c.cmd {
	case cmdReadID:
		if b == 0x20 && c.ONFI {
			c.output(append([]byte(nil), onfi.Signature...))
		} else {
			c.output([]byte{c.geo.ManufacturerID, 0xf1, 0x80, 0x95})
		}

	case cmdReadParamPage:
		if !c.ONFI {
			c.output(nil)
			return
		}
		page := onfi.Serialize(c.geo)
		c.output(append(append(append([]byte(nil), page...), page...), page...))
		c.busy = c.BusyPolls
	}
}

func (c *Chip) writeProtected() bool {
	return c.control&ftdi.ControlWriteProtectOff == 0
}

func (c *Chip) command(b byte) {
	c.inStatus = b == cmdStatus

	switch b {
	case cmdStatus:
		return

	case cmdReadStart:
		page := int(c.decodeAddress() >> c.PageShift)
		c.output(c.Page(page))
		c.busy = c.BusyPolls

	case cmdProgPageStart:
		c.finishProgram(int(c.decodeAddress() >> c.PageShift))

	case cmdEraseStart:
		c.finishErase(int(c.decodeAddress()))

	default:
		c.cmd = b
		c.addr = nil
		c.program = nil
		c.output(nil)
	}
}

func (c *Chip) begin() bool {
	c.busy = c.BusyPolls

	if c.writeProtected() {
		c.ProtectedOps++
		c.status = StatusProtected
		return false
	}
	if c.failNext != 0 {
		c.status = c.failNext
		c.failNext = 0
		return false
	}

	c.status = StatusOK
	return true
}

func (c *Chip) finishProgram(page int) {
	if c.cmd != cmdProgPage || !c.begin() {
		return
	}
	if page < 0 || page >= c.geo.TotalPages() {
		c.status = StatusFail
		return
	}

	/* Programming can only clear bits */
	data := c.Page(page)
	for i := range data {
		if i < len(c.program) {
			data[i] &= c.program[i]
		}
	}
	c.pages[page] = data

	c.Programs++
	c.ProgrammedPages = append(c.ProgrammedPages, page)
}

func (c *Chip) finishErase(row int) {
	if c.cmd != cmdErase || !c.begin() {
		return
	}

	block := row / c.geo.PagesPerBlock
	if block < 0 || block >= c.geo.NumberOfBlocks {
		c.status = StatusFail
		return
	}

	first := block * c.geo.PagesPerBlock
	for page := first; page < first+c.geo.PagesPerBlock; page++ {
		delete(c.pages, page)
	}

	c.Erases++
	c.ErasedBlocks = append(c.ErasedBlocks, block)
}
