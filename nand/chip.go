package nand

import (
	"bytes"
	"encoding/hex"
	"math/bits"
	"sync"

	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/BertoldVdb/nandflash/onfi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/* Command opcodes */
const (
	CmdRead0         = 0x00
	CmdProgPageStart = 0x10
	CmdReadStart     = 0x30
	CmdErase         = 0x60
	CmdStatus        = 0x70
	CmdProgPage      = 0x80
	CmdReadID        = 0x90
	CmdReadParamPage = 0xec
	CmdEraseStart    = 0xd0
)

/* READID addresses selecting the identification table */
const (
	AddrID   = 0x00
	AddrONFI = 0x20
)

// Bus is the NAND bus as seen through the bridge.
type Bus interface {
	Command(cmd byte) error
	Address(addr uint64, cycles int) error
	Data(data []byte) error
	Read(size int) ([]byte, error)
	ReadWait(size int) ([]byte, error)
	WaitReady() error
	Unprotected(fn func() error) error
}

// Chip drives one NAND chip. Every operation holds a lock for its full
// command cycle, so a Chip may be shared between goroutines.
type Chip struct {
	mu sync.Mutex

	bus Bus
	cfg config
	log logrus.FieldLogger

	geo           geometry.Geometry
	parameterPage []byte
}

// New sets up the chip: either the geometry passed with WithGeometry is
// used, or it is read from the ONFI parameter page.
func New(bus Bus, opts ...Option) (*Chip, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Chip{
		bus: bus,
		cfg: cfg,
		log: cfg.log.WithField("component", "nand"),
	}

	if cfg.geometry != nil {
		g, err := geometry.New(*cfg.geometry)
		if err != nil {
			return nil, err
		}
		c.geo = g
	} else if err := c.identify(); err != nil {
		return nil, err
	}

	if err := c.checkAddressFit(); err != nil {
		return nil, err
	}
	c.checkAddressWidths()
	return c, nil
}

func (c *Chip) identify() error {
	if err := c.bus.Command(CmdReadID); err != nil {
		return err
	}
	if err := c.bus.Address(AddrONFI, 1); err != nil {
		return err
	}

	id, err := c.bus.Read(len(onfi.Signature))
	if err != nil {
		return errors.Wrap(err, "read ONFI signature")
	}
	if !bytes.Equal(id, onfi.Signature) {
		return c.unknownChip(id)
	}

	if err := c.bus.Command(CmdReadParamPage); err != nil {
		return err
	}
	if err := c.bus.Address(AddrID, 1); err != nil {
		return err
	}
	if err := c.bus.WaitReady(); err != nil {
		return err
	}

	page, err := c.bus.Read(onfi.Size)
	if err != nil {
		return errors.Wrap(err, "read parameter page")
	}

	g, err := onfi.Parse(page)
	if err != nil {
		return err
	}
	if !onfi.CheckCRC(page) {
		c.log.Warn("ONFI parameter page CRC mismatch, using it anyway")
	}

	c.geo = g
	c.parameterPage = page
	return nil
}

/* Not ONFI: read the JEDEC id so the user at least knows what to look up */
func (c *Chip) unknownChip(signature []byte) error {
	if err := c.bus.Command(CmdReadID); err != nil {
		return err
	}
	if err := c.bus.Address(AddrID, 1); err != nil {
		return err
	}

	id, err := c.bus.Read(4)
	if err != nil || len(id) == 0 {
		return errors.Wrapf(ErrGeometryUnknown, "flash returned %s", hex.EncodeToString(signature))
	}

	return errors.Wrapf(ErrGeometryUnknown, "flash returned %s, JEDEC id %s (%s)",
		hex.EncodeToString(signature), hex.EncodeToString(id), ManufacturerName(id[0]))
}

/* Bus.Address only sends the low cycles bytes, so the highest page and
 * block must fit or addresses would alias. */
func fits(value uint64, shift uint, cycles int) bool {
	return uint(bits.Len64(value))+shift <= uint(8*cycles)
}

func (c *Chip) checkAddressFit() error {
	lastPage := uint64(c.geo.TotalPages() - 1)
	if c.cfg.pageShift >= 64 || !fits(lastPage, c.cfg.pageShift, c.geo.AddressCycles) {
		return errors.Wrapf(geometry.ErrInvalid, "page %d shifted by %d does not fit in %d address cycles",
			lastPage, c.cfg.pageShift, c.geo.AddressCycles)
	}

	lastBlock := c.BlockAddress(c.geo.NumberOfBlocks - 1)
	if !fits(lastBlock, 0, c.cfg.eraseAddressCycles) {
		return errors.Wrapf(geometry.ErrInvalid, "block row 0x%x does not fit in %d erase address cycles",
			lastBlock, c.cfg.eraseAddressCycles)
	}

	return nil
}

/* The chip may report address widths that differ from the fixed ones used
 * for page and erase addressing. Keep going, but tell the user. */
func (c *Chip) checkAddressWidths() {
	if c.geo.ColumnCycles > 0 && uint(8*c.geo.ColumnCycles) != c.cfg.pageShift {
		c.log.WithFields(logrus.Fields{
			"column_cycles": c.geo.ColumnCycles,
			"page_shift":    c.cfg.pageShift,
		}).Warn("page shift does not match the reported column address cycles")
	}
	if c.geo.RowCycles > 0 && c.geo.RowCycles != c.cfg.eraseAddressCycles {
		c.log.WithFields(logrus.Fields{
			"row_cycles":   c.geo.RowCycles,
			"erase_cycles": c.cfg.eraseAddressCycles,
		}).Warn("erase address cycles do not match the reported row address cycles")
	}
}

func (c *Chip) Geometry() geometry.Geometry {
	return c.geo
}

// ParameterPage returns the raw ONFI page, nil when the geometry was given.
func (c *Chip) ParameterPage() []byte {
	return c.parameterPage
}

// PageAddress is the value sent during the address cycles for a page.
func (c *Chip) PageAddress(page int) uint64 {
	return uint64(page) << c.cfg.pageShift
}

// BlockAddress is the row address of the first page in a block.
func (c *Chip) BlockAddress(block int) uint64 {
	return uint64(block) * uint64(c.geo.PagesPerBlock)
}

func (c *Chip) checkPage(page int) error {
	if page < 0 || page >= c.geo.TotalPages() {
		return errors.Wrapf(ErrOutOfRange, "page %d of %d", page, c.geo.TotalPages())
	}
	return nil
}

func (c *Chip) ReadPage(page int) ([]byte, error) {
	if err := c.checkPage(page); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.readPage(page)
	return data, errors.Wrapf(err, "read page %d", page)
}

func (c *Chip) readPage(page int) ([]byte, error) {
	if err := c.bus.Command(CmdRead0); err != nil {
		return nil, err
	}
	if err := c.bus.Address(c.PageAddress(page), c.geo.AddressCycles); err != nil {
		return nil, err
	}
	if err := c.bus.Command(CmdReadStart); err != nil {
		return nil, err
	}

	return c.bus.Read(c.geo.PageSize)
}

// WritePage programs a full page. With verify set the page is read back and
// the number of differing bytes returned; a difference is logged but is not
// an error.
func (c *Chip) WritePage(page int, data []byte, verify bool) (int, error) {
	if len(data) != c.geo.PageSize {
		return 0, errors.Wrapf(ErrSizeMismatch, "%d != %d", len(data), c.geo.PageSize)
	}
	if err := c.checkPage(page); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.bus.Unprotected(func() error {
		if err := c.bus.Command(CmdProgPage); err != nil {
			return err
		}
		if err := c.bus.Address(c.PageAddress(page), c.geo.AddressCycles); err != nil {
			return err
		}
		if err := c.bus.Data(data); err != nil {
			return err
		}
		if err := c.bus.Command(CmdProgPageStart); err != nil {
			return err
		}
		if err := c.bus.WaitReady(); err != nil {
			return err
		}
		return c.checkStatus("program page", page)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "write page %d", page)
	}

	if !verify {
		return 0, nil
	}

	readback, err := c.readPage(page)
	if err != nil {
		return 0, errors.Wrapf(err, "verify page %d", page)
	}

	diff := Diff(data, readback)
	if diff > 0 {
		c.log.WithFields(logrus.Fields{"page": page, "diff": diff}).Warn("page verification mismatch")
	}

	return diff, nil
}

func (c *Chip) EraseBlock(block int) error {
	if block < 0 || block >= c.geo.NumberOfBlocks {
		return errors.Wrapf(ErrOutOfRange, "block %d of %d", block, c.geo.NumberOfBlocks)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.bus.Unprotected(func() error {
		if err := c.bus.Command(CmdErase); err != nil {
			return err
		}
		if err := c.bus.Address(c.BlockAddress(block), c.cfg.eraseAddressCycles); err != nil {
			return err
		}
		if err := c.bus.Command(CmdEraseStart); err != nil {
			return err
		}
		if err := c.bus.WaitReady(); err != nil {
			return err
		}
		return c.checkStatus("erase block", block)
	})

	return errors.Wrapf(err, "erase block %d", block)
}

// CheckStatus reads the status register and fails if it reports a fault.
func (c *Chip) CheckStatus() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.checkStatus("operation", -1)
}

func (c *Chip) checkStatus(op string, index int) error {
	if err := c.bus.Command(CmdStatus); err != nil {
		return err
	}

	status, err := c.bus.ReadWait(1)
	if err != nil {
		return errors.Wrap(err, "read status")
	}

	if StatusFault(status[0]) {
		return &StatusError{Op: op, Index: index, Status: status[0]}
	}
	return nil
}

// Diff counts the positions where a and b differ.
func Diff(a []byte, b []byte) int {
	n := 0
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			n++
		}
	}
	if len(b) > len(a) {
		n += len(b) - len(a)
	}
	return n
}
