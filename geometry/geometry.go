package geometry

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrInvalid = errors.New("invalid flash geometry")

// Geometry describes the layout of a NAND chip. It is a plain value: build it
// once with New (or get it from the ONFI parser) and pass it around by copy.
type Geometry struct {
	/* Full page size, user data plus spare area */
	PageSize int
	OOBSize  int

	PagesPerBlock  int
	NumberOfBlocks int

	/* Total address cycles for a page address. Column and row cycles are
	 * only known when the chip reported them, zero otherwise. */
	AddressCycles int
	ColumnCycles  int
	RowCycles     int

	ManufacturerID byte
	Manufacturer   string
	Model          string
}

const (
	UnknownManufacturer = "Unknown Manufacturer"
	UnknownModel        = "Unknown Model"

	MaxAddressCycles = 8
)

// New validates g and fills in the display strings when they are missing.
func New(g Geometry) (Geometry, error) {
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}

	if g.Manufacturer == "" {
		g.Manufacturer = UnknownManufacturer
	}
	if g.Model == "" {
		g.Model = UnknownModel
	}

	return g, nil
}

func (g Geometry) Validate() error {
	switch {
	case g.PageSize <= 0:
		return errors.Wrapf(ErrInvalid, "page size %d", g.PageSize)
	case g.OOBSize < 0 || g.OOBSize >= g.PageSize:
		return errors.Wrapf(ErrInvalid, "spare size %d for page size %d", g.OOBSize, g.PageSize)
	case g.PagesPerBlock <= 0:
		return errors.Wrapf(ErrInvalid, "pages per block %d", g.PagesPerBlock)
	case g.NumberOfBlocks <= 0:
		return errors.Wrapf(ErrInvalid, "number of blocks %d", g.NumberOfBlocks)
	case g.AddressCycles < 1 || g.AddressCycles > MaxAddressCycles:
		return errors.Wrapf(ErrInvalid, "address cycles %d", g.AddressCycles)
	}

	return nil
}

func (g Geometry) UserSize() int {
	return g.PageSize - g.OOBSize
}

func (g Geometry) TotalPages() int {
	return g.NumberOfBlocks * g.PagesPerBlock
}

func (g Geometry) TotalSize() int64 {
	return int64(g.TotalPages()) * int64(g.PageSize)
}

func (g Geometry) BlockSize() int {
	return g.PagesPerBlock * g.PageSize
}

// FormatSize renders a byte count with the largest binary unit that fits.
func FormatSize(size int64) string {
	const (
		kib = 1024
		mib = 1024 * kib
		gib = 1024 * mib
	)

	switch {
	case size >= gib:
		return fmt.Sprintf("%dGiB", size/gib)
	case size >= mib:
		return fmt.Sprintf("%dMiB", size/mib)
	case size >= kib:
		return fmt.Sprintf("%dKiB", size/kib)
	}
	return fmt.Sprintf("%dB", size)
}

func (g Geometry) Summary() string {
	return fmt.Sprintf("Chip model & Manufacturer: %s (%s)\n"+
		"Page Size : %d (%d + %d)\n"+
		"Blocks number : %d\n"+
		"Device Size: %s\n",
		g.Model, g.Manufacturer,
		g.PageSize, g.UserSize(), g.OOBSize,
		g.NumberOfBlocks,
		FormatSize(g.TotalSize()))
}
