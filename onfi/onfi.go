package onfi

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/pkg/errors"
)

var ErrInvalidParameterBlock = errors.New("invalid ONFI parameter block")

var Signature = []byte("ONFI")

// Size of a single parameter page copy.
const Size = 0x100

/* Byte offsets in the parameter page. Version, feature and optional command
 * fields exist at 4-14 but are not used here. */
const (
	offsetManufacturer   = 32
	lenManufacturer      = 12
	offsetModel          = 44
	lenModel             = 20
	offsetManufacturerID = 64
	offsetUserSize       = 80
	offsetSpareSize      = 84
	offsetPagesPerBlock  = 92
	offsetBlocksPerLUN   = 96
	offsetLUNs           = 100
	offsetAddressCycles  = 101
	offsetCRC            = 254

	minLength = offsetAddressCycles + 1
)

func trim(b []byte) string {
	return strings.Trim(string(b), " \x00")
}

// Parse decodes the geometry fields of a parameter page. The CRC is not
// checked, use CheckCRC for that.
func Parse(page []byte) (geometry.Geometry, error) {
	if len(page) < len(Signature) || !bytes.Equal(page[:len(Signature)], Signature) {
		return geometry.Geometry{}, errors.Wrap(ErrInvalidParameterBlock, "block does not start with 'ONFI'")
	}
	if len(page) < minLength {
		return geometry.Geometry{}, errors.Wrapf(ErrInvalidParameterBlock, "block is only %d bytes", len(page))
	}

	userSize := int(binary.LittleEndian.Uint32(page[offsetUserSize:]))
	spareSize := int(binary.LittleEndian.Uint16(page[offsetSpareSize:]))
	blocksPerLUN := int(binary.LittleEndian.Uint32(page[offsetBlocksPerLUN:]))
	luns := int(page[offsetLUNs])

	/* Row cycles in the low nibble, column cycles in the high nibble */
	cycles := page[offsetAddressCycles]
	rowCycles := int(cycles & 0x0f)
	columnCycles := int(cycles >> 4)

	g, err := geometry.New(geometry.Geometry{
		PageSize:       userSize + spareSize,
		OOBSize:        spareSize,
		PagesPerBlock:  int(binary.LittleEndian.Uint32(page[offsetPagesPerBlock:])),
		NumberOfBlocks: blocksPerLUN * luns,
		AddressCycles:  rowCycles + columnCycles,
		ColumnCycles:   columnCycles,
		RowCycles:      rowCycles,
		ManufacturerID: page[offsetManufacturerID],
		Manufacturer:   trim(page[offsetManufacturer : offsetManufacturer+lenManufacturer]),
		Model:          trim(page[offsetModel : offsetModel+lenModel]),
	})
	if err != nil {
		return geometry.Geometry{}, errors.Wrapf(ErrInvalidParameterBlock, "%v", err)
	}

	return g, nil
}

func putPadded(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// Serialize builds a parameter page (single copy, valid CRC) describing g.
// All blocks are placed in one logical unit. When g has no column/row split
// two column cycles are assumed.
func Serialize(g geometry.Geometry) []byte {
	page := make([]byte, Size)
	copy(page, Signature)

	putPadded(page[offsetManufacturer:offsetManufacturer+lenManufacturer], g.Manufacturer)
	putPadded(page[offsetModel:offsetModel+lenModel], g.Model)
	page[offsetManufacturerID] = g.ManufacturerID

	binary.LittleEndian.PutUint32(page[offsetUserSize:], uint32(g.UserSize()))
	binary.LittleEndian.PutUint16(page[offsetSpareSize:], uint16(g.OOBSize))
	binary.LittleEndian.PutUint32(page[offsetPagesPerBlock:], uint32(g.PagesPerBlock))
	binary.LittleEndian.PutUint32(page[offsetBlocksPerLUN:], uint32(g.NumberOfBlocks))
	page[offsetLUNs] = 1

	columnCycles, rowCycles := g.ColumnCycles, g.RowCycles
	if columnCycles+rowCycles == 0 {
		columnCycles = 2
		rowCycles = g.AddressCycles - columnCycles
	}
	page[offsetAddressCycles] = byte(columnCycles<<4) | byte(rowCycles&0x0f)

	crcUpdate(page)
	return page
}
