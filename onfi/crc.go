package onfi

import (
	"encoding/binary"

	"github.com/snksoft/crc"
)

/* ONFI parameter pages carry a CRC-16 over bytes 0-253, stored little
 * endian in bytes 254-255. Polynomial 0x8005, seeded with 0x4F4E. */
var crcTable = crc.NewTable(&crc.Parameters{
	Width:      16,
	Polynomial: 0x8005,
	Init:       0x4F4E,
	ReflectIn:  false,
	ReflectOut: false,
	FinalXor:   0,
})

func crcCalculate(page []byte) uint16 {
	h := crc.NewHashWithTable(crcTable)
	h.Update(page[:offsetCRC])
	return h.CRC16()
}

// CheckCRC reports whether the integrity CRC of a parameter page matches.
func CheckCRC(page []byte) bool {
	if len(page) < Size {
		return false
	}
	return binary.LittleEndian.Uint16(page[offsetCRC:]) == crcCalculate(page)
}

func crcUpdate(page []byte) {
	binary.LittleEndian.PutUint16(page[offsetCRC:], crcCalculate(page))
}
