package nand

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrGeometryUnknown      = errors.New("could not read ONFI info, please provide the flash geometry")
	ErrSizeMismatch         = errors.New("data size is different from the page size")
	ErrOutOfRange           = errors.New("page or block out of range")
	ErrProgramOrEraseFailed = errors.New("program or erase failed")
)

// StatusError reports a fault flagged by the chip's status register. Index is
// the page or block, or negative when not tied to one.
type StatusError struct {
	Op     string
	Index  int
	Status byte
}

func (e *StatusError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s failed: status register 0x%02x", e.Op, e.Status)
	}
	return fmt.Sprintf("%s %d failed: status register 0x%02x", e.Op, e.Index, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrProgramOrEraseFailed
}
