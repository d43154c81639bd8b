package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var _ pflag.Value = (*pageSizeValue)(nil)

// pageSizeValue parses "user,oob", e.g. "2048,128".
type pageSizeValue struct {
	user int
	oob  int
	set  bool
}

func (v *pageSizeValue) String() string {
	if !v.set {
		return ""
	}
	return fmt.Sprintf("%d,%d", v.user, v.oob)
}

func (v *pageSizeValue) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return errors.New(`please specify page size as "user_data,oob", for example "2048,128"`)
	}

	user, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || user <= 0 {
		return errors.Errorf("invalid user data size %q", parts[0])
	}
	oob, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || oob < 0 {
		return errors.Errorf("invalid OOB size %q", parts[1])
	}

	v.user, v.oob, v.set = user, oob, true
	return nil
}

func (v *pageSizeValue) Type() string {
	return "user,oob"
}

// manualGeometry returns the geometry given on the command line, or nil when
// it should be read from the chip. It is all or nothing.
func (a *app) manualGeometry() (*geometry.Geometry, error) {
	given := 0
	if a.pageSize.set {
		given++
	}
	if a.pagesPerBlock != 0 {
		given++
	}
	if a.blocks != 0 {
		given++
	}

	switch given {
	case 0:
		return nil, nil
	case 3:
	default:
		return nil, errors.Wrap(geometry.ErrInvalid, "page size, pages per block and number of blocks must be given together")
	}

	g, err := geometry.New(geometry.Geometry{
		PageSize:       a.pageSize.user + a.pageSize.oob,
		OOBSize:        a.pageSize.oob,
		PagesPerBlock:  a.pagesPerBlock,
		NumberOfBlocks: a.blocks,
		AddressCycles:  a.addressCycles,
	})
	if err != nil {
		return nil, err
	}

	return &g, nil
}
