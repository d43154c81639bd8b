package tasks

import (
	"context"
	"io"
	"os"

	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/snksoft/crc"
)

var (
	ErrImageTooLarge = errors.New("image is larger than the flash")
	ErrNoDestination = errors.New("no destination given")
	ErrInvalidRange  = errors.New("invalid page or block range")
)

// Stdout is the destination name that streams a dump to standard output.
const Stdout = "-"

// Flash is the page level access the bulk operations need.
type Flash interface {
	Geometry() geometry.Geometry
	ReadPage(page int) ([]byte, error)
	WritePage(page int, data []byte, verify bool) (int, error)
	EraseBlock(block int) error
}

// ImageSource supplies page payloads for EncodeImage.
type ImageSource interface {
	Height() int
	Read(x int, y int, length int) ([]byte, error)
}

// ProgressFunc is called after every page or block with the number of
// payload bytes done so far and the total for the operation.
type ProgressFunc func(done int64, total int64)

type Result struct {
	// Pages or blocks processed
	Units int
	Bytes int64

	// CRC32 of the data read or written, zero for erase
	CRC32 uint32

	// Differing bytes found by write verification
	VerifyDiffs int
}

func (r Result) Fields() logrus.Fields {
	return logrus.Fields{
		"units":        r.Units,
		"bytes":        r.Bytes,
		"crc32":        r.CRC32,
		"verify_diffs": r.VerifyDiffs,
	}
}

type Tasks struct {
	flash Flash
	geo   geometry.Geometry
	log   logrus.FieldLogger

	Progress ProgressFunc
}

func New(flash Flash, log logrus.FieldLogger) *Tasks {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Tasks{
		flash: flash,
		geo:   flash.Geometry(),
		log:   log.WithField("component", "tasks"),
	}
}

func (t *Tasks) progress(done int64, total int64) {
	if t.Progress != nil {
		t.Progress(done, total)
	}
}

/* Ranges are half open, end <= 0 means up to count */
func checkRange(start int, end int, count int) (int, int, error) {
	if end <= 0 {
		end = count
	}
	if start < 0 || start >= end || end > count {
		return 0, 0, errors.Wrapf(ErrInvalidRange, "[%d, %d) of %d", start, end, count)
	}
	return start, end, nil
}

// Dump copies pages [start, end) to w, one raw page after the other.
func (t *Tasks) Dump(ctx context.Context, w io.Writer, start int, end int) (Result, error) {
	start, end, err := checkRange(start, end, t.geo.TotalPages())
	if err != nil {
		return Result{}, err
	}

	var res Result
	h := crc.NewHash(crc.CRC32)
	total := int64(end-start) * int64(t.geo.PageSize)

	t.log.WithFields(logrus.Fields{"start": start, "end": end}).Info("dumping pages")

	for page := start; page < end; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data, err := t.flash.ReadPage(page)
		if err != nil {
			return res, err
		}
		if _, err := w.Write(data); err != nil {
			return res, errors.Wrapf(err, "write page %d to destination", page)
		}
		h.Update(data)

		res.Units++
		res.Bytes += int64(len(data))
		res.CRC32 = h.CRC32()
		t.progress(res.Bytes, total)
	}

	t.log.WithFields(res.Fields()).Info("dump done")
	return res, nil
}

// DumpToFile dumps to the named file, or to standard output for Stdout.
func (t *Tasks) DumpToFile(ctx context.Context, destination string, start int, end int) (Result, error) {
	if destination == "" {
		return Result{}, ErrNoDestination
	}
	if destination == Stdout {
		return t.Dump(ctx, os.Stdout, start, end)
	}

	f, err := os.Create(destination)
	if err != nil {
		return Result{}, err
	}

	res, err := t.Dump(ctx, f, start, end)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return res, err
}

// Restore writes an image of size bytes over the whole flash, starting at
// page 0. Every block is erased before its first page is written. The image
// must hold whole pages.
func (t *Tasks) Restore(ctx context.Context, r io.Reader, size int64, verify bool) (Result, error) {
	if size > t.geo.TotalSize() {
		return Result{}, errors.Wrapf(ErrImageTooLarge, "%d > %d bytes", size, t.geo.TotalSize())
	}
	if size < t.geo.TotalSize() {
		t.log.WithFields(logrus.Fields{
			"size":  size,
			"flash": t.geo.TotalSize(),
		}).Warn("image is smaller than the flash, the rest is left untouched")
	}

	var res Result
	h := crc.NewHash(crc.CRC32)

	t.log.WithField("size", size).Info("restoring image")

	for page := 0; page < t.geo.TotalPages(); page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data := make([]byte, t.geo.PageSize)
		n, err := io.ReadFull(r, data)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return res, errors.Wrapf(err, "read image for page %d", page)
		}

		if page%t.geo.PagesPerBlock == 0 {
			if err := t.flash.EraseBlock(page / t.geo.PagesPerBlock); err != nil {
				return res, err
			}
		}

		/* A short final chunk is rejected by WritePage */
		diff, err := t.flash.WritePage(page, data[:n], verify)
		if err != nil {
			return res, err
		}
		h.Update(data[:n])

		res.Units++
		res.Bytes += int64(n)
		res.CRC32 = h.CRC32()
		res.VerifyDiffs += diff
		t.progress(res.Bytes, t.geo.TotalSize())
	}

	t.log.WithFields(res.Fields()).Info("restore done")
	return res, nil
}

func (t *Tasks) RestoreFile(ctx context.Context, path string, verify bool) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Result{}, err
	}

	return t.Restore(ctx, f, st.Size(), verify)
}

type pageSource func(page int) ([]byte, error)

func (t *Tasks) writePages(ctx context.Context, start int, end int, verify bool, next pageSource) (Result, error) {
	var res Result
	h := crc.NewHash(crc.CRC32)
	total := int64(end-start) * int64(t.geo.PageSize)

	for page := start; page < end; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data, err := next(page)
		if err != nil {
			return res, err
		}

		diff, err := t.flash.WritePage(page, data, verify)
		if err != nil {
			return res, err
		}
		h.Update(data)

		res.Units++
		res.Bytes += int64(len(data))
		res.CRC32 = h.CRC32()
		res.VerifyDiffs += diff
		t.progress(res.Bytes, total)
	}

	return res, nil
}

// Fill programs every page in [start, end) with value.
func (t *Tasks) Fill(ctx context.Context, value byte, start int, end int, verify bool) (Result, error) {
	start, end, err := checkRange(start, end, t.geo.TotalPages())
	if err != nil {
		return Result{}, err
	}

	data := make([]byte, t.geo.PageSize)
	for i := range data {
		data[i] = value
	}

	t.log.WithFields(logrus.Fields{"start": start, "end": end, "value": value}).Info("filling pages")

	res, err := t.writePages(ctx, start, end, verify, func(int) ([]byte, error) {
		return data, nil
	})
	if err != nil {
		return res, err
	}

	t.log.WithFields(res.Fields()).Info("fill done")
	return res, nil
}

// Erase erases every block in [start, end).
func (t *Tasks) Erase(ctx context.Context, start int, end int) (Result, error) {
	start, end, err := checkRange(start, end, t.geo.NumberOfBlocks)
	if err != nil {
		return Result{}, err
	}

	var res Result
	unit := int64(t.geo.PageSize) * int64(t.geo.PagesPerBlock)
	total := int64(end-start) * unit

	t.log.WithFields(logrus.Fields{"start": start, "end": end}).Info("erasing blocks")

	for block := start; block < end; block++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := t.flash.EraseBlock(block); err != nil {
			return res, err
		}

		res.Units++
		res.Bytes += unit
		t.progress(res.Bytes, total)
	}

	t.log.WithFields(res.Fields()).Info("erase done")
	return res, nil
}

// EncodeImage writes one image row per page, page size columns wide. Once
// all rows are used the next column strip follows when wrap is set,
// otherwise the same strip is written again.
func (t *Tasks) EncodeImage(ctx context.Context, img ImageSource, start int, end int, wrap bool, verify bool) (Result, error) {
	start, end, err := checkRange(start, end, t.geo.TotalPages())
	if err != nil {
		return Result{}, err
	}

	x, y := 0, 0

	t.log.WithFields(logrus.Fields{"start": start, "end": end, "wrap": wrap}).Info("encoding image")

	res, err := t.writePages(ctx, start, end, verify, func(page int) ([]byte, error) {
		data, err := img.Read(x, y, t.geo.PageSize)
		if err != nil {
			return nil, errors.Wrapf(err, "image window for page %d", page)
		}

		y++
		if y >= img.Height() {
			y = 0
			if wrap {
				x += t.geo.PageSize
			}
		}

		return data, nil
	})
	if err != nil {
		return res, err
	}

	t.log.WithFields(res.Fields()).Info("image encoded")
	return res, nil
}
