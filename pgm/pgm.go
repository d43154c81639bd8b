// Package pgm reads binary greyscale (P5) images one horizontal window at a
// time, as page payloads for visualisation writes.
package pgm

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrNotAnImageFile = errors.New("not a binary PGM image with 255 as max value")

var (
	magic    = []byte("P5\n")
	maxValue = []byte("255\n")
)

// Padding fills everything outside the image.
const Padding = 0xff

type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	log    logrus.FieldLogger

	width        int
	height       int
	headerLength int64
}

// Open opens and parses the image at path. The caller must Close it.
func Open(path string, log logrus.FieldLogger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(f, log)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	r.closer = f

	return r, nil
}

func NewReader(r io.ReaderAt, log logrus.FieldLogger) (*Reader, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Reader{
		r:   r,
		log: log.WithField("component", "pgm"),
	}

	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

/* Header layout: "P5\n", an optional comment line, blank lines or further
 * '#' lines, "<width> <height>\n", then exactly "255\n". */
func (p *Reader) parseHeader() error {
	br := bufio.NewReader(io.NewSectionReader(p.r, 0, 1<<20))

	line, err := br.ReadBytes('\n')
	if err != nil || !bytes.Equal(line, magic) {
		return errors.Wrapf(ErrNotAnImageFile, "bad magic %q", line)
	}
	length := len(line)

	for first := true; ; first = false {
		line, err = br.ReadBytes('\n')
		if err != nil {
			return errors.Wrap(ErrNotAnImageFile, "truncated header")
		}
		length += len(line)

		if len(line) == 1 || line[0] == '#' {
			continue
		}

		/* The line after the magic is a comment of any content, unless it
		 * already holds the dimensions */
		if _, _, err := parseDimensions(line); first && err != nil {
			continue
		}
		break
	}

	if p.width, p.height, err = parseDimensions(line); err != nil {
		return err
	}

	var maxv [4]byte
	if _, err := io.ReadFull(br, maxv[:]); err != nil || !bytes.Equal(maxv[:], maxValue) {
		return errors.Wrap(ErrNotAnImageFile, "max value is not 255")
	}
	length += len(maxv)

	p.headerLength = int64(length)
	return nil
}

func parseDimensions(line []byte) (int, int, error) {
	fields := bytes.Fields(line)
	if len(fields) != 2 {
		return 0, 0, errors.Wrapf(ErrNotAnImageFile, "bad dimensions %q", line)
	}

	width, err := strconv.Atoi(string(fields[0]))
	if err != nil || width <= 0 {
		return 0, 0, errors.Wrapf(ErrNotAnImageFile, "bad width %q", fields[0])
	}
	height, err := strconv.Atoi(string(fields[1]))
	if err != nil || height <= 0 {
		return 0, 0, errors.Wrapf(ErrNotAnImageFile, "bad height %q", fields[1])
	}

	return width, height, nil
}

func (p *Reader) Width() int {
	return p.width
}

func (p *Reader) Height() int {
	return p.height
}

func (p *Reader) HeaderLength() int64 {
	return p.headerLength
}

// Read returns length bytes of row y starting at column x. Bytes past the
// right edge, and whole windows outside the image, read as Padding.
func (p *Reader) Read(x int, y int, length int) ([]byte, error) {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = Padding
	}

	if y < 0 || y >= p.height || x < 0 || x >= p.width {
		p.log.WithFields(logrus.Fields{
			"x": x, "y": y,
			"width": p.width, "height": p.height,
		}).Debug("window outside the image, padding")
		return buf, nil
	}

	n := length
	if n > p.width-x {
		n = p.width - x
	}

	offset := p.headerLength + int64(y)*int64(p.width) + int64(x)
	got, err := p.r.ReadAt(buf[:n], offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read image at %d,%d", x, y)
	}

	/* A truncated file pads like the edge does */
	for i := got; i < n; i++ {
		buf[i] = Padding
	}

	return buf, nil
}

func (p *Reader) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
