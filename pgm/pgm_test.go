package pgm

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func image(header string, pixels []byte) *bytes.Reader {
	return bytes.NewReader(append([]byte(header), pixels...))
}

func TestHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		width  int
		height int
	}{
		{"comment", "P5\n# made by hand\n2 3\n255\n", 2, 3},
		{"blank lines", "P5\n# c\n\n\n4 1\n255\n", 4, 1},
		{"no comment", "P5\n7 5\n255\n", 7, 5},
		{"free comment", "P5\nCREATOR: yand test\n\n2 3\n255\n", 2, 3},
		{"free comment, no blank", "P5\nmade with bin_to_ppm\n640 480\n255\n", 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewReader(image(tt.header, nil), nil)
			if err != nil {
				t.Fatal(err)
			}
			if p.Width() != tt.width || p.Height() != tt.height {
				t.Errorf("Got %dx%d", p.Width(), p.Height())
			}
			if p.HeaderLength() != int64(len(tt.header)) {
				t.Errorf("Header length %d, want %d", p.HeaderLength(), len(tt.header))
			}
		})
	}
}

func TestBadHeader(t *testing.T) {
	for _, header := range []string{
		"",
		"P6\n2 3\n255\n",
		"P5\n# c\n2\n255\n",
		"P5\n# c\nx 3\n255\n",
		"P5\n# c\n2 3\n65535\n",
		"P5\n# c\n2 3\n",
		"P5\n# c\n",
		"P5\nfree comment\nnot dimensions\n255\n",
	} {
		if _, err := NewReader(image(header, nil), nil); errors.Cause(err) != ErrNotAnImageFile {
			t.Errorf("Header %q: expected ErrNotAnImageFile, got %v", header, err)
		}
	}
}

func TestRead(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	/* 3 wide, 2 high */
	p, err := NewReader(image("P5\n# c\n3 2\n255\n", []byte{1, 2, 3, 4, 5, 6}), log)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		x, y, length int
		want         []byte
	}{
		{0, 0, 3, []byte{1, 2, 3}},
		{0, 1, 3, []byte{4, 5, 6}},
		{1, 1, 4, []byte{5, 6, 0xff, 0xff}},
		{0, 0, 2, []byte{1, 2}},
		{0, 2, 2, []byte{0xff, 0xff}},
		{3, 0, 2, []byte{0xff, 0xff}},
	}

	for _, tt := range tests {
		got, err := p.Read(tt.x, tt.y, tt.length)
		if err != nil || !bytes.Equal(got, tt.want) {
			t.Errorf("Read(%d, %d, %d) = % x, %v", tt.x, tt.y, tt.length, got, err)
		}
	}

	if len(hook.AllEntries()) != 2 {
		t.Errorf("%d debug entries, want 2", len(hook.AllEntries()))
	}
}

func TestTruncated(t *testing.T) {
	p, err := NewReader(image("P5\n# c\n4 2\n255\n", []byte{1, 2, 3, 4, 5}), nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Read(0, 1, 4)
	if err != nil || !bytes.Equal(got, []byte{5, 0xff, 0xff, 0xff}) {
		t.Errorf("Read = % x, %v", got, err)
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pgm")
	if err := os.WriteFile(path, []byte("P5\n# c\n1 1\n255\n\x42"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if got, _ := p.Read(0, 0, 1); got[0] != 0x42 {
		t.Errorf("Read %02x", got[0])
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.pgm"), nil); err == nil {
		t.Error("Opened a missing file")
	}
}
