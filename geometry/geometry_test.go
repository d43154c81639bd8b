package geometry

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func testGeometry() Geometry {
	return Geometry{
		PageSize:       2048 + 64,
		OOBSize:        64,
		PagesPerBlock:  64,
		NumberOfBlocks: 1024,
		AddressCycles:  5,
	}
}

func TestTotals(t *testing.T) {
	for _, blocks := range []int{1, 7, 1024, 4096} {
		for _, ppb := range []int{1, 32, 64, 128} {
			g := testGeometry()
			g.NumberOfBlocks = blocks
			g.PagesPerBlock = ppb

			if g.TotalPages() != blocks*ppb {
				t.Errorf("TotalPages()=%d, want %d", g.TotalPages(), blocks*ppb)
			}
			if g.TotalSize() != int64(g.TotalPages())*int64(g.PageSize) {
				t.Errorf("TotalSize()=%d for %d pages", g.TotalSize(), g.TotalPages())
			}
		}
	}
}

func TestTotalSizeDoesNotOverflow(t *testing.T) {
	g := testGeometry()
	g.PageSize = 16384 + 1216
	g.OOBSize = 1216
	g.PagesPerBlock = 256
	g.NumberOfBlocks = 4096 * 4

	if g.TotalSize() <= 1<<32 {
		t.Errorf("TotalSize()=%d, expected more than 4GiB", g.TotalSize())
	}
}

func TestNew(t *testing.T) {
	g, err := New(testGeometry())
	if err != nil {
		t.Fatal("Valid geometry rejected:", err)
	}
	if g.Manufacturer != UnknownManufacturer || g.Model != UnknownModel {
		t.Errorf("Placeholders not filled in: %q %q", g.Manufacturer, g.Model)
	}

	tests := []struct {
		name   string
		modify func(g *Geometry)
	}{
		{"zero page size", func(g *Geometry) { g.PageSize = 0 }},
		{"spare equals page", func(g *Geometry) { g.OOBSize = g.PageSize }},
		{"negative spare", func(g *Geometry) { g.OOBSize = -1 }},
		{"no pages per block", func(g *Geometry) { g.PagesPerBlock = 0 }},
		{"no blocks", func(g *Geometry) { g.NumberOfBlocks = 0 }},
		{"no address cycles", func(g *Geometry) { g.AddressCycles = 0 }},
		{"too many address cycles", func(g *Geometry) { g.AddressCycles = 9 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeometry()
			tt.modify(&g)
			if _, err := New(g); !errors.Is(err, ErrInvalid) {
				t.Errorf("New() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512B"},
		{2048, "2KiB"},
		{135168 * 1024, "132MiB"},
		{1 << 30, "1GiB"},
		{5*(1<<30) + 1, "5GiB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.size); got != tt.want {
			t.Errorf("FormatSize(%d)=%q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	g := testGeometry()
	g.Manufacturer = "MICRON"
	g.Model = "MT29F1G08ABADAWP"

	s := g.Summary()
	for _, want := range []string{
		"MT29F1G08ABADAWP (MICRON)",
		"Page Size : 2112 (2048 + 64)",
		"Blocks number : 1024",
		"Device Size: 132MiB",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary missing %q:\n%s", want, s)
		}
	}
}
