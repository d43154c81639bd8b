package tasks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BertoldVdb/nandflash/ftdi"
	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/BertoldVdb/nandflash/nand"
	"github.com/BertoldVdb/nandflash/nandsim"
	"github.com/BertoldVdb/nandflash/pgm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/snksoft/crc"
)

/* 8 pages of 32 bytes in 2 blocks */
func smallGeometry() geometry.Geometry {
	return geometry.Geometry{
		PageSize:       32,
		OOBSize:        4,
		PagesPerBlock:  4,
		NumberOfBlocks: 2,
		AddressCycles:  5,
		ColumnCycles:   2,
		RowCycles:      3,
		ManufacturerID: 0x98,
		Manufacturer:   "NANDSIM",
		Model:          "TINY",
	}
}

func testTasks(t *testing.T) (*Tasks, *nandsim.Chip, *test.Hook) {
	log, hook := test.NewNullLogger()

	sim := nandsim.New(smallGeometry())
	bus, err := ftdi.NewBus(sim, ftdi.BusConfig{ReadyTimeout: 100 * time.Millisecond, Log: log})
	if err != nil {
		t.Fatal(err)
	}

	chip, err := nand.New(bus, nand.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}

	return New(chip, log), sim, hook
}

func fillPages(sim *nandsim.Chip) {
	g := sim.Geometry()
	for page := 0; page < g.TotalPages(); page++ {
		sim.SetPage(page, bytes.Repeat([]byte{byte(page)}, g.PageSize))
	}
}

func TestDump(t *testing.T) {
	tasks, sim, _ := testTasks(t)
	fillPages(sim)

	var calls []int64
	tasks.Progress = func(done int64, total int64) {
		if total != 3*32 {
			t.Errorf("Total %d", total)
		}
		calls = append(calls, done)
	}

	var out bytes.Buffer
	res, err := tasks.Dump(context.Background(), &out, 2, 5)
	if err != nil {
		t.Fatal(err)
	}

	want := append(append(sim.Page(2), sim.Page(3)...), sim.Page(4)...)
	if !bytes.Equal(out.Bytes(), want) {
		t.Error("Dump returned the wrong pages")
	}
	if res.Units != 3 || res.Bytes != 96 {
		t.Errorf("Result %+v", res)
	}
	if res.CRC32 != uint32(crc.CalculateCRC(crc.CRC32, want)) {
		t.Error("CRC32 mismatch")
	}
	if len(calls) != 3 || calls[2] != 96 {
		t.Error("Progress calls:", calls)
	}
}

func TestDumpWholeDevice(t *testing.T) {
	tasks, _, _ := testTasks(t)

	var out bytes.Buffer
	if _, err := tasks.Dump(context.Background(), &out, 0, 0); err != nil {
		t.Fatal(err)
	}
	if int64(out.Len()) != smallGeometry().TotalSize() {
		t.Errorf("Dumped %d bytes", out.Len())
	}
}

func TestDumpRange(t *testing.T) {
	tasks, _, _ := testTasks(t)

	for _, r := range [][2]int{{-1, 3}, {5, 3}, {0, 9}, {8, 0}} {
		_, err := tasks.Dump(context.Background(), &bytes.Buffer{}, r[0], r[1])
		if errors.Cause(err) != ErrInvalidRange {
			t.Errorf("Range %v: got %v", r, err)
		}
	}
}

func TestDumpToFile(t *testing.T) {
	tasks, sim, _ := testTasks(t)
	fillPages(sim)

	if _, err := tasks.DumpToFile(context.Background(), "", 0, 0); err != ErrNoDestination {
		t.Error("Expected ErrNoDestination, got", err)
	}

	path := filepath.Join(t.TempDir(), "dump.bin")
	if _, err := tasks.DumpToFile(context.Background(), path, 6, 0); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, append(sim.Page(6), sim.Page(7)...)) {
		t.Error("File content differs")
	}
}

func TestDumpCancel(t *testing.T) {
	tasks, _, _ := testTasks(t)

	ctx, cancel := context.WithCancel(context.Background())
	tasks.Progress = func(done int64, total int64) {
		cancel()
	}

	res, err := tasks.Dump(ctx, &bytes.Buffer{}, 0, 0)
	if err != context.Canceled || res.Units != 1 {
		t.Errorf("Got %+v, %v", res, err)
	}
}

func TestRestore(t *testing.T) {
	tasks, sim, hook := testTasks(t)
	g := smallGeometry()

	image := make([]byte, g.TotalSize())
	for i := range image {
		image[i] = byte(i * 7)
	}

	res, err := tasks.Restore(context.Background(), bytes.NewReader(image), int64(len(image)), true)
	if err != nil {
		t.Fatal(err)
	}

	if res.Units != g.TotalPages() || sim.Programs != g.TotalPages() {
		t.Errorf("Programmed %d/%d pages", res.Units, sim.Programs)
	}
	if len(sim.ErasedBlocks) != 2 || sim.ErasedBlocks[0] != 0 || sim.ErasedBlocks[1] != 1 {
		t.Error("Erased blocks:", sim.ErasedBlocks)
	}
	if res.VerifyDiffs != 0 {
		t.Error("Verify diffs:", res.VerifyDiffs)
	}
	for page := 0; page < g.TotalPages(); page++ {
		if !bytes.Equal(sim.Page(page), image[page*g.PageSize:(page+1)*g.PageSize]) {
			t.Errorf("Page %d differs", page)
		}
	}

	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			t.Error("Unexpected warning:", e.Message)
		}
	}
}

func TestRestoreTooLarge(t *testing.T) {
	tasks, sim, _ := testTasks(t)
	g := smallGeometry()

	image := make([]byte, g.TotalSize()+1)
	_, err := tasks.Restore(context.Background(), bytes.NewReader(image), int64(len(image)), false)
	if errors.Cause(err) != ErrImageTooLarge {
		t.Error("Expected ErrImageTooLarge, got", err)
	}
	if sim.Programs != 0 || sim.Erases != 0 {
		t.Error("Flash was modified")
	}
}

func TestRestoreSmaller(t *testing.T) {
	tasks, sim, hook := testTasks(t)
	g := smallGeometry()

	var total int64
	tasks.Progress = func(done int64, n int64) {
		total = n
	}

	image := bytes.Repeat([]byte{0x55}, 5*g.PageSize)
	res, err := tasks.Restore(context.Background(), bytes.NewReader(image), int64(len(image)), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Units != 5 || sim.Erases != 2 {
		t.Errorf("Wrote %d pages, %d erases", res.Units, sim.Erases)
	}
	if total != g.TotalSize() {
		t.Errorf("Progress total %d, want the flash size %d", total, g.TotalSize())
	}

	warned := false
	for _, e := range hook.AllEntries() {
		warned = warned || e.Level == logrus.WarnLevel
	}
	if !warned {
		t.Error("Smaller image not reported")
	}
}

func TestRestorePartialPage(t *testing.T) {
	tasks, _, _ := testTasks(t)

	image := make([]byte, 40)
	_, err := tasks.Restore(context.Background(), bytes.NewReader(image), int64(len(image)), false)
	if errors.Cause(err) != nand.ErrSizeMismatch {
		t.Error("Expected ErrSizeMismatch, got", err)
	}
}

func TestRestoreFile(t *testing.T) {
	tasks, sim, _ := testTasks(t)
	g := smallGeometry()

	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x0f}, g.PageSize), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := tasks.RestoreFile(context.Background(), path, false); err != nil {
		t.Fatal(err)
	}
	if sim.Page(0)[0] != 0x0f {
		t.Error("Page 0 not written")
	}
}

func TestFill(t *testing.T) {
	tasks, sim, _ := testTasks(t)
	g := smallGeometry()

	var total int64
	tasks.Progress = func(done int64, n int64) {
		total = n
	}

	res, err := tasks.Fill(context.Background(), 0xa5, 1, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Units != 2 || total != 2*int64(g.PageSize) {
		t.Errorf("Result %+v, total %d", res, total)
	}

	for page, want := range map[int]byte{0: 0xff, 1: 0xa5, 2: 0xa5, 3: 0xff} {
		if got := sim.Page(page)[g.PageSize-1]; got != want {
			t.Errorf("Page %d holds %02x, want %02x", page, got, want)
		}
	}
}

func TestFillVerifyDiff(t *testing.T) {
	tasks, sim, _ := testTasks(t)

	sim.SetPage(2, []byte{0x00, 0x00})
	res, err := tasks.Fill(context.Background(), 0xff, 2, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.VerifyDiffs != 2 {
		t.Error("Verify diffs:", res.VerifyDiffs)
	}
}

func TestErase(t *testing.T) {
	tasks, sim, _ := testTasks(t)
	g := smallGeometry()

	var done, total int64
	tasks.Progress = func(d int64, n int64) {
		done, total = d, n
	}

	res, err := tasks.Erase(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	unit := int64(g.PageSize * g.PagesPerBlock)
	if res.Units != 2 || done != 2*unit || total != 2*unit {
		t.Errorf("Result %+v, progress %d/%d", res, done, total)
	}
	if sim.Erases != 2 {
		t.Error("Erases:", sim.Erases)
	}

	if _, err := tasks.Erase(context.Background(), 2, 3); errors.Cause(err) != ErrInvalidRange {
		t.Error("Erase past the end:", err)
	}
}

func TestEraseFault(t *testing.T) {
	tasks, sim, _ := testTasks(t)

	sim.FailNext(0xe2)
	res, err := tasks.Erase(context.Background(), 0, 0)
	if !errors.Is(err, nand.ErrProgramOrEraseFailed) {
		t.Error("Expected a program/erase failure, got", err)
	}
	if res.Units != 0 || sim.Erases != 0 {
		t.Error("Operation continued after a fault")
	}
}

func testImage(t *testing.T) *pgm.Reader {
	/* 2 wide, 3 high */
	img := []byte("P5\n# test\n2 3\n255\n\x01\x02\x03\x04\x05\x06")

	r, err := pgm.NewReader(bytes.NewReader(img), nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestEncodeImage(t *testing.T) {
	g := smallGeometry()

	window := func(data ...byte) []byte {
		page := bytes.Repeat([]byte{0xff}, g.PageSize)
		copy(page, data)
		return page
	}

	tests := []struct {
		name string
		wrap bool
		want [][]byte
	}{
		{"wrap", true, [][]byte{
			window(1, 2), window(3, 4), window(5, 6),
			window(), window(), window(),
			window(), window(),
		}},
		{"repeat", false, [][]byte{
			window(1, 2), window(3, 4), window(5, 6),
			window(1, 2), window(3, 4), window(5, 6),
			window(1, 2), window(3, 4),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, sim, _ := testTasks(t)

			res, err := tasks.EncodeImage(context.Background(), testImage(t), 0, 0, tt.wrap, true)
			if err != nil {
				t.Fatal(err)
			}
			if res.Units != g.TotalPages() || res.VerifyDiffs != 0 {
				t.Errorf("Result %+v", res)
			}

			for page, want := range tt.want {
				if !bytes.Equal(sim.Page(page), want) {
					t.Errorf("Page %d starts with % x", page, sim.Page(page)[:4])
				}
			}
		})
	}
}

func TestEncodeImageOffset(t *testing.T) {
	tasks, sim, _ := testTasks(t)

	if _, err := tasks.EncodeImage(context.Background(), testImage(t), 6, 8, true, false); err != nil {
		t.Fatal(err)
	}

	if sim.Page(6)[0] != 1 || sim.Page(7)[0] != 3 {
		t.Error("Image does not start at the first page of the range")
	}
	if sim.Programs != 2 {
		t.Error("Programs:", sim.Programs)
	}
}
