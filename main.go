package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/BertoldVdb/nandflash/ftdi"
	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/BertoldVdb/nandflash/nand"
	"github.com/BertoldVdb/nandflash/nandsim"
	"github.com/BertoldVdb/nandflash/onfi"
	"github.com/BertoldVdb/nandflash/pgm"
	"github.com/BertoldVdb/nandflash/tasks"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

type app struct {
	log *logrus.Logger
	out io.Writer
	in  io.Reader

	device       string
	simulate     bool
	yes          bool
	writeCheck   bool
	logLevel     string
	logFile      string
	logJSON      bool
	readyTimeout time.Duration

	pageSize      pageSizeValue
	pagesPerBlock int
	blocks        int
	addressCycles int
	pageShift     uint
	eraseCycles   int

	start int
	end   int
	wrap  bool

	/* Preset by tests to inspect the simulated chip */
	sim *nandsim.Chip

	// terminal reports whether fd is an interactive terminal
	terminal func(fd uintptr) bool

	logClose io.Closer
}

func newApp() *app {
	return &app{
		log:      logrus.New(),
		out:      os.Stdout,
		in:       os.Stdin,
		terminal: isTerminal,
	}
}

func (a *app) setupLogging() error {
	level, err := logrus.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.log.SetLevel(level)

	if a.logJSON {
		a.log.SetFormatter(&logrus.JSONFormatter{})
	}

	if a.logFile != "" {
		f, err := os.OpenFile(a.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		a.log.SetOutput(f)
		a.logClose = f
	}

	return nil
}

func (a *app) busConfig() (ftdi.BusConfig, error) {
	cfg := ftdi.DefaultBusConfig()
	cfg.Log = a.log

	if a.readyTimeout <= 0 {
		return cfg, errors.Errorf("invalid ready timeout %v", a.readyTimeout)
	}
	cfg.ReadyTimeout = a.readyTimeout

	return cfg, nil
}

/* The simulated chip outlives a session, like a real chip outlives the
 * bridge being unplugged */
type simulatedPort struct {
	*nandsim.Chip
}

func (simulatedPort) Close() error {
	return nil
}

// openChip connects to the flash, either through the bridge or simulated.
func (a *app) openChip() (*nand.Chip, io.Closer, error) {
	manual, err := a.manualGeometry()
	if err != nil {
		return nil, nil, err
	}

	busCfg, err := a.busConfig()
	if err != nil {
		return nil, nil, err
	}

	var bus *ftdi.Bus
	if a.simulate {
		if a.sim == nil {
			g := nandsim.DefaultGeometry()
			if manual != nil {
				g = *manual
			}
			a.sim = nandsim.New(g)
		}
		bus, err = ftdi.NewBus(simulatedPort{a.sim}, busCfg)
		a.log.Info("using a simulated flash chip")
	} else {
		usbCfg := ftdi.DefaultUSBConfig()
		if a.device != "" {
			if usbCfg, err = ftdi.ParseDeviceSelector(a.device, usbCfg); err != nil {
				return nil, nil, err
			}
		}
		bus, err = ftdi.Open(usbCfg, busCfg)
	}
	if err != nil {
		return nil, nil, err
	}

	opts := []nand.Option{
		nand.WithLogger(a.log),
		nand.WithPageShift(a.pageShift),
		nand.WithEraseAddressCycles(a.eraseCycles),
	}
	if manual != nil {
		opts = append(opts, nand.WithGeometry(*manual))
	}

	chip, err := nand.New(bus, opts...)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}

	return chip, bus, nil
}

func (a *app) withChip(showInfo bool, fn func(chip *nand.Chip) error) error {
	chip, closer, err := a.openChip()
	if err != nil {
		return err
	}
	defer closer.Close()

	g := chip.Geometry()
	a.log.WithFields(logrus.Fields{
		"model":        g.Model,
		"manufacturer": g.Manufacturer,
		"page_size":    g.PageSize,
		"blocks":       g.NumberOfBlocks,
	}).Debug("chip set up")

	if showInfo {
		fmt.Fprint(a.out, "Chip info: "+g.Summary())
	}

	return fn(chip)
}

func (a *app) newTasks(chip *nand.Chip) *tasks.Tasks {
	return tasks.New(chip, a.log)
}

func (a *app) context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func (a *app) report(res tasks.Result) {
	fmt.Fprintf(a.out, "%d units, %d bytes, CRC32 %08x", res.Units, res.Bytes, res.CRC32)
	if a.writeCheck {
		fmt.Fprintf(a.out, ", %d bytes differ after write", res.VerifyDiffs)
	}
	fmt.Fprintln(a.out)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "nandflash",
		Version:       version,
		Short:         "Read, write and erase raw NAND flash through an FT2232H bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogging()
		},
	}
	root.Flags().BoolP("version", "V", false, "show version")

	pf := root.PersistentFlags()
	pf.StringVar(&a.device, "device", "", "USB bridge as VVVV:PPPP[:interface] (default 0403:6010)")
	pf.BoolVar(&a.simulate, "simulate", false, "use a simulated flash chip instead of the bridge")
	pf.BoolVarP(&a.yes, "yes", "y", false, "don't ask for confirmation")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFile, "log-file", "", "append log output to this file instead of stderr")
	pf.BoolVar(&a.logJSON, "log-json", false, "log in JSON format")
	pf.DurationVar(&a.readyTimeout, "ready-timeout", ftdi.DefaultBusConfig().ReadyTimeout, "how long to wait for the chip to become ready")

	pf.VarP(&a.pageSize, "page-size", "P", `page size and OOB size in bytes, as "2048,128"`)
	pf.IntVarP(&a.pagesPerBlock, "pages-per-block", "B", 0, "number of pages per block")
	pf.IntVarP(&a.blocks, "number-of-blocks", "K", 0, "total number of blocks")
	pf.IntVar(&a.addressCycles, "address-cycles", 5, "address cycles for a page address")
	pf.UintVar(&a.pageShift, "page-shift", nand.DefaultPageShift, "bit offset of the page number in the page address")
	pf.IntVar(&a.eraseCycles, "erase-cycles", nand.DefaultEraseAddressCycles, "address cycles for a block erase")

	root.AddCommand(
		newInfoCmd(a),
		newReadCmd(a),
		newWriteCmd(a),
		newEraseCmd(a),
		newFillCmd(a),
		newWritePGMCmd(a),
	)

	return root
}

func addRangeFlags(a *app, cmd *cobra.Command, unit string) {
	cmd.Flags().IntVar(&a.start, "start", 0, "first "+unit+" of the operation (included)")
	cmd.Flags().IntVar(&a.end, "end", 0, "last "+unit+" of the operation (excluded), 0 means up to the end")
}

func addWriteCheckFlag(a *app, cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&a.writeCheck, "write-check", "C", false, "read each page back after writing it")
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the flash geometry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withChip(true, func(chip *nand.Chip) error {
				g := chip.Geometry()
				fmt.Fprintf(a.out, "Manufacturer ID: 0x%02x\n", g.ManufacturerID)
				fmt.Fprintf(a.out, "Address cycles: %d\n", g.AddressCycles)

				if page := chip.ParameterPage(); page != nil {
					crc := "valid"
					if !onfi.CheckCRC(page) {
						crc = "INVALID"
					}
					fmt.Fprintf(a.out, "ONFI parameter page CRC: %s\n", crc)
				} else {
					fmt.Fprintln(a.out, "Geometry given manually")
				}
				return nil
			})
		},
	}
}

func newReadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <file>",
		Short: "Dump pages to a file, - for stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := args[0]
			stdout := dest == tasks.Stdout

			if !stdout {
				if _, err := os.Stat(dest); err == nil {
					if err := a.confirm(fmt.Sprintf("Destination file %s already exists. Proceed?", dest)); err != nil {
						return err
					}
				}
			}

			return a.withChip(!stdout, func(chip *nand.Chip) error {
				t := a.newTasks(chip)
				ctx, cancel := a.context()
				defer cancel()

				a.log.WithFields(logrus.Fields{"start": a.start, "end": a.end, "destination": dest}).Debug("starting read")

				done := a.progress(t, "read", !stdout)
				res, err := t.DumpToFile(ctx, dest, a.start, a.end)
				done()
				if err != nil {
					return err
				}

				if !stdout {
					a.report(res)
				}
				return nil
			})
		},
	}

	addRangeFlags(a, cmd, "page")
	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <file>",
		Short: "Write a raw dump to the flash, erasing every block first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if err := a.confirm(fmt.Sprintf("About to write the content of %q to NAND flash. Proceed?", src)); err != nil {
				return err
			}

			return a.withChip(true, func(chip *nand.Chip) error {
				t := a.newTasks(chip)
				ctx, cancel := a.context()
				defer cancel()

				done := a.progress(t, "write", true)
				res, err := t.RestoreFile(ctx, src, a.writeCheck)
				done()
				if err != nil {
					return err
				}

				a.report(res)
				return nil
			})
		},
	}

	addWriteCheckFlag(a, cmd)
	return cmd
}

func newEraseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.confirm("About to erase NAND flash blocks. Proceed?"); err != nil {
				return err
			}

			return a.withChip(true, func(chip *nand.Chip) error {
				t := a.newTasks(chip)
				ctx, cancel := a.context()
				defer cancel()

				done := a.progress(t, "erase", true)
				res, err := t.Erase(ctx, a.start, a.end)
				done()
				if err != nil {
					return err
				}

				a.report(res)
				return nil
			})
		},
	}

	addRangeFlags(a, cmd, "block")
	return cmd
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, errors.Errorf("invalid byte value %q", s)
	}
	return byte(v), nil
}

func newFillCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill <value>",
		Short: "Program pages with a constant byte value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseByte(args[0])
			if err != nil {
				return err
			}
			if err := a.confirm(fmt.Sprintf("About to write value 0x%02x in NAND flash. Proceed?", value)); err != nil {
				return err
			}

			return a.withChip(true, func(chip *nand.Chip) error {
				t := a.newTasks(chip)
				ctx, cancel := a.context()
				defer cancel()

				done := a.progress(t, "fill", true)
				res, err := t.Fill(ctx, value, a.start, a.end, a.writeCheck)
				done()
				if err != nil {
					return err
				}

				a.report(res)
				return nil
			})
		},
	}

	addRangeFlags(a, cmd, "page")
	addWriteCheckFlag(a, cmd)
	return cmd
}

func newWritePGMCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write-pgm <image.pgm>",
		Short: "Write a binary PGM image to the flash, one image row per page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]

			img, err := pgm.Open(src, a.log)
			if err != nil {
				return err
			}
			defer img.Close()

			if err := a.confirm(fmt.Sprintf("About to write content of %s in NAND flash. Proceed?", src)); err != nil {
				return err
			}

			return a.withChip(true, func(chip *nand.Chip) error {
				t := a.newTasks(chip)
				ctx, cancel := a.context()
				defer cancel()

				done := a.progress(t, "write-pgm", true)
				res, err := t.EncodeImage(ctx, img, a.start, a.end, a.wrap, a.writeCheck)
				done()
				if err != nil {
					return err
				}

				a.report(res)
				return nil
			})
		},
	}

	addRangeFlags(a, cmd, "page")
	addWriteCheckFlag(a, cmd)
	cmd.Flags().BoolVar(&a.wrap, "wrap", true, "continue with the next column strip once all rows are written")
	return cmd
}

// run executes root and closes the log file afterwards, whether the
// command failed or not.
func (a *app) run(root *cobra.Command) error {
	err := root.Execute()
	if err != nil {
		a.log.Error(err)
	}

	if a.logClose != nil {
		a.log.SetOutput(os.Stderr)
		if cerr := a.logClose.Close(); err == nil {
			err = cerr
		}
	}

	return err
}

func main() {
	a := newApp()

	if err := a.run(newRootCmd(a)); err != nil {
		if errors.Cause(err) == geometry.ErrInvalid || errors.Cause(err) == nand.ErrGeometryUnknown {
			fmt.Fprintln(os.Stderr, "Specify the geometry with --page-size, --pages-per-block and --number-of-blocks")
		}
		os.Exit(1)
	}
}
