package ftdi

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

/* FTDI vendor requests */
const (
	sioReset           = 0x00
	sioSetLatencyTimer = 0x09
	sioSetBitmode      = 0x0b

	sioResetPurgeRX = 1
	sioResetPurgeTX = 2

	/* Every bulk IN packet starts with two modem status bytes */
	modemStatusLength = 2
)

type USBConfig struct {
	VID gousb.ID
	PID gousb.ID

	// Interface is the zero based channel, 0 is channel A
	Interface int

	// ReadTimeout bounds a single Port.Read call
	ReadTimeout time.Duration
}

func DefaultUSBConfig() USBConfig {
	return USBConfig{
		VID:         0x0403,
		PID:         0x6010,
		Interface:   0,
		ReadTimeout: time.Second,
	}
}

// USBPort is a Port on top of libusb.
type USBPort struct {
	cfg USBConfig

	ctx   *gousb.Context
	dev   *gousb.Device
	uconf *gousb.Config
	intf  *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint

	rx      []byte
	pending []byte
}

func OpenUSB(cfg USBConfig) (*USBPort, error) {
	p := &USBPort{
		cfg: cfg,
		ctx: gousb.NewContext(),
	}

	if err := p.open(); err != nil {
		p.Close()
		return nil, errors.Wrapf(ErrDeviceUnavailable, "%04x:%04x: %v", uint16(cfg.VID), uint16(cfg.PID), err)
	}

	return p, nil
}

func (p *USBPort) open() error {
	var err error

	p.dev, err = p.ctx.OpenDeviceWithVIDPID(p.cfg.VID, p.cfg.PID)
	if err != nil {
		return err
	}
	if p.dev == nil {
		return errors.New("USB device not found")
	}

	if err := p.dev.SetAutoDetach(true); err != nil {
		return err
	}

	p.uconf, err = p.dev.Config(1)
	if err != nil {
		return err
	}

	p.intf, err = p.uconf.Interface(p.cfg.Interface, 0)
	if err != nil {
		return err
	}

	var inNum, outNum int
	for _, ed := range p.intf.Setting.Endpoints {
		if ed.Direction == gousb.EndpointDirectionIn {
			inNum = ed.Number
		} else {
			outNum = ed.Number
		}
	}
	if inNum == 0 || outNum == 0 {
		return errors.New("interface does not have bulk IN and OUT endpoints")
	}

	if p.in, err = p.intf.InEndpoint(inNum); err != nil {
		return err
	}
	if p.out, err = p.intf.OutEndpoint(outNum); err != nil {
		return err
	}

	p.rx = make([]byte, 8*p.in.Desc.MaxPacketSize)
	return nil
}

func (p *USBPort) Close() error {
	if p.intf != nil {
		p.intf.Close()
		p.intf = nil
	}
	if p.uconf != nil {
		p.uconf.Close()
		p.uconf = nil
	}
	if p.dev != nil {
		p.dev.Close()
		p.dev = nil
	}
	if p.ctx == nil {
		return nil
	}

	ctx := p.ctx
	p.ctx = nil
	return ctx.Close()
}

func (p *USBPort) control(request uint8, value uint16) error {
	_, err := p.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, value, uint16(p.cfg.Interface+1), nil)
	return err
}

func (p *USBPort) SetBitmode(mask byte, mode byte) error {
	return p.control(sioSetBitmode, uint16(mode)<<8|uint16(mask))
}

func (p *USBPort) SetLatencyTimer(ms byte) error {
	return p.control(sioSetLatencyTimer, uint16(ms))
}

func (p *USBPort) Purge() error {
	p.pending = p.pending[:0]

	if err := p.control(sioReset, sioResetPurgeRX); err != nil {
		return err
	}
	return p.control(sioReset, sioResetPurgeTX)
}

func (p *USBPort) Write(buf []byte) (int, error) {
	return p.out.Write(buf)
}

/* Strip the status header from every packet in a bulk transfer */
func (p *USBPort) unpack(data []byte) {
	mps := p.in.Desc.MaxPacketSize

	for len(data) > 0 {
		packet := data
		if len(packet) > mps {
			packet = packet[:mps]
		}
		data = data[len(packet):]

		if len(packet) > modemStatusLength {
			p.pending = append(p.pending, packet[modemStatusLength:]...)
		}
	}
}

// Read returns once buf is full or the read timeout passed.
func (p *USBPort) Read(buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReadTimeout)
	defer cancel()

	for len(p.pending) < len(buf) {
		n, err := p.in.ReadContext(ctx, p.rx)
		p.unpack(p.rx[:n])

		if ctx.Err() != nil {
			break
		}
		if err != nil {
			return 0, err
		}
	}

	n := copy(buf, p.pending)
	p.pending = p.pending[:copy(p.pending, p.pending[n:])]

	return n, nil
}
