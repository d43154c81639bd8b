package ftdi

import (
	"strconv"
	"strings"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// ParseDeviceSelector applies a "VVVV:PPPP" or "VVVV:PPPP:I" selector to cfg.
// I is the zero based interface (channel) number.
func ParseDeviceSelector(selector string, cfg USBConfig) (USBConfig, error) {
	parts := strings.Split(selector, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return cfg, errors.Errorf("invalid device selector %q, expected VVVV:PPPP[:interface]", selector)
	}

	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return cfg, errors.Wrapf(err, "vendor id %q", parts[0])
	}

	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return cfg, errors.Wrapf(err, "product id %q", parts[1])
	}

	cfg.VID = gousb.ID(vid)
	cfg.PID = gousb.ID(pid)

	if len(parts) == 3 {
		intf, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return cfg, errors.Wrapf(err, "interface %q", parts[2])
		}
		cfg.Interface = int(intf)
	}

	return cfg, nil
}
