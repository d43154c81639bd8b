package ftdi

import "testing"

func TestParseDeviceSelector(t *testing.T) {
	tests := []struct {
		selector string
		vid, pid uint16
		intf     int
		wantErr  bool
	}{
		{"0403:6010", 0x0403, 0x6010, 0, false},
		{"0403:6014:1", 0x0403, 0x6014, 1, false},
		{"0403", 0, 0, 0, true},
		{"xyz:6010", 0, 0, 0, true},
		{"0403:6010:a", 0, 0, 0, true},
		{"0403:6010:1:2", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			cfg, err := ParseDeviceSelector(tt.selector, DefaultUSBConfig())
			if tt.wantErr {
				if err == nil {
					t.Error("Invalid selector accepted")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if uint16(cfg.VID) != tt.vid || uint16(cfg.PID) != tt.pid || cfg.Interface != tt.intf {
				t.Errorf("Got %04x:%04x:%d", uint16(cfg.VID), uint16(cfg.PID), cfg.Interface)
			}
		})
	}
}
