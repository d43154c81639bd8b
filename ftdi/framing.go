package ftdi

/* A burst starts with an extended write that sets the high address byte
 * (our control bits). Following bytes use short writes, the bridge keeps the
 * high address byte latched. */
func encodeWrite(control byte, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}

	cmds := make([]byte, 0, 4+3*(len(data)-1))
	cmds = append(cmds, OpWriteExtended, control, 0, data[0])
	for _, m := range data[1:] {
		cmds = append(cmds, OpWriteShort, 0, m)
	}

	return cmds
}

/* One extended read, size-1 short reads and a flush so the bridge sends the
 * result right away instead of waiting for the latency timer. */
func encodeRead(size int) []byte {
	if size <= 0 {
		return nil
	}

	cmds := make([]byte, 0, 3+2*(size-1)+1)
	cmds = append(cmds, OpReadExtended, 0, 0)
	for i := 1; i < size; i++ {
		cmds = append(cmds, OpReadShort, 0)
	}

	return append(cmds, OpSendImmediate)
}

func controlByte(command bool, address bool, protection Protection) (byte, error) {
	var control byte

	if command && address {
		return 0, ErrInvalidLatchCombination
	}
	if command {
		control |= ControlCommandLatch
	} else if address {
		control |= ControlAddressLatch
	}
	if protection == Unprotected {
		control |= ControlWriteProtectOff
	}

	return control, nil
}
