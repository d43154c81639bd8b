package nand

/* Status register fault patterns. Both are independent and both are checked
 * after every program or erase. */
const (
	/* FAIL with FAILC set, program and copyback program series */
	statusProgramMask  = 0x03
	statusProgramFail  = 0x02
	statusCachedMask   = 0x30
	statusCachedFailed = 0x20

	/* FAIL with ARDY set, program and erase series */
	statusFailMask = 0x11
)

// StatusFault reports whether a status register value signals a failed
// program or erase operation.
func StatusFault(status byte) bool {
	if status&statusProgramMask == statusProgramFail && status&statusCachedMask == statusCachedFailed {
		return true
	}
	return status&statusFailMask == statusFailMask
}
