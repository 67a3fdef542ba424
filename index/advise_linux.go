//go:build linux

package index

import (
	"syscall"
	"unsafe"
)

const madvRandom = 1 // MADV_RANDOM, per <sys/mman.h>

// adviseRandom hints that accesses into mm will be random, matching the
// original reader's explicit MADV_RANDOM request on ksx mappings.
// edsrzf/mmap-go exposes no advise call, so this talks to madvise(2)
// directly; failure is non-fatal, it only affects the kernel's readahead
// heuristic.
func adviseRandom(mm []byte) {
	if len(mm) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(&mm[0]))
	_, _, _ = syscall.Syscall(syscall.SYS_MADVISE, addr, uintptr(len(mm)), uintptr(madvRandom))
}
