//go:build windows

package diskspace

import (
	"syscall"
	"unsafe"
)

// freeMB returns the free space in MB on the volume containing path, via
// GetDiskFreeSpaceExW.
func freeMB(path string) (uint64, error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var freeBytesAvailable uint64
	r, _, err := proc.Call(
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		0, 0,
	)
	if r == 0 {
		return 0, err
	}
	return freeBytesAvailable / (1024 * 1024), nil
}
