// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.
// Event loops call SetAffinity from their own goroutine after locking it to an OS thread.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a given logical CPU on supported platforms.
// The caller must hold runtime.LockOSThread. On unsupported platforms returns
// api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUForIndex maps a loop index onto the available CPUs round-robin.
func CPUForIndex(i int) int {
	n := runtime.NumCPU()
	if n <= 0 {
		return 0
	}
	return i % n
}
