// File: pool/memory_linux.go
//go:build linux
// +build linux

//
// Linux chunk memory via anonymous mmap, optionally backed by hugepages.
// Falls back to the Go heap when the mapping fails.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "golang.org/x/sys/unix"

// mmapChunkMemory maps size bytes. The returned func unmaps them.
func mmapChunkMemory(size int, hugePages bool) ([]byte, func()) {
	flags := unix.MAP_ANONYMOUS | unix.MAP_PRIVATE
	if hugePages {
		data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags|unix.MAP_HUGETLB)
		if err == nil {
			return data, func() { _ = unix.Munmap(data) }
		}
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return heapChunkMemory(size)
	}
	return data, func() { _ = unix.Munmap(data) }
}
