// File: pool/memory_other.go
//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

func mmapChunkMemory(size int, _ bool) ([]byte, func()) {
	return heapChunkMemory(size)
}
