// File: pool/memory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

// heapChunkMemory backs a chunk with Go heap memory.
func heapChunkMemory(size int) ([]byte, func()) {
	return make([]byte, size), nil
}
