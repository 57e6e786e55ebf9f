package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
)

func TestCPUForIndexWraps(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, CPUForIndex(0))
	assert.Equal(t, 0, CPUForIndex(n))
	assert.Equal(t, 1%n, CPUForIndex(n+1))
}

func TestSetAffinity(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := SetAffinity(0)
	if err != nil {
		// containers and non-linux hosts may refuse pinning.
		require.ErrorIs(t, err, api.ErrNotSupported)
	}
}
