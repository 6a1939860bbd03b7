package memutil

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestAlignUpDown(t *testing.T) {
	require.Equal(t, uint64(256), AlignUp(uint64(1), uint64(256)))
	require.Equal(t, uint64(256), AlignUp(uint64(256), uint64(256)))
	require.Equal(t, uint64(512), AlignUp(uint64(257), uint64(256)))
	require.Equal(t, uint64(0), AlignDown(uint64(255), uint64(256)))
	require.Equal(t, uint64(256), AlignDown(uint64(300), uint64(256)))
}

func TestNextPow2(t *testing.T) {
	require.Equal(t, uint64(1), NextPow2(0))
	require.Equal(t, uint64(1), NextPow2(1))
	require.Equal(t, uint64(2), NextPow2(2))
	require.Equal(t, uint64(4), NextPow2(3))
	require.Equal(t, uint64(1024), NextPow2(1000))
	require.Equal(t, uint64(1<<20), NextPow2(1<<20))
	require.Equal(t, uint64(1<<21), NextPow2(1<<20+1))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(256, "block"))
	require.NoError(t, CheckPow2(1, "block"))

	err := CheckPow2(300, "block")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotPowerOfTwo))
	require.Contains(t, err.Error(), "block is 300")

	require.Error(t, CheckPow2(0, "zero"))
	require.Error(t, CheckPow2(-4, "negative"))
}

func TestLog2(t *testing.T) {
	require.Equal(t, 0, Log2(1))
	require.Equal(t, 8, Log2(256))
	require.Equal(t, 28, Log2(1<<28))
}
