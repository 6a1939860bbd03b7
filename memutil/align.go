// Package memutil carries the small arithmetic and validation helpers shared
// by the slab allocator and the dispatch-layer bookkeeping.
package memutil

import (
	"math/bits"

	"github.com/pkg/errors"

	"golang.org/x/exp/constraints"
)

// ErrNotPowerOfTwo is returned from CheckPow2 when the tested number is zero,
// negative, or has more than one bit set.
var ErrNotPowerOfTwo = errors.New("number must be a power of two")

// CheckPow2 verifies that number is a power of two, naming it in the error.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, int64(number))
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment, which must be
// a power of two.
func AlignUp[T constraints.Unsigned](value, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the nearest multiple of alignment, which
// must be a power of two.
func AlignDown[T constraints.Unsigned](value, alignment T) T {
	return value &^ (alignment - 1)
}

// NextPow2 returns the smallest power of two that is >= value. NextPow2(0)
// returns 1.
func NextPow2(value uint64) uint64 {
	if value <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(value-1))
}

// Log2 returns the base-2 logarithm of a power-of-two value.
func Log2(value uint64) int {
	return bits.TrailingZeros64(value)
}
