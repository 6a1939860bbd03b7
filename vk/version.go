package vk

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// API versions in packed VK_MAKE_API_VERSION form.
const (
	APIVersion10 uint32 = 1 << 22
	APIVersion11 uint32 = 1<<22 | 1<<12
	APIVersion12 uint32 = 1<<22 | 2<<12
	APIVersion13 uint32 = 1<<22 | 3<<12
)

// MakeAPIVersion packs a major/minor/patch triple the way VK_MAKE_API_VERSION
// does, with a zero variant.
func MakeAPIVersion(major, minor, patch uint32) uint32 {
	return major<<22 | minor<<12 | patch
}

func APIVersionMajor(version uint32) uint32 { return (version >> 22) & 0x7f }
func APIVersionMinor(version uint32) uint32 { return (version >> 12) & 0x3ff }
func APIVersionPatch(version uint32) uint32 { return version & 0xfff }

// ParseAPIVersion converts a dotted version string such as "1.3.280" or "1.2"
// into packed form. Manifests in the wild carry both shapes.
func ParseAPIVersion(s string) (uint32, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errors.Newf("malformed api version %q", s)
	}
	nums := make([]uint32, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "malformed api version %q", s)
		}
		nums[i] = uint32(n)
	}
	return MakeAPIVersion(nums[0], nums[1], nums[2]), nil
}

// FormatAPIVersion renders a packed version back into dotted form.
func FormatAPIVersion(version uint32) string {
	return strconv.FormatUint(uint64(APIVersionMajor(version)), 10) + "." +
		strconv.FormatUint(uint64(APIVersionMinor(version)), 10) + "." +
		strconv.FormatUint(uint64(APIVersionPatch(version)), 10)
}
