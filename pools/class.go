package pools

import "github.com/cobalt-gpu/cobalt/vk"

// Class selects which of the three per-device pools an allocation comes
// from.
type Class uint8

const (
	// DeviceLocal is GPU-only memory.
	DeviceLocal Class = iota
	// HostVisibleCoherent is pinned staging memory, persistently mapped.
	HostVisibleCoherent
	// HostVisibleCached is readback memory, persistently mapped.
	HostVisibleCached

	classCount
)

// RequiredFlags returns the memory property bits a memory type must carry to
// back this class.
func (c Class) RequiredFlags() vk.MemoryPropertyFlags {
	switch c {
	case DeviceLocal:
		return vk.MemoryPropertyDeviceLocal
	case HostVisibleCoherent:
		return vk.MemoryPropertyHostVisible | vk.MemoryPropertyHostCoherent
	default:
		return vk.MemoryPropertyHostVisible | vk.MemoryPropertyHostCached
	}
}

// HostVisible reports whether slabs of this class are persistently mapped.
func (c Class) HostVisible() bool {
	return c != DeviceLocal
}

func (c Class) String() string {
	switch c {
	case DeviceLocal:
		return "DeviceLocal"
	case HostVisibleCoherent:
		return "HostVisibleCoherent"
	default:
		return "HostVisibleCached"
	}
}
