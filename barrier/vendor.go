package barrier

import "github.com/cobalt-gpu/cobalt/vk"

// Vendor classifies the GPU behind a device for barrier-policy decisions.
// The classification can only widen the set of barriers that are emitted,
// never the set that is elided beyond what the vendor documents.
type Vendor uint8

const (
	VendorOther Vendor = iota
	VendorAMD
	VendorNVIDIA
	VendorIntel
)

// VendorFromID maps a PCI vendor id to a policy vendor.
func VendorFromID(id uint32) Vendor {
	switch id {
	case vk.VendorIDAMD:
		return VendorAMD
	case vk.VendorIDNVIDIA:
		return VendorNVIDIA
	case vk.VendorIDIntel:
		return VendorIntel
	default:
		return VendorOther
	}
}

func (v Vendor) String() string {
	switch v {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorIntel:
		return "Intel"
	default:
		return "Other"
	}
}

// elidesWriteAfterWrite reports whether consecutive compute-shader writes to
// distinct resources on the same queue may skip the write→write barrier.
// NVIDIA documents ordering for this case; everyone else gets the barrier.
func (v Vendor) elidesWriteAfterWrite() bool {
	return v == VendorNVIDIA
}
