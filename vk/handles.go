package vk

// Dispatchable handles are pointers to driver-internal dispatch state, so they
// are pointer-sized. Non-dispatchable handles are 64-bit on every platform.

type (
	// Instance is a dispatchable VkInstance handle.
	Instance uintptr
	// PhysicalDevice is a dispatchable VkPhysicalDevice handle.
	PhysicalDevice uintptr
	// Device is a dispatchable VkDevice handle.
	Device uintptr
	// Queue is a dispatchable VkQueue handle.
	Queue uintptr
	// CommandBuffer is a dispatchable VkCommandBuffer handle.
	CommandBuffer uintptr
)

type (
	Buffer              uint64
	DeviceMemory        uint64
	Semaphore           uint64
	Fence               uint64
	Event               uint64
	CommandPool         uint64
	DescriptorSetLayout uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	PipelineLayout      uint64
	Pipeline            uint64
	ShaderModule        uint64
)

// DeviceSize matches VkDeviceSize.
type DeviceSize = uint64

const (
	// WholeSize is VK_WHOLE_SIZE.
	WholeSize DeviceSize = ^DeviceSize(0)
	// QueueFamilyIgnored is VK_QUEUE_FAMILY_IGNORED.
	QueueFamilyIgnored uint32 = ^uint32(0)
)

// NullHandle reads as zero for any handle type.
const NullHandle = 0
