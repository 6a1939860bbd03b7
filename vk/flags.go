package vk

// Flag types carry the subset of bits a compute-only facade touches.

type PipelineStageFlags uint32

const (
	PipelineStageTopOfPipe     PipelineStageFlags = 0x00000001
	PipelineStageHost          PipelineStageFlags = 0x00004000
	PipelineStageTransfer      PipelineStageFlags = 0x00001000
	PipelineStageComputeShader PipelineStageFlags = 0x00000800
	PipelineStageBottomOfPipe  PipelineStageFlags = 0x00002000
	PipelineStageAllCommands   PipelineStageFlags = 0x00010000
)

type AccessFlags uint32

const (
	AccessShaderRead    AccessFlags = 0x00000020
	AccessShaderWrite   AccessFlags = 0x00000040
	AccessTransferRead  AccessFlags = 0x00000800
	AccessTransferWrite AccessFlags = 0x00001000
	AccessHostRead      AccessFlags = 0x00002000
	AccessHostWrite     AccessFlags = 0x00004000
	AccessMemoryRead    AccessFlags = 0x00008000
	AccessMemoryWrite   AccessFlags = 0x00010000
)

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc   BufferUsageFlags = 0x00000001
	BufferUsageTransferDst   BufferUsageFlags = 0x00000002
	BufferUsageUniformBuffer BufferUsageFlags = 0x00000010
	BufferUsageStorageBuffer BufferUsageFlags = 0x00000020
)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal  MemoryPropertyFlags = 0x00000001
	MemoryPropertyHostVisible  MemoryPropertyFlags = 0x00000002
	MemoryPropertyHostCoherent MemoryPropertyFlags = 0x00000004
	MemoryPropertyHostCached   MemoryPropertyFlags = 0x00000008
)

type QueueFlags uint32

const (
	QueueGraphics      QueueFlags = 0x00000001
	QueueCompute       QueueFlags = 0x00000002
	QueueTransfer      QueueFlags = 0x00000004
	QueueSparseBinding QueueFlags = 0x00000008
)

type ShaderStageFlags uint32

const (
	ShaderStageCompute ShaderStageFlags = 0x00000020
)

type (
	DependencyFlags           uint32
	BufferCreateFlags         uint32
	CommandPoolCreateFlags    uint32
	CommandBufferUsageFlags   uint32
	DescriptorPoolCreateFlags uint32
	FenceCreateFlags          uint32
	SemaphoreWaitFlags        uint32
	PipelineCreateFlags       uint32
	MemoryMapFlags            uint32
	InstanceCreateFlags       uint32
	DeviceCreateFlags         uint32
	DeviceQueueCreateFlags    uint32
	SharingMode               uint32
	PipelineBindPoint         uint32
	CommandBufferLevel        uint32
	DescriptorType            uint32
	SemaphoreType             uint32
	PhysicalDeviceType        uint32
)

const (
	SharingModeExclusive  SharingMode = 0
	SharingModeConcurrent SharingMode = 1

	PipelineBindPointCompute PipelineBindPoint = 1

	CommandBufferLevelPrimary   CommandBufferLevel = 0
	CommandBufferLevelSecondary CommandBufferLevel = 1

	CommandPoolCreateTransient          CommandPoolCreateFlags = 0x1
	CommandPoolCreateResetCommandBuffer CommandPoolCreateFlags = 0x2

	CommandBufferUsageOneTimeSubmit CommandBufferUsageFlags = 0x1

	DescriptorTypeStorageBuffer DescriptorType = 7

	DescriptorPoolCreateFreeDescriptorSet DescriptorPoolCreateFlags = 0x1

	SemaphoreTypeBinary   SemaphoreType = 0
	SemaphoreTypeTimeline SemaphoreType = 1

	FenceCreateSignaled FenceCreateFlags = 0x1

	PhysicalDeviceTypeOther         PhysicalDeviceType = 0
	PhysicalDeviceTypeIntegratedGPU PhysicalDeviceType = 1
	PhysicalDeviceTypeDiscreteGPU   PhysicalDeviceType = 2
	PhysicalDeviceTypeVirtualGPU    PhysicalDeviceType = 3
	PhysicalDeviceTypeCPU           PhysicalDeviceType = 4
)

// PCI vendor ids used for barrier policy decisions.
const (
	VendorIDAMD    uint32 = 0x1002
	VendorIDNVIDIA uint32 = 0x10DE
	VendorIDIntel  uint32 = 0x8086
)
