package vk

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestVersionPackUnpack(t *testing.T) {
	version := MakeAPIVersion(1, 3, 280)
	require.Equal(t, uint32(1), APIVersionMajor(version))
	require.Equal(t, uint32(3), APIVersionMinor(version))
	require.Equal(t, uint32(280), APIVersionPatch(version))
	require.Equal(t, "1.3.280", FormatAPIVersion(version))
}

func TestParseAPIVersion(t *testing.T) {
	version, err := ParseAPIVersion("1.2.162")
	require.NoError(t, err)
	require.Equal(t, MakeAPIVersion(1, 2, 162), version)

	version, err = ParseAPIVersion("1.1")
	require.NoError(t, err)
	require.Equal(t, APIVersion11, version)

	for _, bad := range []string{"", "1", "a.b.c", "1.2.3.4", "1..3"} {
		_, err := ParseAPIVersion(bad)
		require.Error(t, err, bad)
	}
}

func TestResultSemantics(t *testing.T) {
	require.NoError(t, Success.Err())
	require.NoError(t, NotReady.Err())
	require.False(t, Timeout.IsError())

	require.Error(t, ErrDeviceLost.Err())
	require.True(t, ErrOutOfDeviceMemory.IsError())
	require.Equal(t, "VK_ERROR_DEVICE_LOST", ErrDeviceLost.Error())
	require.Equal(t, "VkResult(-99)", Result(-99).String())
}

func TestCStringRoundTrip(t *testing.T) {
	ptr := CString("vulkan")
	bytes := unsafe.Slice(ptr, 7)
	require.Equal(t, "vulkan", GoString(bytes))
	require.Equal(t, byte(0), bytes[6])

	array := NewCStringArray([]string{"VK_KHR_one", "VK_KHR_two"})
	require.Equal(t, uint32(2), array.Len())
	require.NotNil(t, array.Ptr())

	empty := NewCStringArray(nil)
	require.Zero(t, empty.Len())
	require.Nil(t, empty.Ptr())
}

// The structs cross the C ABI boundary; their sizes are fixed by the Vulkan
// headers on 64-bit targets.
func TestStructSizesMatchCABI(t *testing.T) {
	require.Equal(t, uintptr(8), unsafe.Sizeof(Instance(0)))
	require.Equal(t, uintptr(8), unsafe.Sizeof(Buffer(0)))

	require.Equal(t, uintptr(48), unsafe.Sizeof(ApplicationInfo{}))
	require.Equal(t, uintptr(64), unsafe.Sizeof(InstanceCreateInfo{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(DeviceQueueCreateInfo{}))
	require.Equal(t, uintptr(72), unsafe.Sizeof(DeviceCreateInfo{}))
	require.Equal(t, uintptr(56), unsafe.Sizeof(BufferCreateInfo{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(MemoryRequirements{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(MemoryAllocateInfo{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(MappedMemoryRange{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(BufferCopy{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(MemoryBarrier{}))
	require.Equal(t, uintptr(56), unsafe.Sizeof(BufferMemoryBarrier{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(CommandPoolCreateInfo{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(CommandBufferAllocateInfo{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(CommandBufferBeginInfo{}))
	require.Equal(t, uintptr(72), unsafe.Sizeof(SubmitInfo{}))
	require.Equal(t, uintptr(48), unsafe.Sizeof(TimelineSemaphoreSubmitInfo{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(SemaphoreCreateInfo{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(SemaphoreTypeCreateInfo{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(SemaphoreWaitInfo{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(SemaphoreSignalInfo{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(FenceCreateInfo{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(DescriptorSetLayoutBinding{}))
	require.Equal(t, uintptr(32), unsafe.Sizeof(DescriptorSetLayoutCreateInfo{}))
	require.Equal(t, uintptr(8), unsafe.Sizeof(DescriptorPoolSize{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(DescriptorPoolCreateInfo{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(DescriptorSetAllocateInfo{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(DescriptorBufferInfo{}))
	require.Equal(t, uintptr(64), unsafe.Sizeof(WriteDescriptorSet{}))
	require.Equal(t, uintptr(12), unsafe.Sizeof(PushConstantRange{}))
	require.Equal(t, uintptr(48), unsafe.Sizeof(PipelineLayoutCreateInfo{}))
	require.Equal(t, uintptr(40), unsafe.Sizeof(ShaderModuleCreateInfo{}))
	require.Equal(t, uintptr(48), unsafe.Sizeof(PipelineShaderStageCreateInfo{}))
	require.Equal(t, uintptr(96), unsafe.Sizeof(ComputePipelineCreateInfo{}))
	require.Equal(t, uintptr(16), unsafe.Sizeof(MemoryHeap{}))
	require.Equal(t, uintptr(8), unsafe.Sizeof(MemoryType{}))
	require.Equal(t, uintptr(24), unsafe.Sizeof(QueueFamilyProperties{}))
	require.Equal(t, uintptr(260), unsafe.Sizeof(ExtensionProperties{}))

	// Field offsets that matter for PNext chaining.
	require.Equal(t, uintptr(8), unsafe.Offsetof(SubmitInfo{}.PNext))
	require.Equal(t, uintptr(8), unsafe.Offsetof(SemaphoreCreateInfo{}.PNext))

	// The properties blob is written wholesale by drivers; the limits block
	// must start at the documented offset.
	require.Equal(t, uintptr(296), unsafe.Offsetof(PhysicalDeviceProperties{}.Limits))
	require.Equal(t, uintptr(20), unsafe.Sizeof(PhysicalDeviceSparseProperties{}))
}

func TestDeviceNameString(t *testing.T) {
	var properties PhysicalDeviceProperties
	copy(properties.DeviceName[:], "AMD Radeon RX 7800 XT\x00garbage")
	require.Equal(t, "AMD Radeon RX 7800 XT", properties.DeviceNameString())
}
