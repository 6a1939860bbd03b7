// Package dispatchtest fabricates complete fake drivers for exercising the
// router, the aggregation layer, and the compute surface without any native
// library. Each fake driver models enough of a device (memory backing,
// buffer bindings, copies, timeline semaphores) that upload/download paths
// move real bytes.
package dispatchtest

import (
	"sync/atomic"
	"unsafe"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

// handleCounter hands out process-unique fake handles across all fake
// drivers, stepping by 16 so fakes never collide with the odd-valued meta
// handles.
var handleCounter atomic.Uint64

func nextHandle() uint64 {
	return handleCounter.Add(16)
}

// Options shape one fake driver.
type Options struct {
	// LibraryPath defaults to a unique fake path.
	LibraryPath string
	// APIVersion defaults to 1.2.
	APIVersion uint32
	// Software marks the driver as a software rasterizer.
	Software bool
	// PhysicalDeviceCount defaults to 1. Zero is respected: some drivers
	// genuinely enumerate nothing.
	PhysicalDeviceCount int
	// VendorID defaults to AMD.
	VendorID uint32
	// FailInstanceCreation makes vkCreateInstance fail.
	FailInstanceCreation bool
	// NoTimeline withholds the timeline semaphore entry points.
	NoTimeline bool
	// MaxPushConstants defaults to 128.
	MaxPushConstants uint32

	zeroDevices bool
}

// WithZeroDevices marks the driver as enumerating no physical devices even
// though PhysicalDeviceCount is unset.
func (o Options) WithZeroDevices() Options {
	o.PhysicalDeviceCount = 0
	o.zeroDevices = true
	return o
}

// Counters record what the fake driver was asked to do.
type Counters struct {
	InstanceCreations  atomic.Uint64
	DeviceCreations    atomic.Uint64
	SubmitCalls        atomic.Uint64
	DescriptorUpdates  atomic.Uint64
	BarrierCommands    atomic.Uint64
	DispatchCommands   atomic.Uint64
	MemoryAllocations  atomic.Uint64
	BufferCreations    atomic.Uint64
	PipelineCreations  atomic.Uint64
}

type bufferBinding struct {
	memory vk.DeviceMemory
	offset uint64
	size   uint64
}

// Driver is one fabricated ICD plus observable state.
type Driver struct {
	ICD      *icd.ICD
	Counters Counters

	options         Options
	physicalDevices []vk.PhysicalDevice

	memories   map[vk.DeviceMemory][]byte
	buffers    map[vk.Buffer]uint64 // buffer → size
	bindings   map[vk.Buffer]bufferBinding
	semaphores map[vk.Semaphore]uint64
	fences     map[vk.Fence]bool
}

// NativeSubmits returns how many vkQueueSubmit calls the driver saw.
func (d *Driver) NativeSubmits() uint64 {
	return d.Counters.SubmitCalls.Load()
}

// NewDriver fabricates a driver and registers its tables.
func NewDriver(options Options) *Driver {
	if options.LibraryPath == "" {
		options.LibraryPath = "/usr/lib/libfake_icd_" + itoa(nextHandle()) + ".so"
	}
	if options.APIVersion == 0 {
		options.APIVersion = vk.APIVersion12
	}
	if options.PhysicalDeviceCount == 0 && !options.zeroDevices {
		options.PhysicalDeviceCount = 1
	}
	if options.VendorID == 0 {
		options.VendorID = vk.VendorIDAMD
	}
	if options.MaxPushConstants == 0 {
		options.MaxPushConstants = 128
	}

	driver := &Driver{
		options:    options,
		memories:   map[vk.DeviceMemory][]byte{},
		buffers:    map[vk.Buffer]uint64{},
		bindings:   map[vk.Buffer]bufferBinding{},
		semaphores: map[vk.Semaphore]uint64{},
		fences:     map[vk.Fence]bool{},
	}
	for i := 0; i < options.PhysicalDeviceCount; i++ {
		driver.physicalDevices = append(driver.physicalDevices, vk.PhysicalDevice(nextHandle()))
	}

	info := icd.Info{
		LibraryPath:  options.LibraryPath,
		ManifestPath: options.LibraryPath + ".json",
		APIVersion:   options.APIVersion,
		Software:     options.Software,
	}
	driver.ICD = icd.NewICD(info, driver.globalCommands())
	driver.ICD.LoadInstanceCommandsFunc = func(instance vk.Instance) (*icd.InstanceCommands, error) {
		return driver.instanceCommands(), nil
	}
	driver.ICD.LoadDeviceCommandsFunc = func(instance vk.Instance, device vk.Device) (*icd.DeviceCommands, error) {
		return driver.deviceCommands(), nil
	}
	return driver
}

// NewRegistry assembles an initialized registry over fake drivers.
func NewRegistry(drivers ...*Driver) *icd.Registry {
	icds := make([]*icd.ICD, len(drivers))
	for i, driver := range drivers {
		icds[i] = driver.ICD
	}
	return icd.NewStaticRegistry(nil, icds)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func (d *Driver) globalCommands() *icd.GlobalCommands {
	return &icd.GlobalCommands{
		CreateInstance: func(createInfo *vk.InstanceCreateInfo, allocator unsafe.Pointer, instance *vk.Instance) vk.Result {
			if d.options.FailInstanceCreation {
				return vk.ErrIncompatibleDriver
			}
			d.Counters.InstanceCreations.Add(1)
			*instance = vk.Instance(nextHandle())
			return vk.Success
		},
	}
}

func (d *Driver) instanceCommands() *icd.InstanceCommands {
	return &icd.InstanceCommands{
		DestroyInstance: func(instance vk.Instance, allocator unsafe.Pointer) {},
		EnumeratePhysicalDevices: func(instance vk.Instance, count *uint32, devices *vk.PhysicalDevice) vk.Result {
			if devices == nil {
				*count = uint32(len(d.physicalDevices))
				return vk.Success
			}
			out := unsafe.Slice(devices, *count)
			n := copy(out, d.physicalDevices)
			*count = uint32(n)
			return vk.Success
		},
		GetPhysicalDeviceProperties: func(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties) {
			*properties = vk.PhysicalDeviceProperties{
				APIVersion: d.options.APIVersion,
				VendorID:   d.options.VendorID,
				DeviceType: vk.PhysicalDeviceTypeDiscreteGPU,
			}
			copy(properties.DeviceName[:], "fake-"+itoa(uint64(device)))
			properties.Limits.MaxPushConstantsSize = d.options.MaxPushConstants
			properties.Limits.MaxComputeWorkGroupCount = [3]uint32{65535, 65535, 65535}
		},
		GetPhysicalDeviceQueueFamilyProperties: func(device vk.PhysicalDevice, count *uint32, properties *vk.QueueFamilyProperties) {
			if properties == nil {
				*count = 1
				return
			}
			out := unsafe.Slice(properties, *count)
			out[0] = vk.QueueFamilyProperties{
				QueueFlags: vk.QueueCompute | vk.QueueTransfer,
				QueueCount: 1,
			}
			*count = 1
		},
		GetPhysicalDeviceMemoryProperties: func(device vk.PhysicalDevice, properties *vk.PhysicalDeviceMemoryProperties) {
			*properties = vk.PhysicalDeviceMemoryProperties{MemoryTypeCount: 3, MemoryHeapCount: 2}
			properties.MemoryTypes[0] = vk.MemoryType{PropertyFlags: vk.MemoryPropertyDeviceLocal, HeapIndex: 0}
			properties.MemoryTypes[1] = vk.MemoryType{
				PropertyFlags: vk.MemoryPropertyHostVisible | vk.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			}
			properties.MemoryTypes[2] = vk.MemoryType{
				PropertyFlags: vk.MemoryPropertyHostVisible | vk.MemoryPropertyHostCached,
				HeapIndex:     1,
			}
			properties.MemoryHeaps[0] = vk.MemoryHeap{Size: 4 << 30}
			properties.MemoryHeaps[1] = vk.MemoryHeap{Size: 16 << 30}
		},
		CreateDevice: func(device vk.PhysicalDevice, createInfo *vk.DeviceCreateInfo, allocator unsafe.Pointer, out *vk.Device) vk.Result {
			d.Counters.DeviceCreations.Add(1)
			*out = vk.Device(nextHandle())
			return vk.Success
		},
		GetDeviceProcAddr: func(device vk.Device, name string) uintptr { return 0 },
	}
}

func (d *Driver) binding(buffer vk.Buffer) ([]byte, bool) {
	bound, ok := d.bindings[buffer]
	if !ok {
		return nil, false
	}
	backing, ok := d.memories[bound.memory]
	if !ok {
		return nil, false
	}
	return backing[bound.offset : bound.offset+bound.size], true
}

func (d *Driver) deviceCommands() *icd.DeviceCommands {
	commands := &icd.DeviceCommands{
		DestroyDevice: func(device vk.Device, allocator unsafe.Pointer) {},
		GetDeviceQueue: func(device vk.Device, family, index uint32, queue *vk.Queue) {
			*queue = vk.Queue(nextHandle())
		},
		DeviceWaitIdle: func(device vk.Device) vk.Result { return vk.Success },
		QueueWaitIdle:  func(queue vk.Queue) vk.Result { return vk.Success },

		QueueSubmit: func(queue vk.Queue, submitCount uint32, submits *vk.SubmitInfo, fence vk.Fence) vk.Result {
			d.Counters.SubmitCalls.Add(1)
			for _, submit := range unsafe.Slice(submits, submitCount) {
				if submit.PNext != nil && submit.SignalSemaphoreCount > 0 {
					timelineInfo := (*vk.TimelineSemaphoreSubmitInfo)(submit.PNext)
					values := unsafe.Slice(timelineInfo.PSignalSemaphoreValues, timelineInfo.SignalSemaphoreValueCount)
					semaphores := unsafe.Slice(submit.PSignalSemaphores, submit.SignalSemaphoreCount)
					for i, semaphore := range semaphores {
						if values[i] > d.semaphores[semaphore] {
							d.semaphores[semaphore] = values[i]
						}
					}
				}
			}
			if fence != 0 {
				d.fences[fence] = true
			}
			return vk.Success
		},

		AllocateMemory: func(device vk.Device, info *vk.MemoryAllocateInfo, allocator unsafe.Pointer, memory *vk.DeviceMemory) vk.Result {
			d.Counters.MemoryAllocations.Add(1)
			*memory = vk.DeviceMemory(nextHandle())
			d.memories[*memory] = make([]byte, info.AllocationSize)
			return vk.Success
		},
		FreeMemory: func(device vk.Device, memory vk.DeviceMemory, allocator unsafe.Pointer) {
			delete(d.memories, memory)
		},
		MapMemory: func(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize, flags vk.MemoryMapFlags, data *unsafe.Pointer) vk.Result {
			backing := d.memories[memory]
			if backing == nil {
				return vk.ErrMemoryMapFailed
			}
			*data = unsafe.Pointer(&backing[offset])
			return vk.Success
		},
		UnmapMemory:                  func(device vk.Device, memory vk.DeviceMemory) {},
		FlushMappedMemoryRanges:      func(device vk.Device, count uint32, ranges *vk.MappedMemoryRange) vk.Result { return vk.Success },
		InvalidateMappedMemoryRanges: func(device vk.Device, count uint32, ranges *vk.MappedMemoryRange) vk.Result { return vk.Success },

		CreateBuffer: func(device vk.Device, info *vk.BufferCreateInfo, allocator unsafe.Pointer, buffer *vk.Buffer) vk.Result {
			d.Counters.BufferCreations.Add(1)
			*buffer = vk.Buffer(nextHandle())
			d.buffers[*buffer] = info.Size
			return vk.Success
		},
		DestroyBuffer: func(device vk.Device, buffer vk.Buffer, allocator unsafe.Pointer) {
			delete(d.buffers, buffer)
			delete(d.bindings, buffer)
		},
		GetBufferMemoryRequirements: func(device vk.Device, buffer vk.Buffer, requirements *vk.MemoryRequirements) {
			*requirements = vk.MemoryRequirements{
				Size:           d.buffers[buffer],
				Alignment:      256,
				MemoryTypeBits: 0x7,
			}
		},
		BindBufferMemory: func(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result {
			d.bindings[buffer] = bufferBinding{memory: memory, offset: offset, size: d.buffers[buffer]}
			return vk.Success
		},

		CreateDescriptorSetLayout: func(device vk.Device, info *vk.DescriptorSetLayoutCreateInfo, allocator unsafe.Pointer, layout *vk.DescriptorSetLayout) vk.Result {
			*layout = vk.DescriptorSetLayout(nextHandle())
			return vk.Success
		},
		DestroyDescriptorSetLayout: func(device vk.Device, layout vk.DescriptorSetLayout, allocator unsafe.Pointer) {},
		CreateDescriptorPool: func(device vk.Device, info *vk.DescriptorPoolCreateInfo, allocator unsafe.Pointer, pool *vk.DescriptorPool) vk.Result {
			if info.PoolSizeCount == 0 || info.PPoolSizes == nil || info.MaxSets == 0 {
				return vk.ErrValidationFailed
			}
			*pool = vk.DescriptorPool(nextHandle())
			return vk.Success
		},
		DestroyDescriptorPool: func(device vk.Device, pool vk.DescriptorPool, allocator unsafe.Pointer) {},
		AllocateDescriptorSets: func(device vk.Device, info *vk.DescriptorSetAllocateInfo, sets *vk.DescriptorSet) vk.Result {
			*sets = vk.DescriptorSet(nextHandle())
			return vk.Success
		},
		UpdateDescriptorSets: func(device vk.Device, writeCount uint32, writes *vk.WriteDescriptorSet, copyCount uint32, copies unsafe.Pointer) {
			d.Counters.DescriptorUpdates.Add(1)
		},

		CreatePipelineLayout: func(device vk.Device, info *vk.PipelineLayoutCreateInfo, allocator unsafe.Pointer, layout *vk.PipelineLayout) vk.Result {
			if info.PushConstantRangeCount > 0 && info.PPushConstantRanges.Size > d.options.MaxPushConstants {
				return vk.ErrValidationFailed
			}
			*layout = vk.PipelineLayout(nextHandle())
			return vk.Success
		},
		DestroyPipelineLayout: func(device vk.Device, layout vk.PipelineLayout, allocator unsafe.Pointer) {},
		CreateComputePipelines: func(device vk.Device, cache uint64, count uint32, infos *vk.ComputePipelineCreateInfo, allocator unsafe.Pointer, pipelines *vk.Pipeline) vk.Result {
			d.Counters.PipelineCreations.Add(1)
			*pipelines = vk.Pipeline(nextHandle())
			return vk.Success
		},
		DestroyPipeline: func(device vk.Device, pipeline vk.Pipeline, allocator unsafe.Pointer) {},
		CreateShaderModule: func(device vk.Device, info *vk.ShaderModuleCreateInfo, allocator unsafe.Pointer, module *vk.ShaderModule) vk.Result {
			*module = vk.ShaderModule(nextHandle())
			return vk.Success
		},
		DestroyShaderModule: func(device vk.Device, module vk.ShaderModule, allocator unsafe.Pointer) {},

		CreateCommandPool: func(device vk.Device, info *vk.CommandPoolCreateInfo, allocator unsafe.Pointer, pool *vk.CommandPool) vk.Result {
			*pool = vk.CommandPool(nextHandle())
			return vk.Success
		},
		DestroyCommandPool: func(device vk.Device, pool vk.CommandPool, allocator unsafe.Pointer) {},
		AllocateCommandBuffers: func(device vk.Device, info *vk.CommandBufferAllocateInfo, buffers *vk.CommandBuffer) vk.Result {
			out := unsafe.Slice(buffers, info.CommandBufferCount)
			for i := range out {
				out[i] = vk.CommandBuffer(nextHandle())
			}
			return vk.Success
		},
		BeginCommandBuffer: func(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result { return vk.Success },
		EndCommandBuffer:   func(cb vk.CommandBuffer) vk.Result { return vk.Success },

		CmdBindPipeline: func(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, pipeline vk.Pipeline) {},
		CmdBindDescriptorSets: func(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, firstSet, setCount uint32, sets *vk.DescriptorSet, dynamicOffsetCount uint32, dynamicOffsets *uint32) {
		},
		CmdPushConstants: func(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset, size uint32, values unsafe.Pointer) {
		},
		CmdDispatch: func(cb vk.CommandBuffer, x, y, z uint32) {
			d.Counters.DispatchCommands.Add(1)
		},
		CmdPipelineBarrier: func(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, flags vk.DependencyFlags, memoryBarrierCount uint32, memoryBarriers *vk.MemoryBarrier, bufferBarrierCount uint32, bufferBarriers *vk.BufferMemoryBarrier, imageBarrierCount uint32, imageBarriers unsafe.Pointer) {
			d.Counters.BarrierCommands.Add(uint64(bufferBarrierCount) + uint64(memoryBarrierCount))
		},
		CmdCopyBuffer: func(cb vk.CommandBuffer, src, dst vk.Buffer, regionCount uint32, regions *vk.BufferCopy) {
			// The fake executes copies eagerly at record time; command
			// buffers are opaque tokens here.
			srcBytes, srcOK := d.binding(src)
			dstBytes, dstOK := d.binding(dst)
			if !srcOK || !dstOK {
				return
			}
			for _, region := range unsafe.Slice(regions, regionCount) {
				copy(dstBytes[region.DstOffset:region.DstOffset+region.Size],
					srcBytes[region.SrcOffset:region.SrcOffset+region.Size])
			}
		},

		CreateFence: func(device vk.Device, info *vk.FenceCreateInfo, allocator unsafe.Pointer, fence *vk.Fence) vk.Result {
			*fence = vk.Fence(nextHandle())
			d.fences[*fence] = false
			return vk.Success
		},
		DestroyFence: func(device vk.Device, fence vk.Fence, allocator unsafe.Pointer) {
			delete(d.fences, fence)
		},
		ResetFences: func(device vk.Device, count uint32, fences *vk.Fence) vk.Result {
			for _, fence := range unsafe.Slice(fences, count) {
				d.fences[fence] = false
			}
			return vk.Success
		},
		GetFenceStatus: func(device vk.Device, fence vk.Fence) vk.Result {
			if d.fences[fence] {
				return vk.Success
			}
			return vk.NotReady
		},
		WaitForFences: func(device vk.Device, count uint32, fences *vk.Fence, waitAll vk.Bool32, timeout uint64) vk.Result {
			for _, fence := range unsafe.Slice(fences, count) {
				if !d.fences[fence] {
					return vk.Timeout
				}
			}
			return vk.Success
		},

		CreateSemaphore: func(device vk.Device, info *vk.SemaphoreCreateInfo, allocator unsafe.Pointer, semaphore *vk.Semaphore) vk.Result {
			initial := uint64(0)
			if info.PNext != nil {
				typeInfo := (*vk.SemaphoreTypeCreateInfo)(info.PNext)
				initial = typeInfo.InitialValue
			}
			*semaphore = vk.Semaphore(nextHandle())
			d.semaphores[*semaphore] = initial
			return vk.Success
		},
		DestroySemaphore: func(device vk.Device, semaphore vk.Semaphore, allocator unsafe.Pointer) {
			delete(d.semaphores, semaphore)
		},
	}

	if !d.options.NoTimeline {
		commands.GetSemaphoreCounterValue = func(device vk.Device, semaphore vk.Semaphore, value *uint64) vk.Result {
			*value = d.semaphores[semaphore]
			return vk.Success
		}
		commands.WaitSemaphores = func(device vk.Device, info *vk.SemaphoreWaitInfo, timeout uint64) vk.Result {
			semaphores := unsafe.Slice(info.PSemaphores, info.SemaphoreCount)
			values := unsafe.Slice(info.PValues, info.SemaphoreCount)
			for i := range semaphores {
				if d.semaphores[semaphores[i]] < values[i] {
					return vk.Timeout
				}
			}
			return vk.Success
		}
		commands.SignalSemaphore = func(device vk.Device, info *vk.SemaphoreSignalInfo) vk.Result {
			if info.Value > d.semaphores[info.Semaphore] {
				d.semaphores[info.Semaphore] = info.Value
			}
			return vk.Success
		}
	}
	return commands
}
