package icd

import (
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/purego"

	"github.com/cobalt-gpu/cobalt/vk"
)

// ProcAddrFunc resolves a Vulkan entry point by name through an ICD's
// vkGetInstanceProcAddr (or vkGetDeviceProcAddr). A zero return means the
// driver does not export the function.
type ProcAddrFunc func(instance vk.Instance, name string) uintptr

// GlobalCommands are the functions resolvable before any instance exists.
type GlobalCommands struct {
	CreateInstance func(createInfo *vk.InstanceCreateInfo, allocator unsafe.Pointer, instance *vk.Instance) vk.Result

	// Optional; absent on 1.0-only drivers.
	EnumerateInstanceVersion             func(version *uint32) vk.Result
	EnumerateInstanceExtensionProperties func(layerName *byte, count *uint32, properties *vk.ExtensionProperties) vk.Result
}

// InstanceCommands are bound to one native instance of one ICD.
type InstanceCommands struct {
	DestroyInstance                        func(instance vk.Instance, allocator unsafe.Pointer)
	EnumeratePhysicalDevices               func(instance vk.Instance, count *uint32, devices *vk.PhysicalDevice) vk.Result
	GetPhysicalDeviceProperties            func(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties)
	GetPhysicalDeviceQueueFamilyProperties func(device vk.PhysicalDevice, count *uint32, properties *vk.QueueFamilyProperties)
	GetPhysicalDeviceMemoryProperties      func(device vk.PhysicalDevice, properties *vk.PhysicalDeviceMemoryProperties)
	CreateDevice                           func(device vk.PhysicalDevice, createInfo *vk.DeviceCreateInfo, allocator unsafe.Pointer, out *vk.Device) vk.Result
	GetDeviceProcAddr                      ProcAddrDeviceFunc
}

// ProcAddrDeviceFunc mirrors vkGetDeviceProcAddr.
type ProcAddrDeviceFunc func(device vk.Device, name string) uintptr

// DeviceCommands are bound to one native device of one ICD. Nil fields are
// functions the driver chose not to export; every nil field here is optional
// for a compute workload.
type DeviceCommands struct {
	DestroyDevice  func(device vk.Device, allocator unsafe.Pointer)
	GetDeviceQueue func(device vk.Device, family, index uint32, queue *vk.Queue)
	DeviceWaitIdle func(device vk.Device) vk.Result

	QueueSubmit   func(queue vk.Queue, submitCount uint32, submits *vk.SubmitInfo, fence vk.Fence) vk.Result
	QueueWaitIdle func(queue vk.Queue) vk.Result

	AllocateMemory            func(device vk.Device, info *vk.MemoryAllocateInfo, allocator unsafe.Pointer, memory *vk.DeviceMemory) vk.Result
	FreeMemory                func(device vk.Device, memory vk.DeviceMemory, allocator unsafe.Pointer)
	MapMemory                 func(device vk.Device, memory vk.DeviceMemory, offset, size vk.DeviceSize, flags vk.MemoryMapFlags, data *unsafe.Pointer) vk.Result
	UnmapMemory               func(device vk.Device, memory vk.DeviceMemory)
	FlushMappedMemoryRanges   func(device vk.Device, count uint32, ranges *vk.MappedMemoryRange) vk.Result
	InvalidateMappedMemoryRanges func(device vk.Device, count uint32, ranges *vk.MappedMemoryRange) vk.Result

	CreateBuffer                func(device vk.Device, info *vk.BufferCreateInfo, allocator unsafe.Pointer, buffer *vk.Buffer) vk.Result
	DestroyBuffer               func(device vk.Device, buffer vk.Buffer, allocator unsafe.Pointer)
	GetBufferMemoryRequirements func(device vk.Device, buffer vk.Buffer, requirements *vk.MemoryRequirements)
	BindBufferMemory            func(device vk.Device, buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) vk.Result

	CreateDescriptorSetLayout  func(device vk.Device, info *vk.DescriptorSetLayoutCreateInfo, allocator unsafe.Pointer, layout *vk.DescriptorSetLayout) vk.Result
	DestroyDescriptorSetLayout func(device vk.Device, layout vk.DescriptorSetLayout, allocator unsafe.Pointer)
	CreateDescriptorPool       func(device vk.Device, info *vk.DescriptorPoolCreateInfo, allocator unsafe.Pointer, pool *vk.DescriptorPool) vk.Result
	DestroyDescriptorPool      func(device vk.Device, pool vk.DescriptorPool, allocator unsafe.Pointer)
	ResetDescriptorPool        func(device vk.Device, pool vk.DescriptorPool, flags uint32) vk.Result
	AllocateDescriptorSets     func(device vk.Device, info *vk.DescriptorSetAllocateInfo, sets *vk.DescriptorSet) vk.Result
	FreeDescriptorSets         func(device vk.Device, pool vk.DescriptorPool, count uint32, sets *vk.DescriptorSet) vk.Result
	UpdateDescriptorSets       func(device vk.Device, writeCount uint32, writes *vk.WriteDescriptorSet, copyCount uint32, copies unsafe.Pointer)

	CreatePipelineLayout   func(device vk.Device, info *vk.PipelineLayoutCreateInfo, allocator unsafe.Pointer, layout *vk.PipelineLayout) vk.Result
	DestroyPipelineLayout  func(device vk.Device, layout vk.PipelineLayout, allocator unsafe.Pointer)
	CreateComputePipelines func(device vk.Device, cache uint64, count uint32, infos *vk.ComputePipelineCreateInfo, allocator unsafe.Pointer, pipelines *vk.Pipeline) vk.Result
	DestroyPipeline        func(device vk.Device, pipeline vk.Pipeline, allocator unsafe.Pointer)
	CreateShaderModule     func(device vk.Device, info *vk.ShaderModuleCreateInfo, allocator unsafe.Pointer, module *vk.ShaderModule) vk.Result
	DestroyShaderModule    func(device vk.Device, module vk.ShaderModule, allocator unsafe.Pointer)

	CreateCommandPool      func(device vk.Device, info *vk.CommandPoolCreateInfo, allocator unsafe.Pointer, pool *vk.CommandPool) vk.Result
	DestroyCommandPool     func(device vk.Device, pool vk.CommandPool, allocator unsafe.Pointer)
	AllocateCommandBuffers func(device vk.Device, info *vk.CommandBufferAllocateInfo, buffers *vk.CommandBuffer) vk.Result
	FreeCommandBuffers     func(device vk.Device, pool vk.CommandPool, count uint32, buffers *vk.CommandBuffer)
	BeginCommandBuffer     func(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result
	EndCommandBuffer       func(cb vk.CommandBuffer) vk.Result

	CmdBindPipeline       func(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, pipeline vk.Pipeline)
	CmdBindDescriptorSets func(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, firstSet, setCount uint32, sets *vk.DescriptorSet, dynamicOffsetCount uint32, dynamicOffsets *uint32)
	CmdPushConstants      func(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset, size uint32, values unsafe.Pointer)
	CmdDispatch           func(cb vk.CommandBuffer, x, y, z uint32)
	CmdDispatchIndirect   func(cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize)
	CmdPipelineBarrier    func(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, flags vk.DependencyFlags, memoryBarrierCount uint32, memoryBarriers *vk.MemoryBarrier, bufferBarrierCount uint32, bufferBarriers *vk.BufferMemoryBarrier, imageBarrierCount uint32, imageBarriers unsafe.Pointer)
	CmdCopyBuffer         func(cb vk.CommandBuffer, src, dst vk.Buffer, regionCount uint32, regions *vk.BufferCopy)

	CreateFence    func(device vk.Device, info *vk.FenceCreateInfo, allocator unsafe.Pointer, fence *vk.Fence) vk.Result
	DestroyFence   func(device vk.Device, fence vk.Fence, allocator unsafe.Pointer)
	ResetFences    func(device vk.Device, count uint32, fences *vk.Fence) vk.Result
	GetFenceStatus func(device vk.Device, fence vk.Fence) vk.Result
	WaitForFences  func(device vk.Device, count uint32, fences *vk.Fence, waitAll vk.Bool32, timeout uint64) vk.Result

	CreateSemaphore  func(device vk.Device, info *vk.SemaphoreCreateInfo, allocator unsafe.Pointer, semaphore *vk.Semaphore) vk.Result
	DestroySemaphore func(device vk.Device, semaphore vk.Semaphore, allocator unsafe.Pointer)

	// Timeline semaphores; nil when the device predates 1.2 and lacks the
	// extension. The submission batcher degrades to its fallback path then.
	GetSemaphoreCounterValue func(device vk.Device, semaphore vk.Semaphore, value *uint64) vk.Result
	WaitSemaphores           func(device vk.Device, info *vk.SemaphoreWaitInfo, timeout uint64) vk.Result
	SignalSemaphore          func(device vk.Device, info *vk.SemaphoreSignalInfo) vk.Result
}

// SupportsTimeline reports whether the driver exported the timeline counter
// query and wait entry points; SignalSemaphore is not required.
func (c *DeviceCommands) SupportsTimeline() bool {
	return c.GetSemaphoreCounterValue != nil && c.WaitSemaphores != nil
}

// resolver binds named entry points into Go function values and accumulates
// the names that could not be resolved.
type resolver struct {
	lookup  func(name string) uintptr
	missing []string
}

func (r *resolver) require(fptr any, name string) {
	addr := r.lookup(name)
	if addr == 0 {
		r.missing = append(r.missing, name)
		return
	}
	purego.RegisterFunc(fptr, addr)
}

func (r *resolver) optional(fptr any, name string) {
	if addr := r.lookup(name); addr != 0 {
		purego.RegisterFunc(fptr, addr)
	}
}

func (r *resolver) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return errors.Wrapf(ErrFunctionLoadFailed, "%s", strings.Join(r.missing, ", "))
}

// LoadGlobalCommands resolves the pre-instance function set through the ICD
// entry point.
func LoadGlobalCommands(procAddr ProcAddrFunc) (*GlobalCommands, error) {
	commands := &GlobalCommands{}
	r := resolver{lookup: func(name string) uintptr { return procAddr(0, name) }}

	r.require(&commands.CreateInstance, "vkCreateInstance")
	r.optional(&commands.EnumerateInstanceVersion, "vkEnumerateInstanceVersion")
	r.optional(&commands.EnumerateInstanceExtensionProperties, "vkEnumerateInstanceExtensionProperties")

	if err := r.err(); err != nil {
		return nil, err
	}
	return commands, nil
}

// LoadInstanceCommands resolves the instance-level function set for a native
// instance that was just created through this ICD. This must happen
// immediately after instance creation; enumeration is non-functional before
// it.
func LoadInstanceCommands(procAddr ProcAddrFunc, instance vk.Instance) (*InstanceCommands, error) {
	commands := &InstanceCommands{}
	r := resolver{lookup: func(name string) uintptr { return procAddr(instance, name) }}

	r.require(&commands.DestroyInstance, "vkDestroyInstance")
	r.require(&commands.EnumeratePhysicalDevices, "vkEnumeratePhysicalDevices")
	r.require(&commands.GetPhysicalDeviceProperties, "vkGetPhysicalDeviceProperties")
	r.require(&commands.GetPhysicalDeviceQueueFamilyProperties, "vkGetPhysicalDeviceQueueFamilyProperties")
	r.require(&commands.GetPhysicalDeviceMemoryProperties, "vkGetPhysicalDeviceMemoryProperties")
	r.require(&commands.CreateDevice, "vkCreateDevice")
	r.require(&commands.GetDeviceProcAddr, "vkGetDeviceProcAddr")

	if err := r.err(); err != nil {
		return nil, err
	}
	return commands, nil
}

// LoadDeviceCommands resolves the device-level function set. Resolution goes
// through vkGetDeviceProcAddr so the returned pointers skip any internal
// driver trampolines; names the device proc addr cannot see fall back to the
// instance-level resolver.
func LoadDeviceCommands(instanceCommands *InstanceCommands, procAddr ProcAddrFunc, instance vk.Instance, device vk.Device) (*DeviceCommands, error) {
	commands := &DeviceCommands{}
	lookup := func(name string) uintptr {
		if addr := instanceCommands.GetDeviceProcAddr(device, name); addr != 0 {
			return addr
		}
		return procAddr(instance, name)
	}
	r := resolver{lookup: lookup}

	r.require(&commands.DestroyDevice, "vkDestroyDevice")
	r.require(&commands.GetDeviceQueue, "vkGetDeviceQueue")
	r.require(&commands.DeviceWaitIdle, "vkDeviceWaitIdle")
	r.require(&commands.QueueSubmit, "vkQueueSubmit")
	r.require(&commands.QueueWaitIdle, "vkQueueWaitIdle")

	r.require(&commands.AllocateMemory, "vkAllocateMemory")
	r.require(&commands.FreeMemory, "vkFreeMemory")
	r.require(&commands.MapMemory, "vkMapMemory")
	r.require(&commands.UnmapMemory, "vkUnmapMemory")
	r.require(&commands.FlushMappedMemoryRanges, "vkFlushMappedMemoryRanges")
	r.require(&commands.InvalidateMappedMemoryRanges, "vkInvalidateMappedMemoryRanges")

	r.require(&commands.CreateBuffer, "vkCreateBuffer")
	r.require(&commands.DestroyBuffer, "vkDestroyBuffer")
	r.require(&commands.GetBufferMemoryRequirements, "vkGetBufferMemoryRequirements")
	r.require(&commands.BindBufferMemory, "vkBindBufferMemory")

	r.require(&commands.CreateDescriptorSetLayout, "vkCreateDescriptorSetLayout")
	r.require(&commands.DestroyDescriptorSetLayout, "vkDestroyDescriptorSetLayout")
	r.require(&commands.CreateDescriptorPool, "vkCreateDescriptorPool")
	r.require(&commands.DestroyDescriptorPool, "vkDestroyDescriptorPool")
	r.optional(&commands.ResetDescriptorPool, "vkResetDescriptorPool")
	r.require(&commands.AllocateDescriptorSets, "vkAllocateDescriptorSets")
	r.optional(&commands.FreeDescriptorSets, "vkFreeDescriptorSets")
	r.require(&commands.UpdateDescriptorSets, "vkUpdateDescriptorSets")

	r.require(&commands.CreatePipelineLayout, "vkCreatePipelineLayout")
	r.require(&commands.DestroyPipelineLayout, "vkDestroyPipelineLayout")
	r.require(&commands.CreateComputePipelines, "vkCreateComputePipelines")
	r.require(&commands.DestroyPipeline, "vkDestroyPipeline")
	r.require(&commands.CreateShaderModule, "vkCreateShaderModule")
	r.require(&commands.DestroyShaderModule, "vkDestroyShaderModule")

	r.require(&commands.CreateCommandPool, "vkCreateCommandPool")
	r.require(&commands.DestroyCommandPool, "vkDestroyCommandPool")
	r.require(&commands.AllocateCommandBuffers, "vkAllocateCommandBuffers")
	r.optional(&commands.FreeCommandBuffers, "vkFreeCommandBuffers")
	r.require(&commands.BeginCommandBuffer, "vkBeginCommandBuffer")
	r.require(&commands.EndCommandBuffer, "vkEndCommandBuffer")

	r.require(&commands.CmdBindPipeline, "vkCmdBindPipeline")
	r.require(&commands.CmdBindDescriptorSets, "vkCmdBindDescriptorSets")
	r.require(&commands.CmdPushConstants, "vkCmdPushConstants")
	r.require(&commands.CmdDispatch, "vkCmdDispatch")
	r.optional(&commands.CmdDispatchIndirect, "vkCmdDispatchIndirect")
	r.require(&commands.CmdPipelineBarrier, "vkCmdPipelineBarrier")
	r.require(&commands.CmdCopyBuffer, "vkCmdCopyBuffer")

	r.require(&commands.CreateFence, "vkCreateFence")
	r.require(&commands.DestroyFence, "vkDestroyFence")
	r.require(&commands.ResetFences, "vkResetFences")
	r.require(&commands.GetFenceStatus, "vkGetFenceStatus")
	r.require(&commands.WaitForFences, "vkWaitForFences")
	r.require(&commands.CreateSemaphore, "vkCreateSemaphore")
	r.require(&commands.DestroySemaphore, "vkDestroySemaphore")

	r.optional(&commands.GetSemaphoreCounterValue, "vkGetSemaphoreCounterValue")
	r.optional(&commands.WaitSemaphores, "vkWaitSemaphores")
	r.optional(&commands.SignalSemaphore, "vkSignalSemaphore")
	if !commands.SupportsTimeline() {
		// 1.2 drivers exposing timelines through the KHR extension spell the
		// names with the suffix.
		r.optional(&commands.GetSemaphoreCounterValue, "vkGetSemaphoreCounterValueKHR")
		r.optional(&commands.WaitSemaphores, "vkWaitSemaphoresKHR")
		r.optional(&commands.SignalSemaphore, "vkSignalSemaphoreKHR")
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	return commands, nil
}
