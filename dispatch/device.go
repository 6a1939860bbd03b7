package dispatch

import (
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

// DeviceOptions select the queue to create and the device extensions to
// enable.
type DeviceOptions struct {
	QueueFamilyIndex uint32
	Extensions       []string
}

// CreateDevice creates a native device through the driver that owns the
// physical device, loads the device-level command table, gathers the
// metadata the optimization layers need, and records everything with the
// router. No handle from one driver ever reaches another.
func (r *Router) CreateDevice(physical vk.PhysicalDevice, options DeviceOptions) (*DeviceRecord, error) {
	physicalRecord, err := r.PhysicalDeviceFor(physical)
	if err != nil {
		return nil, err
	}
	commands := physicalRecord.Commands

	priority := float32(1.0)
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: options.QueueFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: &priority,
	}
	extensionNames := vk.NewCStringArray(options.Extensions)
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       &queueInfo,
		EnabledExtensionCount:   extensionNames.Len(),
		PpEnabledExtensionNames: extensionNames.Ptr(),
	}

	var handle vk.Device
	result := commands.CreateDevice(physical, &createInfo, nil, &handle)
	runtime.KeepAlive(extensionNames)
	if err := result.Err(); err != nil {
		return nil, errors.Wrapf(err, "vkCreateDevice on %s", physicalRecord.Driver.LibraryPath)
	}

	deviceCommands, err := physicalRecord.Driver.BindDevice(physicalRecord.Instance, handle)
	if err != nil {
		return nil, err
	}

	record := &DeviceRecord{
		Handle:        handle,
		Driver:        physicalRecord.Driver,
		Commands:      deviceCommands,
		Physical:      physicalRecord,
		QueueFamilies: queueFamilies(commands, physical),
	}
	commands.GetPhysicalDeviceProperties(physical, &record.Properties)
	commands.GetPhysicalDeviceMemoryProperties(physical, &record.Memory)

	r.RecordDevice(record)
	return record, nil
}

func queueFamilies(commands *icd.InstanceCommands, physical vk.PhysicalDevice) []vk.QueueFamilyProperties {
	var count uint32
	commands.GetPhysicalDeviceQueueFamilyProperties(physical, &count, nil)
	if count == 0 {
		return nil
	}
	families := make([]vk.QueueFamilyProperties, count)
	commands.GetPhysicalDeviceQueueFamilyProperties(physical, &count, &families[0])
	return families[:count]
}

// Queue retrieves a device queue and records its provenance.
func (r *Router) Queue(device vk.Device, family, index uint32) (vk.Queue, error) {
	record, err := r.DeviceFor(device)
	if err != nil {
		return 0, err
	}
	var queue vk.Queue
	record.Commands.GetDeviceQueue(device, family, index, &queue)
	if queue == 0 {
		return 0, errors.Wrapf(ErrNoDevice, "queue family %d index %d", family, index)
	}
	r.RecordQueue(queue, record)
	return queue, nil
}

// CreateCommandPool creates a command pool on the device's driver and
// records it.
func (r *Router) CreateCommandPool(device vk.Device, family uint32) (vk.CommandPool, error) {
	record, err := r.DeviceFor(device)
	if err != nil {
		return 0, err
	}
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateResetCommandBuffer,
		QueueFamilyIndex: family,
	}
	var pool vk.CommandPool
	if err := record.Commands.CreateCommandPool(device, &createInfo, nil, &pool).Err(); err != nil {
		return 0, err
	}
	r.RecordCommandPool(pool, record)
	return pool, nil
}

// AllocateCommandBuffers allocates primary command buffers from a pool and
// records each with the pool's device.
func (r *Router) AllocateCommandBuffers(pool vk.CommandPool, count uint32) ([]vk.CommandBuffer, error) {
	record, err := r.DeviceForCommandPool(pool)
	if err != nil {
		return nil, err
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := record.Commands.AllocateCommandBuffers(record.Handle, &allocateInfo, &buffers[0]).Err(); err != nil {
		return nil, err
	}
	for _, cb := range buffers {
		r.RecordCommandBuffer(cb, record)
	}
	return buffers, nil
}

// DestroyDevice waits for the device to idle, destroys it, and drops every
// router record that referenced it.
func (r *Router) DestroyDevice(device vk.Device) error {
	record, err := r.DeviceFor(device)
	if err != nil {
		return err
	}
	record.Commands.DeviceWaitIdle(device)
	record.Commands.DestroyDevice(device, nil)
	record.Driver.ForgetDevice(device)
	r.ForgetDevice(device)
	return nil
}
