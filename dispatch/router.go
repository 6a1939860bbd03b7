// Package dispatch routes every intercepted Vulkan call to the driver that
// owns the target handle. It keeps process-wide handle→owner tables, the
// per-level command tables to call through, and the aggregated mode that
// spans one logical instance across every loaded driver.
package dispatch

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

// InstanceRecord ties an instance handle to its owner. Exactly one of the
// two shapes is populated: a per-ICD record has Driver and Commands set; a
// meta record has Parts.
type InstanceRecord struct {
	Handle   vk.Instance
	Driver   *icd.ICD
	Commands *icd.InstanceCommands

	// Parts holds the per-driver native instances backing a meta instance,
	// in registry order. Drivers whose instance creation failed are absent.
	Parts []*InstancePart
	// FailedDrivers lists registry indices excluded from this meta instance.
	FailedDrivers []int
}

// InstancePart is one driver's native instance behind a meta instance.
type InstancePart struct {
	Driver   *icd.ICD
	Handle   vk.Instance
	Commands *icd.InstanceCommands
}

// Meta reports whether the record fans out across drivers.
func (r *InstanceRecord) Meta() bool {
	return len(r.Parts) > 0
}

// PhysicalDeviceRecord ties a physical device to its owning driver and the
// instance it was enumerated from.
type PhysicalDeviceRecord struct {
	Handle   vk.PhysicalDevice
	Driver   *icd.ICD
	Commands *icd.InstanceCommands
	Instance vk.Instance
}

// DeviceRecord ties a device to its owning driver and carries the loaded
// device-level commands plus queue family metadata. Queues, command pools,
// and command buffers map back to their DeviceRecord.
type DeviceRecord struct {
	Handle        vk.Device
	Driver        *icd.ICD
	Commands      *icd.DeviceCommands
	Physical      *PhysicalDeviceRecord
	QueueFamilies []vk.QueueFamilyProperties
	Properties    vk.PhysicalDeviceProperties
	Memory        vk.PhysicalDeviceMemoryProperties
}

// Router resolves the owning driver for any live handle. Reads take a
// lock-free snapshot; writes happen only at object creation/destruction.
type Router struct {
	logger   *slog.Logger
	registry *icd.Registry

	instances       table[vk.Instance, *InstanceRecord]
	physicalDevices table[vk.PhysicalDevice, *PhysicalDeviceRecord]
	devices         table[vk.Device, *DeviceRecord]
	queues          table[vk.Queue, *DeviceRecord]
	commandPools    table[vk.CommandPool, *DeviceRecord]
	commandBuffers  table[vk.CommandBuffer, *DeviceRecord]
}

// NewRouter wraps an initialized registry.
func NewRouter(logger *slog.Logger, registry *icd.Registry) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger, registry: registry}
}

// Registry exposes the backing driver registry.
func (r *Router) Registry() *icd.Registry {
	return r.registry
}

func (r *Router) RecordInstance(record *InstanceRecord) {
	r.instances.put(record.Handle, record)
}

func (r *Router) RecordPhysicalDevice(record *PhysicalDeviceRecord) {
	r.physicalDevices.put(record.Handle, record)
}

func (r *Router) RecordDevice(record *DeviceRecord) {
	r.devices.put(record.Handle, record)
}

func (r *Router) RecordQueue(queue vk.Queue, record *DeviceRecord) {
	r.queues.put(queue, record)
}

func (r *Router) RecordCommandPool(pool vk.CommandPool, record *DeviceRecord) {
	r.commandPools.put(pool, record)
}

func (r *Router) RecordCommandBuffer(cb vk.CommandBuffer, record *DeviceRecord) {
	r.commandBuffers.put(cb, record)
}

func (r *Router) ForgetInstance(handle vk.Instance)     { r.instances.delete(handle) }
func (r *Router) ForgetDevice(handle vk.Device)         { r.devices.delete(handle) }
func (r *Router) ForgetQueue(queue vk.Queue)            { r.queues.delete(queue) }
func (r *Router) ForgetCommandPool(pool vk.CommandPool) { r.commandPools.delete(pool) }
func (r *Router) ForgetCommandBuffer(cb vk.CommandBuffer) {
	r.commandBuffers.delete(cb)
}

// InstanceFor resolves an instance handle, meta or native.
func (r *Router) InstanceFor(handle vk.Instance) (*InstanceRecord, error) {
	record, ok := r.instances.get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "instance %#x", uintptr(handle))
	}
	return record, nil
}

// PhysicalDeviceFor resolves a physical device to its provenance record.
func (r *Router) PhysicalDeviceFor(handle vk.PhysicalDevice) (*PhysicalDeviceRecord, error) {
	record, ok := r.physicalDevices.get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "physical device %#x", uintptr(handle))
	}
	return record, nil
}

// DeviceFor resolves a device handle. There is no fallback at record level:
// callers that can proceed on an owning driver alone use ICDForDevice.
func (r *Router) DeviceFor(handle vk.Device) (*DeviceRecord, error) {
	record, ok := r.devices.get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "device %#x", uintptr(handle))
	}
	return record, nil
}

// ICDForDevice resolves a device's owning driver. A lookup miss falls back
// to the primary driver, but only while exactly one driver is loaded: with
// one driver the answer cannot be wrong, with several it silently routes to
// the wrong hardware.
func (r *Router) ICDForDevice(handle vk.Device) (*icd.ICD, error) {
	if record, ok := r.devices.get(handle); ok {
		return record.Driver, nil
	}
	if r.registry.Count() == 1 {
		if primary := r.registry.Primary(); primary != nil {
			r.logger.Debug("device lookup miss, falling back to primary ICD",
				slog.Uint64("device", uint64(handle)))
			return primary, nil
		}
	}
	return nil, errors.Wrapf(ErrNoDevice, "device %#x", uintptr(handle))
}

// DeviceForQueue resolves the device record a queue belongs to.
func (r *Router) DeviceForQueue(queue vk.Queue) (*DeviceRecord, error) {
	record, ok := r.queues.get(queue)
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "queue %#x", uintptr(queue))
	}
	return record, nil
}

// DeviceForCommandPool resolves the device record a command pool belongs to.
func (r *Router) DeviceForCommandPool(pool vk.CommandPool) (*DeviceRecord, error) {
	record, ok := r.commandPools.get(pool)
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "command pool %#x", pool)
	}
	return record, nil
}

// DeviceForCommandBuffer resolves the device record a command buffer belongs
// to.
func (r *Router) DeviceForCommandBuffer(cb vk.CommandBuffer) (*DeviceRecord, error) {
	record, ok := r.commandBuffers.get(cb)
	if !ok {
		return nil, errors.Wrapf(ErrNoDevice, "command buffer %#x", uintptr(cb))
	}
	return record, nil
}
