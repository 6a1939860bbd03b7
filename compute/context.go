// Package compute is the safe surface over the driver-routing core: a
// context owning one device, plus buffer, pipeline, and command-recording
// helpers that thread every native call through the dispatch router and the
// four optimization layers.
package compute

import (
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/barrier"
	"github.com/cobalt-gpu/cobalt/descriptors"
	"github.com/cobalt-gpu/cobalt/dispatch"
	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/pools"
	"github.com/cobalt-gpu/cobalt/timeline"
	"github.com/cobalt-gpu/cobalt/vk"
)

// Submitter is the submission interface the context drives. The timeline
// batcher implements it; tests substitute their own.
type Submitter interface {
	Enqueue(queue vk.Queue, commandBuffer vk.CommandBuffer, waits []timeline.Wait) (uint64, error)
	Flush(queue vk.Queue) error
	Wait(queue vk.Queue, value uint64, timeout time.Duration) error
}

// Options configure context creation.
type Options struct {
	// ApplicationName is reported to drivers.
	ApplicationName string
	// Aggregate spans the logical instance across every loaded ICD. Defaults
	// to the environment flag.
	Aggregate bool
	// PreferredICDPath pins primary selection to a library or manifest path.
	PreferredICDPath string
	// PhysicalDeviceIndex picks from the enumerated devices. Default 0.
	PhysicalDeviceIndex int
	// QueueFamilyIndex pins the compute queue family. Zero auto-selects the
	// first compute-capable family, which on every known driver is family
	// zero anyway when it is pinned explicitly.
	QueueFamilyIndex int
	// BatchSize overrides the submission batch size.
	BatchSize int
	// SlabSize overrides the allocator slab size.
	SlabSize uint64
}

// Context owns one compute device end to end: registry, router, queue,
// command pool, and the four optimization subsystems.
type Context struct {
	logger *slog.Logger

	registry *icd.Registry
	router   *dispatch.Router
	instance *dispatch.InstanceRecord
	device   *dispatch.DeviceRecord
	queue    vk.Queue
	family   uint32
	pool     vk.CommandPool

	allocator   *pools.Allocator
	tracker     *barrier.Tracker
	batcher     *timeline.Batcher
	submitter   Submitter
	descriptors *descriptors.Manager
}

// NewContext discovers and loads drivers, creates an instance and device,
// and stands up the optimization layers.
func NewContext(logger *slog.Logger, options Options) (*Context, error) {
	if logger == nil {
		level := new(slog.LevelVar)
		level.Set(icd.LogLevel())
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	registry := icd.NewRegistry(logger)
	if options.PreferredICDPath != "" {
		registry.SetPreferredPath(options.PreferredICDPath)
	}
	if err := registry.Initialize(); err != nil {
		return nil, err
	}
	return NewContextFrom(logger, dispatch.NewRouter(logger, registry), options)
}

// NewContextFrom builds a context over an existing router and its registry,
// creating the instance, device, and optimization layers through it.
// Embedders that load drivers themselves enter here.
func NewContextFrom(logger *slog.Logger, router *dispatch.Router, options Options) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	instance, err := router.CreateInstance(dispatch.InstanceOptions{
		ApplicationName: options.ApplicationName,
		Aggregate:       options.Aggregate,
	})
	if err != nil {
		return nil, err
	}

	physicalDevices, err := router.EnumeratePhysicalDevices(instance.Handle)
	if err != nil {
		return nil, err
	}
	if len(physicalDevices) == 0 {
		return nil, errors.Wrap(dispatch.ErrNoDevice, "no physical devices enumerated")
	}
	index := options.PhysicalDeviceIndex
	if index < 0 || index >= len(physicalDevices) {
		return nil, errors.Newf("physical device index %d out of range (%d devices)", index, len(physicalDevices))
	}
	physical := physicalDevices[index]

	family, err := computeQueueFamily(physical, options.QueueFamilyIndex)
	if err != nil {
		return nil, err
	}

	device, err := router.CreateDevice(physical.Handle, dispatch.DeviceOptions{QueueFamilyIndex: family})
	if err != nil {
		return nil, err
	}

	return newContextFromDevice(logger, router, instance, device, family, options)
}

// newContextFromDevice finishes construction once a device record exists.
// Tests drive it directly with fabricated records.
func newContextFromDevice(logger *slog.Logger, router *dispatch.Router, instance *dispatch.InstanceRecord, device *dispatch.DeviceRecord, family uint32, options Options) (*Context, error) {
	queue, err := router.Queue(device.Handle, family, 0)
	if err != nil {
		return nil, err
	}
	pool, err := router.CreateCommandPool(device.Handle, family)
	if err != nil {
		return nil, err
	}

	allocator, err := pools.New(logger, device.Handle, device.Commands, device.Memory, pools.Options{SlabSize: options.SlabSize})
	if err != nil {
		return nil, err
	}

	batcher := timeline.New(logger, device.Handle, device.Commands)
	if options.BatchSize > 0 {
		batcher.SetBatchSize(options.BatchSize)
	}

	ctx := &Context{
		logger:      logger,
		registry:    router.Registry(),
		router:      router,
		instance:    instance,
		device:      device,
		queue:       queue,
		family:      family,
		pool:        pool,
		allocator:   allocator,
		tracker:     barrier.NewTracker(barrier.VendorFromID(device.Properties.VendorID)),
		batcher:     batcher,
		submitter:   batcher,
		descriptors: descriptors.NewManager(logger, device.Handle, device.Commands, device.Properties.Limits),
	}
	return ctx, nil
}

func computeQueueFamily(physical *dispatch.PhysicalDeviceRecord, override int) (uint32, error) {
	if override > 0 {
		return uint32(override), nil
	}
	var count uint32
	physical.Commands.GetPhysicalDeviceQueueFamilyProperties(physical.Handle, &count, nil)
	if count == 0 {
		return 0, errors.Wrap(dispatch.ErrNoDevice, "device reports no queue families")
	}
	families := make([]vk.QueueFamilyProperties, count)
	physical.Commands.GetPhysicalDeviceQueueFamilyProperties(physical.Handle, &count, &families[0])
	for i, family := range families[:count] {
		if family.QueueFlags&vk.QueueCompute != 0 {
			return uint32(i), nil
		}
	}
	return 0, errors.Wrap(dispatch.ErrNoDevice, "no compute-capable queue family")
}

// Router exposes the dispatch router, primarily for diagnostics.
func (c *Context) Router() *dispatch.Router { return c.router }

// Device returns the owned device record.
func (c *Context) Device() *dispatch.DeviceRecord { return c.device }

// Queue returns the compute queue handle.
func (c *Context) Queue() vk.Queue { return c.queue }

// Tracker exposes the barrier tracker.
func (c *Context) Tracker() *barrier.Tracker { return c.tracker }

// Descriptors exposes the persistent descriptor manager.
func (c *Context) Descriptors() *descriptors.Manager { return c.descriptors }

// Allocator exposes the memory pools.
func (c *Context) Allocator() *pools.Allocator { return c.allocator }

// SetSubmitter swaps the submission path. Pass nil to restore the batcher.
func (c *Context) SetSubmitter(submitter Submitter) {
	if submitter == nil {
		c.submitter = c.batcher
		return
	}
	c.submitter = submitter
}

// Submit enqueues a recorded command buffer on the context queue and
// returns its timeline value.
func (c *Context) Submit(commandBuffer vk.CommandBuffer, waits []timeline.Wait) (uint64, error) {
	return c.submitter.Enqueue(c.queue, commandBuffer, waits)
}

// Flush forces out any pending submission batch.
func (c *Context) Flush() error {
	return c.submitter.Flush(c.queue)
}

// Wait blocks until the queue timeline reaches value.
func (c *Context) Wait(value uint64, timeout time.Duration) error {
	return c.submitter.Wait(c.queue, value, timeout)
}

// WaitIdle drains the batcher and waits for the device to go idle.
func (c *Context) WaitIdle() error {
	if err := c.submitter.Flush(c.queue); err != nil {
		return err
	}
	return c.device.Commands.DeviceWaitIdle(c.device.Handle).Err()
}

// Destroy tears the context down: batcher, descriptor caches, pools,
// command pool, device, and instance, in dependency order.
func (c *Context) Destroy() error {
	if err := c.WaitIdle(); err != nil {
		c.logger.Warn("wait-idle before teardown failed", slog.Any("error", err))
	}
	c.batcher.Destroy()
	c.descriptors.Cleanup()
	if err := c.allocator.Destroy(); err != nil {
		return err
	}
	c.device.Commands.DestroyCommandPool(c.device.Handle, c.pool, nil)
	c.router.ForgetCommandPool(c.pool)
	c.router.ForgetQueue(c.queue)
	if err := c.router.DestroyDevice(c.device.Handle); err != nil {
		return err
	}
	return c.router.DestroyInstance(c.instance.Handle)
}
