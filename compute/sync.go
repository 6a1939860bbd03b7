package compute

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/timeline"
	"github.com/cobalt-gpu/cobalt/vk"
)

// Fence wraps a native fence for callers that need explicit host
// synchronization outside the timeline batcher.
type Fence struct {
	ctx    *Context
	handle vk.Fence
}

// NewFence creates an unsignaled fence.
func (c *Context) NewFence() (*Fence, error) {
	createInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var handle vk.Fence
	if err := c.device.Commands.CreateFence(c.device.Handle, &createInfo, nil, &handle).Err(); err != nil {
		return nil, errors.Wrap(err, "creating fence")
	}
	return &Fence{ctx: c, handle: handle}, nil
}

// Handle returns the native fence handle for use in a submit.
func (f *Fence) Handle() vk.Fence { return f.handle }

// Signaled polls the fence without blocking.
func (f *Fence) Signaled() (bool, error) {
	switch result := f.ctx.device.Commands.GetFenceStatus(f.ctx.device.Handle, f.handle); result {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, result.Err()
	}
}

// WaitFor blocks until the fence signals or the timeout expires.
func (f *Fence) WaitFor(timeout time.Duration) error {
	handle := f.handle
	result := f.ctx.device.Commands.WaitForFences(f.ctx.device.Handle, 1, &handle, vk.True, uint64(timeout))
	if result == vk.Timeout {
		return timeline.ErrTimeout
	}
	return result.Err()
}

// Reset returns the fence to the unsignaled state.
func (f *Fence) Reset() error {
	handle := f.handle
	return f.ctx.device.Commands.ResetFences(f.ctx.device.Handle, 1, &handle).Err()
}

// Destroy releases the fence.
func (f *Fence) Destroy() {
	if f.handle == 0 {
		return
	}
	f.ctx.device.Commands.DestroyFence(f.ctx.device.Handle, f.handle, nil)
	f.handle = 0
}

// Semaphore wraps a binary semaphore for explicit cross-queue ordering.
// Same-queue ordering comes from the batcher for free.
type Semaphore struct {
	ctx    *Context
	handle vk.Semaphore
}

// NewSemaphore creates a binary semaphore.
func (c *Context) NewSemaphore() (*Semaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var handle vk.Semaphore
	if err := c.device.Commands.CreateSemaphore(c.device.Handle, &createInfo, nil, &handle).Err(); err != nil {
		return nil, errors.Wrap(err, "creating semaphore")
	}
	return &Semaphore{ctx: c, handle: handle}, nil
}

// Handle returns the native semaphore handle.
func (s *Semaphore) Handle() vk.Semaphore { return s.handle }

// Destroy releases the semaphore.
func (s *Semaphore) Destroy() {
	if s.handle == 0 {
		return
	}
	s.ctx.device.Commands.DestroySemaphore(s.ctx.device.Handle, s.handle, nil)
	s.handle = 0
}
