package compute

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/barrier"
	"github.com/cobalt-gpu/cobalt/pools"
	"github.com/cobalt-gpu/cobalt/vk"
)

// Buffer is a storage buffer bound to pool memory.
type Buffer struct {
	ctx        *Context
	handle     vk.Buffer
	allocation *pools.Allocation
	size       uint64
	class      pools.Class
}

// NewBuffer creates a buffer of the given class and binds it to pool
// memory. Device-local buffers get transfer usage so staging copies can
// reach them.
func (c *Context) NewBuffer(size uint64, class pools.Class) (*Buffer, error) {
	if size == 0 {
		return nil, errors.New("zero-size buffer")
	}

	usage := vk.BufferUsageStorageBuffer | vk.BufferUsageTransferSrc | vk.BufferUsageTransferDst
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	commands := c.device.Commands
	if err := commands.CreateBuffer(c.device.Handle, &createInfo, nil, &handle).Err(); err != nil {
		return nil, errors.Wrap(err, "creating buffer")
	}

	var requirements vk.MemoryRequirements
	commands.GetBufferMemoryRequirements(c.device.Handle, handle, &requirements)

	alignment := requirements.Alignment
	if alignment == 0 {
		alignment = 1
	}
	allocation, err := c.allocator.Allocate(class, requirements.Size, alignment)
	if err != nil {
		commands.DestroyBuffer(c.device.Handle, handle, nil)
		return nil, err
	}
	if err := c.allocator.BindBuffer(handle, allocation); err != nil {
		commands.DestroyBuffer(c.device.Handle, handle, nil)
		_ = c.allocator.Free(allocation)
		return nil, err
	}

	return &Buffer{ctx: c, handle: handle, allocation: allocation, size: size, class: class}, nil
}

// Handle returns the native buffer handle.
func (b *Buffer) Handle() vk.Buffer { return b.handle }

// Size returns the buffer's logical size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Class returns the memory class backing the buffer.
func (b *Buffer) Class() pools.Class { return b.class }

// HostBytes exposes the persistently mapped contents of a host-visible
// buffer. Device-local buffers return nil; use Upload/Download.
func (b *Buffer) HostBytes() []byte {
	mapped := b.allocation.Mapped()
	if mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(mapped), b.size)
}

// WriteHost copies data into a host-visible buffer through the persistent
// mapping and notes the transfer for barrier tracking.
func (b *Buffer) WriteHost(data []byte) error {
	host := b.HostBytes()
	if host == nil {
		return errors.New("buffer is not host-visible")
	}
	if uint64(len(data)) > b.size {
		return errors.Newf("write of %d bytes into %d-byte buffer", len(data), b.size)
	}
	copy(host, data)
	b.ctx.tracker.NoteAccess(b.handle, barrier.AccessTransferWrite)
	return nil
}

// ReadHost copies a host-visible buffer's contents out.
func (b *Buffer) ReadHost(out []byte) error {
	host := b.HostBytes()
	if host == nil {
		return errors.New("buffer is not host-visible")
	}
	copy(out, host)
	return nil
}

// Upload moves data into the buffer. Host-visible buffers take the direct
// path; device-local buffers stage through the coherent pool and copy on the
// context queue, waiting for completion.
func (b *Buffer) Upload(data []byte) error {
	if b.class.HostVisible() {
		return b.WriteHost(data)
	}

	staging, err := b.ctx.NewBuffer(uint64(len(data)), pools.HostVisibleCoherent)
	if err != nil {
		return err
	}
	defer staging.Destroy()

	if err := staging.WriteHost(data); err != nil {
		return err
	}

	recorder, err := b.ctx.NewRecorder()
	if err != nil {
		return err
	}
	if err := recorder.CopyBuffer(staging, b, uint64(len(data))); err != nil {
		return err
	}
	value, err := recorder.Finish()
	if err != nil {
		return err
	}
	return b.ctx.Wait(value, waitForever)
}

// Download reads the buffer back. Device-local buffers stage through the
// cached pool.
func (b *Buffer) Download(out []byte) error {
	if b.class.HostVisible() {
		return b.ReadHost(out)
	}

	staging, err := b.ctx.NewBuffer(uint64(len(out)), pools.HostVisibleCached)
	if err != nil {
		return err
	}
	defer staging.Destroy()

	recorder, err := b.ctx.NewRecorder()
	if err != nil {
		return err
	}
	if err := recorder.CopyBuffer(b, staging, uint64(len(out))); err != nil {
		return err
	}
	value, err := recorder.Finish()
	if err != nil {
		return err
	}
	if err := b.ctx.Wait(value, waitForever); err != nil {
		return err
	}
	return staging.ReadHost(out)
}

// Destroy releases the buffer and its allocation and drops its tracking
// state.
func (b *Buffer) Destroy() {
	if b.handle == 0 {
		return
	}
	b.ctx.device.Commands.DestroyBuffer(b.ctx.device.Handle, b.handle, nil)
	_ = b.ctx.allocator.Free(b.allocation)
	b.ctx.tracker.Forget(b.handle)
	b.ctx.descriptors.Forget(b.handle)
	b.handle = 0
}
