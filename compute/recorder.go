package compute

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/barrier"
	"github.com/cobalt-gpu/cobalt/descriptors"
	"github.com/cobalt-gpu/cobalt/vk"
)

const waitForever = time.Duration(-1)

// Recorder records one command buffer worth of compute work. Barrier and
// descriptor bookkeeping happen inline as commands are recorded; Finish
// submits through the batcher and returns the timeline value to wait on.
type Recorder struct {
	ctx           *Context
	commandBuffer vk.CommandBuffer
	recording     bool
	dispatches    uint64
}

// NewRecorder allocates a command buffer from the context pool and begins
// recording.
func (c *Context) NewRecorder() (*Recorder, error) {
	buffers, err := c.router.AllocateCommandBuffers(c.pool, 1)
	if err != nil {
		return nil, err
	}
	commandBuffer := buffers[0]

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageOneTimeSubmit,
	}
	if err := c.device.Commands.BeginCommandBuffer(commandBuffer, &beginInfo).Err(); err != nil {
		return nil, errors.Wrap(err, "beginning command buffer")
	}
	return &Recorder{ctx: c, commandBuffer: commandBuffer, recording: true}, nil
}

// CommandBuffer returns the native handle being recorded.
func (r *Recorder) CommandBuffer() vk.CommandBuffer { return r.commandBuffer }

// emitBarrier records one tracked barrier into the command buffer.
func (r *Recorder) emitBarrier(descriptor barrier.Descriptor) {
	native := descriptor.Native()
	r.ctx.device.Commands.CmdPipelineBarrier(
		r.commandBuffer,
		descriptor.SrcStage, descriptor.DstStage, 0,
		0, nil,
		1, &native,
		0, nil)
}

// noteAndBarrier runs an access through the tracker and records the barrier
// it asks for, if any.
func (r *Recorder) noteAndBarrier(buffer vk.Buffer, kind barrier.AccessKind) {
	if descriptor, needed := r.ctx.tracker.NoteAccess(buffer, kind); needed {
		r.emitBarrier(descriptor)
	}
}

// Dispatch binds the pipeline and the persistent descriptor set for the
// buffer group, pushes constants, and issues the dispatch. readBuffers and
// writeBuffers drive barrier tracking; their concatenation, reads first,
// must match the pipeline's Set 0 binding order.
func (r *Recorder) Dispatch(pipeline *Pipeline, readBuffers, writeBuffers []*Buffer, pushConstants []byte, groupsX, groupsY, groupsZ uint32) error {
	if !r.recording {
		return errors.New("recorder already finished")
	}
	if uint32(len(pushConstants)) > pipeline.pushSize {
		return errors.Newf("%d bytes of push constants exceed the pipeline's declared %d", len(pushConstants), pipeline.pushSize)
	}

	group := make([]vk.Buffer, 0, len(readBuffers)+len(writeBuffers))
	for _, buffer := range readBuffers {
		group = append(group, buffer.handle)
	}
	for _, buffer := range writeBuffers {
		group = append(group, buffer.handle)
	}
	if uint32(len(group)) != pipeline.bindingCount {
		return errors.Newf("%d buffers bound to a pipeline with %d bindings", len(group), pipeline.bindingCount)
	}

	set, _, err := r.ctx.descriptors.PersistentSet(group)
	if err != nil {
		return err
	}

	for _, buffer := range readBuffers {
		r.noteAndBarrier(buffer.handle, barrier.AccessShaderRead)
	}
	for _, buffer := range writeBuffers {
		r.noteAndBarrier(buffer.handle, barrier.AccessShaderWrite)
	}

	commands := r.ctx.device.Commands
	commands.CmdBindPipeline(r.commandBuffer, vk.PipelineBindPointCompute, pipeline.pipeline)
	commands.CmdBindDescriptorSets(r.commandBuffer, vk.PipelineBindPointCompute,
		pipeline.layout, descriptors.PersistentSetIndex, 1, &set, 0, nil)
	if len(pushConstants) > 0 {
		commands.CmdPushConstants(r.commandBuffer, pipeline.layout, vk.ShaderStageCompute,
			0, uint32(len(pushConstants)), unsafe.Pointer(&pushConstants[0]))
	}
	commands.CmdDispatch(r.commandBuffer, groupsX, groupsY, groupsZ)
	r.dispatches++
	return nil
}

// CopyBuffer records a full copy of size bytes between buffers, with the
// barriers the tracker asks for on both sides.
func (r *Recorder) CopyBuffer(src, dst *Buffer, size uint64) error {
	if !r.recording {
		return errors.New("recorder already finished")
	}
	if size > src.size || size > dst.size {
		return errors.Newf("copy of %d bytes exceeds buffer sizes (%d → %d)", size, src.size, dst.size)
	}

	r.noteAndBarrier(dst.handle, barrier.AccessTransferWrite)

	region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: size}
	r.ctx.device.Commands.CmdCopyBuffer(r.commandBuffer, src.handle, dst.handle, 1, &region)
	return nil
}

// Finish ends recording and enqueues the command buffer on the context
// queue, returning its timeline value.
func (r *Recorder) Finish() (uint64, error) {
	if !r.recording {
		return 0, errors.New("recorder already finished")
	}
	r.recording = false
	if err := r.ctx.device.Commands.EndCommandBuffer(r.commandBuffer).Err(); err != nil {
		return 0, errors.Wrap(err, "ending command buffer")
	}
	return r.ctx.Submit(r.commandBuffer, nil)
}

// Dispatches reports how many dispatches were recorded.
func (r *Recorder) Dispatches() uint64 { return r.dispatches }
