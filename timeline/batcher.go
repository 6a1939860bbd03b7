// Package timeline batches queue submissions behind one timeline semaphore
// per queue. Accumulating command buffers and submitting them in one native
// call amortizes the driver's per-submit cost; the timeline's monotonic
// counter stands in for per-submit fences. Devices without timeline
// semaphores degrade to one fenced submission per command buffer with the
// same caller-visible ordering.
package timeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

const (
	// DefaultBatchSize is the number of enqueued command buffers that
	// triggers an automatic flush.
	DefaultBatchSize = 16
	// MaxBatchSize bounds SetBatchSize.
	MaxBatchSize = 256
)

// ErrTimeout is returned when a wait exceeds its deadline, including the
// zero-deadline poll form.
var ErrTimeout = errors.New("timeline wait timed out")

// Wait names a semaphore value a submission must wait for, typically a
// timeline value signaled on another queue.
type Wait struct {
	Semaphore vk.Semaphore
	Value     uint64
	Stage     vk.PipelineStageFlags
}

type pendingSubmit struct {
	commandBuffer vk.CommandBuffer
	value         uint64
	waits         []Wait
}

// queueState is the per-queue batch. Vulkan forbids concurrent submission
// on one queue, so the mutex is usually uncontested.
type queueState struct {
	mu        sync.Mutex
	semaphore vk.Semaphore // timeline mode only
	counter   uint64       // last assigned signal value
	submitted uint64       // highest value handed to the driver
	pending   []pendingSubmit
	fences    map[uint64]vk.Fence // fallback mode: signal value → fence
	completed uint64              // fallback mode: highest value known complete
}

// Batcher accumulates submissions per queue and flushes them in batches.
type Batcher struct {
	logger   *slog.Logger
	device   vk.Device
	commands *icd.DeviceCommands

	useTimeline bool
	batchSize   atomic.Int32

	mu     sync.RWMutex
	queues *swiss.Map[vk.Queue, *queueState]

	nativeSubmits atomic.Uint64
}

// New creates a batcher for one device. The timeline path engages when the
// driver exported the timeline entry points; otherwise the fallback path is
// used and only performance changes.
func New(logger *slog.Logger, device vk.Device, commands *icd.DeviceCommands) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	batcher := &Batcher{
		logger:      logger,
		device:      device,
		commands:    commands,
		useTimeline: commands.SupportsTimeline(),
		queues:      swiss.NewMap[vk.Queue, *queueState](8),
	}
	batcher.batchSize.Store(DefaultBatchSize)
	if !batcher.useTimeline {
		logger.Info("timeline semaphores unavailable, using fenced submission fallback")
	}
	return batcher
}

// UsesTimeline reports which submission path is active.
func (b *Batcher) UsesTimeline() bool {
	return b.useTimeline
}

// SetBatchSize adjusts the automatic flush threshold, clamped to
// [1, MaxBatchSize].
func (b *Batcher) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	if n > MaxBatchSize {
		n = MaxBatchSize
	}
	b.batchSize.Store(int32(n))
}

// NativeSubmitCount returns how many vkQueueSubmit calls have been issued.
func (b *Batcher) NativeSubmitCount() uint64 {
	return b.nativeSubmits.Load()
}

func (b *Batcher) stateFor(queue vk.Queue) (*queueState, error) {
	b.mu.RLock()
	state, ok := b.queues.Get(queue)
	b.mu.RUnlock()
	if ok {
		return state, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.queues.Get(queue); ok {
		return state, nil
	}

	state = &queueState{}
	if b.useTimeline {
		semaphore, err := b.createTimelineSemaphore(0)
		if err != nil {
			return nil, err
		}
		state.semaphore = semaphore
	} else {
		state.fences = map[uint64]vk.Fence{}
	}
	b.queues.Put(queue, state)
	return state, nil
}

func (b *Batcher) createTimelineSemaphore(initialValue uint64) (vk.Semaphore, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  initialValue,
	}
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafe.Pointer(&typeInfo),
	}
	var semaphore vk.Semaphore
	if err := b.commands.CreateSemaphore(b.device, &createInfo, nil, &semaphore).Err(); err != nil {
		return 0, errors.Wrap(err, "creating timeline semaphore")
	}
	return semaphore, nil
}

// Enqueue assigns the command buffer the queue's next signal value and adds
// it to the pending batch. The batch flushes automatically once it reaches
// the batch size. The returned value can be passed to Wait.
func (b *Batcher) Enqueue(queue vk.Queue, commandBuffer vk.CommandBuffer, waits []Wait) (uint64, error) {
	state, err := b.stateFor(queue)
	if err != nil {
		return 0, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.counter++
	value := state.counter
	state.pending = append(state.pending, pendingSubmit{
		commandBuffer: commandBuffer,
		value:         value,
		waits:         waits,
	})

	if len(state.pending) >= int(b.batchSize.Load()) {
		if err := b.flushLocked(queue, state); err != nil {
			return 0, err
		}
	}
	return value, nil
}

// Flush submits the queue's pending batch now.
func (b *Batcher) Flush(queue vk.Queue) error {
	state, err := b.stateFor(queue)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return b.flushLocked(queue, state)
}

// FlushAll flushes every queue with a pending batch.
func (b *Batcher) FlushAll() error {
	b.mu.RLock()
	var states []*queueState
	var handles []vk.Queue
	b.queues.Iter(func(queue vk.Queue, state *queueState) bool {
		states = append(states, state)
		handles = append(handles, queue)
		return false
	})
	b.mu.RUnlock()

	for i, state := range states {
		state.mu.Lock()
		err := b.flushLocked(handles[i], state)
		state.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Batcher) flushLocked(queue vk.Queue, state *queueState) error {
	if len(state.pending) == 0 {
		return nil
	}
	var err error
	if b.useTimeline {
		err = b.submitTimelineBatch(queue, state)
	} else {
		err = b.submitFencedFallback(queue, state)
	}
	if err != nil {
		return err
	}
	state.submitted = state.pending[len(state.pending)-1].value
	state.pending = state.pending[:0]
	return nil
}

// submitTimelineBatch issues one native submit carrying the whole batch.
// Each command buffer signals its own consecutive timeline value, so callers
// can wait on any intermediate submission without extra fences.
func (b *Batcher) submitTimelineBatch(queue vk.Queue, state *queueState) error {
	count := len(state.pending)
	submits := make([]vk.SubmitInfo, count)
	timelineInfos := make([]vk.TimelineSemaphoreSubmitInfo, count)
	signalValues := make([]uint64, count)
	commandBuffers := make([]vk.CommandBuffer, count)
	semaphore := state.semaphore

	// Backing arrays for wait lists, one region per submit.
	var waitSemaphores []vk.Semaphore
	var waitValues []uint64
	var waitStages []vk.PipelineStageFlags

	for i, pending := range state.pending {
		commandBuffers[i] = pending.commandBuffer
		signalValues[i] = pending.value

		waitStart := len(waitSemaphores)
		for _, wait := range pending.waits {
			stage := wait.Stage
			if stage == 0 {
				stage = vk.PipelineStageComputeShader
			}
			waitSemaphores = append(waitSemaphores, wait.Semaphore)
			waitValues = append(waitValues, wait.Value)
			waitStages = append(waitStages, stage)
		}
		waitCount := uint32(len(pending.waits))

		timelineInfos[i] = vk.TimelineSemaphoreSubmitInfo{
			SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
			SignalSemaphoreValueCount: 1,
			PSignalSemaphoreValues:    &signalValues[i],
		}
		submits[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			PNext:                unsafe.Pointer(&timelineInfos[i]),
			CommandBufferCount:   1,
			PCommandBuffers:      &commandBuffers[i],
			SignalSemaphoreCount: 1,
			PSignalSemaphores:    &semaphore,
		}
		if waitCount > 0 {
			timelineInfos[i].WaitSemaphoreValueCount = waitCount
			timelineInfos[i].PWaitSemaphoreValues = &waitValues[waitStart]
			submits[i].WaitSemaphoreCount = waitCount
			submits[i].PWaitSemaphores = &waitSemaphores[waitStart]
			submits[i].PWaitDstStageMask = &waitStages[waitStart]
		}
	}

	b.nativeSubmits.Add(1)
	if err := b.commands.QueueSubmit(queue, uint32(count), &submits[0], 0).Err(); err != nil {
		return errors.Wrapf(err, "batched submit of %d command buffers", count)
	}
	return nil
}

// submitFencedFallback submits each command buffer on its own with a fence
// standing in for its timeline value. Ordering matches the timeline path
// exactly; only the submit count changes.
func (b *Batcher) submitFencedFallback(queue vk.Queue, state *queueState) error {
	for i := range state.pending {
		pending := &state.pending[i]

		fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
		var fence vk.Fence
		if err := b.commands.CreateFence(b.device, &fenceInfo, nil, &fence).Err(); err != nil {
			return errors.Wrap(err, "creating fallback fence")
		}

		commandBuffer := pending.commandBuffer
		submit := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    &commandBuffer,
		}

		b.nativeSubmits.Add(1)
		if err := b.commands.QueueSubmit(queue, 1, &submit, fence).Err(); err != nil {
			b.commands.DestroyFence(b.device, fence, nil)
			return errors.Wrap(err, "fallback submit")
		}
		state.fences[pending.value] = fence
	}
	return nil
}

// Wait blocks until the queue's timeline reaches value or the timeout
// expires. A zero timeout is a non-blocking poll. Values not yet handed to
// the driver are flushed first. Waiting on an already-reached value returns
// immediately.
func (b *Batcher) Wait(queue vk.Queue, value uint64, timeout time.Duration) error {
	state, err := b.stateFor(queue)
	if err != nil {
		return err
	}

	state.mu.Lock()
	if value > state.submitted {
		if err := b.flushLocked(queue, state); err != nil {
			state.mu.Unlock()
			return err
		}
	}
	state.mu.Unlock()

	if b.useTimeline {
		return b.waitTimeline(state, value, timeout)
	}
	return b.waitFallback(state, value, timeout)
}

func (b *Batcher) waitTimeline(state *queueState, value uint64, timeout time.Duration) error {
	if timeout == 0 {
		var current uint64
		if err := b.commands.GetSemaphoreCounterValue(b.device, state.semaphore, &current).Err(); err != nil {
			return err
		}
		if current >= value {
			return nil
		}
		return ErrTimeout
	}

	semaphore := state.semaphore
	waitInfo := vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    &semaphore,
		PValues:        &value,
	}
	result := b.commands.WaitSemaphores(b.device, &waitInfo, timeoutNanos(timeout))
	if result == vk.Timeout {
		return ErrTimeout
	}
	return result.Err()
}

func (b *Batcher) waitFallback(state *queueState, value uint64, timeout time.Duration) error {
	state.mu.Lock()
	if value <= state.completed {
		state.mu.Unlock()
		return nil
	}
	fence, ok := state.fences[value]
	state.mu.Unlock()
	if !ok {
		return errors.Newf("no submission signals value %d", value)
	}

	if timeout == 0 {
		switch result := b.commands.GetFenceStatus(b.device, fence); result {
		case vk.Success:
		case vk.NotReady:
			return ErrTimeout
		default:
			return result.Err()
		}
	} else {
		result := b.commands.WaitForFences(b.device, 1, &fence, vk.True, timeoutNanos(timeout))
		if result == vk.Timeout {
			return ErrTimeout
		}
		if err := result.Err(); err != nil {
			return err
		}
	}

	// Fences signal in submission order, so everything at or below value is
	// complete; recycle those fences.
	state.mu.Lock()
	for signaled, f := range state.fences {
		if signaled <= value {
			b.commands.DestroyFence(b.device, f, nil)
			delete(state.fences, signaled)
		}
	}
	if value > state.completed {
		state.completed = value
	}
	state.mu.Unlock()
	return nil
}

func timeoutNanos(timeout time.Duration) uint64 {
	if timeout < 0 {
		return ^uint64(0)
	}
	return uint64(timeout)
}

// CounterValue reports the queue's last assigned signal value.
func (b *Batcher) CounterValue(queue vk.Queue) uint64 {
	state, err := b.stateFor(queue)
	if err != nil {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.counter
}

// Destroy flushes nothing and releases every semaphore and fence the
// batcher created. The caller must have waited for or abandoned outstanding
// work; the batcher lives and dies with its device.
func (b *Batcher) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.Iter(func(queue vk.Queue, state *queueState) bool {
		state.mu.Lock()
		if state.semaphore != 0 {
			b.commands.DestroySemaphore(b.device, state.semaphore, nil)
			state.semaphore = 0
		}
		for _, fence := range state.fences {
			b.commands.DestroyFence(b.device, fence, nil)
		}
		state.fences = nil
		state.pending = nil
		state.mu.Unlock()
		return false
	})
	b.queues = swiss.NewMap[vk.Queue, *queueState](0)
}
