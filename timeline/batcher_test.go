package timeline

import (
	"io"
	"log/slog"
	"testing"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testDevice vk.Device = 0xD0
	testQueue  vk.Queue  = 0xA0
)

// fakeDriver simulates a driver's submission surface: every submitted batch
// completes instantly, signaling its semaphores and fences.
type fakeDriver struct {
	submitCalls    int
	submittedOrder []vk.CommandBuffer

	nextHandle uint64
	semaphores map[vk.Semaphore]uint64
	fences     map[vk.Fence]bool

	failSubmit bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nextHandle: 1,
		semaphores: map[vk.Semaphore]uint64{},
		fences:     map[vk.Fence]bool{},
	}
}

func (f *fakeDriver) commands(timeline bool) *icd.DeviceCommands {
	commands := &icd.DeviceCommands{
		CreateSemaphore: func(device vk.Device, info *vk.SemaphoreCreateInfo, allocator unsafe.Pointer, semaphore *vk.Semaphore) vk.Result {
			initial := uint64(0)
			if info.PNext != nil {
				typeInfo := (*vk.SemaphoreTypeCreateInfo)(info.PNext)
				initial = typeInfo.InitialValue
			}
			f.nextHandle++
			*semaphore = vk.Semaphore(f.nextHandle)
			f.semaphores[*semaphore] = initial
			return vk.Success
		},
		DestroySemaphore: func(device vk.Device, semaphore vk.Semaphore, allocator unsafe.Pointer) {
			delete(f.semaphores, semaphore)
		},
		CreateFence: func(device vk.Device, info *vk.FenceCreateInfo, allocator unsafe.Pointer, fence *vk.Fence) vk.Result {
			f.nextHandle++
			*fence = vk.Fence(f.nextHandle)
			f.fences[*fence] = false
			return vk.Success
		},
		DestroyFence: func(device vk.Device, fence vk.Fence, allocator unsafe.Pointer) {
			delete(f.fences, fence)
		},
		GetFenceStatus: func(device vk.Device, fence vk.Fence) vk.Result {
			if f.fences[fence] {
				return vk.Success
			}
			return vk.NotReady
		},
		WaitForFences: func(device vk.Device, count uint32, fences *vk.Fence, waitAll vk.Bool32, timeout uint64) vk.Result {
			if f.fences[*fences] {
				return vk.Success
			}
			return vk.Timeout
		},
		QueueSubmit: func(queue vk.Queue, submitCount uint32, submits *vk.SubmitInfo, fence vk.Fence) vk.Result {
			if f.failSubmit {
				return vk.ErrDeviceLost
			}
			f.submitCalls++
			for _, submit := range unsafe.Slice(submits, submitCount) {
				for _, cb := range unsafe.Slice(submit.PCommandBuffers, submit.CommandBufferCount) {
					f.submittedOrder = append(f.submittedOrder, cb)
				}
				if submit.PNext != nil && submit.SignalSemaphoreCount > 0 {
					timelineInfo := (*vk.TimelineSemaphoreSubmitInfo)(submit.PNext)
					values := unsafe.Slice(timelineInfo.PSignalSemaphoreValues, timelineInfo.SignalSemaphoreValueCount)
					semaphores := unsafe.Slice(submit.PSignalSemaphores, submit.SignalSemaphoreCount)
					for i, semaphore := range semaphores {
						if values[i] > f.semaphores[semaphore] {
							f.semaphores[semaphore] = values[i]
						}
					}
				}
			}
			if fence != 0 {
				f.fences[fence] = true
			}
			return vk.Success
		},
	}
	if timeline {
		commands.GetSemaphoreCounterValue = func(device vk.Device, semaphore vk.Semaphore, value *uint64) vk.Result {
			*value = f.semaphores[semaphore]
			return vk.Success
		}
		commands.WaitSemaphores = func(device vk.Device, info *vk.SemaphoreWaitInfo, timeout uint64) vk.Result {
			semaphores := unsafe.Slice(info.PSemaphores, info.SemaphoreCount)
			values := unsafe.Slice(info.PValues, info.SemaphoreCount)
			for i := range semaphores {
				if f.semaphores[semaphores[i]] < values[i] {
					return vk.Timeout
				}
			}
			return vk.Success
		}
	}
	return commands
}

func newBatcher(t *testing.T, timeline bool) (*Batcher, *fakeDriver) {
	t.Helper()
	driver := newFakeDriver()
	batcher := New(discardLogger(), testDevice, driver.commands(timeline))
	require.Equal(t, timeline, batcher.UsesTimeline())
	return batcher, driver
}

func TestEnqueueAutoFlushesAtBatchSize(t *testing.T) {
	batcher, driver := newBatcher(t, true)

	for i := 0; i < DefaultBatchSize-1; i++ {
		_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(uintptr(i+1)), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 0, driver.submitCalls)

	_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(DefaultBatchSize), nil)
	require.NoError(t, err)
	require.Equal(t, 1, driver.submitCalls)
	require.Len(t, driver.submittedOrder, DefaultBatchSize)
}

func TestSignalValuesAreContiguous(t *testing.T) {
	batcher, _ := newBatcher(t, true)

	var values []uint64
	for i := 0; i < 40; i++ {
		value, err := batcher.Enqueue(testQueue, vk.CommandBuffer(uintptr(i+1)), nil)
		require.NoError(t, err)
		values = append(values, value)
	}
	for i, value := range values {
		require.Equal(t, uint64(i+1), value)
	}
	require.Equal(t, uint64(40), batcher.CounterValue(testQueue))
}

func TestFlushSubmitsPartialBatch(t *testing.T) {
	batcher, driver := newBatcher(t, true)

	for i := 0; i < 5; i++ {
		_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(uintptr(i+1)), nil)
		require.NoError(t, err)
	}
	require.NoError(t, batcher.Flush(testQueue))
	require.Equal(t, 1, driver.submitCalls)

	// Nothing pending: flushing again is a no-op.
	require.NoError(t, batcher.Flush(testQueue))
	require.Equal(t, 1, driver.submitCalls)
}

func TestSubmissionOrderPreserved(t *testing.T) {
	for _, timeline := range []bool{true, false} {
		batcher, driver := newBatcher(t, timeline)
		batcher.SetBatchSize(7)

		var expected []vk.CommandBuffer
		for i := 0; i < 32; i++ {
			cb := vk.CommandBuffer(uintptr(0x100 + i))
			expected = append(expected, cb)
			_, err := batcher.Enqueue(testQueue, cb, nil)
			require.NoError(t, err)
		}
		require.NoError(t, batcher.Flush(testQueue))
		require.Equal(t, expected, driver.submittedOrder)
	}
}

func TestFallbackSubmitsOncePerCommandBuffer(t *testing.T) {
	batcher, driver := newBatcher(t, false)
	batcher.SetBatchSize(16)

	var last uint64
	for i := 0; i < 32; i++ {
		value, err := batcher.Enqueue(testQueue, vk.CommandBuffer(uintptr(i+1)), nil)
		require.NoError(t, err)
		last = value
	}
	// Two automatic flushes happened, but the fallback path cannot batch:
	// 32 native submits, not 2.
	require.Equal(t, 32, driver.submitCalls)
	require.NoError(t, batcher.Wait(testQueue, last, time.Second))
}

func TestTimelineBatchesReduceSubmits(t *testing.T) {
	batcher, driver := newBatcher(t, true)
	batcher.SetBatchSize(16)

	for i := 0; i < 32; i++ {
		_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(uintptr(i+1)), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, driver.submitCalls)
	require.Equal(t, uint64(2), batcher.NativeSubmitCount())
}

func TestWaitFlushesPendingWork(t *testing.T) {
	batcher, driver := newBatcher(t, true)

	value, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
	require.NoError(t, err)
	require.Equal(t, 0, driver.submitCalls)

	require.NoError(t, batcher.Wait(testQueue, value, time.Second))
	require.Equal(t, 1, driver.submitCalls)
}

func TestWaitOnPastValueReturnsImmediately(t *testing.T) {
	for _, timeline := range []bool{true, false} {
		batcher, _ := newBatcher(t, timeline)
		value, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
		require.NoError(t, err)
		require.NoError(t, batcher.Wait(testQueue, value, time.Second))
		// The same wait again must not block or error.
		require.NoError(t, batcher.Wait(testQueue, value, 0))
	}
}

func TestZeroTimeoutPolls(t *testing.T) {
	batcher, driver := newBatcher(t, true)
	value, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
	require.NoError(t, err)
	require.NoError(t, batcher.Flush(testQueue))

	// Rewind the fake semaphore so the value reads as unreached.
	for semaphore := range driver.semaphores {
		driver.semaphores[semaphore] = 0
	}
	err = batcher.Wait(testQueue, value, 0)
	require.True(t, errors.Is(err, ErrTimeout))

	for semaphore := range driver.semaphores {
		driver.semaphores[semaphore] = value
	}
	require.NoError(t, batcher.Wait(testQueue, value, 0))
}

func TestSetBatchSizeClamps(t *testing.T) {
	batcher, driver := newBatcher(t, true)

	batcher.SetBatchSize(0)
	_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
	require.NoError(t, err)
	// Batch size clamps to 1: every enqueue flushes.
	require.Equal(t, 1, driver.submitCalls)

	batcher.SetBatchSize(MaxBatchSize + 100)
	for i := 0; i < MaxBatchSize; i++ {
		_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(uintptr(i+2)), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, driver.submitCalls)
}

func TestSubmitErrorSurfaces(t *testing.T) {
	batcher, driver := newBatcher(t, true)
	driver.failSubmit = true

	_, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
	require.NoError(t, err)
	err = batcher.Flush(testQueue)
	require.True(t, errors.Is(err, vk.ErrDeviceLost))
}

func TestPerQueueStatesAreIndependent(t *testing.T) {
	batcher, _ := newBatcher(t, true)
	otherQueue := vk.Queue(0xB0)

	first, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
	require.NoError(t, err)
	second, err := batcher.Enqueue(otherQueue, vk.CommandBuffer(2), nil)
	require.NoError(t, err)

	// Counters are per queue, both starting from 1.
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(1), second)
}

func TestDestroyReleasesSyncObjects(t *testing.T) {
	batcher, driver := newBatcher(t, false)
	value, err := batcher.Enqueue(testQueue, vk.CommandBuffer(1), nil)
	require.NoError(t, err)
	require.NoError(t, batcher.Flush(testQueue))
	_ = value

	require.NotEmpty(t, driver.fences)
	batcher.Destroy()
	require.Empty(t, driver.fences)
	require.Empty(t, driver.semaphores)
}
