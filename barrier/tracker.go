// Package barrier tracks per-buffer access state and emits the minimal set
// of pipeline barriers a compute workload needs. Reads after reads cost
// nothing; the three transitions that matter (upload→read, read→write,
// write→read) each map to one canonical barrier.
package barrier

import (
	"sync"

	"github.com/dolthub/swiss"

	"github.com/cobalt-gpu/cobalt/vk"
)

// AccessKind is the last observed use of a buffer.
type AccessKind uint8

const (
	AccessNone AccessKind = iota
	AccessTransferWrite
	AccessShaderRead
	AccessShaderWrite
)

func (k AccessKind) String() string {
	switch k {
	case AccessTransferWrite:
		return "TransferWrite"
	case AccessShaderRead:
		return "ShaderRead"
	case AccessShaderWrite:
		return "ShaderWrite"
	default:
		return "None"
	}
}

// Kind names the canonical barrier a transition requires.
type Kind uint8

const (
	UploadToRead Kind = iota
	ReadToWrite
	WriteToRead
	WriteToWrite
)

func (k Kind) String() string {
	switch k {
	case UploadToRead:
		return "upload_to_read"
	case ReadToWrite:
		return "read_to_write"
	case WriteToRead:
		return "write_to_read"
	default:
		return "write_to_write"
	}
}

// Descriptor is one buffer barrier ready to record.
type Descriptor struct {
	Buffer    vk.Buffer
	Kind      Kind
	SrcStage  vk.PipelineStageFlags
	DstStage  vk.PipelineStageFlags
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
	Offset    vk.DeviceSize
	Size      vk.DeviceSize
}

// Native converts the descriptor into the struct vkCmdPipelineBarrier
// expects.
func (d Descriptor) Native() vk.BufferMemoryBarrier {
	return vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       d.SrcAccess,
		DstAccessMask:       d.DstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              d.Buffer,
		Offset:              d.Offset,
		Size:                d.Size,
	}
}

// Stats counts emitted and elided barriers by kind.
type Stats struct {
	Total        uint64
	Elided       uint64
	Upload       uint64
	ReadToWrite  uint64
	WriteToRead  uint64
	WriteToWrite uint64
}

type bufferState struct {
	last       AccessKind
	generation uint64
}

// Tracker is the per-device barrier state machine. A single buffer is only
// ever touched by one thread at a time (a Vulkan requirement on command
// recording), but distinct buffers may be noted concurrently, so the state
// map is guarded.
type Tracker struct {
	vendor Vendor

	mu      sync.Mutex
	states  *swiss.Map[vk.Buffer, *bufferState]
	pending []Descriptor
	stats   Stats
}

// NewTracker creates a tracker with the given vendor policy.
func NewTracker(vendor Vendor) *Tracker {
	return &Tracker{
		vendor: vendor,
		states: swiss.NewMap[vk.Buffer, *bufferState](64),
	}
}

// NoteAccess records that the buffer is about to be accessed as kind and
// returns the single barrier to insert before the next command touching it,
// if one is needed. The barrier covers the whole buffer.
func (t *Tracker) NoteAccess(buffer vk.Buffer, kind AccessKind) (Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states.Get(buffer)
	if !ok {
		state = &bufferState{}
		t.states.Put(buffer, state)
	}

	from := state.last
	state.last = kind

	descriptor, needed := edgeBarrier(from, kind)
	if needed && descriptor.Kind == WriteToWrite &&
		from == AccessShaderWrite && kind == AccessShaderWrite &&
		t.vendor.elidesWriteAfterWrite() {
		needed = false
	}
	if from != kind || needed {
		state.generation++
	}
	if !needed {
		t.stats.Elided++
		return Descriptor{}, false
	}

	descriptor.Buffer = buffer
	descriptor.Offset = 0
	descriptor.Size = vk.WholeSize
	barrierKind := descriptor.Kind
	t.stats.Total++
	switch barrierKind {
	case UploadToRead:
		t.stats.Upload++
	case ReadToWrite:
		t.stats.ReadToWrite++
	case WriteToRead:
		t.stats.WriteToRead++
	case WriteToWrite:
		t.stats.WriteToWrite++
	}
	return descriptor, true
}

// NoteAccessDeferred is NoteAccess with the barrier parked until Flush.
// Recording paths that batch barriers at submission boundaries use this
// form.
func (t *Tracker) NoteAccessDeferred(buffer vk.Buffer, kind AccessKind) {
	descriptor, needed := t.NoteAccess(buffer, kind)
	if !needed {
		return
	}
	t.mu.Lock()
	t.pending = append(t.pending, descriptor)
	t.mu.Unlock()
}

// Flush hands every deferred barrier to emit and clears the queue. Called at
// command-buffer submission boundaries so queued commands observe the
// intended ordering.
func (t *Tracker) Flush(emit func(Descriptor)) {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, descriptor := range pending {
		emit(descriptor)
	}
}

// stageAndAccess maps an access kind to the pipeline stage and access mask
// it participates in.
func stageAndAccess(kind AccessKind) (vk.PipelineStageFlags, vk.AccessFlags) {
	switch kind {
	case AccessTransferWrite:
		return vk.PipelineStageTransfer, vk.AccessTransferWrite
	case AccessShaderRead:
		return vk.PipelineStageComputeShader, vk.AccessShaderRead
	case AccessShaderWrite:
		return vk.PipelineStageComputeShader, vk.AccessShaderWrite
	default:
		return 0, 0
	}
}

// edgeBarrier maps an access-state edge to the barrier it requires, if any.
func edgeBarrier(from, to AccessKind) (Descriptor, bool) {
	var kind Kind
	switch {
	case from == to && to != AccessShaderWrite:
		// Read-after-read and repeated uploads are free.
		return Descriptor{}, false
	case from == AccessNone && to != AccessShaderRead:
		// First observed non-read access: nothing precedes it.
		return Descriptor{}, false
	case to == AccessShaderRead && (from == AccessNone || from == AccessTransferWrite):
		kind = UploadToRead
	case from == AccessShaderRead && to != AccessShaderRead:
		kind = ReadToWrite
	case from == AccessShaderWrite && to == AccessShaderRead:
		kind = WriteToRead
	case from == AccessTransferWrite && to == AccessShaderWrite:
		kind = UploadToRead
	default:
		// Write-after-write in some combination of transfer and shader
		// stages.
		kind = WriteToWrite
	}

	srcStage, srcAccess := stageAndAccess(from)
	dstStage, dstAccess := stageAndAccess(to)
	if from == AccessNone {
		// The upload happened through a host write or transfer that the
		// tracker never saw; cover it from the transfer stage.
		srcStage, srcAccess = vk.PipelineStageTransfer, vk.AccessTransferWrite
	}
	return Descriptor{
		Kind:      kind,
		SrcStage:  srcStage,
		DstStage:  dstStage,
		SrcAccess: srcAccess,
		DstAccess: dstAccess,
	}, true
}

// Generation returns the buffer's transition counter. It increases
// monotonically and bumps on every access-kind change and every emitted
// barrier; equal generations mean neither happened in between.
func (t *Tracker) Generation(buffer vk.Buffer) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.states.Get(buffer); ok {
		return state.generation
	}
	return 0
}

// Forget drops tracking state for a destroyed buffer.
func (t *Tracker) Forget(buffer vk.Buffer) {
	t.mu.Lock()
	t.states.Delete(buffer)
	t.mu.Unlock()
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// BarriersPerDispatch is the emitted-barrier ratio over a dispatch count.
func (t *Tracker) BarriersPerDispatch(dispatches uint64) float64 {
	if dispatches == 0 {
		return 0
	}
	return float64(t.Stats().Total) / float64(dispatches)
}
