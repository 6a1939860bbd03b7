// Package pools is the three-class slab allocator behind buffer memory.
// Each device gets at most three pools (device-local, coherent staging,
// cached readback); each pool grows by fixed-size slabs subdivided into
// power-of-two buddy blocks. After the first allocation of each size class
// the steady state serves every allocation and free from the free lists with
// no native memory traffic.
package pools

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/memutil"
	"github.com/cobalt-gpu/cobalt/vk"
)

// DefaultSlabSize is 256 MiB.
const DefaultSlabSize uint64 = 256 << 20

var (
	// ErrNoMemoryType means the device advertises no memory type compatible
	// with the requested class.
	ErrNoMemoryType = errors.New("no compatible memory type for pool class")
	// ErrLiveAllocations is returned when destroying an allocator that still
	// has outstanding allocations.
	ErrLiveAllocations = errors.New("pool has live allocations")
)

// Allocation is one block handed out by a pool. Free it explicitly; pools
// do not scavenge.
type Allocation struct {
	pool      *Pool
	slab      *slab
	offset    uint64
	blockSize uint64
	requested uint64
}

// Memory returns the backing native memory object.
func (a *Allocation) Memory() vk.DeviceMemory { return a.slab.memory }

// Offset returns the byte offset inside the backing memory.
func (a *Allocation) Offset() uint64 { return a.offset }

// Size returns the usable block size, ≥ the requested size.
func (a *Allocation) Size() uint64 { return a.blockSize }

// Mapped returns the persistently mapped pointer for host-visible
// allocations, derived from the slab mapping by offset. Device-local
// allocations return nil.
func (a *Allocation) Mapped() unsafe.Pointer {
	if a.slab.mapped == nil {
		return nil
	}
	return unsafe.Add(a.slab.mapped, a.offset)
}

// Bytes views a host-visible allocation as a byte slice of the requested
// length.
func (a *Allocation) Bytes() []byte {
	mapped := a.Mapped()
	if mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(mapped), a.requested)
}

// Pool is the per-class slab list.
type Pool struct {
	class           Class
	memoryTypeIndex uint32

	mu    sync.Mutex
	slabs []*slab
	live  int
}

// Class returns the pool's memory class.
func (p *Pool) Class() Class { return p.class }

// Allocator owns the three pools of one device.
type Allocator struct {
	logger   *slog.Logger
	device   vk.Device
	commands *icd.DeviceCommands
	memory   vk.PhysicalDeviceMemoryProperties
	slabSize uint64

	mu    sync.Mutex
	pools [classCount]*Pool

	nativeAllocs atomic.Uint64
}

// Options tune the allocator.
type Options struct {
	// SlabSize overrides DefaultSlabSize. Must be a power of two.
	SlabSize uint64
}

// New creates the allocator for one device. Pools are created lazily on
// first allocation of their class.
func New(logger *slog.Logger, device vk.Device, commands *icd.DeviceCommands, memory vk.PhysicalDeviceMemoryProperties, options Options) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	slabSize := options.SlabSize
	if slabSize == 0 {
		slabSize = DefaultSlabSize
	}
	if err := memutil.CheckPow2(slabSize, "slab size"); err != nil {
		return nil, err
	}
	return &Allocator{
		logger:   logger,
		device:   device,
		commands: commands,
		memory:   memory,
		slabSize: slabSize,
	}, nil
}

// NativeAllocationCount returns how many vkAllocateMemory calls have been
// made. Steady-state workloads stop increasing it after warm-up.
func (a *Allocator) NativeAllocationCount() uint64 {
	return a.nativeAllocs.Load()
}

// findMemoryType picks the first memory type carrying all required flags.
// The cached class falls back to coherent when the device has no
// host-cached type.
func (a *Allocator) findMemoryType(class Class) (uint32, error) {
	required := class.RequiredFlags()
	for i := uint32(0); i < a.memory.MemoryTypeCount; i++ {
		if a.memory.MemoryTypes[i].PropertyFlags&required == required {
			return i, nil
		}
	}
	if class == HostVisibleCached {
		return a.findMemoryType(HostVisibleCoherent)
	}
	return 0, errors.Wrapf(ErrNoMemoryType, "%s", class)
}

func (a *Allocator) poolFor(class Class) (*Pool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pool := a.pools[class]; pool != nil {
		return pool, nil
	}
	typeIndex, err := a.findMemoryType(class)
	if err != nil {
		return nil, err
	}
	pool := &Pool{class: class, memoryTypeIndex: typeIndex}
	a.pools[class] = pool
	a.logger.Debug("created memory pool",
		slog.String("class", class.String()),
		slog.Uint64("memory_type", uint64(typeIndex)))
	return pool, nil
}

// newSlab performs the native allocation (and, for host-visible classes,
// the single persistent mapping) for one new slab.
func (a *Allocator) newSlab(pool *Pool, size uint64, dedicated bool) (*slab, error) {
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  size,
		MemoryTypeIndex: pool.memoryTypeIndex,
	}
	var memory vk.DeviceMemory
	if err := a.commands.AllocateMemory(a.device, &allocateInfo, nil, &memory).Err(); err != nil {
		return nil, errors.Wrapf(err, "allocating %d-byte slab for %s", size, pool.class)
	}
	a.nativeAllocs.Add(1)

	var mapped unsafe.Pointer
	if pool.class.HostVisible() {
		if err := a.commands.MapMemory(a.device, memory, 0, vk.WholeSize, 0, &mapped).Err(); err != nil {
			a.commands.FreeMemory(a.device, memory, nil)
			return nil, errors.Wrap(err, "mapping slab")
		}
	}
	return newSlab(memory, size, mapped, dedicated), nil
}

// Allocate serves a block of at least size bytes from the class's pool,
// growing by one slab when every existing slab is full. Alignment must be a
// power of two; block offsets are naturally aligned to the block size, so
// any alignment up to the rounded size is honored.
func (a *Allocator) Allocate(class Class, size, alignment uint64) (*Allocation, error) {
	if size == 0 {
		return nil, errors.New("zero-size allocation")
	}
	if alignment == 0 {
		alignment = 1
	}
	if err := memutil.CheckPow2(alignment, "alignment"); err != nil {
		return nil, err
	}

	rounded := memutil.NextPow2(size)
	if rounded < minBlockSize {
		rounded = minBlockSize
	}
	if alignment > rounded {
		rounded = alignment
	}

	pool, err := a.poolFor(class)
	if err != nil {
		return nil, err
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	// Requests larger than the slab size get a dedicated slab holding one
	// block; they join the slab list so stats and teardown see them, but
	// smaller allocations never land in them.
	if rounded > a.slabSize {
		dedicated, err := a.newSlab(pool, rounded, true)
		if err != nil {
			return nil, err
		}
		offset, ok := dedicated.allocate(rounded)
		if !ok {
			return nil, errors.New("dedicated slab failed to satisfy its own block")
		}
		pool.slabs = append(pool.slabs, dedicated)
		pool.live++
		return &Allocation{pool: pool, slab: dedicated, offset: offset, blockSize: rounded, requested: size}, nil
	}

	for _, s := range pool.slabs {
		if s.dedicated || !s.hasFree(rounded) {
			continue
		}
		if offset, ok := s.allocate(rounded); ok {
			memutil.DebugValidate(s)
			pool.live++
			return &Allocation{pool: pool, slab: s, offset: offset, blockSize: rounded, requested: size}, nil
		}
	}

	grown, err := a.newSlab(pool, a.slabSize, false)
	if err != nil {
		return nil, err
	}
	pool.slabs = append(pool.slabs, grown)
	offset, ok := grown.allocate(rounded)
	if !ok {
		return nil, errors.Newf("fresh slab cannot hold %d bytes", rounded)
	}
	memutil.DebugValidate(grown)
	pool.live++
	return &Allocation{pool: pool, slab: grown, offset: offset, blockSize: rounded, requested: size}, nil
}

// Free returns the block to its slab's free lists, coalescing buddies. The
// slab list never shrinks; emptied slabs stay warm for reuse.
func (a *Allocator) Free(allocation *Allocation) error {
	if allocation == nil {
		return nil
	}
	pool := allocation.pool
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if err := allocation.slab.free(allocation.offset); err != nil {
		return err
	}
	memutil.DebugValidate(allocation.slab)
	pool.live--
	return nil
}

// BindBuffer attaches a native buffer to the allocation's backing memory at
// its offset.
func (a *Allocator) BindBuffer(buffer vk.Buffer, allocation *Allocation) error {
	result := a.commands.BindBufferMemory(a.device, buffer, allocation.Memory(), allocation.Offset())
	return errors.Wrap(result.Err(), "binding buffer memory")
}

// Destroy releases every slab of every pool. It refuses while any
// allocation is live; a pool cannot disappear out from under its
// allocations.
func (a *Allocator) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		pool.mu.Lock()
		live := pool.live
		pool.mu.Unlock()
		if live > 0 {
			return errors.Wrapf(ErrLiveAllocations, "%s has %d", pool.class, live)
		}
	}

	for i, pool := range a.pools {
		if pool == nil {
			continue
		}
		pool.mu.Lock()
		for _, s := range pool.slabs {
			if s.mapped != nil {
				a.commands.UnmapMemory(a.device, s.memory)
			}
			a.commands.FreeMemory(a.device, s.memory, nil)
		}
		pool.slabs = nil
		pool.mu.Unlock()
		a.pools[i] = nil
	}
	return nil
}
