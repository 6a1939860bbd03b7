package pools

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/memutil"
	"github.com/cobalt-gpu/cobalt/vk"
)

// minBlockSize is the smallest buddy block handed out. Sub-256-byte
// allocations round up to it, which also satisfies every storage-buffer
// offset alignment in practice.
const minBlockSize uint64 = 256

// slab is one native device-memory allocation subdivided into power-of-two
// buddy blocks. Free blocks are indexed per order; splitting walks down from
// the smallest free larger block, freeing coalesces buddies back up.
type slab struct {
	memory vk.DeviceMemory
	size   uint64
	mapped unsafe.Pointer // host-visible slabs only; mapped once at creation

	orders    int
	freeSets  []map[uint64]struct{} // per order: offsets of free blocks
	allocated map[uint64]int        // offset → order of live allocations
	dedicated bool                  // oversized request; one block, never split
}

func orderCount(slabSize uint64) int {
	return memutil.Log2(slabSize) - memutil.Log2(minBlockSize) + 1
}

func newSlab(memory vk.DeviceMemory, size uint64, mapped unsafe.Pointer, dedicated bool) *slab {
	s := &slab{
		memory:    memory,
		size:      size,
		mapped:    mapped,
		orders:    orderCount(size),
		allocated: map[uint64]int{},
		dedicated: dedicated,
	}
	s.freeSets = make([]map[uint64]struct{}, s.orders)
	for i := range s.freeSets {
		s.freeSets[i] = map[uint64]struct{}{}
	}
	// The whole slab starts as one free block of the top order.
	s.freeSets[s.orders-1][0] = struct{}{}
	return s
}

// blockSize returns the byte size of a block at the given order.
func (s *slab) blockSize(order int) uint64 {
	return minBlockSize << order
}

// orderFor returns the smallest order whose block fits size. size must
// already be a power of two ≥ minBlockSize.
func (s *slab) orderFor(size uint64) int {
	return memutil.Log2(size) - memutil.Log2(minBlockSize)
}

// allocate carves a block of exactly size bytes (a power of two) out of the
// slab, splitting a larger free block if needed. Returns the offset.
func (s *slab) allocate(size uint64) (uint64, bool) {
	order := s.orderFor(size)
	if order >= s.orders {
		return 0, false
	}

	// Find the smallest free block at or above the wanted order.
	from := -1
	for candidate := order; candidate < s.orders; candidate++ {
		if len(s.freeSets[candidate]) > 0 {
			from = candidate
			break
		}
	}
	if from < 0 {
		return 0, false
	}

	var offset uint64
	for candidate := range s.freeSets[from] {
		offset = candidate
		break
	}
	delete(s.freeSets[from], offset)

	// Split down, parking the upper buddy at each level.
	for from > order {
		from--
		buddy := offset + s.blockSize(from)
		s.freeSets[from][buddy] = struct{}{}
	}

	s.allocated[offset] = order
	return offset, true
}

// free returns a block to the slab and coalesces it with its buddy as far
// up as possible.
func (s *slab) free(offset uint64) error {
	order, ok := s.allocated[offset]
	if !ok {
		return errors.Newf("offset %d is not a live allocation in this slab", offset)
	}
	delete(s.allocated, offset)

	for order < s.orders-1 {
		buddy := offset ^ s.blockSize(order)
		if _, free := s.freeSets[order][buddy]; !free {
			break
		}
		delete(s.freeSets[order], buddy)
		if buddy < offset {
			offset = buddy
		}
		order++
	}
	s.freeSets[order][offset] = struct{}{}
	return nil
}

// empty reports whether no live allocations remain.
func (s *slab) empty() bool {
	return len(s.allocated) == 0
}

// hasFree reports whether a block of the given power-of-two size could be
// allocated without growing.
func (s *slab) hasFree(size uint64) bool {
	order := s.orderFor(size)
	if order >= s.orders {
		return false
	}
	for candidate := order; candidate < s.orders; candidate++ {
		if len(s.freeSets[candidate]) > 0 {
			return true
		}
	}
	return false
}

// Validate checks the buddy invariants: every tracked byte is accounted for
// exactly once and block offsets are aligned to their block size.
func (s *slab) Validate() error {
	var total uint64
	for order, set := range s.freeSets {
		for offset := range set {
			if offset%s.blockSize(order) != 0 {
				return errors.Newf("free block at %d misaligned for order %d", offset, order)
			}
			total += s.blockSize(order)
		}
	}
	for offset, order := range s.allocated {
		if offset%s.blockSize(order) != 0 {
			return errors.Newf("allocation at %d misaligned for order %d", offset, order)
		}
		total += s.blockSize(order)
	}
	if total != s.size {
		return errors.Newf("slab accounts for %d of %d bytes", total, s.size)
	}
	return nil
}
