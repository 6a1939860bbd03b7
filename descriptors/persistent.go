// Package descriptors keeps storage-buffer descriptor sets persistent. Set 0
// is written exactly once per binding group and reused for every later
// dispatch against the same buffers; per-dispatch parameters travel through
// push constants instead of descriptor updates.
package descriptors

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/cobalt-gpu/cobalt/icd"
	"github.com/cobalt-gpu/cobalt/vk"
)

const (
	// PersistentSetIndex is the descriptor set slot reserved for storage
	// buffers.
	PersistentSetIndex uint32 = 0
	// MaxPushConstantBytes caps per-dispatch parameters regardless of what
	// the device would allow.
	MaxPushConstantBytes uint32 = 128
	// poolChunkSets is how many sets each backing descriptor pool holds.
	poolChunkSets = 64
)

// ErrPushConstantTooLarge rejects parameter blocks that exceed the
// push-constant budget at pipeline-layout creation time.
var ErrPushConstantTooLarge = errors.New("push constant block exceeds limit")

// Manager caches layouts and descriptor sets for one device.
type Manager struct {
	logger   *slog.Logger
	device   vk.Device
	commands *icd.DeviceCommands

	// pushLimit is min(device limit, MaxPushConstantBytes).
	pushLimit uint32

	mu       sync.Mutex
	layouts  *swiss.Map[uint32, vk.DescriptorSetLayout]
	sets     *swiss.Map[uint64, vk.DescriptorSet]
	pools    []vk.DescriptorPool
	poolLeft int
	maxBinds uint32

	updates atomic.Uint64
}

// NewManager creates the descriptor manager for one device.
func NewManager(logger *slog.Logger, device vk.Device, commands *icd.DeviceCommands, limits vk.PhysicalDeviceLimits) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	pushLimit := limits.MaxPushConstantsSize
	if pushLimit == 0 || pushLimit > MaxPushConstantBytes {
		pushLimit = MaxPushConstantBytes
	}
	return &Manager{
		logger:    logger,
		device:    device,
		commands:  commands,
		pushLimit: pushLimit,
		layouts:   swiss.NewMap[uint32, vk.DescriptorSetLayout](4),
		sets:      swiss.NewMap[uint64, vk.DescriptorSet](32),
	}
}

// PushConstantLimit returns the effective per-dispatch parameter budget.
func (m *Manager) PushConstantLimit() uint32 {
	return m.pushLimit
}

// CheckPushConstantSize validates a parameter block size against the
// budget. Call at pipeline-layout creation, not at dispatch.
func (m *Manager) CheckPushConstantSize(size uint32) error {
	if size > m.pushLimit {
		return errors.Wrapf(ErrPushConstantTooLarge, "%d > %d bytes", size, m.pushLimit)
	}
	return nil
}

// UpdateCount returns how many descriptor-set writes have been issued.
// Repeated dispatches against cached groups leave it unchanged.
func (m *Manager) UpdateCount() uint64 {
	return m.updates.Load()
}

// PersistentLayout returns the Set 0 layout with bindingCount storage-buffer
// slots, creating and caching it on first use.
func (m *Manager) PersistentLayout(bindingCount uint32) (vk.DescriptorSetLayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistentLayoutLocked(bindingCount)
}

func (m *Manager) persistentLayoutLocked(bindingCount uint32) (vk.DescriptorSetLayout, error) {
	if layout, ok := m.layouts.Get(bindingCount); ok {
		return layout, nil
	}

	bindings := make([]vk.DescriptorSetLayoutBinding, bindingCount)
	for i := range bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageCompute,
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: bindingCount,
		PBindings:    &bindings[0],
	}
	var layout vk.DescriptorSetLayout
	if err := m.commands.CreateDescriptorSetLayout(m.device, &createInfo, nil, &layout).Err(); err != nil {
		return 0, errors.Wrap(err, "creating persistent set layout")
	}
	m.layouts.Put(bindingCount, layout)
	if bindingCount > m.maxBinds {
		m.maxBinds = bindingCount
	}
	return layout, nil
}

// groupKey fingerprints a binding group. The manager is per device, so the
// buffer handles alone identify the group.
func groupKey(buffers []vk.Buffer) uint64 {
	hash := fnv.New64a()
	var scratch [8]byte
	for _, buffer := range buffers {
		value := uint64(buffer)
		for i := range scratch {
			scratch[i] = byte(value >> (8 * i))
		}
		hash.Write(scratch[:])
	}
	return hash.Sum64()
}

// PersistentSet returns the descriptor set prefilled with the given buffers
// at Set 0 bindings 0..n-1. The set is cached by binding group: the first
// request allocates and writes it, every later request is a lookup with no
// descriptor update. The second return reports whether a write happened.
func (m *Manager) PersistentSet(buffers []vk.Buffer) (vk.DescriptorSet, bool, error) {
	if len(buffers) == 0 {
		return 0, false, errors.New("empty binding group")
	}

	key := groupKey(buffers)

	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.sets.Get(key); ok {
		return set, false, nil
	}

	layout, err := m.persistentLayoutLocked(uint32(len(buffers)))
	if err != nil {
		return 0, false, err
	}
	if err := m.ensurePoolLocked(); err != nil {
		return 0, false, err
	}

	pool := m.pools[len(m.pools)-1]
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        &layout,
	}
	var set vk.DescriptorSet
	if err := m.commands.AllocateDescriptorSets(m.device, &allocateInfo, &set).Err(); err != nil {
		return 0, false, errors.Wrap(err, "allocating persistent descriptor set")
	}
	m.poolLeft--

	bufferInfos := make([]vk.DescriptorBufferInfo, len(buffers))
	writes := make([]vk.WriteDescriptorSet, len(buffers))
	for i, buffer := range buffers {
		bufferInfos[i] = vk.DescriptorBufferInfo{
			Buffer: buffer,
			Offset: 0,
			Range:  vk.WholeSize,
		}
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo:     &bufferInfos[i],
		}
	}
	m.commands.UpdateDescriptorSets(m.device, uint32(len(writes)), &writes[0], 0, nil)
	m.updates.Add(1)

	m.sets.Put(key, set)
	return set, true, nil
}

// ensurePoolLocked grows the pool list when the current chunk is exhausted.
// The pool is always created through a fully populated create-info; sizing
// follows the largest layout seen so far.
func (m *Manager) ensurePoolLocked() error {
	if m.poolLeft > 0 {
		return nil
	}

	// Size descriptors per set by the widest layout seen, with headroom for
	// groups that show up after the pool exists.
	perSet := m.maxBinds
	if perSet < 4 {
		perSet = 4
	}
	poolSize := vk.DescriptorPoolSize{
		Type:            vk.DescriptorTypeStorageBuffer,
		DescriptorCount: perSet * poolChunkSets,
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       poolChunkSets,
		PoolSizeCount: 1,
		PPoolSizes:    &poolSize,
	}
	var pool vk.DescriptorPool
	if err := m.commands.CreateDescriptorPool(m.device, &createInfo, nil, &pool).Err(); err != nil {
		return errors.Wrap(err, "creating descriptor pool")
	}
	m.pools = append(m.pools, pool)
	m.poolLeft = poolChunkSets
	return nil
}

// Forget invalidates cached sets after a buffer is destroyed. Group
// membership is not recoverable from the hashed keys, so the whole cache is
// dropped; buffer destruction is cold path and each surviving group costs
// one write on its next dispatch. The sets themselves return to their pool
// at Cleanup.
func (m *Manager) Forget(buffer vk.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = swiss.NewMap[uint64, vk.DescriptorSet](32)
}

// Cleanup destroys every pool and layout the manager created. Idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pool := range m.pools {
		m.commands.DestroyDescriptorPool(m.device, pool, nil)
	}
	m.pools = nil
	m.poolLeft = 0
	m.sets = swiss.NewMap[uint64, vk.DescriptorSet](0)

	m.layouts.Iter(func(count uint32, layout vk.DescriptorSetLayout) bool {
		m.commands.DestroyDescriptorSetLayout(m.device, layout, nil)
		return false
	})
	m.layouts = swiss.NewMap[uint32, vk.DescriptorSetLayout](0)
	m.maxBinds = 0
}
