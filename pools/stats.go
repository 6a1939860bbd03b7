package pools

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// BuildStatsString renders per-pool slab and block occupancy as JSON for
// diagnostics.
func (a *Allocator) BuildStatsString() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("NativeAllocations").Int(int(a.nativeAllocs.Load()))
	poolsArray := obj.Name("Pools").Array()
	for _, pool := range a.pools {
		if pool == nil {
			continue
		}
		pool.mu.Lock()
		poolObj := poolsArray.Object()
		poolObj.Name("Class").String(pool.class.String())
		poolObj.Name("MemoryType").Int(int(pool.memoryTypeIndex))
		poolObj.Name("LiveAllocations").Int(pool.live)
		slabsArray := poolObj.Name("Slabs").Array()
		for _, s := range pool.slabs {
			slabObj := slabsArray.Object()
			slabObj.Name("SizeBytes").Int(int(s.size))
			slabObj.Name("Allocations").Int(len(s.allocated))
			slabObj.Name("Dedicated").Bool(s.dedicated)
			free := 0
			for order, set := range s.freeSets {
				free += len(set) * int(s.blockSize(order))
			}
			slabObj.Name("FreeBytes").Int(free)
			slabObj.End()
		}
		slabsArray.End()
		poolObj.End()
		pool.mu.Unlock()
	}
	poolsArray.End()
	obj.End()
	return string(writer.Bytes())
}
