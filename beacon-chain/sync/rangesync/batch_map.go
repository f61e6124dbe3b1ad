package rangesync

import (
	"sort"

	"github.com/theQRL/qrysm/consensus-types/primitives"
)

// batchMap is an ordered map keyed by startEpoch, iterable in ascending
// key order (spec.md §3: "batches: OrderedMap<Epoch, Batch>"). Go maps
// have no iteration order, so a sorted key slice is kept alongside the
// map as a parallel index.
type batchMap struct {
	byEpoch map[primitives.Epoch]*Batch
	order   []primitives.Epoch // kept sorted ascending
}

func newBatchMap() *batchMap {
	return &batchMap{byEpoch: make(map[primitives.Epoch]*Batch)}
}

// Get returns the batch at epoch, if any.
func (m *batchMap) Get(epoch primitives.Epoch) (*Batch, bool) {
	b, ok := m.byEpoch[epoch]
	return b, ok
}

// Insert adds b, keyed by its own StartEpoch. A duplicate key is ignored
// and the existing batch kept; callers check Get first
// (SyncChain.includeNextBatchLocked does).
func (m *batchMap) Insert(b *Batch) {
	epoch := b.StartEpoch()
	if _, exists := m.byEpoch[epoch]; exists {
		return
	}
	m.byEpoch[epoch] = b
	i := sort.Search(len(m.order), func(i int) bool { return m.order[i] >= epoch })
	m.order = append(m.order, 0)
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = epoch
}

// Remove deletes the batch at epoch.
func (m *batchMap) Remove(epoch primitives.Epoch) {
	if _, ok := m.byEpoch[epoch]; !ok {
		return
	}
	delete(m.byEpoch, epoch)
	i := sort.Search(len(m.order), func(i int) bool { return m.order[i] >= epoch })
	if i < len(m.order) && m.order[i] == epoch {
		m.order = append(m.order[:i], m.order[i+1:]...)
	}
}

// Slice returns the batches in ascending startEpoch order.
func (m *batchMap) Slice() []*Batch {
	out := make([]*Batch, 0, len(m.order))
	for _, e := range m.order {
		out = append(out, m.byEpoch[e])
	}
	return out
}

// Len returns the number of batches held.
func (m *batchMap) Len() int {
	return len(m.order)
}
