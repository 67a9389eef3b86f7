package index

import (
	"math"
	"sort"
	"sync"

	"github.com/driftline/worldcore/internal/world"
)

const DefaultCellSize = 16.0

type cellKey struct {
	X int
	Y int
}

type indexEntry struct {
	cell cellKey
	inst *world.Instance
}

// worldIndex holds the grid buckets for one experience's world.
type worldIndex struct {
	cells   map[cellKey][]string
	entries map[string]*indexEntry
}

func newWorldIndex() *worldIndex {
	return &worldIndex{
		cells:   make(map[cellKey][]string),
		entries: make(map[string]*indexEntry),
	}
}

// Index answers proximity and attribute queries over committed world
// states without full scans. It is updated incrementally on every commit
// (it implements the world store's CommitObserver), so query results are
// always consistent with the latest committed version.
type Index struct {
	cellSize    float64
	invCellSize float64

	mu     sync.RWMutex
	worlds map[string]*worldIndex
}

type IndexOpt func(*Index)

// WithCellSize overrides the grid cell size.
func WithCellSize(size float64) IndexOpt {
	return func(i *Index) {
		if size > 0 {
			i.cellSize = size
			i.invCellSize = 1.0 / size
		}
	}
}

func New(opts ...IndexOpt) *Index {
	idx := &Index{
		cellSize:    DefaultCellSize,
		invCellSize: 1.0 / DefaultCellSize,
		worlds:      make(map[string]*worldIndex),
	}

	for _, opt := range opts {
		opt(idx)
	}

	return idx
}

// ApplyCommit reconciles one experience's buckets with a freshly committed
// state: new and moved entities are upserted, vanished ones removed.
func (idx *Index) ApplyCommit(experience string, s *world.State) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	w, ok := idx.worlds[experience]
	if !ok {
		w = newWorldIndex()
		idx.worlds[experience] = w
	}

	for id, inst := range s.Entities {
		idx.upsert(w, id, inst)
	}
	for id := range w.entries {
		if _, ok := s.Entities[id]; !ok {
			idx.remove(w, id)
		}
	}
}

func (idx *Index) upsert(w *worldIndex, id string, inst *world.Instance) {
	cell := idx.cellFor(inst.Location.X, inst.Location.Y)

	if prev, ok := w.entries[id]; ok {
		if prev.cell == cell {
			prev.inst = inst.Clone()
			return
		}
		idx.remove(w, id)
	}

	w.entries[id] = &indexEntry{cell: cell, inst: inst.Clone()}
	w.cells[cell] = append(w.cells[cell], id)
}

func (idx *Index) remove(w *worldIndex, id string) {
	entry, ok := w.entries[id]
	if !ok {
		return
	}
	delete(w.entries, id)

	bucket := w.cells[entry.cell]
	for i, bid := range bucket {
		if bid == id {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(w.cells, entry.cell)
	} else {
		w.cells[entry.cell] = bucket
	}
}

func (idx *Index) cellFor(x, y float64) cellKey {
	return cellKey{
		X: int(math.Floor(x * idx.invCellSize)),
		Y: int(math.Floor(y * idx.invCellSize)),
	}
}

// QueryRadius returns entities within radius r of point (x, y), sorted by
// instance id for deterministic output.
func (idx *Index) QueryRadius(experience string, x, y, r float64) []*world.Instance {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	w, ok := idx.worlds[experience]
	if !ok {
		return nil
	}

	minCell := idx.cellFor(x-r, y-r)
	maxCell := idx.cellFor(x+r, y+r)
	r2 := r * r

	var out []*world.Instance
	for cx := minCell.X; cx <= maxCell.X; cx++ {
		for cy := minCell.Y; cy <= maxCell.Y; cy++ {
			for _, id := range w.cells[cellKey{X: cx, Y: cy}] {
				entry := w.entries[id]
				dx := entry.inst.Location.X - x
				dy := entry.inst.Location.Y - y
				if dx*dx+dy*dy <= r2 {
					out = append(out, entry.inst.Clone())
				}
			}
		}
	}

	sortInstances(out)
	return out
}

// QueryAttr returns entities matching the predicate, sorted by instance id.
func (idx *Index) QueryAttr(experience string, pred func(*world.Instance) bool) []*world.Instance {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	w, ok := idx.worlds[experience]
	if !ok {
		return nil
	}

	var out []*world.Instance
	for _, entry := range w.entries {
		if pred(entry.inst) {
			out = append(out, entry.inst.Clone())
		}
	}

	sortInstances(out)
	return out
}

func sortInstances(insts []*world.Instance) {
	sort.Slice(insts, func(i, j int) bool {
		return insts[i].InstanceId < insts[j].InstanceId
	})
}
