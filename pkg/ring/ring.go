package ring

import (
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// Hasher maps a string onto the 32-bit ring space. It must be a pure
// function so that both sides of a membership change see the same
// geometry.
type Hasher func(string) uint32

// XXHash is the default Hasher.
func XXHash(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// Murmur32 is an alternative Hasher for callers that want murmur3
// placement.
func Murmur32(s string) uint32 {
	return murmur3.Sum32([]byte(s))
}

// DefaultVirtualNodes is the virtual-node multiplier used when the
// caller passes a non-positive value.
const DefaultVirtualNodes = 100

// HashRing places node ids on a 32-bit ring, each as `virtual` points.
// Ring state is a pure function of the member set: contested positions
// always go to the lexicographically smallest id, regardless of the
// order nodes were added in.
type HashRing struct {
	mu      sync.RWMutex
	virtual int
	hash    Hasher
	points  []uint32            // sorted
	owners  map[uint32]string   // point -> nodeID
	nodes   map[string]struct{} // member set
}

func New(virtual int, h Hasher) *HashRing {
	if virtual <= 0 {
		virtual = DefaultVirtualNodes
	}
	if h == nil {
		h = XXHash
	}
	return &HashRing{
		virtual: virtual,
		hash:    h,
		owners:  make(map[uint32]string),
		nodes:   make(map[string]struct{}),
	}
}

// AddNode inserts `virtual` points for nodeID. Adding a member twice is
// a no-op.
func (r *HashRing) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; ok {
		return
	}
	r.nodes[nodeID] = struct{}{}
	r.rebuild()
}

// RemoveNode erases every point owned by nodeID. Removing a non-member
// is a no-op.
func (r *HashRing) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; !ok {
		return
	}
	delete(r.nodes, nodeID)
	r.rebuild()
}

// rebuild recomputes points and owners from the member set. Members are
// laid down in id order, so the smallest id wins any contested position
// and the result does not depend on insertion history.
func (r *HashRing) rebuild() {
	clear(r.owners)
	r.points = r.points[:0]

	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		for i := 0; i < r.virtual; i++ {
			pt := r.hash(pointKey(id, i))
			if _, taken := r.owners[pt]; taken {
				continue
			}
			r.owners[pt] = id
			r.points = append(r.points, pt)
		}
	}
	slices.Sort(r.points)
}

// GetNode returns the primary for key: the owner of the first point at
// or clockwise after the key's hash, wrapping to the smallest point.
// ok is false iff the ring is empty.
func (r *HashRing) GetNode(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return "", false
	}
	return r.owners[r.points[r.search(r.hash(key))]], true
}

// GetNodes walks clockwise from the key's hash collecting distinct node
// ids, in discovery order. It makes at most one full pass, so the
// result is shorter than count when count exceeds the member count.
func (r *HashRing) GetNodes(key string, count int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 || count <= 0 {
		return nil
	}
	idx := r.search(r.hash(key))

	seen := make(map[string]struct{}, count)
	out := make([]string, 0, count)
	for i := 0; i < len(r.points) && len(out) < count; i++ {
		id := r.owners[r.points[(idx+i)%len(r.points)]]
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// search returns the index of the first point >= h, wrapping to 0.
// Callers hold r.mu.
func (r *HashRing) search(h uint32) int {
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return idx
}

// Hash exposes the ring's hash function for planners.
func (r *HashRing) Hash(key string) uint32 {
	return r.hash(key)
}

// Contains reports membership of nodeID.
func (r *HashRing) Contains(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[nodeID]
	return ok
}

// NodeIDs returns the member ids in sorted order.
func (r *HashRing) NodeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of members (not points).
func (r *HashRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Clone returns an independent deep copy. Membership planners snapshot
// the ring before mutating it so the pre- and post-change geometries can
// be diffed exactly.
func (r *HashRing) Clone() *HashRing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &HashRing{
		virtual: r.virtual,
		hash:    r.hash,
		points:  slices.Clone(r.points),
		owners:  make(map[uint32]string, len(r.owners)),
		nodes:   make(map[string]struct{}, len(r.nodes)),
	}
	for pt, id := range r.owners {
		c.owners[pt] = id
	}
	for id := range r.nodes {
		c.nodes[id] = struct{}{}
	}
	return c
}

func pointKey(nodeID string, i int) string {
	return nodeID + "#" + strconv.Itoa(i)
}
