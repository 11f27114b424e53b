// Package node composes the durable store and the read cache into one
// cluster member. The node id is fixed for the node's lifetime and
// names its WAL file.
package node

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ryandielhenn/emberkv/pkg/cache"
	"github.com/ryandielhenn/emberkv/pkg/wal"
)

type Node struct {
	id    string
	store *wal.Store
	cache *cache.LRU[string, string]
}

// Open creates the node's store at <dir>/<id>.wal, replaying whatever
// is already there.
func Open(id, dir string, cacheCapacity int, logger *zap.Logger) (*Node, error) {
	store, err := wal.Open(filepath.Join(dir, id+".wal"), logger)
	if err != nil {
		return nil, err
	}
	return &Node{
		id:    id,
		store: store,
		cache: cache.NewLRU[string, string](cacheCapacity),
	}, nil
}

func (n *Node) ID() string {
	return n.id
}

// Put writes through to the store first; the cache is only populated
// once the write is durable.
func (n *Node) Put(key, value string) error {
	if err := n.store.Put(key, value); err != nil {
		return err
	}
	n.cache.Put(key, value)
	return nil
}

// Get is cache-aside: hit the cache, fall back to the store, and
// populate the cache on a storage hit.
func (n *Node) Get(key string) (string, bool) {
	if v, ok := n.cache.Get(key); ok {
		return v, true
	}
	v, ok := n.store.Get(key)
	if ok {
		n.cache.Put(key, v)
	}
	return v, ok
}

// Remove deletes from the store and invalidates the cache, reporting
// the store's verdict on whether the key existed.
func (n *Node) Remove(key string) (bool, error) {
	existed, err := n.store.Remove(key)
	if err != nil {
		return false, err
	}
	n.cache.Remove(key)
	return existed, nil
}

// PutBatch ingests a redistribution batch: one WAL flush, then the
// cache is warmed entry by entry.
func (n *Node) PutBatch(kvs map[string]string) error {
	if err := n.store.PutBatch(kvs); err != nil {
		return err
	}
	for k, v := range kvs {
		n.cache.Put(k, v)
	}
	return nil
}

// RemoveBatch drops a redistribution batch and invalidates the cache.
func (n *Node) RemoveBatch(keys []string) error {
	if err := n.store.RemoveBatch(keys); err != nil {
		return err
	}
	for _, k := range keys {
		n.cache.Remove(k)
	}
	return nil
}

// Snapshot returns a copy of everything this node stores.
func (n *Node) Snapshot() map[string]string {
	return n.store.Snapshot()
}

func (n *Node) Keys() []string {
	return n.store.Keys()
}

func (n *Node) Len() int {
	return n.store.Len()
}

// KeysWhere snapshots the store and returns the entries whose keys
// satisfy pred. Redistribution planners use it to select movers.
func (n *Node) KeysWhere(pred func(key string) bool) map[string]string {
	out := make(map[string]string)
	for k, v := range n.store.Snapshot() {
		if pred(k) {
			out[k] = v
		}
	}
	return out
}

// Close releases the WAL append handle.
func (n *Node) Close() error {
	return n.store.Close()
}
