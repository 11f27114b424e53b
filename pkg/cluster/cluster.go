// Package cluster coordinates a set of co-located storage nodes: it
// owns the hash ring, routes client reads and writes to replica sets,
// and moves only the affected keys when membership changes.
package cluster

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/emberkv/internal/telemetry"
	"github.com/ryandielhenn/emberkv/pkg/node"
	"github.com/ryandielhenn/emberkv/pkg/ring"
)

// DefaultReplicationFactor is the number of distinct replicas per key
// when the caller passes a non-positive factor.
const DefaultReplicationFactor = 3

// ErrNoNodesAvailable is returned by Put when the ring is empty.
var ErrNoNodesAvailable = errors.New("cluster: no nodes available")

// PartialWriteError reports a put that landed on some replicas but not
// all of them. The write is durable on every id in Succeeded.
type PartialWriteError struct {
	Key       string
	Succeeded []string
	Failed    map[string]error
}

func (e *PartialWriteError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	return fmt.Sprintf("cluster: partial write of %q: ok on [%s], failed on [%s]",
		e.Key, strings.Join(e.Succeeded, " "), strings.Join(failed, " "))
}

// Cluster routes operations across nodes. Client operations take the
// lock shared; membership changes take it exclusive, so clients never
// observe a half-redistributed ring.
type Cluster struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
	ring  *ring.HashRing
	rf    int

	// neighbors is replication metadata only; writes route through
	// GetNodes(key, rf), not through it.
	neighbors map[string][]string

	dataDir  string
	cacheCap int
	log      *zap.Logger
	onChange func(members []string)
}

// Option configures a Cluster at construction time.
type Option func(*options)

type options struct {
	virtual  int
	cacheCap int
	hasher   ring.Hasher
	dataDir  string
	log      *zap.Logger
	onChange func(members []string)
}

// WithVirtualNodes sets the per-node virtual point count (default 100).
func WithVirtualNodes(v int) Option {
	return func(o *options) { o.virtual = v }
}

// WithCacheCapacity sets each node's LRU entry capacity (default 1000).
func WithCacheCapacity(c int) Option {
	return func(o *options) { o.cacheCap = c }
}

// WithHasher substitutes the ring hash function; tests use this to pin
// deterministic geometries.
func WithHasher(h ring.Hasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithDataDir places the per-node WAL files (default: current dir).
func WithDataDir(dir string) Option {
	return func(o *options) { o.dataDir = dir }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMembershipHook registers a callback invoked with the sorted
// member list after every successful AddNode/RemoveNode, outside the
// cluster lock. cmd wires this to the etcd registry.
func WithMembershipHook(fn func(members []string)) Option {
	return func(o *options) { o.onChange = fn }
}

func New(rf int, opts ...Option) *Cluster {
	if rf <= 0 {
		rf = DefaultReplicationFactor
	}
	o := options{
		dataDir: ".",
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cluster{
		nodes:     make(map[string]*node.Node),
		ring:      ring.New(o.virtual, o.hasher),
		rf:        rf,
		neighbors: make(map[string][]string),
		dataDir:   o.dataDir,
		cacheCap:  o.cacheCap,
		log:       o.log,
		onChange:  o.onChange,
	}
}

// AddNode creates a node for id, inserts it into the ring, and migrates
// exactly those keys whose primary responsibility shifted onto it.
func (c *Cluster) AddNode(id string) error {
	if err := c.addNode(id); err != nil {
		return err
	}
	c.notifyMembership()
	return nil
}

func (c *Cluster) addNode(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[id]; ok {
		return fmt.Errorf("cluster: node %q already present", id)
	}

	n, err := node.Open(id, c.dataDir, c.cacheCap, c.log)
	if err != nil {
		return fmt.Errorf("cluster: add node %q: %w", id, err)
	}
	c.nodes[id] = n

	oldRing := c.ring.Clone()
	c.ring.AddNode(id)

	moved, err := c.redistributeOnAdd(id, oldRing)
	if err != nil {
		return err
	}
	c.setupReplication()
	telemetry.ClusterNodes.Set(float64(len(c.nodes)))

	c.log.Info("node added",
		zap.String("node", id),
		zap.Int("members", len(c.nodes)),
		zap.Int("keys_moved", moved))
	return nil
}

// RemoveNode drains id's keys to their new primaries, then drops the
// node and its WAL file. Removing an unknown id is a no-op and returns
// false.
func (c *Cluster) RemoveNode(id string) (bool, error) {
	found, err := c.removeNode(id)
	if err != nil || !found {
		return found, err
	}
	c.notifyMembership()
	return true, nil
}

func (c *Cluster) removeNode(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dep, ok := c.nodes[id]
	if !ok {
		c.log.Warn("remove of unknown node", zap.String("node", id))
		return false, nil
	}

	oldRing := c.ring.Clone()
	moved, err := c.redistributeOnRemove(id, dep, oldRing)
	if err != nil {
		return true, err
	}

	c.ring.RemoveNode(id)
	delete(c.nodes, id)
	delete(c.neighbors, id)
	if err := dep.Close(); err != nil {
		c.log.Warn("close of departing node", zap.String("node", id), zap.Error(err))
	}
	// a later AddNode with the same id must start empty, not replay
	// the departed node's log
	if err := os.Remove(filepath.Join(c.dataDir, id+".wal")); err != nil && !os.IsNotExist(err) {
		c.log.Warn("could not delete departing node's wal", zap.String("node", id), zap.Error(err))
	}
	c.setupReplication()
	telemetry.ClusterNodes.Set(float64(len(c.nodes)))

	c.log.Info("node removed",
		zap.String("node", id),
		zap.Int("members", len(c.nodes)),
		zap.Int("keys_moved", moved))
	return true, nil
}

// Put writes key to every in-cluster member of its replica set. It
// returns ErrNoNodesAvailable on an empty ring and *PartialWriteError
// when at least one replica failed.
func (c *Cluster) Put(key, value string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	replicas := c.ring.GetNodes(key, c.rf)
	if len(replicas) == 0 {
		telemetry.OpsTotal.WithLabelValues("put", "no_nodes").Inc()
		return ErrNoNodesAvailable
	}

	var succeeded []string
	var failed map[string]error
	for _, id := range replicas {
		n, ok := c.nodes[id]
		if !ok {
			continue
		}
		if err := n.Put(key, value); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
			telemetry.ReplicaWrites.WithLabelValues("error").Inc()
			c.log.Error("replica write failed",
				zap.String("node", id), zap.String("key", key), zap.Error(err))
			continue
		}
		succeeded = append(succeeded, id)
		telemetry.ReplicaWrites.WithLabelValues("ok").Inc()
	}

	if len(failed) > 0 {
		telemetry.OpsTotal.WithLabelValues("put", "partial").Inc()
		return &PartialWriteError{Key: key, Succeeded: succeeded, Failed: failed}
	}
	telemetry.OpsTotal.WithLabelValues("put", "ok").Inc()
	return nil
}

// Get returns the first replica's answer that reports the key present.
// ok is false when no replica holds it. The empty string is a
// legitimate stored value.
func (c *Cluster) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.ring.GetNodes(key, c.rf) {
		if n, ok := c.nodes[id]; ok {
			if v, ok := n.Get(key); ok {
				telemetry.OpsTotal.WithLabelValues("get", "hit").Inc()
				return v, true
			}
		}
	}
	telemetry.OpsTotal.WithLabelValues("get", "miss").Inc()
	return "", false
}

// Remove deletes key from its replica set, reporting whether any
// replica actually held it.
func (c *Cluster) Remove(key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	removed := false
	var firstErr error
	for _, id := range c.ring.GetNodes(key, c.rf) {
		n, ok := c.nodes[id]
		if !ok {
			continue
		}
		existed, err := n.Remove(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.log.Error("replica delete failed",
				zap.String("node", id), zap.String("key", key), zap.Error(err))
			continue
		}
		removed = removed || existed
	}

	if removed {
		telemetry.OpsTotal.WithLabelValues("del", "ok").Inc()
		return true, nil
	}
	telemetry.OpsTotal.WithLabelValues("del", "miss").Inc()
	return false, firstErr
}

// ReplicaNeighbors returns the ids registered as id's replicas, in ring
// discovery order. Metadata only.
func (c *Cluster) ReplicaNeighbors(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.neighbors[id]))
	copy(out, c.neighbors[id])
	return out
}

// NodeIDs returns the sorted member ids.
func (c *Cluster) NodeIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Cluster) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

func (c *Cluster) ReplicationFactor() int {
	return c.rf
}

// Close releases every node's WAL handle.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for id, n := range c.nodes {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", id, err))
		}
	}
	clear(c.nodes)
	return errors.Join(errs...)
}

// setupReplication refreshes each member's replica neighbor list from
// the current ring. Callers hold the exclusive lock.
func (c *Cluster) setupReplication() {
	clear(c.neighbors)
	for id := range c.nodes {
		var others []string
		for _, rep := range c.ring.GetNodes(id, c.rf) {
			if rep != id {
				others = append(others, rep)
			}
		}
		c.neighbors[id] = others
	}
}

func (c *Cluster) notifyMembership() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.NodeIDs())
}
