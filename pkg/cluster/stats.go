package cluster

import (
	"fmt"
	"sort"
	"strings"
)

// Stats is a point-in-time count of keys per node. Total counts stored
// copies, so with replication it exceeds the number of distinct keys.
type Stats struct {
	PerNode map[string]int
	Total   int
}

// DistributionStats reports how many keys each node currently holds.
func (c *Cluster) DistributionStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{PerNode: make(map[string]int, len(c.nodes))}
	for id, n := range c.nodes {
		count := n.Len()
		s.PerNode[id] = count
		s.Total += count
	}
	return s
}

func (s Stats) String() string {
	ids := make([]string, 0, len(s.PerNode))
	for id := range s.PerNode {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "%d nodes, %d stored copies\n", len(ids), s.Total)
	for _, id := range ids {
		fmt.Fprintf(&b, "  %-12s %d keys\n", id, s.PerNode[id])
	}
	return b.String()
}
