package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ryandielhenn/emberkv/pkg/cluster"
)

func main() {
	n := flag.Int("n", 5000, "operations per phase")
	conc := flag.Int("c", 8, "concurrent workers")
	rf := flag.Int("rf", 3, "replication factor")
	nodes := flag.Int("nodes", 5, "cluster size")
	valSize := flag.Int("val", 128, "value size bytes")
	dir := flag.String("dir", "", "WAL directory (default: a temp dir)")
	flag.Parse()

	dataDir := *dir
	if dataDir == "" {
		d, err := os.MkdirTemp("", "emberkv-bench-")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer os.RemoveAll(d)
		dataDir = d
	}

	c := cluster.New(*rf, cluster.WithDataDir(dataDir))
	defer c.Close()
	for i := 0; i < *nodes; i++ {
		if err := c.AddNode(fmt.Sprintf("node%d", i)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	value := strings.Repeat("x", *valSize)
	run := func(phase string, op func(key string) error) {
		var wg sync.WaitGroup
		ch := make(chan int, *conc)
		start := time.Now()
		for i := 0; i < *n; i++ {
			wg.Add(1)
			ch <- 1
			go func(i int) {
				defer wg.Done()
				if err := op(fmt.Sprintf("k%d", i)); err != nil {
					fmt.Fprintf(os.Stderr, "%s k%d: %v\n", phase, i, err)
				}
				<-ch
			}(i)
		}
		wg.Wait()
		dur := time.Since(start)
		fmt.Printf("%-6s %d ops in %s (%.2f ops/s)\n", phase, *n, dur, float64(*n)/dur.Seconds())
	}

	run("write", func(key string) error { return c.Put(key, value) })
	run("read", func(key string) error {
		if _, ok := c.Get(key); !ok {
			return fmt.Errorf("missing")
		}
		return nil
	})

	fmt.Print(c.DistributionStats())
}
