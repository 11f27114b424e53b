package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/emberkv/internal/telemetry"
	"github.com/ryandielhenn/emberkv/pkg/cluster"
	"github.com/ryandielhenn/emberkv/pkg/registry"
)

func main() {
	rf := flag.Int("rf", 3, "replication factor")
	vnodes := flag.Int("vnodes", 100, "virtual nodes per member")
	cacheCap := flag.Int("cache", 1000, "LRU cache entries per node")
	dataDir := flag.String("dir", ".", "directory for per-node WAL files")
	interactive := flag.Bool("interactive", false, "run the REPL instead of the automated demo")
	metricsAddr := flag.String("metrics", "", "if set, serve prometheus metrics on this addr (e.g. :9090)")
	etcdEndpoints := flag.String("etcd", "", "comma-separated etcd endpoints for membership announcement (optional)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, "logger:", err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Sync()

	opts := []cluster.Option{
		cluster.WithVirtualNodes(*vnodes),
		cluster.WithCacheCapacity(*cacheCap),
		cluster.WithDataDir(*dataDir),
		cluster.WithLogger(logger),
	}

	var reg *registry.Registry
	if *etcdEndpoints != "" {
		cli, err := registry.NewClient(strings.Split(*etcdEndpoints, ","))
		if err != nil {
			fmt.Fprintln(os.Stderr, "etcd:", err)
			os.Exit(1)
		}
		defer cli.Close()
		reg, err = registry.New(context.Background(), cli, 10, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "etcd registry:", err)
			os.Exit(1)
		}
		defer reg.Close(context.Background())
		opts = append(opts, cluster.WithMembershipHook(func(members []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := reg.PublishMembers(ctx, members); err != nil {
				logger.Warn("membership publish failed", zap.Error(err))
			}
		}))
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	c := cluster.New(*rf, opts...)
	defer c.Close()

	if *interactive {
		repl(c)
		return
	}
	demo(c)
}

func repl(c *cluster.Cluster) {
	fmt.Println("emberkv - distributed key-value store")
	fmt.Println("commands: put <key> <value> | get <key> | del <key> | addnode <id> | removenode <id> | nodes | stats | benchmark | exit")
	fmt.Println(`values with spaces: put user:1001 "Alice Johnson"`)

	for _, id := range []string{"node1", "node2", "node3"} {
		if err := c.AddNode(id); err != nil {
			fmt.Println("setup:", err)
		}
	}

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nemberkv> ")
		if !sc.Scan() {
			return
		}
		fields := strings.SplitN(strings.TrimSpace(sc.Text()), " ", 3)
		switch fields[0] {
		case "put":
			if len(fields) < 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			key, value := fields[1], unquote(fields[2])
			if err := c.Put(key, value); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("stored: %s -> %s\n", key, value)
		case "get":
			if len(fields) < 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			if v, ok := c.Get(fields[1]); ok {
				fmt.Printf("%s -> %s\n", fields[1], v)
			} else {
				fmt.Println("key not found:", fields[1])
			}
		case "del":
			if len(fields) < 2 {
				fmt.Println("usage: del <key>")
				continue
			}
			if removed, err := c.Remove(fields[1]); err != nil {
				fmt.Println("error:", err)
			} else if removed {
				fmt.Println("deleted:", fields[1])
			} else {
				fmt.Println("not found:", fields[1])
			}
		case "addnode":
			if len(fields) < 2 {
				fmt.Println("usage: addnode <id>")
				continue
			}
			if err := c.AddNode(fields[1]); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("added node:", fields[1])
			}
		case "removenode":
			if len(fields) < 2 {
				fmt.Println("usage: removenode <id>")
				continue
			}
			if found, err := c.RemoveNode(fields[1]); err != nil {
				fmt.Println("error:", err)
			} else if found {
				fmt.Println("removed node:", fields[1])
			} else {
				fmt.Println("no such node:", fields[1])
			}
		case "nodes", "stats":
			fmt.Print(c.DistributionStats())
		case "benchmark":
			benchmark(c, 1000)
		case "exit", "quit":
			return
		case "":
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

func demo(c *cluster.Cluster) {
	fmt.Println("=== emberkv demo ===")

	fmt.Println("\n1. cluster setup: five nodes, rf =", c.ReplicationFactor())
	for _, id := range []string{"node1", "node2", "node3", "node4", "node5"} {
		must(c.AddNode(id))
	}
	fmt.Print(c.DistributionStats())

	fmt.Println("\n2. basic operations")
	must(c.Put("user:1001", "Alice Johnson"))
	must(c.Put("user:1002", "Bob Smith"))
	must(c.Put("session:abc123", "active"))
	must(c.Put("config:timeout", "30s"))
	for _, k := range []string{"user:1001", "user:1002", "session:abc123"} {
		v, _ := c.Get(k)
		fmt.Printf("  %s = %s\n", k, v)
	}

	fmt.Println("\n3. overwrite")
	must(c.Put("test:consistency", "version_1"))
	must(c.Put("test:consistency", "version_2"))
	v, _ := c.Get("test:consistency")
	fmt.Println("  test:consistency =", v)

	fmt.Println("\n4. node removal with redistribution")
	before, _ := c.Get("user:1001")
	fmt.Println("  before removing node1: user:1001 =", before)
	if _, err := c.RemoveNode("node1"); err != nil {
		fmt.Println("  removenode:", err)
	}
	after, _ := c.Get("user:1001")
	fmt.Println("  after removing node1:  user:1001 =", after)
	fmt.Print(c.DistributionStats())

	fmt.Println("\n5. benchmark")
	benchmark(c, 2000)
}

func benchmark(c *cluster.Cluster, n int) {
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := c.Put(fmt.Sprintf("bench:key%d", i), fmt.Sprintf("value%d", i)); err != nil {
			fmt.Println("benchmark put:", err)
			return
		}
	}
	writes := time.Since(start)

	readStart := time.Now()
	for i := 0; i < n; i++ {
		c.Get(fmt.Sprintf("bench:key%d", i))
	}
	reads := time.Since(readStart)

	fmt.Printf("  %d writes in %s (%.0f ops/s)\n", n, writes, float64(n)/writes.Seconds())
	fmt.Printf("  %d reads  in %s (%.0f ops/s)\n", n, reads, float64(n)/reads.Seconds())
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
