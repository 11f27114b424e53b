// Package registry announces cluster membership to etcd so external
// observers can watch it. The store itself never depends on etcd; cmd
// wires a Registry into the cluster's membership hook when endpoints
// are configured.
package registry

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const membersPrefix = "/emberkv/members/"

// NewClient dials etcd.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Registry publishes the member list under a kept-alive lease, so a
// crashed publisher's entries expire on their own.
type Registry struct {
	cli   *clientv3.Client
	lease clientv3.LeaseID
	log   *zap.Logger
}

func New(ctx context.Context, cli *clientv3.Client, ttlSeconds int64, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lease, err := cli.Grant(ctx, ttlSeconds)
	if err != nil {
		return nil, fmt.Errorf("registry: grant lease: %w", err)
	}
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return nil, fmt.Errorf("registry: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return &Registry{cli: cli, lease: lease.ID, log: logger}, nil
}

// PublishMembers replaces the published member list. Meant to be called
// from the cluster's membership hook.
func (r *Registry) PublishMembers(ctx context.Context, members []string) error {
	if _, err := r.cli.Delete(ctx, membersPrefix, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("registry: clear members: %w", err)
	}
	for _, id := range members {
		key := membersPrefix + id
		if _, err := r.cli.Put(ctx, key, id, clientv3.WithLease(r.lease)); err != nil {
			return fmt.Errorf("registry: publish %s: %w", key, err)
		}
	}
	r.log.Debug("published members", zap.Strings("members", members))
	return nil
}

// Members fetches the currently published member list.
func (r *Registry) Members(ctx context.Context) ([]string, error) {
	resp, err := r.cli.Get(ctx, membersPrefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("registry: get members: %w", err)
	}
	members := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		members = append(members, string(kv.Value))
	}
	return members, nil
}

// WatchMembers invokes fn with the fresh member list after every change
// under the members prefix, until ctx is cancelled. Blocks; run it in
// its own goroutine.
func (r *Registry) WatchMembers(ctx context.Context, fn func(members []string)) {
	for wresp := range r.cli.Watch(ctx, membersPrefix, clientv3.WithPrefix()) {
		changed := false
		for _, ev := range wresp.Events {
			if ev.Type == mvccpb.PUT || ev.Type == mvccpb.DELETE {
				changed = true
			}
		}
		if !changed {
			continue
		}
		members, err := r.Members(ctx)
		if err != nil {
			r.log.Warn("member refresh failed", zap.Error(err))
			continue
		}
		fn(members)
	}
}

// Close revokes the lease, expiring everything this registry published.
func (r *Registry) Close(ctx context.Context) error {
	if _, err := r.cli.Revoke(ctx, r.lease); err != nil {
		return fmt.Errorf("registry: revoke lease: %w", err)
	}
	return nil
}
