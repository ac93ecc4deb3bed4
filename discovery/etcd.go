// Package discovery publishes and resolves slave endpoints in etcd.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/subalive/receivers/"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// ReceiverKey is the etcd key a receiver advertises itself under.
func ReceiverKey(id string) string {
	return keyPrefix + id
}

// RegisterReceiver stores addr under the receiver's key, bound to a lease
// that is kept alive until cancel is called. The key disappears at most ttl
// seconds after the slave process dies.
func RegisterReceiver(ctx context.Context, cli *clientv3.Client, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, ReceiverKey(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", ReceiverKey(id), err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()

	return lease.ID, cancel, nil
}

// LookupReceiver returns the advertised address, or "" when none is registered.
func LookupReceiver(ctx context.Context, cli *clientv3.Client, id string) (string, error) {
	resp, err := cli.Get(ctx, ReceiverKey(id))
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// WaitForReceiver blocks until the receiver registered itself or ctx ends.
func WaitForReceiver(ctx context.Context, cli *clientv3.Client, id string) (string, error) {
	key := ReceiverKey(id)
	resp, err := cli.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) > 0 {
		return string(resp.Kvs[0].Value), nil
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for wr := range cli.Watch(wctx, key, clientv3.WithRev(resp.Header.Revision+1)) {
		if err := wr.Err(); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
		for _, ev := range wr.Events {
			if ev.Type == mvccpb.PUT {
				return string(ev.Kv.Value), nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("watch on %s closed", key)
}
