package discovery

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

func TestReceiverKey(t *testing.T) {
	if got := ReceiverKey("slave-1"); got != "/subalive/receivers/slave-1" {
		t.Fatalf("ReceiverKey = %q", got)
	}
}

func freeURL(t *testing.T) url.URL {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return url.URL{Scheme: "http", Host: addr}
}

// startEtcd runs a single-member etcd in-process and returns a client for it.
func startEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("starts an embedded etcd")
	}

	cfg := embed.NewConfig()
	cfg.Name = "discovery-test"
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"

	client, peer := freeURL(t), freeURL(t)
	cfg.ListenClientUrls = []url.URL{client}
	cfg.AdvertiseClientUrls = []url.URL{client}
	cfg.ListenPeerUrls = []url.URL{peer}
	cfg.AdvertisePeerUrls = []url.URL{peer}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(15 * time.Second):
		e.Server.Stop()
		t.Fatal("embedded etcd did not become ready")
	}

	cli, err := NewClient([]string{client.String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestRegisterThenLookup(t *testing.T) {
	cli := startEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr, err := LookupReceiver(ctx, cli, "slave-1")
	require.NoError(t, err)
	assert.Empty(t, addr)

	leaseID, stop, err := RegisterReceiver(ctx, cli, "slave-1", "127.0.0.1:8000", 5)
	require.NoError(t, err)
	defer stop()
	assert.NotZero(t, leaseID)

	addr, err = LookupReceiver(ctx, cli, "slave-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", addr)

	resp, err := cli.Get(ctx, ReceiverKey("slave-1"))
	require.NoError(t, err)
	require.Len(t, resp.Kvs, 1)
	assert.Equal(t, int64(leaseID), resp.Kvs[0].Lease)

	other, err := LookupReceiver(ctx, cli, "slave-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestWaitForReceiverSeesLaterRegistration(t *testing.T) {
	cli := startEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		addr string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		addr, err := WaitForReceiver(ctx, cli, "slave-1")
		got <- result{addr, err}
	}()

	// Let the waiter reach its watch before the key shows up.
	time.Sleep(200 * time.Millisecond)
	select {
	case res := <-got:
		t.Fatalf("returned before registration: %+v", res)
	default:
	}

	_, stop, err := RegisterReceiver(ctx, cli, "slave-1", "127.0.0.1:9001", 5)
	require.NoError(t, err)
	defer stop()

	select {
	case res := <-got:
		require.NoError(t, res.err)
		assert.Equal(t, "127.0.0.1:9001", res.addr)
	case <-ctx.Done():
		t.Fatal("WaitForReceiver missed the registration")
	}
}

func TestWaitForReceiverAlreadyRegistered(t *testing.T) {
	cli := startEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, stop, err := RegisterReceiver(ctx, cli, "slave-1", "127.0.0.1:9002", 5)
	require.NoError(t, err)
	defer stop()

	addr, err := WaitForReceiver(ctx, cli, "slave-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9002", addr)
}

func TestWaitForReceiverHonoursContext(t *testing.T) {
	cli := startEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := WaitForReceiver(ctx, cli, "nobody")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRevokeRemovesRegistration(t *testing.T) {
	cli := startEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leaseID, stop, err := RegisterReceiver(ctx, cli, "slave-1", "127.0.0.1:8000", 5)
	require.NoError(t, err)

	stop()
	_, err = cli.Revoke(ctx, leaseID)
	require.NoError(t, err)

	addr, err := LookupReceiver(ctx, cli, "slave-1")
	require.NoError(t, err)
	assert.Empty(t, addr)
}
