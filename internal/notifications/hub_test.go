package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func TestHub_GracePeriodSuppressesOfflineOnRapidReconnect(t *testing.T) {
	hub := NewHub()
	hub.presence.SetOfflineGrace(40 * time.Millisecond)

	var offlineCount int32
	hub.OnPresenceChange(func(_ uint, online bool) {
		if !online {
			atomic.AddInt32(&offlineCount, 1)
		}
	})

	clientA, err := hub.Register(10, nil)
	assert.NoError(t, err)

	hub.UnregisterClient(clientA)
	_, err = hub.Register(10, nil)
	assert.NoError(t, err)

	assert.Never(t, func() bool {
		return atomic.LoadInt32(&offlineCount) > 0
	}, 20*testPollInterval, testPollInterval)
	assert.True(t, hub.IsOnline(10))

	_ = hub.Shutdown(context.Background())
}

func TestHub_MultiConnectionLastDisconnectTriggersOfflineOnce(t *testing.T) {
	hub := NewHub()
	hub.presence.SetOfflineGrace(30 * time.Millisecond)

	var offlineCount int32
	hub.OnPresenceChange(func(_ uint, online bool) {
		if !online {
			atomic.AddInt32(&offlineCount, 1)
		}
	})

	clientA, err := hub.Register(15, nil)
	assert.NoError(t, err)
	clientB, err := hub.Register(15, nil)
	assert.NoError(t, err)

	hub.UnregisterClient(clientA)
	assert.Never(t, func() bool {
		return atomic.LoadInt32(&offlineCount) > 0
	}, 30*testPollInterval, testPollInterval)

	hub.UnregisterClient(clientB)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&offlineCount) == 1
	}, testEventuallyTimeout, testPollInterval)
	assert.False(t, hub.IsOnline(15))

	_ = hub.Shutdown(context.Background())
}

func TestHub_SweepRemovesStalePresence(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	hub := NewHub(rdb)

	var offlineCount int32
	hub.OnPresenceChange(func(_ uint, online bool) {
		if !online {
			atomic.AddInt32(&offlineCount, 1)
		}
	})

	ctx := context.Background()
	assert.NoError(t, rdb.SAdd(ctx, presenceOnlineSetKey, "44").Err())

	hub.presence.sweepOnce(ctx)

	isMember, err := rdb.SIsMember(ctx, presenceOnlineSetKey, "44").Result()
	assert.NoError(t, err)
	assert.False(t, isMember)
	assert.Equal(t, int32(1), atomic.LoadInt32(&offlineCount))

	_ = hub.Shutdown(context.Background())
}

func TestHub_OnlineUserIDs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	hub := NewHub(rdb)
	ctx := context.Background()

	_, err = hub.Register(7, nil)
	assert.NoError(t, err)

	// Heartbeat from another instance plus one stale set entry.
	other := NewPresenceTracker(rdb)
	other.Heartbeat(ctx, 8)
	assert.NoError(t, rdb.SAdd(ctx, presenceOnlineSetKey, "99").Err())

	ids := hub.OnlineUserIDs(ctx)
	assert.ElementsMatch(t, []uint{7, 8}, ids)

	// The stale entry was pruned on read.
	isMember, err := rdb.SIsMember(ctx, presenceOnlineSetKey, "99").Result()
	assert.NoError(t, err)
	assert.False(t, isMember)

	other.Stop()
	_ = hub.Shutdown(context.Background())
}
