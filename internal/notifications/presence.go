package notifications

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineSetKey = "relay:presence:online"
	presenceSeenKeyNS    = "relay:presence:seen:"

	// A session must heartbeat within this window or it counts as gone.
	presenceSeenTTL = 90 * time.Second

	// Reconnects inside the grace window do not flap offline/online.
	presenceOfflineGrace = 5 * time.Second

	presenceSweepPeriod = 60 * time.Second
)

// PresenceTracker answers "who is connected right now". Local session counts
// give the fast path; a Redis set plus per-user heartbeat keys make presence
// visible across instances. Transitions are reported through a single
// OnChange callback, with an offline grace window so a page reload does not
// emit an offline/online pair.
type PresenceTracker struct {
	rdb *redis.Client

	mu          sync.RWMutex
	sessions    map[uint]int
	departures  map[uint]*time.Timer
	offlineSent map[uint]bool

	grace      time.Duration
	seenTTL    time.Duration
	sweepEvery time.Duration

	onChange func(userID uint, online bool)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresenceTracker builds a tracker. Without Redis it still tracks local
// sessions; cross-instance visibility and the sweeper need a client.
func NewPresenceTracker(rdb *redis.Client) *PresenceTracker {
	p := &PresenceTracker{
		rdb:         rdb,
		sessions:    make(map[uint]int),
		departures:  make(map[uint]*time.Timer),
		offlineSent: make(map[uint]bool),
		grace:       presenceOfflineGrace,
		seenTTL:     presenceSeenTTL,
		sweepEvery:  presenceSweepPeriod,
		stopCh:      make(chan struct{}),
	}
	if p.rdb != nil {
		go p.sweepLoop()
	}
	return p
}

// OnChange registers the transition callback. online=true fires when a user
// gains their first session, online=false after the last session closes and
// the grace window passes.
func (p *PresenceTracker) OnChange(fn func(userID uint, online bool)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// SetOfflineGrace shortens or extends the offline grace window.
func (p *PresenceTracker) SetOfflineGrace(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.grace = d
	p.mu.Unlock()
}

// SessionOpened records a new live session for the user.
func (p *PresenceTracker) SessionOpened(ctx context.Context, userID uint) {
	wasOnline := p.IsOnline(ctx, userID)

	p.mu.Lock()
	if t, ok := p.departures[userID]; ok {
		t.Stop()
		delete(p.departures, userID)
	}
	p.sessions[userID]++
	p.offlineSent[userID] = false
	p.mu.Unlock()

	p.Heartbeat(ctx, userID)
	if !wasOnline {
		p.announce(userID, true)
	}
}

// Heartbeat refreshes the user's Redis presence markers. Called on session
// open and on socket activity.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	if err := p.rdb.SAdd(ctx, presenceOnlineSetKey, uid).Err(); err != nil {
		log.Printf("presence heartbeat SADD failed for user %d: %v", userID, err)
	}
	err := p.rdb.SetEx(ctx, p.seenKey(userID),
		strconv.FormatInt(time.Now().Unix(), 10), p.seenTTL).Err()
	if err != nil {
		log.Printf("presence heartbeat SETEX failed for user %d: %v", userID, err)
	}
}

// SessionClosed records a session ending. The offline transition is deferred
// by the grace window and suppressed entirely if the user reconnects first.
func (p *PresenceTracker) SessionClosed(ctx context.Context, userID uint) {
	p.mu.Lock()
	if n, ok := p.sessions[userID]; ok {
		n--
		if n > 0 {
			p.sessions[userID] = n
			p.mu.Unlock()
			return
		}
		delete(p.sessions, userID)
	}

	if t, ok := p.departures[userID]; ok {
		t.Stop()
	}
	p.departures[userID] = time.AfterFunc(p.grace, func() {
		p.settleOffline(context.Background(), userID)
	})
	p.mu.Unlock()
}

// IsOnline reports whether the user has a live session here or, per Redis,
// anywhere.
func (p *PresenceTracker) IsOnline(ctx context.Context, userID uint) bool {
	p.mu.RLock()
	local := p.sessions[userID] > 0
	p.mu.RUnlock()
	if local {
		return true
	}

	if p.rdb == nil {
		return false
	}
	exists, err := p.rdb.Exists(ctx, p.seenKey(userID)).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

// OnlineUserIDs returns every user considered online, pruning Redis set
// entries whose heartbeat key expired.
func (p *PresenceTracker) OnlineUserIDs(ctx context.Context) []uint {
	local := p.localOnline()
	if p.rdb == nil {
		return local
	}

	members, err := p.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[uint]struct{}, len(members)+len(local))
	out := make([]uint, 0, len(members)+len(local))
	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := p.rdb.Exists(ctx, p.seenKey(userID)).Result()
		if existsErr != nil {
			continue
		}
		if exists == 0 {
			_ = p.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}
	for _, userID := range local {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}
	return out
}

// Stop halts the sweeper and cancels pending offline timers.
func (p *PresenceTracker) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		for userID, t := range p.departures {
			if t != nil {
				t.Stop()
			}
			delete(p.departures, userID)
		}
		p.mu.Unlock()
	})
}

// sweepOnce removes set members whose heartbeat expired (crashed instance,
// dropped socket without close) and emits their offline transition.
func (p *PresenceTracker) sweepOnce(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	members, err := p.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		return
	}
	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := p.rdb.Exists(ctx, p.seenKey(userID)).Result()
		if existsErr != nil || exists > 0 {
			continue
		}

		_ = p.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()

		p.mu.RLock()
		hasLocal := p.sessions[userID] > 0
		p.mu.RUnlock()
		if !hasLocal {
			p.announce(userID, false)
		}
	}
}

func (p *PresenceTracker) sweepLoop() {
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

// settleOffline runs when the grace timer fires. A session reopened in the
// meantime, or a heartbeat from another instance, keeps the user online.
func (p *PresenceTracker) settleOffline(ctx context.Context, userID uint) {
	p.mu.Lock()
	if p.sessions[userID] > 0 {
		delete(p.departures, userID)
		p.mu.Unlock()
		return
	}
	delete(p.departures, userID)
	p.mu.Unlock()

	if p.rdb != nil {
		exists, err := p.rdb.Exists(ctx, p.seenKey(userID)).Result()
		if err == nil && exists > 0 {
			return
		}
		_ = p.rdb.SRem(ctx, presenceOnlineSetKey,
			strconv.FormatUint(uint64(userID), 10)).Err()
	}

	p.announce(userID, false)
}

// announce invokes the change callback, deduplicating offline emissions so a
// grace timer and a sweep pass cannot both fire for the same departure.
func (p *PresenceTracker) announce(userID uint, online bool) {
	p.mu.Lock()
	if !online {
		if p.offlineSent[userID] {
			p.mu.Unlock()
			return
		}
		p.offlineSent[userID] = true
	} else {
		p.offlineSent[userID] = false
	}
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn(userID, online)
	}
}

func (p *PresenceTracker) localOnline() []uint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]uint, 0, len(p.sessions))
	for userID, n := range p.sessions {
		if n > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (p *PresenceTracker) seenKey(userID uint) string {
	return presenceSeenKeyNS + strconv.FormatUint(uint64(userID), 10)
}
