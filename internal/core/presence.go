package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/proto"
)

// Status is a user's derived presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ErrNotFriends is returned when a presence subscription is attempted
// without an accepted relationship.
var ErrNotFriends = errors.New("presence visible to friends only")

// FriendChecker answers whether two users have an accepted relationship.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) bool
}

type signalKind int

const (
	signalOnline signalKind = iota
	signalDetached
	signalActivity
)

type presenceSignal struct {
	kind   signalKind
	userID string
}

type presenceRecord struct {
	status     Status
	lastSeen   time.Time
	graceUntil time.Time // non-zero while the offline grace timer runs
}

// Tracker derives online/away/offline from registry membership and traffic,
// and fans presence changes out to subscribed friends. All state mutation
// happens on the Run goroutine; registry callbacks only push signals, so
// they never take locks while holding the registry's.
type Tracker struct {
	registry *Registry
	friends  FriendChecker
	log      zerolog.Logger

	awayThreshold time.Duration
	offlineGrace  time.Duration
	tickEvery     time.Duration

	signals chan presenceSignal

	mu      sync.Mutex
	records map[string]*presenceRecord
	subs    map[string]map[string]struct{} // target -> observers
}

// NewTracker builds a presence tracker bound to the registry.
func NewTracker(registry *Registry, friends FriendChecker, awayThreshold, offlineGrace time.Duration, logger zerolog.Logger) *Tracker {
	tick := awayThreshold / 4
	if offlineGrace/4 < tick {
		tick = offlineGrace / 4
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return &Tracker{
		registry:      registry,
		friends:       friends,
		log:           logger,
		awayThreshold: awayThreshold,
		offlineGrace:  offlineGrace,
		tickEvery:     tick,
		signals:       make(chan presenceSignal, 1024),
		records:       make(map[string]*presenceRecord),
		subs:          make(map[string]map[string]struct{}),
	}
}

// RegistryListener implementation. Push-only; must not block.

func (t *Tracker) UserOnline(userID string)   { t.push(presenceSignal{signalOnline, userID}) }
func (t *Tracker) UserDetached(userID string) { t.push(presenceSignal{signalDetached, userID}) }
func (t *Tracker) UserActivity(userID string) { t.push(presenceSignal{signalActivity, userID}) }

func (t *Tracker) push(sig presenceSignal) {
	select {
	case t.signals <- sig:
	default:
		t.log.Warn().Str("user_id", sig.userID).Msg("presence signal dropped, tracker backlogged")
	}
}

// Run consumes signals and drives away/offline timers until ctx is done,
// then flushes pending offline notifications so observers are not left with
// ghost-online friends after shutdown.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case sig := <-t.signals:
			t.handle(sig)
		case now := <-ticker.C:
			t.tick(now)
		case <-ctx.Done():
			t.flushOffline()
			return
		}
	}
}

func (t *Tracker) handle(sig presenceSignal) {
	now := time.Now()
	var change *statusChange

	t.mu.Lock()
	rec, ok := t.records[sig.userID]
	switch sig.kind {
	case signalOnline:
		if !ok {
			rec = &presenceRecord{status: StatusOffline}
			t.records[sig.userID] = rec
		}
		rec.graceUntil = time.Time{}
		rec.lastSeen = now
		if rec.status != StatusOnline {
			rec.status = StatusOnline
			change = &statusChange{sig.userID, StatusOnline}
		}
	case signalDetached:
		if ok {
			rec.graceUntil = now.Add(t.offlineGrace)
		}
	case signalActivity:
		if ok {
			rec.lastSeen = now
			if rec.status == StatusAway {
				rec.status = StatusOnline
				change = &statusChange{sig.userID, StatusOnline}
			}
		}
	}
	t.mu.Unlock()

	if change != nil {
		t.broadcast(*change)
	}
}

func (t *Tracker) tick(now time.Time) {
	var changes []statusChange

	t.mu.Lock()
	for userID, rec := range t.records {
		if !rec.graceUntil.IsZero() && now.After(rec.graceUntil) {
			if t.registry.Connections(userID) == 0 {
				delete(t.records, userID)
				changes = append(changes, statusChange{userID, StatusOffline})
				continue
			}
			// Reconnected during grace; timer is void.
			rec.graceUntil = time.Time{}
		}
		if rec.status == StatusOnline && rec.graceUntil.IsZero() && now.Sub(rec.lastSeen) > t.awayThreshold {
			rec.status = StatusAway
			changes = append(changes, statusChange{userID, StatusAway})
		}
	}
	t.mu.Unlock()

	for _, c := range changes {
		t.broadcast(c)
	}
}

// flushOffline force-notifies offline for every user with a running grace
// timer. Called once during shutdown.
func (t *Tracker) flushOffline() {
	var changes []statusChange

	t.mu.Lock()
	for userID, rec := range t.records {
		if !rec.graceUntil.IsZero() {
			delete(t.records, userID)
			changes = append(changes, statusChange{userID, StatusOffline})
		}
	}
	t.mu.Unlock()

	for _, c := range changes {
		t.broadcast(c)
	}
}

type statusChange struct {
	userID string
	status Status
}

func (t *Tracker) broadcast(c statusChange) {
	t.mu.Lock()
	observers := make([]string, 0, len(t.subs[c.userID]))
	for o := range t.subs[c.userID] {
		observers = append(observers, o)
	}
	t.mu.Unlock()

	if len(observers) == 0 {
		return
	}
	payload, err := json.Marshal(proto.PresenceUpdate{
		User:   c.userID,
		Status: string(c.status),
		TS:     time.Now().Unix(),
	})
	if err != nil {
		return
	}
	f := Frame{
		Channel: ChannelPresence,
		Type:    TypePresenceUpdate,
		From:    c.userID,
		Payload: payload,
	}
	for _, o := range observers {
		t.registry.Send(o, f)
	}
}

// Status returns the user's current derived status.
func (t *Tracker) Status(userID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	if !ok {
		return StatusOffline
	}
	return rec.status
}

// Subscribe lets observer receive presence changes for target. Gated by an
// accepted relationship; presence is never visible to non-friends.
func (t *Tracker) Subscribe(ctx context.Context, observer, target string) error {
	if !t.friends.AreFriends(ctx, observer, target) {
		return ErrNotFriends
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeLocked(observer, target)
	return nil
}

// Unsubscribe stops presence notifications from target to observer.
func (t *Tracker) Unsubscribe(observer, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubscribeLocked(observer, target)
}

// GrantBetween makes presence mutually visible. Called on every transition
// into the accepted state.
func (t *Tracker) GrantBetween(a, b string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeLocked(a, b)
	t.subscribeLocked(b, a)
}

// RevokeBetween removes mutual visibility. Called on every transition out of
// the accepted state (unfriend, block).
func (t *Tracker) RevokeBetween(a, b string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubscribeLocked(a, b)
	t.unsubscribeLocked(b, a)
}

func (t *Tracker) subscribeLocked(observer, target string) {
	set, ok := t.subs[target]
	if !ok {
		set = make(map[string]struct{})
		t.subs[target] = set
	}
	set[observer] = struct{}{}
}

func (t *Tracker) unsubscribeLocked(observer, target string) {
	if set, ok := t.subs[target]; ok {
		delete(set, observer)
		if len(set) == 0 {
			delete(t.subs, target)
		}
	}
}
