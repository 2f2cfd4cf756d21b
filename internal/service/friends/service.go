package friends

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/core"
	"github.com/vovakirdan/pulsegate/internal/store"
)

// Relationship states. Absence of a record means none.
const (
	StateNone     = "none"
	StatePending  = "pending"
	StateAccepted = "accepted"
	StateBlocked  = "blocked"
)

// Actions accepted by Apply.
const (
	ActionRequest  = "request"
	ActionAccept   = "accept"
	ActionReject   = "reject"
	ActionCancel   = "cancel"
	ActionUnfriend = "unfriend"
	ActionBlock    = "block"
	ActionUnblock  = "unblock"
)

// relationship is the in-memory record for one unordered pair. At most one
// exists per pair.
type relationship struct {
	state     string
	requester string // who sent the pending request
	blocker   string // who placed the block
	createdAt time.Time
	updatedAt time.Time
}

// Service is the friend relationship state machine. It is authoritative in
// memory and writes through to the store for durability; store failures are
// logged, never surfaced to the caller. Mutations for one pair are
// serialized through a per-pair lock so simultaneous accept/block from both
// sides cannot race.
type Service struct {
	store store.Store
	log   zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*pairLock

	mu    sync.Mutex
	pairs map[string]*relationship
}

type pairLock struct {
	sync.Mutex
	refs int
}

// New creates the service. st may be nil when no durability collaborator is
// configured.
func New(st store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store: st,
		log:   logger,
		locks: make(map[string]*pairLock),
		pairs: make(map[string]*relationship),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func (s *Service) lockPair(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &pairLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

var errForbidden = core.NewRelationshipError(core.ErrCodeForbiddenTransition, "forbidden transition")

// errNotDelivered hides the existence of a block from the requester. The
// generic reason is all the requester is allowed to know.
var errNotDelivered = core.NewRelationshipError(core.ErrCodeNotDelivered, "not delivered")

// Apply validates and performs one transition of the pair's state machine.
// On rejection no record is mutated.
func (s *Service) Apply(ctx context.Context, actor, target, action string) (*core.RelationshipChange, error) {
	if actor == target || actor == "" || target == "" {
		return nil, errForbidden
	}

	key := pairKey(actor, target)
	unlock := s.lockPair(key)
	defer unlock()

	rel := s.load(ctx, key, actor, target)
	from := StateNone
	if rel != nil {
		from = rel.state
	}

	var to string
	switch action {
	case ActionRequest:
		if rel != nil {
			if rel.state == StateBlocked && rel.blocker == target {
				return nil, errNotDelivered
			}
			return nil, errForbidden
		}
		now := time.Now()
		rel = &relationship{state: StatePending, requester: actor, createdAt: now, updatedAt: now}
		to = StatePending

	case ActionAccept:
		if rel == nil || rel.state != StatePending || rel.requester != target {
			return nil, errForbidden
		}
		rel.state = StateAccepted
		rel.requester = ""
		rel.updatedAt = time.Now()
		to = StateAccepted

	case ActionReject:
		if rel == nil || rel.state != StatePending || rel.requester != target {
			return nil, errForbidden
		}
		rel = nil
		to = StateNone

	case ActionCancel:
		if rel == nil || rel.state != StatePending || rel.requester != actor {
			return nil, errForbidden
		}
		rel = nil
		to = StateNone

	case ActionUnfriend:
		if rel == nil || rel.state != StateAccepted {
			return nil, errForbidden
		}
		rel = nil
		to = StateNone

	case ActionBlock:
		if rel != nil && rel.state == StateBlocked {
			// Blocked is terminal until the blocking party unblocks.
			return nil, errForbidden
		}
		now := time.Now()
		if rel == nil {
			rel = &relationship{createdAt: now}
		}
		rel.state = StateBlocked
		rel.blocker = actor
		rel.requester = ""
		rel.updatedAt = now
		to = StateBlocked

	case ActionUnblock:
		if rel == nil || rel.state != StateBlocked || rel.blocker != actor {
			return nil, errForbidden
		}
		rel = nil
		to = StateNone

	default:
		return nil, errForbidden
	}

	s.commit(ctx, key, actor, target, rel)

	return &core.RelationshipChange{
		Actor:  actor,
		Target: target,
		Action: action,
		From:   from,
		To:     to,
	}, nil
}

// AreFriends reports whether the pair is in the accepted state.
func (s *Service) AreFriends(ctx context.Context, a, b string) bool {
	if a == b || a == "" || b == "" {
		return false
	}
	key := pairKey(a, b)
	unlock := s.lockPair(key)
	defer unlock()
	rel := s.load(ctx, key, a, b)
	return rel != nil && rel.state == StateAccepted
}

// State returns the pair's current state and, for pending, the requester.
func (s *Service) State(ctx context.Context, a, b string) (state, requester string) {
	key := pairKey(a, b)
	unlock := s.lockPair(key)
	defer unlock()
	rel := s.load(ctx, key, a, b)
	if rel == nil {
		return StateNone, ""
	}
	return rel.state, rel.requester
}

// load returns the cached record, consulting the store once on a miss.
// Caller holds the pair lock.
func (s *Service) load(ctx context.Context, key, a, b string) *relationship {
	s.mu.Lock()
	rel, cached := s.pairs[key]
	s.mu.Unlock()
	if cached {
		return rel
	}
	if s.store == nil {
		return nil
	}

	stored, err := s.store.GetRelationship(ctx, a, b)
	if err != nil {
		if err != store.ErrNotFound {
			s.log.Warn().Err(err).Msg("relationship load failed")
		}
		return nil
	}
	rel = &relationship{
		state:     stored.State,
		requester: stored.Requester,
		blocker:   stored.Blocker,
		createdAt: stored.CreatedAt,
		updatedAt: stored.UpdatedAt,
	}
	s.mu.Lock()
	s.pairs[key] = rel
	s.mu.Unlock()
	return rel
}

// commit updates the cache and writes through to the store without blocking
// on its result. rel == nil deletes the record.
func (s *Service) commit(ctx context.Context, key, a, b string, rel *relationship) {
	s.mu.Lock()
	if rel == nil {
		delete(s.pairs, key)
	} else {
		s.pairs[key] = rel
	}
	s.mu.Unlock()

	if s.store == nil {
		return
	}

	userA, userB := a, b
	if userA > userB {
		userA, userB = userB, userA
	}
	var snapshot *store.Relationship
	if rel != nil {
		snapshot = &store.Relationship{
			UserA:     userA,
			UserB:     userB,
			State:     rel.state,
			Requester: rel.requester,
			Blocker:   rel.blocker,
			CreatedAt: rel.createdAt,
			UpdatedAt: rel.updatedAt,
		}
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		var err error
		if snapshot == nil {
			err = s.store.DeleteRelationship(saveCtx, userA, userB)
		} else {
			err = s.store.UpsertRelationship(saveCtx, snapshot)
		}
		if err != nil {
			s.log.Warn().Err(err).
				Str("user_a", userA).
				Str("user_b", userB).
				Msg("relationship write-through failed")
		}
	}()
}
