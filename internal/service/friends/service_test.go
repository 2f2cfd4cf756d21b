package friends

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/core"
)

func newService() *Service {
	return New(nil, zerolog.Nop())
}

func mustApply(t *testing.T, s *Service, actor, target, action string) *core.RelationshipChange {
	t.Helper()
	change, err := s.Apply(context.Background(), actor, target, action)
	if err != nil {
		t.Fatalf("%s %s->%s: %v", action, actor, target, err)
	}
	return change
}

func mustForbidden(t *testing.T, s *Service, actor, target, action string) {
	t.Helper()
	_, err := s.Apply(context.Background(), actor, target, action)
	relErr, ok := err.(*core.RelationshipError)
	if !ok || relErr.Code != core.ErrCodeForbiddenTransition {
		t.Fatalf("%s %s->%s: expected forbidden_transition, got %v", action, actor, target, err)
	}
}

func TestRequestAcceptBecomesFriends(t *testing.T) {
	s := newService()
	ctx := context.Background()

	change := mustApply(t, s, "alice", "bob", ActionRequest)
	if change.From != StateNone || change.To != StatePending {
		t.Fatalf("unexpected transition: %s -> %s", change.From, change.To)
	}
	if state, requester := s.State(ctx, "alice", "bob"); state != StatePending || requester != "alice" {
		t.Fatalf("state after request: %s (requester %s)", state, requester)
	}
	if s.AreFriends(ctx, "alice", "bob") {
		t.Fatal("pending pair reported as friends")
	}

	change = mustApply(t, s, "bob", "alice", ActionAccept)
	if change.From != StatePending || change.To != StateAccepted {
		t.Fatalf("unexpected transition: %s -> %s", change.From, change.To)
	}
	if !s.AreFriends(ctx, "alice", "bob") {
		t.Fatal("accepted pair not reported as friends")
	}
	if !s.AreFriends(ctx, "bob", "alice") {
		t.Fatal("friendship must be symmetric")
	}
}

func TestRequesterCannotAcceptOwnRequest(t *testing.T) {
	s := newService()

	mustApply(t, s, "alice", "bob", ActionRequest)
	mustForbidden(t, s, "alice", "bob", ActionAccept)
	mustForbidden(t, s, "alice", "bob", ActionReject)
}

func TestRejectAndCancelReturnToNone(t *testing.T) {
	s := newService()
	ctx := context.Background()

	mustApply(t, s, "alice", "bob", ActionRequest)
	change := mustApply(t, s, "bob", "alice", ActionReject)
	if change.To != StateNone {
		t.Fatalf("reject left state %s", change.To)
	}
	if state, _ := s.State(ctx, "alice", "bob"); state != StateNone {
		t.Fatalf("state after reject: %s", state)
	}

	// A fresh request is possible again, and the requester may cancel it.
	mustApply(t, s, "alice", "bob", ActionRequest)
	mustForbidden(t, s, "bob", "alice", ActionCancel)
	mustApply(t, s, "alice", "bob", ActionCancel)
	if state, _ := s.State(ctx, "alice", "bob"); state != StateNone {
		t.Fatalf("state after cancel: %s", state)
	}
}

func TestDuplicateRequestForbidden(t *testing.T) {
	s := newService()

	mustApply(t, s, "alice", "bob", ActionRequest)
	mustForbidden(t, s, "alice", "bob", ActionRequest)
	// Counter-request while one is pending is also rejected.
	mustForbidden(t, s, "bob", "alice", ActionRequest)
}

func TestUnfriendRequiresAccepted(t *testing.T) {
	s := newService()
	ctx := context.Background()

	mustForbidden(t, s, "alice", "bob", ActionUnfriend)

	mustApply(t, s, "alice", "bob", ActionRequest)
	mustForbidden(t, s, "alice", "bob", ActionUnfriend)

	mustApply(t, s, "bob", "alice", ActionAccept)
	change := mustApply(t, s, "alice", "bob", ActionUnfriend)
	if change.From != StateAccepted || change.To != StateNone {
		t.Fatalf("unexpected transition: %s -> %s", change.From, change.To)
	}
	if s.AreFriends(ctx, "alice", "bob") {
		t.Fatal("unfriended pair still reported as friends")
	}
}

func TestBlockOverridesAnyState(t *testing.T) {
	s := newService()
	ctx := context.Background()

	// Block from none.
	change := mustApply(t, s, "alice", "bob", ActionBlock)
	if change.To != StateBlocked {
		t.Fatalf("block left state %s", change.To)
	}
	mustApply(t, s, "alice", "bob", ActionUnblock)

	// Block over accepted.
	mustApply(t, s, "alice", "bob", ActionRequest)
	mustApply(t, s, "bob", "alice", ActionAccept)
	mustApply(t, s, "alice", "bob", ActionBlock)
	if s.AreFriends(ctx, "alice", "bob") {
		t.Fatal("blocked pair reported as friends")
	}
}

func TestBlockedIsTerminalForNonBlocker(t *testing.T) {
	s := newService()

	mustApply(t, s, "alice", "bob", ActionBlock)

	// The blocked party cannot change the state.
	mustForbidden(t, s, "bob", "alice", ActionUnblock)
	mustForbidden(t, s, "bob", "alice", ActionAccept)
	mustForbidden(t, s, "bob", "alice", ActionUnfriend)
	mustForbidden(t, s, "bob", "alice", ActionBlock)

	// Only the blocker may unblock.
	mustApply(t, s, "alice", "bob", ActionUnblock)
	if state, _ := s.State(context.Background(), "alice", "bob"); state != StateNone {
		t.Fatalf("state after unblock: %s", state)
	}
}

func TestRequestToBlockerFailsSilently(t *testing.T) {
	s := newService()

	mustApply(t, s, "bob", "alice", ActionBlock)

	_, err := s.Apply(context.Background(), "alice", "bob", ActionRequest)
	relErr, ok := err.(*core.RelationshipError)
	if !ok || relErr.Code != core.ErrCodeNotDelivered {
		t.Fatalf("expected not_delivered, got %v", err)
	}
	// The blocker sees no state change.
	if state, _ := s.State(context.Background(), "alice", "bob"); state != StateBlocked {
		t.Fatalf("request to blocker mutated state: %s", state)
	}
}

func TestSelfAndEmptyActionsForbidden(t *testing.T) {
	s := newService()

	mustForbidden(t, s, "alice", "alice", ActionRequest)
	mustForbidden(t, s, "", "bob", ActionRequest)
	mustForbidden(t, s, "alice", "", ActionRequest)
	mustForbidden(t, s, "alice", "bob", "poke")
}

func TestRejectedActionLeavesStateIntact(t *testing.T) {
	s := newService()
	ctx := context.Background()

	mustApply(t, s, "alice", "bob", ActionRequest)
	mustForbidden(t, s, "alice", "bob", ActionAccept)
	if state, requester := s.State(ctx, "alice", "bob"); state != StatePending || requester != "alice" {
		t.Fatalf("rejected action mutated state: %s (requester %s)", state, requester)
	}
}
