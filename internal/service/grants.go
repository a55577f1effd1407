package service

import (
	"context"
	"mmrl/pkg/protocol"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is an operator's answer to a pending grant.
type Decision int

const (
	DecisionApprove Decision = iota
	DecisionDeny
)

func (d Decision) String() string {
	if d == DecisionApprove {
		return "allow"
	}
	return "deny"
}

// PendingGrant is a client waiting for an operator to let it bind.
type PendingGrant struct {
	ID        string            `json:"id"`
	Client    string            `json:"client"`
	Identity  protocol.Identity `json:"identity"`
	Timestamp time.Time         `json:"timestamp"`
	decision  chan Decision
}

// ApprovalWindow is how long an approved uid binds again without asking.
// A client authorizes and then binds on a second connection, and both
// must pass on one grant.
const ApprovalWindow = 10 * time.Minute

// GrantQueue holds binds from peers that are neither root nor listed in
// the allowed uids.
type GrantQueue struct {
	mu       sync.RWMutex
	pending  map[string]*PendingGrant
	approved map[int]time.Time // uid -> expiry
	window   time.Duration
	now      func() time.Time
}

func NewGrantQueue() *GrantQueue {
	return &GrantQueue{
		pending:  make(map[string]*PendingGrant),
		approved: make(map[int]time.Time),
		window:   ApprovalWindow,
		now:      time.Now,
	}
}

// Approved reports whether uid was granted within the approval window.
func (q *GrantQueue) Approved(uid int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	expiry, ok := q.approved[uid]
	if !ok {
		return false
	}
	if !q.now().Before(expiry) {
		delete(q.approved, uid)
		return false
	}
	return true
}

// Enqueue parks the bind and blocks until it is resolved or ctx ends.
// An expired or cancelled grant is a denial.
func (q *GrantQueue) Enqueue(ctx context.Context, hello *protocol.Hello) Decision {
	g := &PendingGrant{
		ID:        uuid.NewString(),
		Client:    hello.Client,
		Identity:  hello.Identity,
		Timestamp: time.Now(),
		decision:  make(chan Decision, 1),
	}

	q.mu.Lock()
	q.pending[g.ID] = g
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.pending, g.ID)
		q.mu.Unlock()
	}()

	select {
	case d := <-g.decision:
		if d == DecisionApprove {
			q.mu.Lock()
			q.approved[g.Identity.UID] = q.now().Add(q.window)
			q.mu.Unlock()
		}
		return d
	case <-ctx.Done():
		return DecisionDeny
	}
}

// Resolve answers a pending grant. It reports false for unknown or
// already answered ids.
func (q *GrantQueue) Resolve(id string, d Decision) bool {
	q.mu.RLock()
	g, ok := q.pending[id]
	q.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case g.decision <- d:
		return true
	default:
		return false
	}
}

// List returns the pending grants, oldest first.
func (q *GrantQueue) List() []PendingGrant {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]PendingGrant, 0, len(q.pending))
	for _, g := range q.pending {
		result = append(result, PendingGrant{
			ID:        g.ID,
			Client:    g.Client,
			Identity:  g.Identity,
			Timestamp: g.Timestamp,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}
