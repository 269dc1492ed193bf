// Package genlock provides single-flight coordination of artifact generation:
// at most one generation per (user, artifact type) runs at a time, and every
// concurrent requester receives the leader's outcome.
package genlock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/types"
)

// Key identifies a generation slot.
type Key struct {
	UserID uuid.UUID
	Type   types.ArtifactType
}

func (k Key) String() string {
	return k.UserID.String() + ":" + string(k.Type)
}

// Role tells a requester whether it runs the generation or waits for it.
type Role int

const (
	Leader Role = iota + 1
	Follower
)

func (r Role) String() string {
	switch r {
	case Leader:
		return "leader"
	case Follower:
		return "follower"
	default:
		return "unknown"
	}
}

// Request describes who is asking for the slot.
type Request struct {
	Owner       string
	Fingerprint string
}

// Info describes the generation a ticket is bound to.
type Info struct {
	TicketID    uuid.UUID `json:"ticket_id"`
	Owner       string    `json:"owner"`
	Fingerprint string    `json:"fingerprint"`
	StartedAt   time.Time `json:"started_at"`
}

// Outcome is the result a leader publishes to its followers.
type Outcome struct {
	Artifact *types.Artifact
	Err      error
}

// Ticket is the handle returned by AcquireOrJoin.
type Ticket interface {
	Role() Role
	// Info describes the leader's generation.
	Info() Info
	// Release publishes the outcome and frees the slot. Only the first call
	// on a leader ticket has any effect; on a follower ticket it is a no-op.
	Release(outcome Outcome)
	// Wait blocks until the leader releases. Cancelling ctx abandons the wait
	// without affecting the generation.
	Wait(ctx context.Context) (Outcome, error)
	// Lost is closed when a leader no longer holds its slot and another
	// generation may have started. It is nil for tickets that cannot lose it.
	Lost() <-chan struct{}
}

// Lock hands out generation tickets.
type Lock interface {
	AcquireOrJoin(ctx context.Context, key Key, req Request) (Ticket, error)
}
