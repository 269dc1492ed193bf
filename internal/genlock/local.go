package genlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/logging"
)

type flight struct {
	info    Info
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

// Local coordinates generations within one process.
type Local struct {
	mu      sync.Mutex
	flights map[Key]*flight
	log     *logging.Logger
}

// NewLocal creates an in-process lock.
func NewLocal(log *logging.Logger) *Local {
	return &Local{
		flights: make(map[Key]*flight),
		log:     logging.OrNop(log).With("component", "genlock.local"),
	}
}

// AcquireOrJoin never blocks on another generation; ctx is accepted for
// interface parity.
func (l *Local) AcquireOrJoin(_ context.Context, key Key, req Request) (Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.flights[key]; ok {
		l.log.Debug("joining generation", "key", key.String(), "owner", req.Owner, "leader", f.info.Owner)
		return &localTicket{role: Follower, f: f}, nil
	}

	f := &flight{
		info: Info{
			TicketID:    uuid.New(),
			Owner:       req.Owner,
			Fingerprint: req.Fingerprint,
			StartedAt:   time.Now(),
		},
		done: make(chan struct{}),
	}
	l.flights[key] = f
	return &localTicket{role: Leader, f: f, key: key, lock: l}, nil
}

// InFlight reports whether a generation for key is running.
func (l *Local) InFlight(key Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.flights[key]
	return ok
}

type localTicket struct {
	role Role
	f    *flight
	key  Key
	lock *Local
}

func (t *localTicket) Role() Role { return t.role }

func (t *localTicket) Info() Info { return t.f.info }

// Lost is nil: an in-process slot is held until Release.
func (t *localTicket) Lost() <-chan struct{} { return nil }

func (t *localTicket) Release(outcome Outcome) {
	if t.role != Leader {
		return
	}
	t.f.once.Do(func() {
		t.f.outcome = outcome
		// Remove the slot before waking followers so a request arriving after
		// release starts a new generation instead of reading this outcome.
		t.lock.mu.Lock()
		if t.lock.flights[t.key] == t.f {
			delete(t.lock.flights, t.key)
		}
		t.lock.mu.Unlock()
		close(t.f.done)
	})
}

func (t *localTicket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.f.done:
		return t.f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
