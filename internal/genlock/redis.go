package genlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/logging"
	"github.com/jonathan/career-journey/internal/types"
)

// RedisOptions tunes the cross-instance lock.
type RedisOptions struct {
	// Prefix namespaces every key and channel. Defaults to "genlock".
	Prefix string
	// LeaseTTL bounds how long a crashed leader blocks the slot. The lease is
	// renewed at a third of this interval while the leader is alive.
	LeaseTTL time.Duration
	// ResultTTL is how long a published outcome stays readable for followers
	// that missed the pub/sub message.
	ResultTTL time.Duration
	// PollInterval is how often followers check the lease and the result key.
	PollInterval time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Prefix == "" {
		o.Prefix = "genlock"
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	return o
}

// Redis coordinates generations across processes sharing one Redis server.
type Redis struct {
	rdb  goredis.UniversalClient
	opts RedisOptions
	log  *logging.Logger
}

// ConnectRedis dials addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedis creates a lock on top of an existing client.
func NewRedis(rdb goredis.UniversalClient, opts RedisOptions, log *logging.Logger) *Redis {
	return &Redis{
		rdb:  rdb,
		opts: opts.withDefaults(),
		log:  logging.OrNop(log).With("component", "genlock.redis"),
	}
}

func (r *Redis) leaseKey(key Key) string { return r.opts.Prefix + ":lease:" + key.String() }
func (r *Redis) channel(key Key) string { return r.opts.Prefix + ":outcome:" + key.String() }
func (r *Redis) resultKey(id uuid.UUID) string { return r.opts.Prefix + ":result:" + id.String() }

// renewScript extends the lease only while it still belongs to the ticket.
var renewScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and cjson.decode(v)["ticket_id"] == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while it still belongs to the ticket.
var releaseScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and cjson.decode(v)["ticket_id"] == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *Redis) AcquireOrJoin(ctx context.Context, key Key, req Request) (Ticket, error) {
	// Subscribe before touching the lease so a release between the two steps
	// cannot be missed.
	sub := r.rdb.Subscribe(ctx, r.channel(key))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, apperr.Storage("subscribe generation channel", err)
	}

	info := Info{
		TicketID:    uuid.New(),
		Owner:       req.Owner,
		Fingerprint: req.Fingerprint,
		StartedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to encode lease: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		ok, err := r.rdb.SetNX(ctx, r.leaseKey(key), raw, r.opts.LeaseTTL).Result()
		if err != nil {
			_ = sub.Close()
			return nil, apperr.Storage("acquire generation lease", err)
		}
		if ok {
			_ = sub.Close()
			t := newRedisLeader(r, key, info)
			t.startRenewal()
			return t, nil
		}

		current, err := r.rdb.Get(ctx, r.leaseKey(key)).Result()
		if errors.Is(err, goredis.Nil) {
			// released between SETNX and GET
			continue
		}
		if err != nil {
			_ = sub.Close()
			return nil, apperr.Storage("read generation lease", err)
		}
		var leader Info
		if err := json.Unmarshal([]byte(current), &leader); err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("failed to decode lease: %w", err)
		}
		r.log.Debug("joining generation", "key", key.String(), "owner", req.Owner, "leader", leader.Owner)
		return &redisFollower{r: r, key: key, info: leader, sub: sub}, nil
	}

	_ = sub.Close()
	return nil, apperr.Storage("acquire generation lease", errors.New("lease churn"))
}

type redisLeader struct {
	r    *Redis
	key  Key
	info Info
	once sync.Once
	done chan struct{}
	// outcome is kept for Wait on the leader ticket itself.
	outcome Outcome

	// scripter runs the renewal script; it is the Redis client outside tests.
	scripter goredis.Scripter
	lost     chan struct{}
	lostOnce sync.Once
}

func newRedisLeader(r *Redis, key Key, info Info) *redisLeader {
	return &redisLeader{
		r:        r,
		key:      key,
		info:     info,
		done:     make(chan struct{}),
		scripter: r.rdb,
		lost:     make(chan struct{}),
	}
}

func (t *redisLeader) Role() Role            { return Leader }
func (t *redisLeader) Info() Info            { return t.info }
func (t *redisLeader) Lost() <-chan struct{} { return t.lost }

// startRenewal extends the lease at a third of its TTL. The ticket is marked
// lost when the lease turns out to belong to someone else, or when renewals
// have failed for a whole TTL and the lease has certainly expired.
func (t *redisLeader) startRenewal() {
	interval := t.r.opts.LeaseTTL / 3
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastRenewed := time.Now()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				held, err := t.renew(interval)
				switch {
				case err != nil && time.Since(lastRenewed) >= t.r.opts.LeaseTTL:
					t.markLost("lease expired while renewals failed", err)
					return
				case err != nil:
					t.r.log.Warn("failed to renew generation lease", "key", t.key.String(), "error", err)
				case !held:
					t.markLost("lease is held by another ticket", nil)
					return
				default:
					lastRenewed = time.Now()
				}
			}
		}
	}()
}

// renew reports whether the lease still belonged to this ticket.
func (t *redisLeader) renew(timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := renewScript.Run(ctx, t.scripter, []string{t.r.leaseKey(t.key)},
		t.info.TicketID.String(), t.r.opts.LeaseTTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *redisLeader) markLost(reason string, err error) {
	t.lostOnce.Do(func() {
		t.r.log.Error("generation lease lost", "key", t.key.String(), "ticket", t.info.TicketID.String(), "reason", reason, "error", err)
		close(t.lost)
	})
}

func (t *redisLeader) Release(outcome Outcome) {
	t.once.Do(func() {
		t.outcome = outcome
		defer close(t.done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		raw, err := encodeOutcome(t.info.TicketID, t.key.Type, outcome)
		if err != nil {
			t.r.log.Error("failed to encode generation outcome", "key", t.key.String(), "error", err)
		} else {
			if err := t.r.rdb.Set(ctx, t.r.resultKey(t.info.TicketID), raw, t.r.opts.ResultTTL).Err(); err != nil {
				t.r.log.Warn("failed to store generation outcome", "key", t.key.String(), "error", err)
			}
			if err := t.r.rdb.Publish(ctx, t.r.channel(t.key), raw).Err(); err != nil {
				t.r.log.Warn("failed to publish generation outcome", "key", t.key.String(), "error", err)
			}
		}
		if err := releaseScript.Run(ctx, t.r.rdb, []string{t.r.leaseKey(t.key)}, t.info.TicketID.String()).Err(); err != nil {
			t.r.log.Warn("failed to release generation lease", "key", t.key.String(), "error", err)
		}
	})
}

func (t *redisLeader) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type redisFollower struct {
	r    *Redis
	key  Key
	info Info
	sub  *goredis.PubSub
}

func (t *redisFollower) Role() Role { return Follower }
func (t *redisFollower) Info() Info { return t.info }
func (t *redisFollower) Release(Outcome) {}

// Lost is nil: followers hold no lease.
func (t *redisFollower) Lost() <-chan struct{} { return nil }

func (t *redisFollower) Wait(ctx context.Context) (Outcome, error) {
	defer t.sub.Close()

	ticker := time.NewTicker(t.r.opts.PollInterval)
	defer ticker.Stop()
	msgs := t.sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			id, outcome, err := decodeOutcome([]byte(m.Payload), t.key.Type)
			if err != nil {
				t.r.log.Warn("bad generation outcome payload", "key", t.key.String(), "error", err)
				continue
			}
			if id == t.info.TicketID {
				return outcome, nil
			}
		case <-ticker.C:
			outcome, done, err := t.poll(ctx)
			if err != nil {
				return Outcome{}, err
			}
			if done {
				return outcome, nil
			}
		}
	}
}

// poll checks the result key, then whether the leader still holds the lease.
func (t *redisFollower) poll(ctx context.Context) (Outcome, bool, error) {
	raw, err := t.r.rdb.Get(ctx, t.r.resultKey(t.info.TicketID)).Bytes()
	switch {
	case err == nil:
		_, outcome, derr := decodeOutcome(raw, t.key.Type)
		if derr != nil {
			return Outcome{}, false, derr
		}
		return outcome, true, nil
	case !errors.Is(err, goredis.Nil):
		return Outcome{}, false, apperr.Storage("read generation outcome", err)
	}

	current, err := t.r.rdb.Get(ctx, t.r.leaseKey(t.key)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return Outcome{}, false, apperr.Storage("read generation lease", err)
	}
	if err == nil {
		var holder Info
		if json.Unmarshal([]byte(current), &holder) == nil && holder.TicketID == t.info.TicketID {
			return Outcome{}, false, nil
		}
	}

	// The lease is gone or belongs to a newer generation, and no outcome was
	// recorded: the leader died.
	return Outcome{Err: &apperr.GenerationFailureError{
		Type:    t.key.Type,
		Message: "generation leader lost its lease without publishing an outcome",
	}}, true, nil
}

type wireOutcome struct {
	TicketID     uuid.UUID       `json:"ticket_id"`
	Artifact     *types.Artifact `json:"artifact,omitempty"`
	ErrKind      apperr.Kind     `json:"err_kind,omitempty"`
	ErrMessage   string          `json:"err_message,omitempty"`
	TimeoutMilli int64           `json:"timeout_ms,omitempty"`
}

func encodeOutcome(id uuid.UUID, t types.ArtifactType, o Outcome) ([]byte, error) {
	w := wireOutcome{TicketID: id, Artifact: o.Artifact}
	if o.Err != nil {
		w.ErrKind = apperr.KindOf(o.Err)
		w.ErrMessage = o.Err.Error()
		var timeout *apperr.GenerationTimeoutError
		if errors.As(o.Err, &timeout) {
			w.TimeoutMilli = timeout.Timeout.Milliseconds()
		}
	}
	return json.Marshal(w)
}

func decodeOutcome(raw []byte, t types.ArtifactType) (uuid.UUID, Outcome, error) {
	var w wireOutcome
	if err := json.Unmarshal(raw, &w); err != nil {
		return uuid.Nil, Outcome{}, fmt.Errorf("failed to decode outcome: %w", err)
	}
	out := Outcome{Artifact: w.Artifact}
	if w.ErrKind != "" {
		out.Err = apperr.FromKind(w.ErrKind, t, w.ErrMessage, time.Duration(w.TimeoutMilli)*time.Millisecond)
	}
	return w.TicketID, out, nil
}
