// Package orchestrator serves generated artifacts from the store when their
// input fingerprint still matches, and otherwise runs exactly one generation
// per (user, artifact type) whose outcome is shared with every concurrent caller.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/career-journey/internal/apperr"
	"github.com/jonathan/career-journey/internal/genlock"
	"github.com/jonathan/career-journey/internal/logging"
	"github.com/jonathan/career-journey/internal/stages"
	"github.com/jonathan/career-journey/internal/store"
	"github.com/jonathan/career-journey/internal/types"
)

// Source tells the caller where an artifact came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceGenerated Source = "generated"
	SourceJoined    Source = "joined"
)

// GenerateFunc produces an artifact payload. It receives a context that is
// detached from the caller and bounded by the per-type timeout.
type GenerateFunc func(ctx context.Context) (json.RawMessage, error)

// Request describes one artifact lookup.
type Request struct {
	UserID      uuid.UUID
	Type        types.ArtifactType
	Fingerprint string
	Policy      stages.CachePolicy
	Generate    GenerateFunc
	// Advance, when set, is committed together with a freshly generated artifact.
	Advance *store.Advance
	// Owner identifies the caller in lock metadata and logs.
	Owner string
}

// Result is the artifact handed back by Obtain.
type Result struct {
	Artifact *types.Artifact
	Source   Source
}

// Options configures an Orchestrator.
type Options struct {
	// Timeouts bounds each generation by artifact type.
	Timeouts map[types.ArtifactType]time.Duration
	// DefaultTimeout applies to types missing from Timeouts.
	DefaultTimeout time.Duration
	// StoreTimeout bounds the write that follows a generation.
	StoreTimeout time.Duration
	// MaxRounds bounds how often a caller waits out a generation started
	// with different inputs before giving up.
	MaxRounds int
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		Timeouts: map[types.ArtifactType]time.Duration{
			types.ArtifactQuestions:       60 * time.Second,
			types.ArtifactCareerPaths:     90 * time.Second,
			types.ArtifactDetailedRoadmap: 5 * time.Minute,
			types.ArtifactTopicAssessment: 60 * time.Second,
			types.ArtifactTopicEvaluation: 60 * time.Second,
		},
		DefaultTimeout: 2 * time.Minute,
		StoreTimeout:   10 * time.Second,
		MaxRounds:      3,
	}
}

// Orchestrator coordinates the artifact store and the generation lock.
type Orchestrator struct {
	store store.ArtifactStore
	lock  genlock.Lock
	opts  Options
	log   *logging.Logger
}

// New creates an Orchestrator. Zero option fields fall back to DefaultOptions.
func New(s store.ArtifactStore, lock genlock.Lock, opts Options, log *logging.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.Timeouts == nil {
		opts.Timeouts = def.Timeouts
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = def.MaxRounds
	}
	return &Orchestrator{
		store: s,
		lock:  lock,
		opts:  opts,
		log:   logging.OrNop(log).With("component", "orchestrator"),
	}
}

// Timeout returns the generation deadline for t, falling back to the
// deadline of its kind for topic-scoped types.
func (o *Orchestrator) Timeout(t types.ArtifactType) time.Duration {
	if d, ok := o.opts.Timeouts[t]; ok && d > 0 {
		return d
	}
	if d, ok := o.opts.Timeouts[t.Kind()]; ok && d > 0 {
		return d
	}
	return o.opts.DefaultTimeout
}

// Obtain returns an artifact matching req.Fingerprint, generating it when
// needed. Cancelling ctx abandons the wait but never a running generation.
func (o *Orchestrator) Obtain(ctx context.Context, req Request) (*Result, error) {
	if req.Generate == nil {
		return nil, fmt.Errorf("orchestrator: request for %s has no generator", req.Type)
	}
	if !req.Type.Valid() {
		return nil, &apperr.InvalidInputError{Field: "type", Message: fmt.Sprintf("unknown artifact type %q", req.Type)}
	}

	log := o.log.With("user_id", req.UserID.String(), "type", string(req.Type), "owner", req.Owner)
	key := genlock.Key{UserID: req.UserID, Type: req.Type}

	for round := 0; round < o.opts.MaxRounds; round++ {
		if req.Policy == stages.Cacheable {
			hit, err := o.lookup(ctx, req)
			if err != nil {
				return nil, err
			}
			if hit != nil {
				log.Debug("artifact served from cache", "version", hit.Version)
				return &Result{Artifact: hit, Source: SourceCache}, nil
			}
		}

		ticket, err := o.lock.AcquireOrJoin(ctx, key, genlock.Request{Owner: req.Owner, Fingerprint: req.Fingerprint})
		if err != nil {
			return nil, err
		}

		if ticket.Role() == genlock.Leader {
			return o.lead(ctx, log, ticket, req)
		}

		leader := ticket.Info()
		log.Debug("waiting on in-flight generation", "leader", leader.Owner, "round", round)
		out, err := ticket.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if leader.Fingerprint != req.Fingerprint {
			// The running generation was for other inputs. Now that it is
			// done, try again with ours.
			continue
		}
		if out.Err != nil {
			return nil, out.Err
		}
		return &Result{Artifact: out.Artifact, Source: SourceJoined}, nil
	}

	return nil, &apperr.GenerationFailureError{
		Type:    req.Type,
		Message: "generation slot stayed busy with different inputs",
	}
}

// lookup returns the current artifact when its fingerprint matches.
func (o *Orchestrator) lookup(ctx context.Context, req Request) (*types.Artifact, error) {
	a, err := o.store.GetArtifact(ctx, req.UserID, req.Type)
	if err != nil {
		return nil, apperr.Storage("get artifact", err)
	}
	if a == nil || a.InputFingerprint != req.Fingerprint {
		return nil, nil
	}
	return a, nil
}

func (o *Orchestrator) lead(ctx context.Context, log *logging.Logger, ticket genlock.Ticket, req Request) (*Result, error) {
	if req.Policy == stages.Cacheable {
		// Another leader may have finished between the first lookup and
		// acquiring the slot.
		hit, err := o.lookup(ctx, req)
		if err != nil {
			ticket.Release(genlock.Outcome{Err: err})
			return nil, err
		}
		if hit != nil {
			ticket.Release(genlock.Outcome{Artifact: hit})
			return &Result{Artifact: hit, Source: SourceCache}, nil
		}
	}

	done := make(chan genlock.Outcome, 1)
	go func() {
		out := o.generate(context.WithoutCancel(ctx), log, req, ticket.Lost())
		ticket.Release(out)
		done <- out
	}()

	select {
	case out := <-done:
		if out.Err != nil {
			return nil, out.Err
		}
		return &Result{Artifact: out.Artifact, Source: SourceGenerated}, nil
	case <-ctx.Done():
		log.Info("caller left while generation continues")
		return nil, ctx.Err()
	}
}

type generated struct {
	payload json.RawMessage
	err     error
}

// generate runs the generator under the type's timeout and stores the result.
// Once lost is closed another instance may be generating, so the work is
// abandoned and nothing is stored.
func (o *Orchestrator) generate(base context.Context, log *logging.Logger, req Request, lost <-chan struct{}) genlock.Outcome {
	timeout := o.Timeout(req.Type)
	start := time.Now()
	log.Info("generation started", "timeout", timeout.String())

	genCtx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	ch := make(chan generated, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- generated{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		payload, err := req.Generate(genCtx)
		ch <- generated{payload: payload, err: err}
	}()

	var res generated
	select {
	case res = <-ch:
	case <-genCtx.Done():
		res = generated{err: genCtx.Err()}
	case <-lost:
		cancel()
		return o.leaseLost(log, req, start)
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			log.Warn("generation timed out", "elapsed", time.Since(start).String())
			return genlock.Outcome{Err: &apperr.GenerationTimeoutError{Type: req.Type, Timeout: timeout}}
		}
		log.Warn("generation failed", "error", res.err, "elapsed", time.Since(start).String())
		return genlock.Outcome{Err: &apperr.GenerationFailureError{Type: req.Type, Cause: res.err}}
	}
	if len(res.payload) == 0 || !json.Valid(res.payload) {
		log.Warn("generator returned invalid JSON")
		return genlock.Outcome{Err: &apperr.GenerationFailureError{Type: req.Type, Message: "generator returned invalid JSON"}}
	}

	select {
	case <-lost:
		return o.leaseLost(log, req, start)
	default:
	}

	storeCtx, storeCancel := context.WithTimeout(base, o.opts.StoreTimeout)
	defer storeCancel()
	artifact, err := o.store.PutArtifact(storeCtx, req.UserID, req.Type, res.payload, req.Fingerprint, req.Advance)
	if err != nil {
		log.Error("failed to store generated artifact", "error", err)
		return genlock.Outcome{Err: apperr.Storage("put artifact", err)}
	}

	log.Info("generation finished", "version", artifact.Version, "elapsed", time.Since(start).String())
	return genlock.Outcome{Artifact: artifact}
}

func (o *Orchestrator) leaseLost(log *logging.Logger, req Request, start time.Time) genlock.Outcome {
	log.Error("generation abandoned after losing its slot", "elapsed", time.Since(start).String())
	return genlock.Outcome{Err: &apperr.GenerationFailureError{
		Type:    req.Type,
		Message: "generation slot was lost to another generation",
	}}
}
