// Package saga drives money transfers through their forward steps and, on
// failure, through the matching compensations in reverse. Every state
// transition is persisted before the next step runs, so a crash at any
// point leaves a checkpoint that recovery can resume from.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-transfer-go/internal/account"
	"github.com/wizardbeardstudio/open-transfer-go/internal/audit"
	"github.com/wizardbeardstudio/open-transfer-go/internal/events"
	"github.com/wizardbeardstudio/open-transfer-go/internal/idempotency"
	"github.com/wizardbeardstudio/open-transfer-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-transfer-go/internal/store"
	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

const defaultReferenceRetries = 3

// Orchestrator composes the transfer store, the idempotency cache, the
// account port, and the event publisher. All mutable state lives on the
// aggregate and is serialized through optimistic concurrency at save
// time; the orchestrator itself holds nothing mutable and is safe for
// concurrent use.
type Orchestrator struct {
	store     store.Store
	cache     idempotency.Cache
	port      account.Port
	publisher events.Publisher

	clock   clock.Clock
	logger  *zap.Logger
	metrics *Metrics
	audit   *audit.Log
	tracer  trace.Tracer

	idempotencyTTL   time.Duration
	referenceRetries int

	steps []step
}

// Options tune the orchestrator. Zero values take the defaults noted on
// each field.
type Options struct {
	Clock   clock.Clock // clock.RealClock{}
	Logger  *zap.Logger // zap.NewNop()
	Metrics *Metrics    // nil disables instrumentation

	// IdempotencyTTL bounds how long the cache remembers a key →
	// reference mapping; the store's unique index holds forever
	// regardless. Defaults to idempotency.DefaultTTL.
	IdempotencyTTL time.Duration
	// ReferenceRetries caps regenerations when a generated reference
	// collides with a stored one. Defaults to 3.
	ReferenceRetries int
}

func New(st store.Store, cache idempotency.Cache, port account.Port, publisher events.Publisher, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = idempotency.DefaultTTL
	}
	if opts.ReferenceRetries <= 0 {
		opts.ReferenceRetries = defaultReferenceRetries
	}
	return &Orchestrator{
		store:            st,
		cache:            cache,
		port:             port,
		publisher:        publisher,
		clock:            opts.Clock,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		audit:            audit.NewLog(),
		tracer:           otel.Tracer("open-transfer.saga"),
		idempotencyTTL:   opts.IdempotencyTTL,
		referenceRetries: opts.ReferenceRetries,
		steps: []step{
			validationStep{port: port},
			debitStep{port: port},
			creditStep{port: port},
		},
	}
}

// Initiate runs one transfer to a terminal state and returns its
// snapshot. Business failures do not surface as errors: they terminate
// the state machine in FAILED or COMPENSATED and the caller reads Status
// and FailureReason off the snapshot.
//
// A request whose idempotency key already maps to a transfer returns that
// transfer's snapshot unchanged; no aggregate is created and no events
// are emitted. When a persistence failure strands the transfer short of a
// terminal state, the snapshot of the last durable checkpoint is returned
// together with the error.
func (o *Orchestrator) Initiate(ctx context.Context, req transfer.Request) (transfer.Snapshot, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return transfer.Snapshot{}, err
	}

	ctx, span := o.tracer.Start(ctx, "saga.initiate", trace.WithAttributes(
		attribute.String("transfer.from_account", req.FromAccount),
		attribute.String("transfer.to_account", req.ToAccount),
	))
	defer span.End()

	if req.IdempotencyKey != "" {
		prior, found, err := o.dedupe(ctx, req.IdempotencyKey)
		if err != nil {
			span.RecordError(err)
			return transfer.Snapshot{}, err
		}
		if found {
			span.SetAttributes(
				attribute.String("transfer.reference", prior.Reference),
				attribute.Bool("transfer.duplicate", true),
			)
			return transfer.SnapshotOf(prior), nil
		}
	}

	t, created, err := o.createAggregate(ctx, req)
	if err != nil {
		span.RecordError(err)
		return transfer.Snapshot{}, err
	}
	span.SetAttributes(attribute.String("transfer.reference", t.Reference))
	if !created {
		span.SetAttributes(attribute.Bool("transfer.duplicate", true))
		return transfer.SnapshotOf(t), nil
	}

	o.metrics.ObserveInitiated(t.Type)
	o.rememberMapping(ctx, req.IdempotencyKey, t.Reference)
	o.emit(ctx, events.KindInitiated, t)

	if err := o.runForward(ctx, t, 0); err != nil {
		span.RecordError(err)
		return o.lastPersisted(ctx, t.Reference, err)
	}
	return transfer.SnapshotOf(t), nil
}

// dedupe resolves an idempotency key through the two tiers: the cache
// answers fast and is trusted when positive, the store is authoritative
// on a miss. Cache trouble degrades to a store lookup and is never fatal.
func (o *Orchestrator) dedupe(ctx context.Context, key string) (*transfer.Transfer, bool, error) {
	ref, ok, err := o.cache.Lookup(ctx, key)
	if err != nil {
		o.logger.Warn("idempotency cache lookup failed", zap.Error(err))
	}
	if err == nil && ok {
		t, err := o.store.FindByReference(ctx, ref)
		if err == nil {
			o.metrics.ObserveIdempotencyHit("cache")
			return t, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("load transfer %s: %w", ref, err)
		}
		// The cache claims a mapping the store has never seen. The
		// contract says this cannot happen; trust the store.
		o.logger.Warn("idempotency cache mapping has no transfer",
			zap.String("reference", ref))
	}

	t, err := o.store.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("look up idempotency key: %w", err)
	}
	o.metrics.ObserveIdempotencyHit("store")
	o.rememberMapping(ctx, key, t.Reference)
	return t, true, nil
}

// rememberMapping is best effort: a lost cache write only costs a store
// lookup on the next duplicate.
func (o *Orchestrator) rememberMapping(ctx context.Context, key, reference string) {
	if key == "" {
		return
	}
	if err := o.cache.Remember(ctx, key, reference, o.idempotencyTTL); err != nil {
		o.logger.Warn("idempotency cache write failed",
			zap.String("reference", reference), zap.Error(err))
	}
}

// createAggregate inserts the PENDING checkpoint, regenerating the
// reference on the rare uniqueness collision. A duplicate idempotency key
// at insert time means another request won the creation race between the
// dedup lookup and here; the winner's aggregate is returned with created
// = false and the loser emits nothing.
func (o *Orchestrator) createAggregate(ctx context.Context, req transfer.Request) (*transfer.Transfer, bool, error) {
	for attempt := 1; ; attempt++ {
		ref, err := transfer.NewReference()
		if err != nil {
			return nil, false, err
		}
		t := transfer.New(req, ref, o.clock.Now())

		err = o.store.Save(ctx, t)
		switch {
		case err == nil:
			o.recordTransition(t, "", "created", t.CreatedAt)
			return t, true, nil

		case errors.Is(err, store.ErrDuplicateIdempotencyKey):
			winner, ferr := o.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr != nil {
				return nil, false, fmt.Errorf("load winner of idempotency race: %w", ferr)
			}
			o.logger.Info("duplicate submission lost the creation race",
				zap.String("reference", winner.Reference))
			o.metrics.ObserveIdempotencyHit("store")
			return winner, false, nil

		case errors.Is(err, store.ErrDuplicateReference):
			o.metrics.ObserveReferenceCollision()
			if attempt < o.referenceRetries {
				o.logger.Warn("reference collision, regenerating",
					zap.String("reference", ref), zap.Int("attempt", attempt))
				continue
			}
			return nil, false, fmt.Errorf("reference uniqueness exhausted after %d attempts: %w", attempt, err)

		default:
			return nil, false, fmt.Errorf("persist transfer %s: %w", ref, err)
		}
	}
}

// runForward drives the aggregate from its current checkpoint through the
// remaining forward steps. Business failures terminate the state machine
// inside (FAILED directly from validation, the compensation path after
// it) and return nil; only persistence failures that leave the transfer
// non-terminal propagate.
func (o *Orchestrator) runForward(ctx context.Context, t *transfer.Transfer, startIdx int) error {
	// Checkpoints and compensation must complete even when the caller
	// goes away mid-transfer; only forward port calls stay on the caller
	// context.
	persistCtx := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil && t.Status == transfer.StatusPending {
		// Nothing has started; leave the PENDING checkpoint for recovery.
		return err
	}

	executed := make([]step, 0, len(o.steps))
	executed = append(executed, o.steps[:startIdx]...)

	for i := startIdx; i < len(o.steps); i++ {
		s := o.steps[i]
		if t.Status != s.PreState() {
			if err := o.transition(persistCtx, t, s.PreState(), ""); err != nil {
				return err
			}
		}

		stepErr := o.executeStep(ctx, s, t)
		if stepErr == nil {
			executed = append(executed, s)
			if err := o.transition(persistCtx, t, s.PostState(), ""); err != nil {
				return err
			}
			continue
		}

		if i == 0 {
			// Validation has no side effects; fail directly, nothing to
			// compensate.
			reason := stepErr.Error()
			t.AppendFailure(reason)
			if err := o.transition(persistCtx, t, transfer.StatusFailed, reason); err != nil {
				return err
			}
			o.emitTerminal(persistCtx, t)
			return nil
		}

		reason := fmt.Sprintf("%s: %v", s.Name(), stepErr)
		t.AppendFailure(reason)
		if err := o.transition(persistCtx, t, transfer.StatusCompensating, reason); err != nil {
			return err
		}
		return o.runCompensators(persistCtx, t, executed)
	}

	o.emitTerminal(persistCtx, t)
	return nil
}

func (o *Orchestrator) executeStep(ctx context.Context, s step, t *transfer.Transfer) error {
	ctx, span := o.tracer.Start(ctx, "saga.step."+s.Name(), trace.WithAttributes(
		attribute.String("transfer.reference", t.Reference),
	))
	defer span.End()

	started := o.clock.Now()
	err := s.Execute(ctx, t)
	o.metrics.ObserveStep(s.Name(), o.clock.Now().Sub(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

// runCompensators walks the executed steps in reverse by index. The
// aggregate must already hold the COMPENSATING checkpoint. Every
// compensator is attempted even after one fails, so as much money as
// possible finds its way back; any failure turns the terminal state into
// FAILED and flags the transfer for operator intervention.
func (o *Orchestrator) runCompensators(ctx context.Context, t *transfer.Transfer, executed []step) error {
	ctx, span := o.tracer.Start(ctx, "saga.compensate", trace.WithAttributes(
		attribute.String("transfer.reference", t.Reference),
	))
	defer span.End()

	complete := true
	for i := len(executed) - 1; i >= 0; i-- {
		s := executed[i]
		if err := s.Compensate(ctx, t); err != nil {
			complete = false
			reason := fmt.Sprintf("compensate %s: %v", s.Name(), err)
			t.AppendFailure(reason)
			span.RecordError(err)
			o.logger.Error("compensator failed",
				zap.String("reference", t.Reference),
				zap.String("step", s.Name()),
				zap.Error(err))
		}
	}

	next := transfer.StatusCompensated
	if !complete {
		next = transfer.StatusFailed
	}
	if err := o.transition(ctx, t, next, t.FailureReason); err != nil {
		return err
	}
	o.metrics.ObserveCompensation(complete)
	if !complete {
		span.SetStatus(otelcodes.Error, "compensation incomplete")
		o.logger.Error("compensation incomplete, operator intervention required",
			zap.String("reference", t.Reference),
			zap.String("failure_reason", t.FailureReason))
	}
	o.emitTerminal(ctx, t)
	return nil
}

// transition advances the state machine and persists the checkpoint. The
// audit entry is appended only after the save succeeds, so the chain
// mirrors what is actually durable.
func (o *Orchestrator) transition(ctx context.Context, t *transfer.Transfer, next transfer.Status, reason string) error {
	from := t.Status
	now := o.clock.Now()
	if err := t.TransitionTo(next, now); err != nil {
		return err
	}
	if err := o.store.Save(ctx, t); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			o.metrics.ObserveSaveConflict()
		}
		return fmt.Errorf("checkpoint %s at %s: %w", t.Reference, next, err)
	}
	o.recordTransition(t, string(from), reason, now)
	return nil
}

func (o *Orchestrator) recordTransition(t *transfer.Transfer, from, reason string, at time.Time) {
	if _, err := o.audit.Append(audit.Transition{
		Reference:  t.Reference,
		From:       from,
		To:         string(t.Status),
		Reason:     reason,
		Version:    t.Version,
		RecordedAt: at,
	}); err != nil {
		o.logger.Error("append transition audit",
			zap.String("reference", t.Reference), zap.Error(err))
	}
}

// emit publishes after the state is already durable. Failures are logged
// and counted, never propagated; consumers deduplicate by (reference,
// status), so a retried emission is harmless and a lost one is repaired
// by operators replaying from the store.
func (o *Orchestrator) emit(ctx context.Context, kind events.Kind, t *transfer.Transfer) {
	e := events.NewEnvelope(kind, t, o.clock.Now())
	if err := o.publisher.Publish(ctx, e); err != nil {
		o.metrics.ObservePublishFailure(kind)
		o.logger.Error("publish transfer event",
			zap.String("reference", t.Reference),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (o *Orchestrator) emitTerminal(ctx context.Context, t *transfer.Transfer) {
	kind, ok := events.KindForTerminal(t.Status)
	if !ok {
		return
	}
	o.metrics.ObserveTerminal(t.Status)
	o.emit(ctx, kind, t)
}

// lastPersisted reloads the durable row after a mid-saga persistence
// failure so the caller sees the real checkpoint rather than the
// in-memory aggregate the failed writer was holding.
func (o *Orchestrator) lastPersisted(ctx context.Context, reference string, cause error) (transfer.Snapshot, error) {
	t, err := o.store.FindByReference(context.WithoutCancel(ctx), reference)
	if err != nil {
		o.logger.Error("reload after checkpoint failure",
			zap.String("reference", reference), zap.Error(err))
		return transfer.Snapshot{}, cause
	}
	return transfer.SnapshotOf(t), cause
}
