package saga

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

// Resume picks a transfer up from its last durable checkpoint and drives
// it to a terminal state. Forward steps that already completed are
// skipped; a transfer found mid-compensation re-walks every compensator,
// which is safe because each one checks the persisted movement evidence
// before touching an account. Terminal transfers return their snapshot
// untouched.
func (o *Orchestrator) Resume(ctx context.Context, reference string) (transfer.Snapshot, error) {
	t, err := o.store.FindByReference(ctx, reference)
	if err != nil {
		return transfer.Snapshot{}, err
	}
	if t.Status.Terminal() {
		return transfer.SnapshotOf(t), nil
	}

	ctx, span := o.tracer.Start(ctx, "saga.resume", trace.WithAttributes(
		attribute.String("transfer.reference", t.Reference),
		attribute.String("transfer.status", string(t.Status)),
	))
	defer span.End()

	o.logger.Info("resuming transfer",
		zap.String("reference", t.Reference),
		zap.String("status", string(t.Status)))

	switch t.Status {
	case transfer.StatusPending, transfer.StatusValidating:
		err = o.runForward(ctx, t, 0)
	case transfer.StatusDebitPending:
		err = o.runForward(ctx, t, 1)
	case transfer.StatusDebitCompleted, transfer.StatusCreditPending:
		err = o.runForward(ctx, t, 2)
	case transfer.StatusCompensating:
		err = o.runCompensators(context.WithoutCancel(ctx), t, o.steps)
	default:
		err = fmt.Errorf("transfer %s in unexpected status %s", t.Reference, t.Status)
	}
	if err != nil {
		span.RecordError(err)
		return o.lastPersisted(ctx, t.Reference, err)
	}
	return transfer.SnapshotOf(t), nil
}

// SweepStuck resumes every non-terminal transfer whose last update is
// older than threshold. It returns how many of those reached a terminal
// state; per-transfer failures are logged and skipped so one wedged row
// cannot stall the rest of the sweep.
func (o *Orchestrator) SweepStuck(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := o.clock.Now().Add(-threshold)
	stuck, err := o.store.FindStuck(ctx, transfer.NonTerminalStatuses(), cutoff)
	if err != nil {
		o.metrics.ObserveRecoverySweep(0, err)
		return 0, fmt.Errorf("find stuck transfers: %w", err)
	}

	resumed := 0
	for _, t := range stuck {
		snap, err := o.Resume(ctx, t.Reference)
		if err != nil {
			o.logger.Error("resume stuck transfer",
				zap.String("reference", t.Reference), zap.Error(err))
			continue
		}
		if snap.Status.Terminal() {
			resumed++
		}
	}
	if len(stuck) > 0 {
		o.logger.Info("recovery sweep finished",
			zap.Int("stuck", len(stuck)), zap.Int("resumed", resumed))
	}
	o.metrics.ObserveRecoverySweep(resumed, nil)
	return resumed, nil
}

// StartRecoverySweeper runs SweepStuck every interval until ctx is
// canceled. Transfers younger than threshold are left alone; they either
// still have a live driver or will age into the next sweep.
func (o *Orchestrator) StartRecoverySweeper(
	ctx context.Context,
	interval time.Duration,
	threshold time.Duration,
	logger func(string, ...any),
	observer func(resumed int, err error),
) {
	if interval <= 0 || threshold <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resumed, err := o.SweepStuck(ctx, threshold)
				if observer != nil {
					observer(resumed, err)
				}
				if err != nil {
					if logger != nil {
						logger("recovery sweep failed: %v", err)
					}
					continue
				}
				if resumed > 0 && logger != nil {
					logger("recovery sweep resumed %d stuck transfers", resumed)
				}
			}
		}
	}()
}
