package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/obs"
	"github.com/riverbend-resort/wallet-api/internal/payment"
)

// TaskSweep is the asynq task type for the reconciliation sweep.
const TaskSweep = "reconcile:sweep"

// Applier replays a processor event against purchase state.
type Applier interface {
	Apply(ctx context.Context, event payment.Event) (payment.Outcome, error)
}

// Sweeper replays admitted-but-unprocessed ledger events. Webhook deliveries
// that raced a missing purchase record, or crashed mid-apply, converge here.
type Sweeper struct {
	Ledger    payment.Ledger
	Processor payment.Processor
	Issuer    Applier
	MinAge    time.Duration
	BatchSize int
	Log       zerolog.Logger
}

// NewPeriodicTask returns the task and schedule for registering the sweep
// with an asynq scheduler.
func NewPeriodicTask(interval time.Duration) (string, *asynq.Task) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return "@every " + interval.String(), asynq.NewTask(TaskSweep, nil)
}

// HandleSweep processes one reconciliation batch.
func (s *Sweeper) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	if s == nil || s.Ledger == nil || s.Processor == nil || s.Issuer == nil {
		return errors.New("reconcile: sweeper not configured")
	}
	entries, err := s.Ledger.ListStuck(ctx, s.MinAge, s.BatchSize)
	if err != nil {
		return err
	}
	if obs.ReconcileStuck != nil {
		obs.ReconcileStuck.Set(float64(len(entries)))
	}
	if len(entries) == 0 {
		return nil
	}

	var replayed, skipped int
	for _, entry := range entries {
		event, err := s.Processor.ParseEvent(entry.Payload)
		if err != nil {
			if errors.Is(err, payment.ErrEventIgnored) {
				// event types we no longer act on; settle them
				_ = s.Ledger.MarkProcessed(ctx, entry.ID)
				continue
			}
			s.Log.Error().Err(err).Str("event_id", entry.ID).Msg("reconcile: undecodable ledger payload")
			skipped++
			continue
		}
		if _, err := s.Issuer.Apply(ctx, event); err != nil {
			if payment.IsOrphaned(err) {
				// still no purchase record; try again next sweep
				skipped++
				continue
			}
			s.Log.Error().Err(err).Str("event_id", entry.ID).Msg("reconcile: replay failed")
			skipped++
			continue
		}
		if err := s.Ledger.MarkProcessed(ctx, entry.ID); err != nil {
			s.Log.Warn().Err(err).Str("event_id", entry.ID).Msg("reconcile: mark processed failed")
			continue
		}
		replayed++
		if obs.ReconcileReplayedTotal != nil {
			obs.ReconcileReplayedTotal.Inc()
		}
	}
	s.Log.Info().Int("replayed", replayed).Int("skipped", skipped).Int("stuck", len(entries)).
		Msg("reconcile sweep complete")
	return nil
}
