// services/scheduler.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/config"
	"proof-badge-system/metrics"

	"github.com/go-co-op/gocron/v2"
)

// StartReconcileScheduler registers the periodic repair jobs and starts the
// scheduler. The caller shuts it down on exit.
func (r *Reconciler) StartReconcileScheduler(ctx context.Context, cfg config.SchedulerConfig) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(gocron.WithSingletonMode(gocron.LimitModeReschedule)),
	)
	if err != nil {
		return nil, err
	}

	// Every reconcile interval: recount profiles and challenges, backfill missing badges
	if cfg.ReconcileInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.ReconcileInterval),
			gocron.NewTask(func() { _ = r.runReconcile(ctx) }),
			gocron.WithName("reconcile"),
		)
		if err != nil {
			return nil, err
		}
	}

	// Every upgrade interval: finish stalled reservations, then retry degraded mints
	if cfg.UpgradeInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.UpgradeInterval),
			gocron.NewTask(func() {
				_, err := r.FinalizeStalled(ctx, cfg.StallThreshold)
				metrics.IncReconcile("finalize_stalled", err)
				if err != nil {
					log.Printf("[Scheduler] finalize stalled error: %v", err)
				}

				report, err := r.UpgradeDegraded(ctx, cfg.UpgradeBatch)
				if errors.Is(err, chain.ErrNotConfigured) {
					return
				}
				metrics.IncReconcile("upgrade", err)
				if err != nil {
					log.Printf("[Scheduler] upgrade error: %v", err)
					return
				}
				if report.Scanned > 0 {
					log.Printf("✅ [Scheduler] upgrade scanned=%d upgraded=%d already=%d failed=%d",
						report.Scanned, report.Upgraded, report.AlreadyOnChain, report.Failed)
				}
			}),
			gocron.WithName("upgrade-degraded"),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	log.Printf("⏰ [Scheduler] reconcile every %s, upgrade every %s", orOff(cfg.ReconcileInterval), orOff(cfg.UpgradeInterval))
	return sched, nil
}

// runReconcile runs one backfill and recount pass. Every step runs even if an
// earlier one failed; the failures are logged and joined.
func (r *Reconciler) runReconcile(ctx context.Context) error {
	steps := []struct {
		job string
		run func(context.Context) (*ReconcileReport, error)
	}{
		{"backfill", r.BackfillBadges},
		{"challenges", r.RecomputeChallenges},
		{"profiles", r.RecomputeAll},
	}
	var errs []error
	for _, step := range steps {
		_, err := step.run(ctx)
		metrics.IncReconcile(step.job, err)
		if err != nil {
			log.Printf("[Scheduler] reconcile %s error: %v", step.job, err)
			errs = append(errs, fmt.Errorf("%s: %w", step.job, err))
		}
	}
	return errors.Join(errs...)
}

func orOff(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}
