package jobs

import (
	"context"
	"fmt"
	"time"

	"tls_portal_go/config"
	"tls_portal_go/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	retryBatchSize = 50
	jobTimeout     = 5 * time.Minute
)

// StuckPortalRetrier re-runs provisioning for portals that never became active
type StuckPortalRetrier interface {
	RetryStuck(ctx context.Context, minAge time.Duration, limit int) (int, error)
}

// WebhookPruner deletes processed webhook events
type WebhookPruner interface {
	PruneWebhookEvents(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Scheduler owns the portal's periodic maintenance jobs
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewScheduler registers the maintenance jobs without starting them
func NewScheduler(cfg *config.Config, db *gorm.DB, retrier StuckPortalRetrier, pruner WebhookPruner, log *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.JobsTimezone)
	if err != nil {
		log.Warn("Unknown jobs timezone, using UTC", zap.String("timezone", cfg.JobsTimezone), zap.Error(err))
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{cron: c, log: log}

	jobs := []struct {
		spec string
		name string
		fn   func(context.Context)
	}{
		{cfg.ProvisionRetryCron, "retry-stuck-portals", func(ctx context.Context) {
			RetryStuckPortals(ctx, retrier, cfg.ProvisionRetryAge, log)
		}},
		{"0 3 * * *", "cleanup-reset-tokens", func(ctx context.Context) {
			CleanupResetTokens(ctx, db, log)
		}},
		{"30 3 * * *", "prune-webhook-events", func(ctx context.Context) {
			PruneWebhookEvents(ctx, pruner, cfg.WebhookRetention, log)
		}},
	}
	for _, job := range jobs {
		job := job
		if _, err := c.AddFunc(job.spec, s.wrap(job.name, job.fn)); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, fn func(context.Context)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		fn(ctx)
		s.log.Debug("Job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Job scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for running jobs to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func RetryStuckPortals(ctx context.Context, retrier StuckPortalRetrier, minAge time.Duration, log *zap.Logger) {
	provisioned, err := retrier.RetryStuck(ctx, minAge, retryBatchSize)
	if err != nil {
		log.Error("Retrying stuck portals failed", zap.Error(err))
		return
	}
	if provisioned > 0 {
		log.Info("Stuck portals provisioned", zap.Int("count", provisioned))
	}
}

func CleanupResetTokens(ctx context.Context, db *gorm.DB, log *zap.Logger) {
	removed, err := services.CleanupExpiredTokens(ctx, db)
	if err != nil {
		log.Error("Cleaning up reset tokens failed", zap.Error(err))
		return
	}
	log.Info("Expired reset tokens removed", zap.Int64("count", removed))
}

func PruneWebhookEvents(ctx context.Context, pruner WebhookPruner, retention time.Duration, log *zap.Logger) {
	removed, err := pruner.PruneWebhookEvents(ctx, retention)
	if err != nil {
		log.Error("Pruning webhook events failed", zap.Error(err))
		return
	}
	log.Info("Webhook events pruned", zap.Int64("count", removed))
}
