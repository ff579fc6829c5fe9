package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/acesso-gov/acesso/internal/authz"
	jobmetrics "github.com/acesso-gov/acesso/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// warmupStore lists the users and applications to preload.
type warmupStore interface {
	ActiveUserIDs(ctx context.Context, since time.Time) ([]int64, error)
	ApplicationCodes(ctx context.Context) ([]string, error)
}

// PermsWarmupJob pre-populates the permission cache for recently active
// users so first requests after a deploy do not pay the resolution cost.
type PermsWarmupJob struct {
	Perms   *authz.PermissionRepository
	Store   warmupStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPermsWarmupJob wires dependencies for the warmup handler.
func NewPermsWarmupJob(perms *authz.PermissionRepository, store warmupStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermsWarmupJob {
	return &PermsWarmupJob{
		Perms:   perms,
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes warmup tasks.
func (j *PermsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("perms warmup: handler not configured")
	}
	var payload PermsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24 * 7
	}

	tracker := j.metrics().Track(TaskPermsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	since := j.clock().Add(-time.Duration(payload.WindowHours) * time.Hour)
	logger := j.logger().With(slog.Time("since", since))

	userIDs, err := j.Store.ActiveUserIDs(ctx, since)
	if err != nil {
		resultErr = err
		return err
	}
	appCodes, err := j.Store.ApplicationCodes(ctx)
	if err != nil {
		resultErr = err
		return err
	}

	warmed := 0
	for _, userID := range userIDs {
		if err := j.Perms.Preload(ctx, userID, appCodes); err != nil {
			logger.Warn("preload failed", slog.Int64("user_id", userID), slog.Any("error", err))
			continue
		}
		warmed++
	}
	logger.Info("permission cache warmed",
		slog.Int("users", warmed), slog.Int("applications", len(appCodes)))
	return nil
}

func (j *PermsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
