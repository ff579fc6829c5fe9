package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/acesso-gov/acesso/internal/authz"
	jobmetrics "github.com/acesso-gov/acesso/internal/jobs"
)

// RoleInvalidationJob drops cached permission sets for every holder of a
// role after its permission bindings changed. The identity write path
// invalidates synchronously first; this task is the retried fallback.
type RoleInvalidationJob struct {
	Perms   *authz.PermissionRepository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRoleInvalidationJob wires dependencies for the fanout handler.
func NewRoleInvalidationJob(perms *authz.PermissionRepository, logger *slog.Logger, metrics *jobmetrics.Metrics) *RoleInvalidationJob {
	return &RoleInvalidationJob{Perms: perms, Logger: logger, Metrics: metrics}
}

// Handle processes invalidation fanout tasks.
func (j *RoleInvalidationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("perms invalidate: handler not configured")
	}
	var payload RoleInvalidationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RoleID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermsInvalidateRole)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Perms.InvalidateForRole(ctx, payload.RoleID); err != nil {
		resultErr = err
		return err
	}
	j.metrics().AddInvalidations("role_change", 1)
	j.logger().Info("role invalidation fanout complete", slog.Int64("role_id", payload.RoleID))
	return nil
}

func (j *RoleInvalidationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RoleInvalidationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
