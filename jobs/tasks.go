package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermsWarmup preloads permission sets for recently active users.
	TaskPermsWarmup = "perms:warmup"
	// TaskPermsInvalidateRole fans out cache invalidation for every user
	// holding a role whose permission bindings changed.
	TaskPermsInvalidateRole = "perms:invalidate_role"
)

// PermsWarmupPayload bounds the warmup to users seen within the window.
type PermsWarmupPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewPermsWarmupTask constructs an Asynq task for cache warmup.
func NewPermsWarmupTask(window time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PermsWarmupPayload{WindowHours: int(window.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermsWarmup, data), nil
}

// RoleInvalidationPayload identifies the role whose holders need fresh
// permission sets.
type RoleInvalidationPayload struct {
	RoleID int64 `json:"role_id"`
}

// NewRoleInvalidationTask constructs an Asynq task for invalidation fanout.
func NewRoleInvalidationTask(roleID int64) (*asynq.Task, error) {
	data, err := json.Marshal(RoleInvalidationPayload{RoleID: roleID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermsInvalidateRole, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRoleInvalidation enqueues an invalidation fanout for the role. The
// identity write path calls this when the synchronous invalidation fails.
func (c *Client) EnqueueRoleInvalidation(ctx context.Context, roleID int64) error {
	task, err := NewRoleInvalidationTask(roleID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	return err
}

// Close releases the underlying Asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}
