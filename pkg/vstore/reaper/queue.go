package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// SweepTask is the asynq task type that runs one Sweep.
const SweepTask = "sessions:sweep"

// SweepPayload is serialized into the task payload.
type SweepPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewSweepTask builds a sweep task. Only one may be queued at a time.
func NewSweepTask(requestedAt time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{RequestedAt: requestedAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(SweepTask, data, asynq.MaxRetry(3), asynq.Unique(time.Minute)), nil
}

// EnqueueSweep asks the worker pool for a sweep.
func EnqueueSweep(ctx context.Context, client *asynq.Client) error {
	task, err := NewSweepTask(time.Now())
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}

// HandleSweep is the asynq handler for SweepTask.
func (r *Reaper) HandleSweep(ctx context.Context, task *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	n, err := r.Sweep(ctx)
	if err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "sweep task done", "requested_at", payload.RequestedAt, "deleted", n)
	return nil
}

// Handler registers the sweep handler on a new mux.
func (r *Reaper) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(SweepTask, r.HandleSweep)
	return mux
}

// RegisterSchedule adds a sweep to scheduler that fires every interval.
func RegisterSchedule(scheduler *asynq.Scheduler, interval time.Duration) (string, error) {
	task, err := NewSweepTask(time.Time{})
	if err != nil {
		return "", err
	}
	id, err := scheduler.Register(fmt.Sprintf("@every %s", interval), task)
	if err != nil {
		return "", fmt.Errorf("register sweep schedule: %w", err)
	}
	return id, nil
}
