package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/courseassist/internal/config"
	"github.com/nikhilbhutani/courseassist/internal/models"
)

// DefaultQueue is the asynq queue ingestion tasks are enqueued on.
const DefaultQueue = "default"

// followUpSuffix names the task that re-ingests a document whose first task
// is already running.
const followUpSuffix = ":next"

type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// RedisOpt maps the shared redis settings onto asynq's connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client:    asynq.NewClient(RedisOpt(cfg)),
		inspector: asynq.NewInspector(RedisOpt(cfg)),
	}
}

func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// EnqueueIngest schedules ingestion of a stored upload and returns the task
// id. Task ids derive from the document id, so a document has at most one
// waiting task: a second upload while one is still waiting is picked up by
// that task when it reads the file. A finished or archived task is replaced,
// and one that is already running gets a follow-up task, so the latest
// upload is always ingested.
func (c *Client) EnqueueIngest(ctx context.Context, courseID, filename string) (string, error) {
	documentID := models.DocumentID(courseID, filename)
	payload := IngestPayload{CourseID: courseID, Filename: filename}

	for _, id := range []string{documentID, documentID + followUpSuffix} {
		queued, err := c.enqueueIngest(ctx, id, payload)
		if err != nil {
			return "", err
		}
		if queued {
			return id, nil
		}
	}

	// Both tasks are running; the next one cannot share their ids.
	id := fmt.Sprintf("%s:%d", documentID, time.Now().UnixNano())
	if err := c.enqueue(ctx, TypeDocumentIngest, payload, ingestOptions(id)...); err != nil {
		return "", err
	}
	return id, nil
}

// enqueueIngest reports false when id belongs to a task that is running.
func (c *Client) enqueueIngest(ctx context.Context, id string, payload IngestPayload) (bool, error) {
	err := c.enqueue(ctx, TypeDocumentIngest, payload, ingestOptions(id)...)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err == nil, err
	}

	info, err := c.inspector.GetTaskInfo(DefaultQueue, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// Gone since the conflict; take its place.
	case err != nil:
		return false, fmt.Errorf("inspect task %s: %w", id, err)
	case info.State == asynq.TaskStateActive:
		return false, nil
	case info.State == asynq.TaskStateArchived || info.State == asynq.TaskStateCompleted:
		if err := c.inspector.DeleteTask(DefaultQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return false, fmt.Errorf("drop finished task %s: %w", id, err)
		}
		slog.Info("replacing finished ingestion task", "task_id", id, "state", info.State.String())
	default:
		slog.Info("ingestion already queued", "task_id", id, "state", info.State.String())
		return true, nil
	}

	err = c.enqueue(ctx, TypeDocumentIngest, payload, ingestOptions(id)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Another upload queued it first.
		return true, nil
	}
	return err == nil, err
}

func ingestOptions(id string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(DefaultQueue),
		asynq.TaskID(id),
		asynq.MaxRetry(5),
		asynq.Timeout(IngestTimeout),
	}
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
