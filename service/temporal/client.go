package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateProjectSchedule creates a new Temporal schedule for reconciling a project.
func (c *Client) CreateProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error {
	id := scheduleID(projectID)

	c.logger.Debug("creating project schedule",
		"project_id", projectID,
		"schedule_id", id,
		"interval", interval,
	)

	// Create schedule spec
	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{
				Every: interval,
			},
		},
	}

	// Create workflow action - this will execute the ReconcileProjectWorkflow
	workflowAction := client.ScheduleWorkflowAction{
		ID:        fmt.Sprintf("reconcile-project-%d", projectID),
		Workflow:  "ReconcileProjectWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{ReconcileProjectInput{
			ProjectID: projectID,
		}},
	}

	// Create the schedule
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     id,
		Spec:   scheduleSpec,
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"project_id": projectID,
			"created_by": "kassa",
		},
	})

	if err != nil {
		c.logger.Error("failed to create schedule",
			"project_id", projectID,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("project schedule created",
		"project_id", projectID,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// UpsertProjectSchedule creates or updates a Temporal schedule for a project.
// If the schedule already exists, it updates the reconcile interval. Otherwise, it creates a new schedule.
func (c *Client) UpsertProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error {
	id := scheduleID(projectID)

	c.logger.Debug("upserting project schedule",
		"project_id", projectID,
		"schedule_id", id,
		"interval", interval,
	)

	// Try to get existing schedule
	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	desc, err := handle.Describe(ctx)

	if err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateProjectSchedule(ctx, projectID, interval)
	}

	// Schedule exists - update the interval
	c.logger.Debug("schedule exists, updating interval",
		"schedule_id", id,
		"old_interval", desc.Schedule.Spec.Intervals[0].Every,
		"new_interval", interval,
	)

	// Update the schedule spec with new interval
	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			// Update the interval
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})

	if err != nil {
		c.logger.Error("failed to update schedule",
			"project_id", projectID,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("project schedule updated",
		"project_id", projectID,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// DeleteProjectSchedule deletes the Temporal schedule for a project.
func (c *Client) DeleteProjectSchedule(ctx context.Context, projectID int64) error {
	id := scheduleID(projectID)

	c.logger.Debug("deleting project schedule",
		"project_id", projectID,
		"schedule_id", id,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"project_id", projectID,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("project schedule deleted",
		"project_id", projectID,
		"schedule_id", id,
	)

	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
