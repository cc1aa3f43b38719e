package temporal

import (
	"context"
	"strconv"
	"time"
)

// Scheduler manages Temporal schedules for project reconciliation.
// Each project gets its own schedule that triggers the ReconcileProjectWorkflow.
type Scheduler interface {
	// CreateProjectSchedule creates a new schedule for reconciling a project.
	// The schedule will trigger the ReconcileProjectWorkflow on the given interval.
	CreateProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error

	// UpsertProjectSchedule creates the schedule or updates its interval if it
	// already exists.
	UpsertProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error

	// DeleteProjectSchedule deletes the schedule for a project.
	// This stops the project from being reconciled.
	DeleteProjectSchedule(ctx context.Context, projectID int64) error
}

// scheduleID returns the Temporal schedule ID for a project.
func scheduleID(projectID int64) string {
	return "reconcile-project-" + strconv.FormatInt(projectID, 10)
}
