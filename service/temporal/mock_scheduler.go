package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// CreateProjectSchedule records that a schedule was created.
func (m *MockScheduler) CreateProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(projectID)] = interval
	return nil
}

// UpsertProjectSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(projectID)] = interval // Creates or updates
	return nil
}

// DeleteProjectSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteProjectSchedule(ctx context.Context, projectID int64) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := scheduleID(projectID)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// SetCreateError makes CreateProjectSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeleteProjectSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists for a project.
func (m *MockScheduler) ScheduleExists(projectID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[scheduleID(projectID)]
	return exists
}

// GetScheduleInterval returns the interval for a project's schedule.
func (m *MockScheduler) GetScheduleInterval(projectID int64) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.schedules[scheduleID(projectID)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.createErr = nil
	m.deleteErr = nil
}
