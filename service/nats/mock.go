package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu                sync.RWMutex
	verifications     []*VerificationEvent
	controlPoints     []*ControlPointEvent
	verificationError error
	controlPointError error
	closed            bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		verifications: make([]*VerificationEvent, 0),
		controlPoints: make([]*ControlPointEvent, 0),
	}
}

// PublishVerification records the event and returns any configured error.
func (m *MockPublisher) PublishVerification(ctx context.Context, event *VerificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verificationError != nil {
		return m.verificationError
	}

	m.verifications = append(m.verifications, event)
	return nil
}

// PublishControlPoint records the event and returns any configured error.
func (m *MockPublisher) PublishControlPoint(ctx context.Context, event *ControlPointEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controlPointError != nil {
		return m.controlPointError
	}

	m.controlPoints = append(m.controlPoints, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetVerifications returns all published verification events (for testing).
func (m *MockPublisher) GetVerifications() []*VerificationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	events := make([]*VerificationEvent, len(m.verifications))
	copy(events, m.verifications)
	return events
}

// GetControlPoints returns all published control point events (for testing).
func (m *MockPublisher) GetControlPoints() []*ControlPointEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ControlPointEvent, len(m.controlPoints))
	copy(events, m.controlPoints)
	return events
}

// GetVerificationsForProject returns verification events for one project.
func (m *MockPublisher) GetVerificationsForProject(projectID int64) []*VerificationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*VerificationEvent, 0)
	for _, event := range m.verifications {
		if event.ProjectID == projectID {
			events = append(events, event)
		}
	}
	return events
}

// SetVerificationError configures the mock to return an error on PublishVerification.
func (m *MockPublisher) SetVerificationError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationError = err
}

// SetControlPointError configures the mock to return an error on PublishControlPoint.
func (m *MockPublisher) SetControlPointError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controlPointError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = make([]*VerificationEvent, 0)
	m.controlPoints = make([]*ControlPointEvent, 0)
	m.verificationError = nil
	m.controlPointError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
