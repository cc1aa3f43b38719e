package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/vterekhov/kassa/service/metrics"
)

// Publisher defines the interface for publishing ledger events to NATS.
type Publisher interface {
	// PublishVerification publishes a reconciliation outcome to JetStream.
	// The event is published to the subject "ledger.verifications.{project_id}".
	PublishVerification(ctx context.Context, event *VerificationEvent) error

	// PublishControlPoint publishes a balance snapshot event.
	// The event is published to the subject "ledger.control-points.{project_id}".
	PublishControlPoint(ctx context.Context, event *ControlPointEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes ledger events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for ledger events.
	StreamName = "LEDGER"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "ledger.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	// Connect to NATS
	nc, err := nats.Connect(natsURL,
		nats.Name("kassa-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	// Ensure stream exists
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		// Stream exists, log info
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	// Stream doesn't exist, create it
	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Verification outcomes and control points from the shared ledger",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishVerification publishes a single reconciliation outcome.
func (p *JetStreamPublisher) PublishVerification(ctx context.Context, event *VerificationEvent) error {
	subject := fmt.Sprintf("ledger.verifications.%d", event.ProjectID)
	if err := p.publish(ctx, subject, "ledger.verifications", event); err != nil {
		return fmt.Errorf("failed to publish verification: %w", err)
	}

	p.logger.Debug("published verification event",
		"subject", subject,
		"hash", event.Hash,
		"confirmed", event.Confirmed,
	)
	return nil
}

// PublishControlPoint publishes a balance snapshot event.
func (p *JetStreamPublisher) PublishControlPoint(ctx context.Context, event *ControlPointEvent) error {
	subject := fmt.Sprintf("ledger.control-points.%d", event.ProjectID)
	if err := p.publish(ctx, subject, "ledger.control-points", event); err != nil {
		return fmt.Errorf("failed to publish control point: %w", err)
	}

	p.logger.Debug("published control point event",
		"subject", subject,
		"event_id", event.EventID,
	)
	return nil
}

// publish marshals and publishes one event, recording the attempt. The metric
// label is the subject prefix, not the full subject, to keep cardinality
// bounded across projects.
func (p *JetStreamPublisher) publish(ctx context.Context, subject, subjectPrefix string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subjectPrefix, status, time.Since(start))
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
