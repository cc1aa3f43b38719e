package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ControlPointObjectType tags audit events holding balance snapshots.
const ControlPointObjectType = "controlPoint"

// ControlPointStore is the slice of persistence control points need.
type ControlPointStore interface {
	ListTransactionsByProject(ctx context.Context, projectID int64) ([]Transaction, error)
	CreateEvent(ctx context.Context, event Event) (Event, error)
}

// ControlPointer takes balance snapshots and records them in the audit log.
// The snapshot is derived on demand; the stored event is the only persisted
// artifact.
type ControlPointer struct {
	store      ControlPointStore
	aggregator *Aggregator
	currencies []string
	logger     *slog.Logger
}

// NewControlPointer creates a control pointer over the configured currency set.
func NewControlPointer(store ControlPointStore, aggregator *Aggregator, currencies []string, logger *slog.Logger) *ControlPointer {
	return &ControlPointer{
		store:      store,
		aggregator: aggregator,
		currencies: currencies,
		logger:     logger,
	}
}

// Create folds the project's full transaction log into a balance sheet and
// appends it to the audit log. The sheet is returned only when the event was
// durably recorded: a snapshot that failed to persist never reaches the
// caller, so the audit log and what operators saw cannot diverge.
func (c *ControlPointer) Create(ctx context.Context, projectID int64) (BalanceSheet, Event, error) {
	txs, err := c.store.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return nil, Event{}, fmt.Errorf("list transactions for project %d: %w", projectID, err)
	}

	sheet := c.aggregator.Aggregate(c.currencies, txs)

	data, err := json.Marshal(sheet)
	if err != nil {
		return nil, Event{}, fmt.Errorf("marshal balance sheet: %w", err)
	}

	event, err := c.store.CreateEvent(ctx, Event{
		Name:       "create",
		ProjectID:  projectID,
		Data:       data,
		ObjectType: ControlPointObjectType,
	})
	if err != nil {
		return nil, Event{}, fmt.Errorf("record control point for project %d: %w", projectID, err)
	}

	c.logger.InfoContext(ctx, "control point recorded",
		"project_id", projectID,
		"event_id", event.ID,
		"transactions", len(txs),
	)
	return sheet, event, nil
}
