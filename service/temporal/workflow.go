package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileProjectInput contains the input parameters for reconciling a project.
type ReconcileProjectInput struct {
	ProjectID int64 `json:"project_id"`
	Limit     int32 `json:"limit"`
}

// ReconcileProjectResult summarizes one reconciliation pass.
type ReconcileProjectResult struct {
	ProjectID  int64     `json:"project_id"`
	Checked    int       `json:"checked"`
	Confirmed  int       `json:"confirmed"`
	Mismatched int       `json:"mismatched"`
	Absent     int       `json:"absent"`
	Skipped    int       `json:"skipped"`
	RunTime    time.Time `json:"run_time"`
	Error      *string   `json:"error,omitempty"`
}

// ReconcileProjectWorkflow is the Temporal workflow that reconciles a project's
// crypto transactions against their explorers. It is triggered by a Temporal
// schedule at a configured interval.
//
// The workflow performs these steps:
// 1. List transactions whose hash has no recorded transfers (ListUnverified activity)
// 2. For each, resolve the hash and record its transfers (ResolveTransfers activity)
// 3. Reconcile the ledger amount against the recorded sum and publish the
//    outcome (VerifyTransaction activity)
//
// Explorer outages are absorbed by the activity retry policy; a transaction
// whose explorer stays down is skipped this pass and picked up by the next
// scheduled run, never marked as failed.
func ReconcileProjectWorkflow(ctx workflow.Context, input ReconcileProjectInput) (*ReconcileProjectResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileProjectWorkflow started", "project_id", input.ProjectID)

	result := &ReconcileProjectResult{
		ProjectID: input.ProjectID,
		RunTime:   workflow.Now(ctx),
	}

	// Configure activity options
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: List transactions awaiting reconciliation
	var unverified *ListUnverifiedResult
	err := workflow.ExecuteActivity(ctx, a.ListUnverified, ListUnverifiedInput{
		ProjectID: input.ProjectID,
		Limit:     input.Limit,
	}).Get(ctx, &unverified)
	if err != nil {
		errMsg := fmt.Sprintf("failed to list unverified transactions: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to list unverified transactions: %w", err)
	}
	logger.Info("listed unverified transactions", "count", len(unverified.Transactions))

	if len(unverified.Transactions) == 0 {
		logger.Info("nothing to reconcile", "project_id", input.ProjectID)
		return result, nil
	}

	// Steps 2+3: resolve and verify each transaction. A failure on one
	// transaction (explorer still down after retries) skips it without
	// aborting the pass for the rest.
	for _, tx := range unverified.Transactions {
		var resolved *ResolveTransfersResult
		err := workflow.ExecuteActivity(ctx, a.ResolveTransfers, ResolveTransfersInput{
			Hash:  tx.Hash,
			Chain: tx.CryptoType,
		}).Get(ctx, &resolved)
		if err != nil {
			logger.Warn("failed to resolve transfers, skipping this pass",
				"transaction_id", tx.ID,
				"hash", tx.Hash,
				"error", err,
			)
			result.Skipped++
			continue
		}

		if resolved.Absent {
			// The explorer verified the hash does not exist. There is nothing
			// to record, so the transaction stays unverified and visible.
			logger.Warn("transaction hash not found on chain",
				"transaction_id", tx.ID,
				"hash", tx.Hash,
				"chain", tx.CryptoType,
			)
			result.Absent++
			continue
		}

		var verified *VerifyTransactionResult
		err = workflow.ExecuteActivity(ctx, a.VerifyTransaction, VerifyTransactionInput{
			TransactionID: tx.ID,
		}).Get(ctx, &verified)
		if err != nil {
			logger.Error("failed to verify transaction",
				"transaction_id", tx.ID,
				"error", err,
			)
			result.Skipped++
			continue
		}

		result.Checked++
		if verified.Confirmed {
			result.Confirmed++
		} else {
			result.Mismatched++
		}
	}

	logger.Info("ReconcileProjectWorkflow completed",
		"project_id", input.ProjectID,
		"checked", result.Checked,
		"confirmed", result.Confirmed,
		"mismatched", result.Mismatched,
		"absent", result.Absent,
		"skipped", result.Skipped,
	)

	return result, nil
}
