package temporal

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/ledger"
	"go.temporal.io/sdk/testsuite"
)

func testTransactions() []ledger.Transaction {
	return []ledger.Transaction{
		{
			ID:         1,
			ProjectID:  7,
			Hash:       "hash-1",
			CryptoType: chain.ChainTron,
			Amount:     decimal.NewFromInt(100),
		},
		{
			ID:         2,
			ProjectID:  7,
			Hash:       "hash-2",
			CryptoType: chain.ChainEth,
			Amount:     decimal.NewFromInt(50),
		},
	}
}

func TestReconcileProjectWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          ReconcileProjectInput
		mockActivities func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper)
		expectedError  bool
		validateResult func(*testing.T, *ReconcileProjectResult)
	}{
		{
			name:  "all transactions confirmed",
			input: ReconcileProjectInput{ProjectID: 7},
			mockActivities: func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper) {
				listMock.Return(&ListUnverifiedResult{Transactions: testTransactions()}, nil)
				resolveMock.Return(&ResolveTransfersResult{Recorded: 1}, nil).Times(2)
				verifyMock.Return(&VerifyTransactionResult{Confirmed: true, RecordedSum: "100"}, nil).Times(2)
			},
			validateResult: func(t *testing.T, result *ReconcileProjectResult) {
				assert.Equal(t, int64(7), result.ProjectID)
				assert.Equal(t, 2, result.Checked)
				assert.Equal(t, 2, result.Confirmed)
				assert.Equal(t, 0, result.Mismatched)
				assert.Equal(t, 0, result.Skipped)
			},
		},
		{
			name:  "nothing to reconcile",
			input: ReconcileProjectInput{ProjectID: 7},
			mockActivities: func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper) {
				listMock.Return(&ListUnverifiedResult{Transactions: []ledger.Transaction{}}, nil)
				// ResolveTransfers and VerifyTransaction should NOT be called
			},
			validateResult: func(t *testing.T, result *ReconcileProjectResult) {
				assert.Equal(t, 0, result.Checked)
				assert.Nil(t, result.Error)
			},
		},
		{
			name:  "mismatch is counted, not an error",
			input: ReconcileProjectInput{ProjectID: 7},
			mockActivities: func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper) {
				listMock.Return(&ListUnverifiedResult{Transactions: testTransactions()[:1]}, nil)
				resolveMock.Return(&ResolveTransfersResult{Recorded: 1}, nil)
				verifyMock.Return(&VerifyTransactionResult{Confirmed: false, RecordedSum: "95"}, nil)
			},
			validateResult: func(t *testing.T, result *ReconcileProjectResult) {
				assert.Equal(t, 1, result.Checked)
				assert.Equal(t, 0, result.Confirmed)
				assert.Equal(t, 1, result.Mismatched)
			},
		},
		{
			name:  "absent hash is counted and not verified",
			input: ReconcileProjectInput{ProjectID: 7},
			mockActivities: func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper) {
				listMock.Return(&ListUnverifiedResult{Transactions: testTransactions()[:1]}, nil)
				resolveMock.Return(&ResolveTransfersResult{Absent: true}, nil)
				// VerifyTransaction should NOT be called for an absent hash
			},
			validateResult: func(t *testing.T, result *ReconcileProjectResult) {
				assert.Equal(t, 0, result.Checked)
				assert.Equal(t, 1, result.Absent)
			},
		},
		{
			name:  "resolution failure skips the transaction, pass continues",
			input: ReconcileProjectInput{ProjectID: 7},
			mockActivities: func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper) {
				listMock.Return(&ListUnverifiedResult{Transactions: testTransactions()}, nil)
				// First resolution exhausts its retries, second succeeds.
				resolveMock.Return(nil, errors.New("explorer unavailable")).Once()
				resolveMock.Return(&ResolveTransfersResult{Recorded: 1}, nil).Once()
				verifyMock.Return(&VerifyTransactionResult{Confirmed: true, RecordedSum: "50"}, nil)
			},
			validateResult: func(t *testing.T, result *ReconcileProjectResult) {
				assert.Equal(t, 1, result.Checked)
				assert.Equal(t, 1, result.Confirmed)
				assert.Equal(t, 1, result.Skipped)
			},
		},
		{
			name:  "listing failure fails the workflow",
			input: ReconcileProjectInput{ProjectID: 7},
			mockActivities: func(listMock, resolveMock, verifyMock *testsuite.MockCallWrapper) {
				listMock.Return(nil, errors.New("database error"))
			},
			expectedError: true,
			validateResult: func(t *testing.T, result *ReconcileProjectResult) {
				// When workflow errors, the result might be partially populated
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup test environment
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			// Register activities first (before mocking)
			activities := &Activities{}
			env.RegisterActivity(activities.ListUnverified)
			env.RegisterActivity(activities.ResolveTransfers)
			env.RegisterActivity(activities.VerifyTransaction)

			// Mock activities
			listMock := env.OnActivity(activities.ListUnverified, mock.Anything, mock.Anything)
			resolveMock := env.OnActivity(activities.ResolveTransfers, mock.Anything, mock.Anything)
			verifyMock := env.OnActivity(activities.VerifyTransaction, mock.Anything, mock.Anything)

			tt.mockActivities(listMock, resolveMock, verifyMock)

			// Execute workflow
			env.ExecuteWorkflow(ReconcileProjectWorkflow, tt.input)

			// Check for errors
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())

				var result ReconcileProjectResult
				env.GetWorkflowResult(&result)
				tt.validateResult(t, &result)
			} else {
				assert.NoError(t, env.GetWorkflowError())

				var result ReconcileProjectResult
				err := env.GetWorkflowResult(&result)
				assert.NoError(t, err)
				tt.validateResult(t, &result)
			}
		})
	}
}

func TestReconcileProjectWorkflow_ActivityRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first
	activities := &Activities{}
	env.RegisterActivity(activities.ListUnverified)
	env.RegisterActivity(activities.ResolveTransfers)
	env.RegisterActivity(activities.VerifyTransaction)

	env.OnActivity(activities.ListUnverified, mock.Anything, mock.Anything).
		Return(&ListUnverifiedResult{Transactions: testTransactions()[:1]}, nil)

	// Mock ResolveTransfers to fail twice then succeed
	callCount := 0
	env.OnActivity(activities.ResolveTransfers, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient explorer error") // Temporal retries on panics
		}
	}).Return(&ResolveTransfersResult{Recorded: 1}, nil)

	env.OnActivity(activities.VerifyTransaction, mock.Anything, mock.Anything).
		Return(&VerifyTransactionResult{Confirmed: true, RecordedSum: "100"}, nil)

	// Execute workflow
	env.ExecuteWorkflow(ReconcileProjectWorkflow, ReconcileProjectInput{ProjectID: 7})

	// Workflow should succeed after retries
	assert.NoError(t, env.GetWorkflowError())

	var result ReconcileProjectResult
	err := env.GetWorkflowResult(&result)
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Confirmed)

	// Verify ResolveTransfers was called 3 times (2 failures + 1 success)
	assert.Equal(t, 3, callCount)
}
