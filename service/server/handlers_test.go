package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/db"
	"github.com/vterekhov/kassa/service/ledger"
	natspkg "github.com/vterekhov/kassa/service/nats"
	temporalpkg "github.com/vterekhov/kassa/service/temporal"
)

const testHash = "b8a2c7e09f3d41e5a66c8d12f0b34a79c5e2d8f1a0b3c6d9e2f5a8b1c4d7e0f3"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	transactions map[int64]ledger.Transaction
	transfers    map[string][]ledger.ChainTransfer
	nextID       int64

	listErr   error
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions: make(map[int64]ledger.Transaction),
		transfers:    make(map[string][]ledger.ChainTransfer),
	}
}

func (s *fakeStore) add(tx ledger.Transaction) ledger.Transaction {
	s.nextID++
	tx.ID = s.nextID
	if tx.Created.IsZero() {
		tx.Created = time.Now().UTC()
	}
	s.transactions[tx.ID] = tx
	return tx
}

func (s *fakeStore) CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (ledger.Transaction, error) {
	if s.createErr != nil {
		return ledger.Transaction{}, s.createErr
	}
	return s.add(ledger.Transaction{
		UserID:     params.UserID,
		AccountID:  params.AccountID,
		Direction:  params.Direction,
		Currency:   params.Currency,
		Amount:     params.Amount,
		Comment:    params.Comment,
		ProjectID:  params.ProjectID,
		Hash:       params.Hash,
		CryptoType: params.CryptoType,
	}), nil
}

func (s *fakeStore) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, errors.New("no rows in result set")
	}
	return tx, nil
}

func (s *fakeStore) ListTransactionsByProject(ctx context.Context, projectID int64) ([]ledger.Transaction, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var txs []ledger.Transaction
	for id := int64(1); id <= s.nextID; id++ {
		if tx, ok := s.transactions[id]; ok && tx.ProjectID == projectID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (s *fakeStore) ListTransactionsByUser(ctx context.Context, projectID, userID int64) ([]ledger.Transaction, error) {
	all, err := s.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var txs []ledger.Transaction
	for _, tx := range all {
		if tx.UserID == userID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (s *fakeStore) ListTransactionsByTimeRange(ctx context.Context, params db.ListTransactionsByTimeRangeParams) ([]ledger.Transaction, error) {
	all, err := s.ListTransactionsByProject(ctx, params.ProjectID)
	if err != nil {
		return nil, err
	}
	var txs []ledger.Transaction
	for _, tx := range all {
		if !tx.Created.Before(params.StartTime) && !tx.Created.After(params.EndTime) {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (s *fakeStore) CreateChainTransfer(ctx context.Context, params db.CreateChainTransferParams) (ledger.ChainTransfer, error) {
	tr := ledger.ChainTransfer{
		ID:      int64(len(s.transfers[params.Hash]) + 1),
		Hash:    params.Hash,
		Chain:   params.Chain,
		Amount:  params.Amount,
		Token:   params.Token,
		Created: time.Now().UTC(),
	}
	s.transfers[params.Hash] = append(s.transfers[params.Hash], tr)
	return tr, nil
}

func (s *fakeStore) ListChainTransfersByHash(ctx context.Context, hash string) ([]ledger.ChainTransfer, error) {
	transfers, ok := s.transfers[hash]
	if !ok {
		return []ledger.ChainTransfer{}, nil
	}
	return transfers, nil
}

type fakeResolver struct {
	transfers []chain.Transfer
	err       error
}

func (r *fakeResolver) Resolve(ctx context.Context, hash string, c chain.Chain) ([]chain.Transfer, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.transfers, nil
}

type fakeChecker struct {
	confirmed bool
	err       error
}

func (c *fakeChecker) Verify(ctx context.Context, tx ledger.Transaction) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.confirmed, nil
}

type fakeControlPointer struct {
	sheet ledger.BalanceSheet
	event ledger.Event
	err   error
}

func (c *fakeControlPointer) Create(ctx context.Context, projectID int64) (ledger.BalanceSheet, ledger.Event, error) {
	if c.err != nil {
		return nil, ledger.Event{}, c.err
	}
	return c.sheet, c.event, nil
}


func TestGetBalance(t *testing.T) {
	store := newFakeStore()
	store.add(ledger.Transaction{ProjectID: 7, UserID: 1, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(150)})
	store.add(ledger.Transaction{ProjectID: 7, UserID: 2, Direction: ledger.DirectionOut, Currency: "USD ($)", Amount: decimal.NewFromInt(50)})
	store.add(ledger.Transaction{ProjectID: 8, UserID: 1, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(999)})

	aggregator := ledger.NewAggregator(nil, testLogger())
	handler := handleGetBalance(store, aggregator, []string{"USD ($)", "USDT (₮)"}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/balance?project_id=7", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ProjectID int64             `json:"project_id"`
		Balances  map[string]string `json:"balances"`
		Total     string            `json:"total"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(7), resp.ProjectID)
	assert.Equal(t, "100", resp.Balances["USD ($)"])
	assert.Equal(t, "0", resp.Balances["USDT (₮)"], "configured currencies always get a bucket")
	assert.Equal(t, "100", resp.Total)
}

func TestGetBalance_PerUser(t *testing.T) {
	store := newFakeStore()
	store.add(ledger.Transaction{ProjectID: 7, UserID: 1, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(100)})
	store.add(ledger.Transaction{ProjectID: 7, UserID: 2, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(30)})
	store.add(ledger.Transaction{ProjectID: 7, UserID: 1, Direction: ledger.DirectionOut, Currency: "USD ($)", Amount: decimal.NewFromInt(40)})

	aggregator := ledger.NewAggregator(nil, testLogger())
	handler := handleGetBalance(store, aggregator, []string{"USD ($)"}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/balance?project_id=7&user_id=1", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UserID   int64             `json:"user_id"`
		Balances map[string]string `json:"balances"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.UserID)
	assert.Equal(t, "60", resp.Balances["USD ($)"])
}

func TestGetBalance_UnknownUserGetsZeroSheet(t *testing.T) {
	store := newFakeStore()
	store.add(ledger.Transaction{ProjectID: 7, UserID: 1, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(100)})

	aggregator := ledger.NewAggregator(nil, testLogger())
	handler := handleGetBalance(store, aggregator, []string{"USD ($)"}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/balance?project_id=7&user_id=99", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Balances map[string]string `json:"balances"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "0", resp.Balances["USD ($)"])
}

func TestGetBalance_PathologicalInput(t *testing.T) {
	store := newFakeStore()
	aggregator := ledger.NewAggregator(nil, testLogger())
	handler := handleGetBalance(store, aggregator, []string{"USD ($)"}, testLogger())

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		wantError      string
	}{
		{"missing project_id", "", http.StatusBadRequest, "project_id is required"},
		{"non-numeric project_id", "project_id=abc", http.StatusBadRequest, "invalid project_id"},
		{"negative project_id", "project_id=-1", http.StatusBadRequest, "invalid project_id"},
		{"bad user_id", "project_id=7&user_id=xyz", http.StatusBadRequest, "invalid user_id"},
		{"bad from", "project_id=7&from=yesterday", http.StatusBadRequest, "invalid from"},
		{"inverted range", "project_id=7&from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", http.StatusBadRequest, "to precedes from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/balance?"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var errResp map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
			assert.Contains(t, errResp["error"], tt.wantError)
		})
	}
}

func TestCreateControlPoint(t *testing.T) {
	cp := &fakeControlPointer{
		sheet: ledger.BalanceSheet{"USD ($)": decimal.NewFromInt(100)},
		event: ledger.Event{ID: 42, ProjectID: 7, Created: time.Now().UTC()},
	}
	publisher := natspkg.NewMockPublisher()
	handler := handleCreateControlPoint(cp, publisher, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/control-points", strings.NewReader(`{"project_id":7}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ProjectID int64             `json:"project_id"`
		EventID   int64             `json:"event_id"`
		Balances  map[string]string `json:"balances"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(7), resp.ProjectID)
	assert.Equal(t, int64(42), resp.EventID)
	assert.Equal(t, "100", resp.Balances["USD ($)"])

	// Snapshot was announced on NATS.
	events := publisher.GetControlPoints()
	require.Len(t, events, 1)
	assert.Equal(t, int64(42), events[0].EventID)
}

func TestCreateControlPoint_PublishFailureStillSucceeds(t *testing.T) {
	cp := &fakeControlPointer{
		sheet: ledger.BalanceSheet{"USD ($)": decimal.Zero},
		event: ledger.Event{ID: 1, ProjectID: 7},
	}
	publisher := natspkg.NewMockPublisher()
	publisher.SetControlPointError(errors.New("nats down"))
	handler := handleCreateControlPoint(cp, publisher, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/control-points", strings.NewReader(`{"project_id":7}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	// The snapshot is durably recorded; the announcement is best-effort.
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateControlPoint_PathologicalInput(t *testing.T) {
	cp := &fakeControlPointer{sheet: ledger.BalanceSheet{}, event: ledger.Event{ID: 1}}
	handler := handleCreateControlPoint(cp, nil, testLogger())

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"malformed JSON", `{"project_id":`, http.StatusBadRequest},
		{"missing project_id", `{}`, http.StatusBadRequest},
		{"negative project_id", `{"project_id":-1}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/control-points", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestCreateControlPoint_CreateFailure(t *testing.T) {
	cp := &fakeControlPointer{err: errors.New("event insert failed")}
	handler := handleCreateControlPoint(cp, nil, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/control-points", strings.NewReader(`{"project_id":7}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateTransaction_CashRow(t *testing.T) {
	store := newFakeStore()
	scheduler := temporalpkg.NewMockScheduler()
	handler := handleCreateTransaction(store, &fakeResolver{}, scheduler, 10*time.Minute, testLogger())

	body := `{"user_id":1,"account_id":10,"direction":"in","currency":"USD ($)","amount":"25.50","comment":"dinner","project_id":7}`
	req := httptest.NewRequest("POST", "/api/v1/transactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Transaction  transactionResponse `json:"transaction"`
		Verification string              `json:"verification"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "25.5", resp.Transaction.Amount)
	assert.Equal(t, "in", resp.Transaction.Direction)
	assert.Empty(t, resp.Verification, "cash rows carry no verification status")
	assert.Zero(t, scheduler.ScheduleCount(), "cash rows do not touch the reconciliation rota")
}

func TestCreateTransaction_CryptoRowRecordsTransfers(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{
		transfers: []chain.Transfer{
			{Hash: testHash, Chain: chain.ChainTron, Amount: decimal.NewFromInt(100), Token: "USDT"},
		},
	}
	scheduler := temporalpkg.NewMockScheduler()
	handler := handleCreateTransaction(store, resolver, scheduler, 10*time.Minute, testLogger())

	body := fmt.Sprintf(`{"user_id":1,"direction":"in","currency":"USDT (₮)","amount":"100","project_id":7,"hash":"%s","chain":"tronscan"}`, testHash)
	req := httptest.NewRequest("POST", "/api/v1/transactions", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Verification string `json:"verification"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "recorded", resp.Verification)
	assert.Len(t, store.transfers[testHash], 1)

	assert.True(t, scheduler.ScheduleExists(7), "crypto rows join the reconciliation rota")
	interval, ok := scheduler.GetScheduleInterval(7)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, interval)
}

func TestCreateTransaction_ExplorerOutageDefersVerification(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{err: chain.ErrUnavailable}
	handler := handleCreateTransaction(store, resolver, nil, 0, testLogger())

	body := fmt.Sprintf(`{"user_id":1,"direction":"in","currency":"USDT (₮)","amount":"100","project_id":7,"hash":"%s","chain":"etherscan"}`, testHash)
	req := httptest.NewRequest("POST", "/api/v1/transactions", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	// The append succeeds either way; the worker retries the resolution.
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Verification string `json:"verification"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "pending", resp.Verification)
	assert.Empty(t, store.transfers[testHash])
}

func TestCreateTransaction_AbsentHash(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{transfers: []chain.Transfer{}}
	handler := handleCreateTransaction(store, resolver, nil, 0, testLogger())

	body := fmt.Sprintf(`{"user_id":1,"direction":"out","currency":"USDT (₮)","amount":"100","project_id":7,"hash":"%s","chain":"blockchain"}`, testHash)
	req := httptest.NewRequest("POST", "/api/v1/transactions", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Verification string `json:"verification"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "absent", resp.Verification)
}

func TestCreateTransaction_PathologicalInput(t *testing.T) {
	store := newFakeStore()
	handler := handleCreateTransaction(store, &fakeResolver{}, nil, 0, testLogger())

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		wantError      string
	}{
		{
			name:           "extremely large request body",
			body:           `{"comment":"` + strings.Repeat("A", 2*1024*1024) + `"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "request body too large",
		},
		{
			name:           "malformed JSON",
			body:           `{"user_id":1,"amount":`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "invalid request body",
		},
		{
			name:           "missing project_id",
			body:           `{"user_id":1,"direction":"in","currency":"USD ($)","amount":"10"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "project_id is required",
		},
		{
			name:           "missing user_id",
			body:           `{"project_id":7,"direction":"in","currency":"USD ($)","amount":"10"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "user_id is required",
		},
		{
			name:           "bad direction",
			body:           `{"user_id":1,"project_id":7,"direction":"sideways","currency":"USD ($)","amount":"10"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "direction",
		},
		{
			name:           "missing currency",
			body:           `{"user_id":1,"project_id":7,"direction":"in","amount":"10"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "currency is required",
		},
		{
			name:           "non-numeric amount",
			body:           `{"user_id":1,"project_id":7,"direction":"in","currency":"USD ($)","amount":"ten"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "invalid amount",
		},
		{
			name:           "negative amount",
			body:           `{"user_id":1,"project_id":7,"direction":"in","currency":"USD ($)","amount":"-5"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "amount must be positive",
		},
		{
			name:           "zero amount",
			body:           `{"user_id":1,"project_id":7,"direction":"in","currency":"USD ($)","amount":"0"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "amount must be positive",
		},
		{
			name:           "hash without chain",
			body:           `{"user_id":1,"project_id":7,"direction":"in","currency":"USD ($)","amount":"10","hash":"` + testHash + `"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "chain is required",
		},
		{
			name:           "hash with unknown chain",
			body:           `{"user_id":1,"project_id":7,"direction":"in","currency":"USD ($)","amount":"10","hash":"` + testHash + `","chain":"dogecoin"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "unknown chain",
		},
		{
			name:           "non-hex hash",
			body:           `{"user_id":1,"project_id":7,"direction":"in","currency":"USD ($)","amount":"10","hash":"not-a-hash!","chain":"tronscan"}`,
			expectedStatus: http.StatusBadRequest,
			wantError:      "invalid hash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/transactions", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var errResp map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
			assert.Contains(t, errResp["error"], tt.wantError)
		})
	}
}

func TestListTransactions(t *testing.T) {
	store := newFakeStore()
	store.add(ledger.Transaction{ProjectID: 7, UserID: 1, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(10)})
	store.add(ledger.Transaction{ProjectID: 7, UserID: 2, Direction: ledger.DirectionIn, Currency: "USD ($)", Amount: decimal.NewFromInt(20)})
	handler := handleListTransactions(store, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/transactions?project_id=7", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Transactions []transactionResponse `json:"transactions"`
		Count        int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)

	// Filtered by user
	req = httptest.NewRequest("GET", "/api/v1/transactions?project_id=7&user_id=2", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, int64(2), resp.Transactions[0].UserID)
}

func TestGetChainTransactions_Recorded(t *testing.T) {
	store := newFakeStore()
	store.transfers[testHash] = []ledger.ChainTransfer{
		{ID: 1, Hash: testHash, Chain: chain.ChainTron, Amount: decimal.NewFromInt(100), Token: "USDT"},
	}
	handler := handleGetChainTransactions(store, &fakeResolver{}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/chain-transactions/"+testHash, nil)
	req.SetPathValue("hash", testHash)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Source    string             `json:"source"`
		Transfers []transferResponse `json:"transfers"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "recorded", resp.Source)
	require.Len(t, resp.Transfers, 1)
	assert.Equal(t, "100", resp.Transfers[0].Amount)
}

func TestGetChainTransactions_LiveResolve(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{
		transfers: []chain.Transfer{
			{Hash: testHash, Chain: chain.ChainEth, Amount: decimal.NewFromInt(50), Token: "USDT"},
		},
	}
	handler := handleGetChainTransactions(store, resolver, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/chain-transactions/"+testHash+"?chain=etherscan", nil)
	req.SetPathValue("hash", testHash)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Source string `json:"source"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "explorer", resp.Source)
}

func TestGetChainTransactions_Outage(t *testing.T) {
	handler := handleGetChainTransactions(newFakeStore(), &fakeResolver{err: chain.ErrUnavailable}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/chain-transactions/"+testHash+"?chain=tronscan", nil)
	req.SetPathValue("hash", testHash)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var errResp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "could not confirm transaction", errResp["error"])
}

func TestGetChainTransactions_NotFound(t *testing.T) {
	handler := handleGetChainTransactions(newFakeStore(), &fakeResolver{transfers: []chain.Transfer{}}, testLogger())

	// Verified absence on the explorer
	req := httptest.NewRequest("GET", "/api/v1/chain-transactions/"+testHash+"?chain=bscscan", nil)
	req.SetPathValue("hash", testHash)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Nothing recorded for the hash
	req = httptest.NewRequest("GET", "/api/v1/chain-transactions/"+testHash, nil)
	req.SetPathValue("hash", testHash)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyTransaction(t *testing.T) {
	store := newFakeStore()
	tx := store.add(ledger.Transaction{
		ProjectID:  7,
		UserID:     1,
		Direction:  ledger.DirectionIn,
		Currency:   "USDT (₮)",
		Amount:     decimal.NewFromInt(100),
		Hash:       testHash,
		CryptoType: chain.ChainTron,
	})
	store.transfers[testHash] = []ledger.ChainTransfer{
		{ID: 1, Hash: testHash, Chain: chain.ChainTron, Amount: decimal.RequireFromString("99.5"), Token: "USDT"},
	}
	publisher := natspkg.NewMockPublisher()
	handler := handleVerifyTransaction(store, &fakeResolver{}, &fakeChecker{confirmed: true}, publisher, testLogger())

	body := fmt.Sprintf(`{"transaction_id":%d}`, tx.ID)
	req := httptest.NewRequest("POST", "/api/v1/verifications", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TransactionID int64  `json:"transaction_id"`
		Confirmed     bool   `json:"confirmed"`
		RecordedSum   string `json:"recorded_sum"`
		ExplorerLink  string `json:"explorer_link"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, tx.ID, resp.TransactionID)
	assert.True(t, resp.Confirmed)
	assert.Equal(t, "99.5", resp.RecordedSum)
	assert.Contains(t, resp.ExplorerLink, "tronscan.org")

	require.Len(t, publisher.GetVerifications(), 1)
}

func TestVerifyTransaction_ResolvesWhenNothingRecorded(t *testing.T) {
	store := newFakeStore()
	tx := store.add(ledger.Transaction{
		ProjectID:  7,
		UserID:     1,
		Direction:  ledger.DirectionIn,
		Currency:   "USDT (₮)",
		Amount:     decimal.NewFromInt(100),
		Hash:       testHash,
		CryptoType: chain.ChainEth,
	})
	resolver := &fakeResolver{
		transfers: []chain.Transfer{
			{Hash: testHash, Chain: chain.ChainEth, Amount: decimal.NewFromInt(100), Token: "USDT"},
		},
	}
	handler := handleVerifyTransaction(store, resolver, &fakeChecker{confirmed: true}, nil, testLogger())

	body := fmt.Sprintf(`{"transaction_id":%d}`, tx.ID)
	req := httptest.NewRequest("POST", "/api/v1/verifications", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, store.transfers[testHash], 1, "resolved transfers are recorded")
}

func TestVerifyTransaction_Outage(t *testing.T) {
	store := newFakeStore()
	tx := store.add(ledger.Transaction{
		ProjectID:  7,
		UserID:     1,
		Direction:  ledger.DirectionIn,
		Currency:   "USDT (₮)",
		Amount:     decimal.NewFromInt(100),
		Hash:       testHash,
		CryptoType: chain.ChainBsc,
	})
	handler := handleVerifyTransaction(store, &fakeResolver{err: chain.ErrUnavailable}, &fakeChecker{}, nil, testLogger())

	body := fmt.Sprintf(`{"transaction_id":%d}`, tx.ID)
	req := httptest.NewRequest("POST", "/api/v1/verifications", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var errResp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "could not confirm transaction", errResp["error"])
}

func TestVerifyTransaction_CashRowTriviallyConfirmed(t *testing.T) {
	store := newFakeStore()
	tx := store.add(ledger.Transaction{
		ProjectID: 7,
		UserID:    1,
		Direction: ledger.DirectionIn,
		Currency:  "USD ($)",
		Amount:    decimal.NewFromInt(10),
	})
	handler := handleVerifyTransaction(store, &fakeResolver{}, &fakeChecker{}, nil, testLogger())

	body := fmt.Sprintf(`{"transaction_id":%d}`, tx.ID)
	req := httptest.NewRequest("POST", "/api/v1/verifications", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Confirmed bool `json:"confirmed"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Confirmed)
}

func TestVerifyTransaction_NotFound(t *testing.T) {
	handler := handleVerifyTransaction(newFakeStore(), &fakeResolver{}, &fakeChecker{}, nil, testLogger())

	req := httptest.NewRequest("POST", "/api/v1/verifications", strings.NewReader(`{"transaction_id":999}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/balance", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/v1/balance", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
