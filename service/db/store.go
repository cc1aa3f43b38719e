package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/ledger"
	"github.com/vterekhov/kassa/service/metrics"
)

// Store provides database operations for the service. Amounts travel to and
// from Postgres as numeric text so no precision is lost crossing the driver.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// CreateTransactionParams contains the parameters for creating a ledger transaction.
type CreateTransactionParams struct {
	UserID     int64
	AccountID  int64
	Direction  ledger.Direction
	Currency   string
	Amount     decimal.Decimal
	Comment    string
	ProjectID  int64
	Hash       string
	CryptoType chain.Chain
}

// ListTransactionsByTimeRangeParams contains time range query parameters.
type ListTransactionsByTimeRangeParams struct {
	ProjectID int64
	StartTime time.Time
	EndTime   time.Time
}

// CreateTransaction appends a row to the ledger.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (ledger.Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (user_id, account_id, direction, currency, amount, comment, project_id, hash, crypto_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, user_id, account_id, direction, currency, amount::text, comment, created, project_id, hash, crypto_type`,
		params.UserID, params.AccountID, string(params.Direction), params.Currency,
		params.Amount.String(), params.Comment, params.ProjectID, params.Hash, string(params.CryptoType),
	)
	tx, err := scanTransaction(row)
	s.record("create_transaction", start, err)
	return tx, err
}

// GetTransaction retrieves one ledger row by id.
func (s *Store) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, account_id, direction, currency, amount::text, comment, created, project_id, hash, crypto_type
		FROM transactions
		WHERE id = $1`,
		id,
	)
	tx, err := scanTransaction(row)
	s.record("get_transaction", start, err)
	return tx, err
}

// ListTransactionsByProject retrieves the full transaction log for a project,
// oldest first. The balance fold consumes the whole log, so there is no
// pagination here.
func (s *Store) ListTransactionsByProject(ctx context.Context, projectID int64) ([]ledger.Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, account_id, direction, currency, amount::text, comment, created, project_id, hash, crypto_type
		FROM transactions
		WHERE project_id = $1
		ORDER BY created, id`,
		projectID,
	)
	if err != nil {
		s.record("list_transactions_by_project", start, err)
		return nil, err
	}
	txs, err := collectTransactions(rows)
	s.record("list_transactions_by_project", start, err)
	return txs, err
}

// ListTransactionsByUser retrieves one user's transactions within a project.
func (s *Store) ListTransactionsByUser(ctx context.Context, projectID, userID int64) ([]ledger.Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, account_id, direction, currency, amount::text, comment, created, project_id, hash, crypto_type
		FROM transactions
		WHERE project_id = $1 AND user_id = $2
		ORDER BY created, id`,
		projectID, userID,
	)
	if err != nil {
		s.record("list_transactions_by_user", start, err)
		return nil, err
	}
	txs, err := collectTransactions(rows)
	s.record("list_transactions_by_user", start, err)
	return txs, err
}

// ListTransactionsByTimeRange retrieves a project's transactions within a time range.
func (s *Store) ListTransactionsByTimeRange(ctx context.Context, params ListTransactionsByTimeRangeParams) ([]ledger.Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, account_id, direction, currency, amount::text, comment, created, project_id, hash, crypto_type
		FROM transactions
		WHERE project_id = $1 AND created >= $2 AND created <= $3
		ORDER BY created, id`,
		params.ProjectID, params.StartTime, params.EndTime,
	)
	if err != nil {
		s.record("list_transactions_by_time_range", start, err)
		return nil, err
	}
	txs, err := collectTransactions(rows)
	s.record("list_transactions_by_time_range", start, err)
	return txs, err
}

// ListUnverifiedTransactions retrieves crypto transactions whose hash has no
// recorded on-chain transfers yet. These are the candidates the reconciliation
// workflow resolves next.
func (s *Store) ListUnverifiedTransactions(ctx context.Context, projectID int64, limit int32) ([]ledger.Transaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.user_id, t.account_id, t.direction, t.currency, t.amount::text, t.comment, t.created, t.project_id, t.hash, t.crypto_type
		FROM transactions t
		WHERE t.project_id = $1
		  AND t.hash <> ''
		  AND NOT EXISTS (SELECT 1 FROM crypto_transactions ct WHERE ct.hash = t.hash)
		ORDER BY t.created, t.id
		LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		s.record("list_unverified_transactions", start, err)
		return nil, err
	}
	txs, err := collectTransactions(rows)
	s.record("list_unverified_transactions", start, err)
	return txs, err
}

// CreateChainTransferParams contains the parameters for recording a resolved transfer.
type CreateChainTransferParams struct {
	Hash   string
	Chain  chain.Chain
	Amount decimal.Decimal
	Token  string
}

// CreateChainTransfer records one resolved on-chain transfer.
func (s *Store) CreateChainTransfer(ctx context.Context, params CreateChainTransferParams) (ledger.ChainTransfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO crypto_transactions (hash, chain, amount, token)
		VALUES ($1, $2, $3, $4)
		RETURNING id, hash, chain, amount::text, token, created`,
		params.Hash, string(params.Chain), params.Amount.String(), params.Token,
	)
	transfer, err := scanChainTransfer(row)
	s.record("create_chain_transfer", start, err)
	return transfer, err
}

// ListChainTransfersByHash retrieves the recorded transfers for a hash.
// No rows is a valid answer (nothing recorded yet), returned as an empty slice.
func (s *Store) ListChainTransfersByHash(ctx context.Context, hash string) ([]ledger.ChainTransfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, hash, chain, amount::text, token, created
		FROM crypto_transactions
		WHERE hash = $1
		ORDER BY id`,
		hash,
	)
	if err != nil {
		s.record("list_chain_transfers_by_hash", start, err)
		return nil, err
	}
	defer rows.Close()

	transfers := []ledger.ChainTransfer{}
	for rows.Next() {
		transfer, err := scanChainTransfer(rows)
		if err != nil {
			s.record("list_chain_transfers_by_hash", start, err)
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	s.record("list_chain_transfers_by_hash", start, rows.Err())
	return transfers, rows.Err()
}

// CreateEvent appends a row to the audit log.
func (s *Store) CreateEvent(ctx context.Context, event ledger.Event) (ledger.Event, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO events (name, project_id, data, object_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, project_id, data, object_type, created`,
		event.Name, event.ProjectID, []byte(event.Data), event.ObjectType,
	)
	var out ledger.Event
	var data []byte
	err := row.Scan(&out.ID, &out.Name, &out.ProjectID, &data, &out.ObjectType, &out.Created)
	out.Data = data
	s.record("create_event", start, err)
	return out, err
}

// ListEventsByProject retrieves audit events for a project, newest first,
// optionally filtered by object type.
func (s *Store) ListEventsByProject(ctx context.Context, projectID int64, objectType string, limit int32) ([]ledger.Event, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, project_id, data, object_type, created
		FROM events
		WHERE project_id = $1 AND ($2 = '' OR object_type = $2)
		ORDER BY created DESC, id DESC
		LIMIT $3`,
		projectID, objectType, limit,
	)
	if err != nil {
		s.record("list_events_by_project", start, err)
		return nil, err
	}
	defer rows.Close()

	events := []ledger.Event{}
	for rows.Next() {
		var event ledger.Event
		var data []byte
		if err := rows.Scan(&event.ID, &event.Name, &event.ProjectID, &data, &event.ObjectType, &event.Created); err != nil {
			s.record("list_events_by_project", start, err)
			return nil, err
		}
		event.Data = data
		events = append(events, event)
	}
	s.record("list_events_by_project", start, rows.Err())
	return events, rows.Err()
}

func (s *Store) record(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDBOperation(operation, status, time.Since(start).Seconds())
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var tx ledger.Transaction
	var direction, amount, cryptoType string
	err := row.Scan(&tx.ID, &tx.UserID, &tx.AccountID, &direction, &tx.Currency,
		&amount, &tx.Comment, &tx.Created, &tx.ProjectID, &tx.Hash, &cryptoType)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.Direction = ledger.Direction(direction)
	tx.CryptoType = chain.Chain(cryptoType)
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()
	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanChainTransfer(row pgx.Row) (ledger.ChainTransfer, error) {
	var transfer ledger.ChainTransfer
	var chainTag, amount string
	err := row.Scan(&transfer.ID, &transfer.Hash, &chainTag, &amount, &transfer.Token, &transfer.Created)
	if err != nil {
		return ledger.ChainTransfer{}, err
	}
	transfer.Chain = chain.Chain(chainTag)
	transfer.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return ledger.ChainTransfer{}, err
	}
	return transfer, nil
}
