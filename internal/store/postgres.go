package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-transfer-go/internal/transfer"
)

const transferColumns = `reference, idempotency_key, from_account, to_account, amount, currency, description, transfer_type, status, debit_tx_id, credit_tx_id, failure_reason, initiated_at, completed_at, created_at, updated_at, version`

// Executed one statement at a time: the pgx extended protocol rejects
// multi-statement strings.
var transfersSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transfers (
  reference        TEXT PRIMARY KEY,
  idempotency_key  TEXT,
  from_account     TEXT NOT NULL,
  to_account       TEXT NOT NULL,
  amount           NUMERIC(20,2) NOT NULL,
  currency         TEXT NOT NULL,
  description      TEXT NOT NULL DEFAULT '',
  transfer_type    TEXT NOT NULL,
  status           TEXT NOT NULL,
  debit_tx_id      TEXT,
  credit_tx_id     TEXT,
  failure_reason   TEXT,
  initiated_at     TIMESTAMPTZ NOT NULL,
  completed_at     TIMESTAMPTZ,
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL,
  version          BIGINT NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transfers_idempotency_key_key
  ON transfers (idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transfers_from_account_idx ON transfers (from_account)`,
	`CREATE INDEX IF NOT EXISTS transfers_to_account_idx ON transfers (to_account)`,
	`CREATE INDEX IF NOT EXISTS transfers_status_idx ON transfers (status)`,
	`CREATE INDEX IF NOT EXISTS transfers_created_at_idx ON transfers (created_at)`,
}

const insertTransferSQL = `
INSERT INTO transfers (` + transferColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

const updateTransferSQL = `
UPDATE transfers
SET status = $2,
    debit_tx_id = $3,
    credit_tx_id = $4,
    failure_reason = $5,
    completed_at = $6,
    updated_at = $7,
    version = version + 1
WHERE reference = $1 AND version = $8`

const selectTransferByReferenceSQL = `
SELECT ` + transferColumns + ` FROM transfers WHERE reference = $1`

const selectTransferByIdempotencyKeySQL = `
SELECT ` + transferColumns + ` FROM transfers WHERE idempotency_key = $1`

const selectTransferVersionSQL = `
SELECT version FROM transfers WHERE reference = $1`

// PostgresStore persists aggregates through database/sql with the pgx
// stdlib driver. Each Save is a single atomic statement; the state machine
// and compensators provide cross-service atomicity, so no transaction ever
// spans a port call.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the transfers relation and its indexes when they do
// not exist yet. Deployments with managed migrations can skip it.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range transfersSchemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure transfers schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, t *transfer.Transfer) error {
	if t.Version == 0 {
		return s.insert(ctx, t)
	}
	return s.update(ctx, t)
}

func (s *PostgresStore) insert(ctx context.Context, t *transfer.Transfer) error {
	_, err := s.db.ExecContext(ctx, insertTransferSQL,
		t.Reference,
		nullString(t.IdempotencyKey),
		t.FromAccount,
		t.ToAccount,
		t.Amount,
		t.Currency,
		t.Description,
		string(t.Type),
		string(t.Status),
		nullString(t.DebitTxID),
		nullString(t.CreditTxID),
		nullString(t.FailureReason),
		t.InitiatedAt,
		nullTime(t.CompletedAt),
		t.CreatedAt,
		t.UpdatedAt,
		int64(1),
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	t.Version = 1
	return nil
}

func (s *PostgresStore) update(ctx context.Context, t *transfer.Transfer) error {
	res, err := s.db.ExecContext(ctx, updateTransferSQL,
		t.Reference,
		string(t.Status),
		nullString(t.DebitTxID),
		nullString(t.CreditTxID),
		nullString(t.FailureReason),
		nullTime(t.CompletedAt),
		t.UpdatedAt,
		t.Version,
	)
	if err != nil {
		return fmt.Errorf("update transfer %s: %w", t.Reference, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transfer %s: %w", t.Reference, err)
	}
	if affected == 0 {
		var stored int64
		err := s.db.QueryRowContext(ctx, selectTransferVersionSQL, t.Reference).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check transfer %s version: %w", t.Reference, err)
		}
		return fmt.Errorf("%w: reference %s holds version %d, writer had %d",
			ErrConcurrentModification, t.Reference, stored, t.Version)
	}
	t.Version++
	return nil
}

func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (*transfer.Transfer, error) {
	row := s.db.QueryRowContext(ctx, selectTransferByReferenceSQL, reference)
	return scanTransfer(row)
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) (*transfer.Transfer, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectTransferByIdempotencyKeySQL, key)
	return scanTransfer(row)
}

func (s *PostgresStore) FindByAccount(ctx context.Context, accountID string, scope Scope, page Page) ([]*transfer.Transfer, error) {
	page = page.normalized()
	q := sq.Select(transferColumns).
		From("transfers").
		PlaceholderFormat(sq.Dollar).
		OrderBy("created_at DESC", "reference ASC").
		Limit(uint64(page.Limit)).
		Offset(uint64(page.Offset))

	switch scope {
	case ScopeFrom:
		q = q.Where(sq.Eq{"from_account": accountID})
	case ScopeTo:
		q = q.Where(sq.Eq{"to_account": accountID})
	default:
		q = q.Where(sq.Or{sq.Eq{"from_account": accountID}, sq.Eq{"to_account": accountID}})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build account query: %w", err)
	}
	return s.queryTransfers(ctx, sqlStr, args...)
}

func (s *PostgresStore) FindStuck(ctx context.Context, statuses []transfer.Status, olderThan time.Time) ([]*transfer.Transfer, error) {
	vals := make([]string, 0, len(statuses))
	for _, st := range statuses {
		vals = append(vals, string(st))
	}
	sqlStr, args, err := sq.Select(transferColumns).
		From("transfers").
		PlaceholderFormat(sq.Dollar).
		Where(sq.Eq{"status": vals}).
		Where(sq.Lt{"updated_at": olderThan}).
		OrderBy("updated_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stuck query: %w", err)
	}
	return s.queryTransfers(ctx, sqlStr, args...)
}

func (s *PostgresStore) queryTransfers(ctx context.Context, sqlStr string, args ...any) ([]*transfer.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*transfer.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*transfer.Transfer, error) {
	var (
		t             transfer.Transfer
		idemKey       sql.NullString
		transferType  string
		status        string
		debitTxID     sql.NullString
		creditTxID    sql.NullString
		failureReason sql.NullString
		completedAt   sql.NullTime
		amount        decimal.Decimal
	)
	err := row.Scan(
		&t.Reference,
		&idemKey,
		&t.FromAccount,
		&t.ToAccount,
		&amount,
		&t.Currency,
		&t.Description,
		&transferType,
		&status,
		&debitTxID,
		&creditTxID,
		&failureReason,
		&t.InitiatedAt,
		&completedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transfer: %w", err)
	}

	t.Amount = amount
	t.IdempotencyKey = idemKey.String
	t.DebitTxID = debitTxID.String
	t.CreditTxID = creditTxID.String
	t.FailureReason = failureReason.String
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	typ, err := transfer.ParseType(transferType)
	if err != nil {
		return nil, fmt.Errorf("scan transfer %s: %w", t.Reference, err)
	}
	st, err := transfer.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan transfer %s: %w", t.Reference, err)
	}
	t.Type = typ
	t.Status = st
	return &t, nil
}

// mapUniqueViolation translates Postgres 23505 errors into the store's
// duplicate sentinels so the orchestrator can tell a reference collision
// from an idempotency race.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return fmt.Errorf("insert transfer: %w", err)
	}
	if strings.Contains(pgErr.ConstraintName, "idempotency") {
		return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %s", ErrDuplicateReference, pgErr.ConstraintName)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v time.Time) sql.NullTime {
	return sql.NullTime{Time: v, Valid: !v.IsZero()}
}
