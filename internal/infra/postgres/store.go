// Package postgres implements the transaction and settlement stores on
// PostgreSQL, selected when POSTGRES_DSN is set. The driver is pgx via
// database/sql.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nkhatri/upi-switch/internal/domain"

	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"
)

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	logger.Info("postgres store ready")
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			transaction_id   TEXT PRIMARY KEY,
			rrn              TEXT UNIQUE,
			payer_vpa        TEXT NOT NULL,
			payee_vpa        TEXT NOT NULL,
			payer_bank_code  TEXT,
			payee_bank_code  TEXT,
			payer_account    TEXT,
			payee_account    TEXT,
			amount_paisa     BIGINT NOT NULL,
			currency         TEXT NOT NULL,
			txn_type         TEXT NOT NULL,
			status           TEXT NOT NULL,
			reference        TEXT,
			description      TEXT,
			payer_bank_ref   TEXT,
			payee_bank_ref   TEXT,
			switch_fee_paisa BIGINT NOT NULL DEFAULT 0,
			bank_fee_paisa   BIGINT NOT NULL DEFAULT 0,
			total_fee_paisa  BIGINT NOT NULL DEFAULT 0,
			settlement_id    TEXT NOT NULL DEFAULT '',
			error_code       TEXT,
			error_message    TEXT,
			reversal_of      TEXT,
			reversed_by      TEXT,
			events           JSONB NOT NULL DEFAULT '[]',
			initiated_at     TIMESTAMPTZ NOT NULL,
			processed_at     TIMESTAMPTZ,
			expires_at       TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_settlement
			ON transactions (status, settlement_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_vpa
			ON transactions (payer_vpa, payee_vpa)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			batch_id     TEXT PRIMARY KEY,
			bank_codes   JSONB NOT NULL,
			date         TEXT NOT NULL,
			status       TEXT NOT NULL,
			entries      JSONB NOT NULL DEFAULT '[]',
			created_at   TIMESTAMPTZ NOT NULL,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// TransactionStore is the Postgres implementation of
// port.TransactionStore.
type TransactionStore struct {
	db *sql.DB
}

// NewTransactionStore wraps db as a transaction store.
func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

const txnColumns = `transaction_id, rrn, payer_vpa, payee_vpa, payer_bank_code, payee_bank_code,
	payer_account, payee_account, amount_paisa, currency, txn_type, status, reference, description,
	payer_bank_ref, payee_bank_ref, switch_fee_paisa, bank_fee_paisa, total_fee_paisa,
	settlement_id, error_code, error_message, reversal_of, reversed_by, events,
	initiated_at, processed_at, expires_at`

func (s *TransactionStore) Create(ctx context.Context, txn *domain.Transaction) error {
	events, err := json.Marshal(txn.Events)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
		txn.TransactionID, nullable(txn.RRN), txn.PayerVPA, txn.PayeeVPA,
		nullable(txn.PayerBankCode), nullable(txn.PayeeBankCode),
		nullable(txn.PayerAccountNumber), nullable(txn.PayeeAccountNumber),
		txn.AmountPaisa, txn.Currency, string(txn.Type), string(txn.Status),
		nullable(txn.Reference), nullable(txn.Description),
		nullable(txn.PayerBankRef), nullable(txn.PayeeBankRef),
		txn.SwitchFeePaisa, txn.BankFeePaisa, txn.TotalFeePaisa,
		txn.SettlementID, nullable(txn.ErrorCode), nullable(txn.ErrorMessage),
		nullable(txn.ReversalOf), nullable(txn.ReversedBy), events,
		txn.InitiatedAt, txn.ProcessedAt, txn.ExpiresAt,
	)
	return err
}

func (s *TransactionStore) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE transaction_id = $1`, transactionID)
	return scanTxn(row, transactionID)
}

func (s *TransactionStore) GetByRRN(ctx context.Context, rrn string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE rrn = $1`, rrn)
	return scanTxn(row, rrn)
}

func (s *TransactionStore) Update(ctx context.Context, txn *domain.Transaction) error {
	events, err := json.Marshal(txn.Events)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET
		rrn=$2, payer_bank_code=$3, payee_bank_code=$4, payer_account=$5, payee_account=$6,
		status=$7, payer_bank_ref=$8, payee_bank_ref=$9,
		switch_fee_paisa=$10, bank_fee_paisa=$11, total_fee_paisa=$12,
		settlement_id=$13, error_code=$14, error_message=$15,
		reversal_of=$16, reversed_by=$17, events=$18, processed_at=$19
		WHERE transaction_id=$1`,
		txn.TransactionID, nullable(txn.RRN),
		nullable(txn.PayerBankCode), nullable(txn.PayeeBankCode),
		nullable(txn.PayerAccountNumber), nullable(txn.PayeeAccountNumber),
		string(txn.Status), nullable(txn.PayerBankRef), nullable(txn.PayeeBankRef),
		txn.SwitchFeePaisa, txn.BankFeePaisa, txn.TotalFeePaisa,
		txn.SettlementID, nullable(txn.ErrorCode), nullable(txn.ErrorMessage),
		nullable(txn.ReversalOf), nullable(txn.ReversedBy), events, txn.ProcessedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "transaction", ID: txn.TransactionID}
	}
	return nil
}

func (s *TransactionStore) ListByVPA(ctx context.Context, vpa string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM transactions
		 WHERE payer_vpa = $1 OR payee_vpa = $1
		 ORDER BY initiated_at DESC LIMIT $2`, vpa, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := scanTxn(rows, vpa)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

// ClaimForSettlement stamps the batch id in a single UPDATE, so two
// concurrent batches can never claim the same row, then reads back
// everything carrying the id (including rows claimed by an earlier
// attempt of the same batch).
func (s *TransactionStore) ClaimForSettlement(ctx context.Context, batchID string, bankCodes []string) ([]domain.Transaction, error) {
	codes, err := json.Marshal(bankCodes)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE transactions SET settlement_id = $1
		WHERE status = 'SUCCESS' AND settlement_id = ''
		  AND (payer_bank_code IN (SELECT jsonb_array_elements_text($2::jsonb))
		    OR payee_bank_code IN (SELECT jsonb_array_elements_text($2::jsonb)))`,
		batchID, codes)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE settlement_id = $1`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := scanTxn(rows, batchID)
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTxn(row rowScanner, id string) (*domain.Transaction, error) {
	var txn domain.Transaction
	var rrn, payerBank, payeeBank, payerAcct, payeeAcct sql.NullString
	var reference, description, payerRef, payeeRef sql.NullString
	var errCode, errMsg, reversalOf, reversedBy sql.NullString
	var txnType, status string
	var events []byte

	err := row.Scan(
		&txn.TransactionID, &rrn, &txn.PayerVPA, &txn.PayeeVPA, &payerBank, &payeeBank,
		&payerAcct, &payeeAcct, &txn.AmountPaisa, &txn.Currency, &txnType, &status,
		&reference, &description, &payerRef, &payeeRef,
		&txn.SwitchFeePaisa, &txn.BankFeePaisa, &txn.TotalFeePaisa,
		&txn.SettlementID, &errCode, &errMsg, &reversalOf, &reversedBy, &events,
		&txn.InitiatedAt, &txn.ProcessedAt, &txn.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	if err != nil {
		return nil, err
	}

	txn.RRN = rrn.String
	txn.PayerBankCode = payerBank.String
	txn.PayeeBankCode = payeeBank.String
	txn.PayerAccountNumber = payerAcct.String
	txn.PayeeAccountNumber = payeeAcct.String
	txn.Reference = reference.String
	txn.Description = description.String
	txn.PayerBankRef = payerRef.String
	txn.PayeeBankRef = payeeRef.String
	txn.ErrorCode = errCode.String
	txn.ErrorMessage = errMsg.String
	txn.ReversalOf = reversalOf.String
	txn.ReversedBy = reversedBy.String
	txn.Type = domain.TransactionType(txnType)
	txn.Status = domain.TransactionStatus(status)
	if len(events) > 0 {
		if err := json.Unmarshal(events, &txn.Events); err != nil {
			return nil, err
		}
	}
	return &txn, nil
}

// SettlementStore is the Postgres implementation of
// port.SettlementStore.
type SettlementStore struct {
	db *sql.DB
}

// NewSettlementStore wraps db as a settlement store.
func NewSettlementStore(db *sql.DB) *SettlementStore {
	return &SettlementStore{db: db}
}

func (s *SettlementStore) CreateBatch(ctx context.Context, batch *domain.Settlement) error {
	codes, err := json.Marshal(batch.BankCodes)
	if err != nil {
		return err
	}
	entries, err := json.Marshal(batch.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO settlements
		(batch_id, bank_codes, date, status, entries, created_at, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		batch.BatchID, codes, batch.Date, string(batch.Status), entries,
		batch.CreatedAt, batch.StartedAt, batch.CompletedAt,
	)
	return err
}

func (s *SettlementStore) GetBatch(ctx context.Context, batchID string) (*domain.Settlement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT batch_id, bank_codes, date, status, entries,
		created_at, started_at, completed_at FROM settlements WHERE batch_id = $1`, batchID)
	return scanSettlement(row, batchID)
}

func (s *SettlementStore) UpdateBatch(ctx context.Context, batch *domain.Settlement) error {
	entries, err := json.Marshal(batch.Entries)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE settlements SET status=$2, entries=$3, started_at=$4, completed_at=$5
		WHERE batch_id=$1`,
		batch.BatchID, string(batch.Status), entries, batch.StartedAt, batch.CompletedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "settlement", ID: batch.BatchID}
	}
	return nil
}

func (s *SettlementStore) ListCompleted(ctx context.Context, fromDate, toDate string) ([]domain.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id, bank_codes, date, status, entries,
		created_at, started_at, completed_at FROM settlements
		WHERE status = 'COMPLETED' AND ($1 = '' OR date >= $1) AND ($2 = '' OR date <= $2)
		ORDER BY date`, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		batch, err := scanSettlement(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *batch)
	}
	return out, rows.Err()
}

func scanSettlement(row rowScanner, id string) (*domain.Settlement, error) {
	var batch domain.Settlement
	var status string
	var codes, entries []byte

	err := row.Scan(&batch.BatchID, &codes, &batch.Date, &status, &entries,
		&batch.CreatedAt, &batch.StartedAt, &batch.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Resource: "settlement", ID: id}
	}
	if err != nil {
		return nil, err
	}

	batch.Status = domain.SettlementStatus(status)
	if err := json.Unmarshal(codes, &batch.BankCodes); err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &batch.Entries); err != nil {
			return nil, err
		}
	}
	return &batch, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
