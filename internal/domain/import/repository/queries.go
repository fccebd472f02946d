package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/fiskal-ledger/pkg/money"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs statement import SQL against a pool or an open transaction.
type Queries struct {
	db DBTX
}

// NewQueries binds queries to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const transactionColumns = `id, bank_account_id, statement_id, page_number, booking_date, value_date,
	description, amount_minor, direction, currency, reference, counterparty_name,
	counterparty_iban, external_id, match_status, confidence_score, created_at`

// ============================================================================
// Statement import
// ============================================================================

// StatementImportExistsForJob reports whether the job already produced an import.
func (q *Queries) StatementImportExistsForJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM statement_imports WHERE job_id = $1)`, jobID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check statement import: %w", err)
	}
	return exists, nil
}

// InsertStatementImport creates the provenance row. The transaction count and
// final metadata are written later by FinalizeStatementImport.
func (q *Queries) InsertStatementImport(ctx context.Context, si *StatementImport) error {
	if si.ID == uuid.Nil {
		si.ID = uuid.New()
	}

	meta, err := json.Marshal(si.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode import metadata: %w", err)
	}

	err = q.db.QueryRow(ctx, `
		INSERT INTO statement_imports (id, job_id, bank_account_id, file_name, file_checksum, format, transaction_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		si.ID, si.JobID, si.BankAccountID, si.FileName, si.FileChecksum, si.Format, si.TransactionCount, meta,
	).Scan(&si.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert statement import: %w", err)
	}
	return nil
}

// FinalizeStatementImport writes the transaction count and metadata once.
func (q *Queries) FinalizeStatementImport(ctx context.Context, id uuid.UUID, count int, meta ImportMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode import metadata: %w", err)
	}

	tag, err := q.db.Exec(ctx,
		`UPDATE statement_imports SET transaction_count = $2, metadata = $3 WHERE id = $1`,
		id, count, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize statement import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertStatement creates the statement header.
func (q *Queries) InsertStatement(ctx context.Context, st *Statement) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}

	_, err := q.db.Exec(ctx, `
		INSERT INTO statements (id, statement_import_id, bank_account_id, iban, owner_name, currency,
			statement_date, period_start, period_end, opening_minor, closing_minor, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		st.ID, st.StatementImportID, st.BankAccountID, st.IBAN, st.OwnerName, st.Currency,
		st.StatementDate, st.PeriodStart, st.PeriodEnd,
		minorPtr(st.OpeningBalance, st.Currency), minorPtr(st.ClosingBalance, st.Currency),
		st.SequenceNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to insert statement: %w", err)
	}
	return nil
}

// InsertPage creates one statement page.
func (q *Queries) InsertPage(ctx context.Context, p *StatementPage, currency string) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	_, err := q.db.Exec(ctx, `
		INSERT INTO statement_pages (id, statement_id, page_number, start_minor, end_minor, status,
			reconciliation_gap_minor, vision_repaired, raw_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.StatementID, p.PageNumber,
		minorPtr(p.StartBalance, currency), minorPtr(p.EndBalance, currency),
		p.Status, minorPtr(p.ReconciliationGap, currency), p.VisionRepaired, p.RawText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert page %d: %w", p.PageNumber, err)
	}
	return nil
}

// ============================================================================
// Transactions
// ============================================================================

// FindStrictDuplicate looks for an existing transaction on the same account
// with the same external id, or the same date, exact amount and reference.
// An empty reference is a valid key value.
func (q *Queries) FindStrictDuplicate(ctx context.Context, t *BankTransaction) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `
		SELECT id FROM bank_transactions
		WHERE bank_account_id = $1
		  AND (
		    ($2 <> '' AND external_id = $2)
		    OR (booking_date = $3 AND amount_minor = $4 AND reference = $5)
		  )
		ORDER BY created_at
		LIMIT 1`,
		t.BankAccountID, t.ExternalID, t.Date, money.ToMinor(t.Amount, t.Currency), t.Reference,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to check strict duplicate: %w", err)
	}
	return id, true, nil
}

// InsertTransaction writes one bank transaction.
func (q *Queries) InsertTransaction(ctx context.Context, t *BankTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.MatchStatus == "" {
		t.MatchStatus = MatchStatusUnmatched
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction amount must be a non-negative magnitude, got %s", t.Amount)
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("invalid transaction direction %q", t.Direction)
	}

	err := q.db.QueryRow(ctx, `
		INSERT INTO bank_transactions (id, bank_account_id, statement_id, page_number, booking_date, value_date,
			description, amount_minor, direction, currency, reference, counterparty_name,
			counterparty_iban, external_id, match_status, confidence_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at`,
		t.ID, t.BankAccountID, t.StatementID, t.PageNumber, t.Date, t.ValueDate,
		t.Description, money.ToMinor(t.Amount, t.Currency), t.Direction, t.Currency, t.Reference,
		t.CounterpartyName, t.CounterpartyIBAN, t.ExternalID, t.MatchStatus, t.ConfidenceScore,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindFuzzyCandidates returns transactions on the account within
// windowDays of t's date and within tolerance of its amount, excluding t.
func (q *Queries) FindFuzzyCandidates(ctx context.Context, t *BankTransaction, windowDays int, tolerance decimal.Decimal) ([]BankTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM bank_transactions
		WHERE bank_account_id = $1
		  AND id <> $2
		  AND booking_date BETWEEN $3::date - $4::int AND $3::date + $4::int
		  AND ABS(amount_minor - $5) <= $6
		ORDER BY booking_date, created_at`,
		t.BankAccountID, t.ID, t.Date, windowDays,
		money.ToMinor(t.Amount, t.Currency), money.ToMinor(tolerance, t.Currency),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fuzzy candidates: %w", err)
	}
	defer rows.Close()

	var out []BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fuzzy candidates: %w", err)
	}
	return out, nil
}

// GetTransaction loads one transaction, locking it when forUpdate is set.
func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID, forUpdate bool) (*BankTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM bank_transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	t, err := scanTransaction(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTransactionMetadata overwrites the reference and counterparty fields.
func (q *Queries) UpdateTransactionMetadata(ctx context.Context, t *BankTransaction) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE bank_transactions
		SET reference = $2, counterparty_name = $3, counterparty_iban = $4, external_id = $5
		WHERE id = $1`,
		t.ID, t.Reference, t.CounterpartyName, t.CounterpartyIBAN, t.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTransaction removes a transaction.
func (q *Queries) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM bank_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// Potential duplicates
// ============================================================================

// InsertPotentialDuplicate records a pair unless the unordered pair already
// exists. It reports whether a row was created.
func (q *Queries) InsertPotentialDuplicate(ctx context.Context, d *PotentialDuplicate) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DuplicateStatusPending
	}

	err := q.db.QueryRow(ctx, `
		INSERT INTO potential_duplicates (id, transaction_a_id, transaction_b_id, similarity, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING created_at`,
		d.ID, d.TransactionAID, d.TransactionBID, d.Similarity, d.Reason, d.Status,
	).Scan(&d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert potential duplicate: %w", err)
	}
	return true, nil
}

// GetPotentialDuplicateForUpdate loads and locks a duplicate pair.
func (q *Queries) GetPotentialDuplicateForUpdate(ctx context.Context, id uuid.UUID) (*PotentialDuplicate, error) {
	d := &PotentialDuplicate{}
	err := q.db.QueryRow(ctx, `
		SELECT id, transaction_a_id, transaction_b_id, similarity, reason, status, resolution, resolved_by, resolved_at, created_at
		FROM potential_duplicates
		WHERE id = $1
		FOR UPDATE`, id,
	).Scan(
		&d.ID, &d.TransactionAID, &d.TransactionBID, &d.Similarity, &d.Reason, &d.Status,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get potential duplicate: %w", err)
	}
	return d, nil
}

// MarkDuplicateResolved settles a pending pair.
func (q *Queries) MarkDuplicateResolved(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE potential_duplicates
		SET status = $2, resolution = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $1 AND status = $6`,
		id, DuplicateStatusResolved, resolution, resolvedBy, at, DuplicateStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve potential duplicate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DropPendingPairsFor removes other pending pairs that reference a deleted
// transaction, since they can no longer be reviewed.
func (q *Queries) DropPendingPairsFor(ctx context.Context, transactionID, keep uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM potential_duplicates
		WHERE status = $1 AND id <> $2 AND (transaction_a_id = $3 OR transaction_b_id = $3)`,
		DuplicateStatusPending, keep, transactionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to drop orphaned duplicate pairs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Helpers
// ============================================================================

func scanTransaction(row pgx.Row) (*BankTransaction, error) {
	t := &BankTransaction{}
	var amountMinor int64
	err := row.Scan(
		&t.ID, &t.BankAccountID, &t.StatementID, &t.PageNumber, &t.Date, &t.ValueDate,
		&t.Description, &amountMinor, &t.Direction, &t.Currency, &t.Reference, &t.CounterpartyName,
		&t.CounterpartyIBAN, &t.ExternalID, &t.MatchStatus, &t.ConfidenceScore, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.Amount = money.FromMinor(amountMinor, t.Currency)
	return t, nil
}

func minorPtr(d *decimal.Decimal, currency string) *int64 {
	if d == nil {
		return nil
	}
	v := money.ToMinor(*d, currency)
	return &v
}

func decimalPtr(minor *int64, currency string) *decimal.Decimal {
	if minor == nil {
		return nil
	}
	d := money.FromMinor(*minor, currency)
	return &d
}

func decodeMetadata(raw []byte, meta *ImportMetadata) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, meta); err != nil {
		return fmt.Errorf("failed to decode import metadata: %w", err)
	}
	return nil
}
