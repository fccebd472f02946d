package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool Pool
	*Queries
}

// NewPostgresImportRepository creates a new PostgreSQL import repository
func NewPostgresImportRepository(pool Pool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool, Queries: NewQueries(pool)}
}

const jobColumns = `id, company_id, bank_account_id, original_file_name, storage_path, file_checksum,
	status, failure_reason, requested_at, started_at, finished_at`

// ClaimNextJob atomically moves the oldest PENDING job to PROCESSING.
// Concurrent workers never receive the same job.
func (r *PostgresImportRepository) ClaimNextJob(ctx context.Context) (*ImportJob, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `
		UPDATE import_jobs
		SET status = $1, started_at = NOW(), finished_at = NULL, failure_reason = NULL
		WHERE id = (
			SELECT id FROM import_jobs
			WHERE status = $2
			ORDER BY requested_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		JobStatusProcessing, JobStatusPending,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPendingJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim import job: %w", err)
	}
	return job, nil
}

// ClaimJob moves a specific job to PROCESSING. Jobs already in PROCESSING are
// owned by another worker and yield ErrJobNotClaimable; terminal jobs may be
// reclaimed, which the idempotency guard turns into a no-op.
func (r *PostgresImportRepository) ClaimJob(ctx context.Context, jobID uuid.UUID) (*ImportJob, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `
		UPDATE import_jobs
		SET status = $2, started_at = NOW(), finished_at = NULL, failure_reason = NULL
		WHERE id = $1 AND status <> $2
		RETURNING `+jobColumns,
		jobID, JobStatusProcessing,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim import job %s: %w", jobID, err)
	}
	return job, nil
}

// FinishJob writes the terminal status of a job.
func (r *PostgresImportRepository) FinishJob(ctx context.Context, jobID uuid.UUID, status JobStatus, failureReason *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2, failure_reason = $3, finished_at = NOW()
		WHERE id = $1`,
		jobID, status, failureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PersistStatement writes the import, statement, pages and transactions in one
// database transaction. Each transaction goes through handle inside its own
// savepoint so a failing line is counted and skipped without aborting the batch.
func (r *PostgresImportRepository) PersistStatement(ctx context.Context, b *StatementBundle, handle TransactionHandler) (*PersistResult, error) {
	if b == nil || b.Job == nil {
		return nil, errors.New("statement bundle requires a job")
	}
	if handle == nil {
		handle = InsertAll
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	rollback := func() { _ = tx.Rollback(ctx) }

	q := NewQueries(tx)

	exists, err := q.StatementImportExistsForJob(ctx, b.Job.ID)
	if err != nil {
		rollback()
		return nil, err
	}
	if exists {
		rollback()
		return &PersistResult{AlreadyImported: true}, nil
	}

	si := &StatementImport{
		JobID:         b.Job.ID,
		BankAccountID: b.Job.BankAccountID,
		FileName:      b.Job.OriginalFileName,
		FileChecksum:  b.Job.FileChecksum,
		Format:        b.Format,
		Metadata:      b.Metadata,
	}
	if err := q.InsertStatementImport(ctx, si); err != nil {
		rollback()
		if isUniqueViolation(err) {
			return &PersistResult{AlreadyImported: true}, nil
		}
		return nil, err
	}

	st := b.Statement
	st.StatementImportID = si.ID
	st.BankAccountID = b.Job.BankAccountID
	if err := q.InsertStatement(ctx, &st); err != nil {
		rollback()
		return nil, err
	}

	pages := make([]StatementPage, len(b.Pages))
	copy(pages, b.Pages)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	for i := range pages {
		pages[i].StatementID = st.ID
		if err := q.InsertPage(ctx, &pages[i], st.Currency); err != nil {
			rollback()
			return nil, err
		}
	}

	result := &PersistResult{StatementImportID: si.ID, StatementID: st.ID}
	for i := range b.Transactions {
		txn := b.Transactions[i]
		txn.BankAccountID = b.Job.BankAccountID
		txn.StatementID = &st.ID
		if txn.Currency == "" {
			txn.Currency = st.Currency
		}

		outcome, err := r.handleInSavepoint(ctx, tx, handle, &txn)
		switch {
		case err != nil:
			result.Failed++
			result.Skipped++
		case outcome.Inserted:
			result.Inserted++
			result.Flagged += outcome.Flagged
		default:
			result.Skipped++
		}
	}

	meta := b.Metadata
	meta.PageCount = len(pages)
	meta.InsertedTransactions = result.Inserted
	meta.SkippedDuplicates = result.Skipped
	meta.FlaggedDuplicates = result.Flagged
	if err := q.FinalizeStatementImport(ctx, si.ID, result.Inserted, meta); err != nil {
		rollback()
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit statement: %w", err)
	}
	return result, nil
}

func (r *PostgresImportRepository) handleInSavepoint(ctx context.Context, tx pgx.Tx, handle TransactionHandler, txn *BankTransaction) (TransactionOutcome, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("failed to open savepoint: %w", err)
	}

	outcome, err := handle(ctx, NewQueries(sp), txn)
	if err != nil {
		_ = sp.Rollback(ctx)
		return TransactionOutcome{}, err
	}
	if err := sp.Commit(ctx); err != nil {
		return TransactionOutcome{}, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return outcome, nil
}

// InsertAll is the TransactionHandler used when no deduplication is wired.
func InsertAll(ctx context.Context, q *Queries, txn *BankTransaction) (TransactionOutcome, error) {
	if err := q.InsertTransaction(ctx, txn); err != nil {
		return TransactionOutcome{}, err
	}
	return TransactionOutcome{Inserted: true}, nil
}

// RunInTx runs fn inside a transaction, committing when fn returns nil.
func (r *PostgresImportRepository) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(NewQueries(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetStatementImportByJob returns the import produced by a job.
func (r *PostgresImportRepository) GetStatementImportByJob(ctx context.Context, jobID uuid.UUID) (*StatementImport, error) {
	si := &StatementImport{}
	var meta []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, bank_account_id, file_name, file_checksum, format, transaction_count, metadata, created_at
		FROM statement_imports
		WHERE job_id = $1`, jobID,
	).Scan(&si.ID, &si.JobID, &si.BankAccountID, &si.FileName, &si.FileChecksum, &si.Format,
		&si.TransactionCount, &meta, &si.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get statement import: %w", err)
	}
	if err := decodeMetadata(meta, &si.Metadata); err != nil {
		return nil, err
	}
	return si, nil
}

// ListPages returns the pages of an import in ascending order.
func (r *PostgresImportRepository) ListPages(ctx context.Context, statementImportID uuid.UUID) ([]StatementPage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.statement_id, p.page_number, p.start_minor, p.end_minor, p.status,
			p.reconciliation_gap_minor, p.vision_repaired, p.raw_text, s.currency
		FROM statement_pages p
		JOIN statements s ON s.id = p.statement_id
		WHERE s.statement_import_id = $1
		ORDER BY p.page_number`, statementImportID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []StatementPage
	for rows.Next() {
		var (
			p               StatementPage
			start, end, gap *int64
			currency        string
		)
		if err := rows.Scan(&p.ID, &p.StatementID, &p.PageNumber, &start, &end, &p.Status,
			&gap, &p.VisionRepaired, &p.RawText, &currency); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.StartBalance = decimalPtr(start, currency)
		p.EndBalance = decimalPtr(end, currency)
		p.ReconciliationGap = decimalPtr(gap, currency)
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pages: %w", err)
	}
	return pages, nil
}

// ListPendingDuplicates returns unresolved pairs on an account, newest first.
func (r *PostgresImportRepository) ListPendingDuplicates(ctx context.Context, bankAccountID uuid.UUID) ([]DuplicatePair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.transaction_a_id, d.transaction_b_id, d.similarity, d.reason, d.status, d.created_at
		FROM potential_duplicates d
		JOIN bank_transactions a ON a.id = d.transaction_a_id
		WHERE d.status = $1 AND a.bank_account_id = $2
		ORDER BY d.created_at DESC`,
		DuplicateStatusPending, bankAccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list potential duplicates: %w", err)
	}

	var dups []PotentialDuplicate
	for rows.Next() {
		var d PotentialDuplicate
		if err := rows.Scan(&d.ID, &d.TransactionAID, &d.TransactionBID, &d.Similarity, &d.Reason, &d.Status, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan potential duplicate: %w", err)
		}
		dups = append(dups, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate potential duplicates: %w", err)
	}

	pairs := make([]DuplicatePair, 0, len(dups))
	for _, d := range dups {
		a, err := r.GetTransaction(ctx, d.TransactionAID, false)
		if err != nil {
			return nil, err
		}
		b, err := r.GetTransaction(ctx, d.TransactionBID, false)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, DuplicatePair{Duplicate: d, TransactionA: *a, TransactionB: *b})
	}
	return pairs, nil
}

func scanJob(row pgx.Row) (*ImportJob, error) {
	job := &ImportJob{}
	err := row.Scan(
		&job.ID, &job.CompanyID, &job.BankAccountID, &job.OriginalFileName, &job.StoragePath,
		&job.FileChecksum, &job.Status, &job.FailureReason, &job.RequestedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
