package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresImportRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresImportRepository(mock), mock
}

// anyArgs matches n positional arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func jobRow(mock pgxmock.PgxPoolIface, job ImportJob) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "company_id", "bank_account_id", "original_file_name", "storage_path", "file_checksum",
		"status", "failure_reason", "requested_at", "started_at", "finished_at",
	}).AddRow(
		job.ID, job.CompanyID, job.BankAccountID, job.OriginalFileName, job.StoragePath, job.FileChecksum,
		string(job.Status), nil, job.RequestedAt, nil, nil,
	)
}

// ============================================================================
// Job queue
// ============================================================================

func TestClaimNextJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	job := ImportJob{
		ID:               uuid.New(),
		CompanyID:        uuid.New(),
		BankAccountID:    uuid.New(),
		OriginalFileName: "izvod_2024_03.xml",
		StoragePath:      "acme/izvod_2024_03.xml",
		FileChecksum:     "abc123",
		Status:           JobStatusProcessing,
		RequestedAt:      time.Now(),
	}

	mock.ExpectQuery(`UPDATE import_jobs`).
		WithArgs(JobStatusProcessing, JobStatusPending).
		WillReturnRows(jobRow(mock, job))

	got, err := repo.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, JobStatusProcessing, got.Status)
	assert.Equal(t, "izvod_2024_03.xml", got.OriginalFileName)
	assert.Nil(t, got.FailureReason)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextJob_UsesSkipLocked(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(JobStatusProcessing, JobStatusPending).
		WillReturnRows(mock.NewRows([]string{"id"}))

	_, err := repo.ClaimNextJob(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob_NotClaimable(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`UPDATE import_jobs`).
		WithArgs(id, JobStatusProcessing).
		WillReturnRows(mock.NewRows([]string{"id"}))

	_, err := repo.ClaimJob(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotClaimable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJob(t *testing.T) {
	t.Run("writes terminal status", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		reason := "camt: no statement element"

		mock.ExpectExec(`UPDATE import_jobs`).
			WithArgs(id, JobStatusFailed, &reason).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.FinishJob(context.Background(), id, JobStatusFailed, &reason))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		err := repo.FinishJob(context.Background(), uuid.New(), JobStatusProcessing, nil)
		assert.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()

		mock.ExpectExec(`UPDATE import_jobs`).
			WithArgs(id, JobStatusVerified, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.FinishJob(context.Background(), id, JobStatusVerified, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// ============================================================================
// PersistStatement
// ============================================================================

func sampleBundle() *StatementBundle {
	opening := decimal.RequireFromString("1000.00")
	closing := decimal.RequireFromString("1200.50")
	date := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	return &StatementBundle{
		Job: &ImportJob{
			ID:               uuid.New(),
			BankAccountID:    uuid.New(),
			OriginalFileName: "izvod.xml",
			FileChecksum:     "sum",
		},
		Format: FormatCAMT053,
		Statement: Statement{
			Currency:       "EUR",
			OpeningBalance: &opening,
			ClosingBalance: &closing,
		},
		Pages: []StatementPage{
			{PageNumber: 1, StartBalance: &opening, EndBalance: &closing, Status: PageStatusVerified},
		},
		Transactions: []BankTransaction{
			{Date: date, Amount: decimal.RequireFromString("250.50"), Direction: DirectionIncoming, Description: "Uplata"},
			{Date: date, Amount: decimal.RequireFromString("50.00"), Direction: DirectionOutgoing, Description: "Naknada"},
		},
	}
}

func TestPersistStatement_AlreadyImported(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBundle()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(b.Job.ID).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	res, err := repo.PersistStatement(context.Background(), b, nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyImported)
	assert.Zero(t, res.Inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistStatement_ConcurrentImportIsIdempotent(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBundle()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(b.Job.ID).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO statement_imports`).
		WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	res, err := repo.PersistStatement(context.Background(), b, nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyImported)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistStatement_WritesEverythingAndIsolatesFailures(t *testing.T) {
	repo, mock := newMockRepo(t)
	b := sampleBundle()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(b.Job.ID).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO statement_imports`).
		WithArgs(anyArgs(8)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec(`INSERT INTO statements`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), b.Job.BankAccountID, "", "", "EUR",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO statement_pages`).
		WithArgs(anyArgs(9)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// first transaction: savepoint, insert, release
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bank_transactions`).
		WithArgs(anyArgs(16)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	// second transaction: handler fails, savepoint rolled back
	mock.ExpectBegin()
	mock.ExpectRollback()

	mock.ExpectExec(`UPDATE statement_imports SET transaction_count`).
		WithArgs(pgxmock.AnyArg(), 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	calls := 0
	handler := func(ctx context.Context, q *Queries, txn *BankTransaction) (TransactionOutcome, error) {
		calls++
		assert.Equal(t, b.Job.BankAccountID, txn.BankAccountID)
		assert.NotNil(t, txn.StatementID)
		assert.Equal(t, "EUR", txn.Currency)
		if calls == 2 {
			return TransactionOutcome{}, errors.New("malformed candidate")
		}
		return InsertAll(ctx, q, txn)
	}

	res, err := repo.PersistStatement(context.Background(), b, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.NotEqual(t, uuid.Nil, res.StatementImportID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Transactions and duplicates
// ============================================================================

func TestInsertTransaction_StoresMinorUnits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	q := NewQueries(mock)

	txn := &BankTransaction{
		BankAccountID: uuid.New(),
		Date:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString("1234.56"),
		Direction:     DirectionOutgoing,
		Currency:      "EUR",
	}

	mock.ExpectQuery(`INSERT INTO bank_transactions`).
		WithArgs(pgxmock.AnyArg(), txn.BankAccountID, pgxmock.AnyArg(), 0, txn.Date, pgxmock.AnyArg(),
			"", int64(123456), DirectionOutgoing, "EUR", "", "", "", "", MatchStatusUnmatched, 0.0).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	require.NoError(t, q.InsertTransaction(context.Background(), txn))
	assert.NotEqual(t, uuid.Nil, txn.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransaction_RejectsSignedAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	err = NewQueries(mock).InsertTransaction(context.Background(), &BankTransaction{
		Amount:    decimal.RequireFromString("-5"),
		Direction: DirectionOutgoing,
		Currency:  "EUR",
	})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindStrictDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	q := NewQueries(mock)

	existing := uuid.New()
	txn := &BankTransaction{
		BankAccountID: uuid.New(),
		ExternalID:    "2024031500001",
		Date:          time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString("99.90"),
		Direction:     DirectionIncoming,
		Currency:      "EUR",
	}

	mock.ExpectQuery(`SELECT id FROM bank_transactions`).
		WithArgs(txn.BankAccountID, txn.ExternalID, txn.Date, int64(9990), "").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(existing))
	mock.ExpectQuery(`SELECT id FROM bank_transactions`).
		WithArgs(txn.BankAccountID, txn.ExternalID, txn.Date, int64(9990), "").
		WillReturnRows(mock.NewRows([]string{"id"}))

	id, found, err := q.FindStrictDuplicate(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, existing, id)

	_, found, err = q.FindStrictDuplicate(context.Background(), txn)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPotentialDuplicate_PairIsUnique(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	q := NewQueries(mock)

	d := &PotentialDuplicate{TransactionAID: uuid.New(), TransactionBID: uuid.New(), Similarity: 0.82, Reason: "r"}

	mock.ExpectQuery(`ON CONFLICT DO NOTHING`).
		WithArgs(anyArgs(6)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(`ON CONFLICT DO NOTHING`).
		WithArgs(anyArgs(6)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}))

	created, err := q.InsertPotentialDuplicate(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, created)

	again := &PotentialDuplicate{TransactionAID: d.TransactionBID, TransactionBID: d.TransactionAID, Similarity: 0.82, Reason: "r"}
	created, err = q.InsertPotentialDuplicate(context.Background(), again)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction_ConvertsMinorUnits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	stmt := uuid.New()
	mock.ExpectQuery(`FROM bank_transactions WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{
			"id", "bank_account_id", "statement_id", "page_number", "booking_date", "value_date",
			"description", "amount_minor", "direction", "currency", "reference", "counterparty_name",
			"counterparty_iban", "external_id", "match_status", "confidence_score", "created_at",
		}).AddRow(
			id, uuid.New(), &stmt, 2, time.Now(), nil,
			"ACME D.O.O.", int64(120050), "INCOMING", "EUR", "HR00 123", "ACME",
			"HR1210010051863000160", "", "UNMATCHED", 0.9, time.Now(),
		))

	txn, err := NewQueries(mock).GetTransaction(context.Background(), id, true)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1200.50").Equal(txn.Amount))
	assert.Equal(t, DirectionIncoming, txn.Direction)
	assert.Equal(t, 2, txn.PageNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}
