// Package repository provides database operations for statement imports,
// bank transactions and the potential duplicate queue.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoPendingJob is returned by ClaimNextJob when the queue is empty.
	ErrNoPendingJob = errors.New("no pending import job")
	// ErrJobNotClaimable is returned when a job is missing or already being processed.
	ErrJobNotClaimable = errors.New("import job not claimable")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
)

// JobStatus represents the lifecycle state of an import job
type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusProcessing  JobStatus = "PROCESSING"
	JobStatusVerified    JobStatus = "VERIFIED"
	JobStatusNeedsReview JobStatus = "NEEDS_REVIEW"
	JobStatusFailed      JobStatus = "FAILED"
)

// IsTerminal reports whether no further processing happens in this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusVerified || s == JobStatusNeedsReview || s == JobStatusFailed
}

// Format tags the source dialect of a statement import
type Format string

const (
	FormatCAMT053 Format = "CAMT053"
	FormatPDF     Format = "PDF"
)

// PageStatus is the audit outcome of one statement page
type PageStatus string

const (
	PageStatusVerified    PageStatus = "VERIFIED"
	PageStatusNeedsVision PageStatus = "NEEDS_VISION"
)

// Direction of money movement relative to the account owner
type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}

// MatchStatus of a bank transaction against invoices and ledger entries
type MatchStatus string

const (
	MatchStatusUnmatched MatchStatus = "UNMATCHED"
)

// DuplicateStatus of a potential duplicate pair
type DuplicateStatus string

const (
	DuplicateStatusPending  DuplicateStatus = "PENDING"
	DuplicateStatusResolved DuplicateStatus = "RESOLVED"
)

// Resolution chosen by a reviewer for a potential duplicate
type Resolution string

const (
	ResolutionKeepBoth  Resolution = "KEEP_BOTH"
	ResolutionMerge     Resolution = "MERGE"
	ResolutionDeleteNew Resolution = "DELETE_NEW"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r == ResolutionKeepBoth || r == ResolutionMerge || r == ResolutionDeleteNew
}

// Confidence scores attached to persisted transactions by extraction path.
const (
	ConfidenceStructured     = 1.0
	ConfidenceVisionRepaired = 0.95
	ConfidenceVerifiedAI     = 0.9
	ConfidenceUnverified     = 0.5
)

// ImportJob is one uploaded statement file waiting for or undergoing ingestion
type ImportJob struct {
	ID               uuid.UUID
	CompanyID        uuid.UUID
	BankAccountID    uuid.UUID
	OriginalFileName string
	StoragePath      string
	FileChecksum     string
	Status           JobStatus
	FailureReason    *string
	RequestedAt      time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// ContinuityGap records a page whose opening balance does not continue the
// previous page's closing balance.
type ContinuityGap struct {
	Page        int             `json:"page"`
	PreviousEnd decimal.Decimal `json:"previousEnd"`
	Start       decimal.Decimal `json:"start"`
}

// ImportMetadata is the free-form provenance stored with a statement import
type ImportMetadata struct {
	SequenceNumber       string          `json:"sequenceNumber,omitempty"`
	StatementDate        *time.Time      `json:"statementDate,omitempty"`
	PeriodStart          *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd            *time.Time      `json:"periodEnd,omitempty"`
	PageCount            int             `json:"pageCount"`
	VisionTriggered      bool            `json:"visionTriggered"`
	VisionRepairedPages  []int           `json:"visionRepairedPages,omitempty"`
	NeedsVisionPages     []int           `json:"needsVisionPages,omitempty"`
	TextPassFailedPages  []int           `json:"textPassFailedPages,omitempty"`
	ContinuityGaps       []ContinuityGap `json:"continuityGaps,omitempty"`
	AdditionalStatements int             `json:"additionalStatements,omitempty"`
	InsertedTransactions int             `json:"insertedTransactions"`
	SkippedDuplicates    int             `json:"skippedDuplicates"`
	FlaggedDuplicates    int             `json:"flaggedDuplicates"`
}

// StatementImport is the immutable provenance record of one ingestion run
type StatementImport struct {
	ID               uuid.UUID
	JobID            uuid.UUID
	BankAccountID    uuid.UUID
	FileName         string
	FileChecksum     string
	Format           Format
	TransactionCount int
	Metadata         ImportMetadata
	CreatedAt        time.Time
}

// Statement is one bank statement header
type Statement struct {
	ID                uuid.UUID
	StatementImportID uuid.UUID
	BankAccountID     uuid.UUID
	IBAN              string
	OwnerName         string
	Currency          string
	StatementDate     *time.Time
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	OpeningBalance    *decimal.Decimal
	ClosingBalance    *decimal.Decimal
	SequenceNumber    string
}

// StatementPage is one physical page of a statement
type StatementPage struct {
	ID                uuid.UUID
	StatementID       uuid.UUID
	PageNumber        int
	StartBalance      *decimal.Decimal
	EndBalance        *decimal.Decimal
	Status            PageStatus
	ReconciliationGap *decimal.Decimal
	VisionRepaired    bool
	RawText           string
}

// BankTransaction is one ledger line. Amount is a non-negative magnitude;
// the sign lives in Direction.
type BankTransaction struct {
	ID               uuid.UUID
	BankAccountID    uuid.UUID
	StatementID      *uuid.UUID
	PageNumber       int
	Date             time.Time
	ValueDate        *time.Time
	Description      string
	Amount           decimal.Decimal
	Direction        Direction
	Currency         string
	Reference        string
	CounterpartyName string
	CounterpartyIBAN string
	ExternalID       string
	MatchStatus      MatchStatus
	ConfidenceScore  float64
	CreatedAt        time.Time
}

// Signed returns the amount with incoming positive and outgoing negative.
func (t *BankTransaction) Signed() decimal.Decimal {
	if t.Direction == DirectionOutgoing {
		return t.Amount.Neg()
	}
	return t.Amount
}

// PotentialDuplicate is a reviewable pair. A is always the newer transaction.
type PotentialDuplicate struct {
	ID             uuid.UUID
	TransactionAID uuid.UUID
	TransactionBID uuid.UUID
	Similarity     float64
	Reason         string
	Status         DuplicateStatus
	Resolution     *Resolution
	ResolvedBy     *string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// DuplicatePair joins a pending duplicate with both of its transactions.
type DuplicatePair struct {
	Duplicate    PotentialDuplicate
	TransactionA BankTransaction
	TransactionB BankTransaction
}

// StatementBundle is everything extracted from one job, ready to persist.
type StatementBundle struct {
	Job          *ImportJob
	Format       Format
	Statement    Statement
	Pages        []StatementPage
	Transactions []BankTransaction
	Metadata     ImportMetadata
}

// PersistResult summarizes one PersistStatement call
type PersistResult struct {
	StatementImportID uuid.UUID
	StatementID       uuid.UUID
	Inserted          int
	Skipped           int
	Flagged           int
	Failed            int
	AlreadyImported   bool
}

// TransactionOutcome is what a TransactionHandler did with one transaction.
type TransactionOutcome struct {
	Inserted bool
	Flagged  int
}

// TransactionHandler writes one extracted transaction inside the persistence
// transaction. Returning an error rolls back only that transaction's savepoint.
type TransactionHandler func(ctx context.Context, q *Queries, txn *BankTransaction) (TransactionOutcome, error)

// ImportRepository defines the persistence operations of the import worker
type ImportRepository interface {
	// Job queue
	ClaimNextJob(ctx context.Context) (*ImportJob, error)
	ClaimJob(ctx context.Context, jobID uuid.UUID) (*ImportJob, error)
	FinishJob(ctx context.Context, jobID uuid.UUID, status JobStatus, failureReason *string) error
	StatementImportExistsForJob(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Statement persistence
	PersistStatement(ctx context.Context, bundle *StatementBundle, handle TransactionHandler) (*PersistResult, error)

	// Review
	GetStatementImportByJob(ctx context.Context, jobID uuid.UUID) (*StatementImport, error)
	ListPages(ctx context.Context, statementImportID uuid.UUID) ([]StatementPage, error)
	ListPendingDuplicates(ctx context.Context, bankAccountID uuid.UUID) ([]DuplicatePair, error)

	// RunInTx runs fn against a single database transaction.
	RunInTx(ctx context.Context, fn func(q *Queries) error) error
}
