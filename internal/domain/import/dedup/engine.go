// Package dedup implements the two-tier bank transaction deduplication engine
// and the reviewer workflow for the potential duplicate queue.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/fiskal-ledger/pkg/metrics"
)

var (
	// ErrAlreadyResolved is returned when resolving a pair that is already settled.
	ErrAlreadyResolved = errors.New("potential duplicate already resolved")
	// ErrInvalidResolution is returned for an unknown resolution value.
	ErrInvalidResolution = errors.New("invalid duplicate resolution")
	// ErrInvalidCandidate is returned for a transaction that cannot be deduplicated.
	ErrInvalidCandidate = errors.New("invalid transaction candidate")
)

// Config holds the fuzzy tier thresholds.
type Config struct {
	DateWindowDays      int
	AmountTolerance     decimal.Decimal
	SimilarityThreshold float64
}

// DefaultConfig returns ±2 days, ±0.01 and a similarity above 0.7.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:      2,
		AmountTolerance:     decimal.New(1, -2),
		SimilarityThreshold: 0.7,
	}
}

// Store is the transaction-scoped persistence the engine needs.
// *repository.Queries satisfies it.
type Store interface {
	FindStrictDuplicate(ctx context.Context, t *repository.BankTransaction) (uuid.UUID, bool, error)
	InsertTransaction(ctx context.Context, t *repository.BankTransaction) error
	FindFuzzyCandidates(ctx context.Context, t *repository.BankTransaction, windowDays int, tolerance decimal.Decimal) ([]repository.BankTransaction, error)
	InsertPotentialDuplicate(ctx context.Context, d *repository.PotentialDuplicate) (bool, error)
}

// Outcome of processing one candidate.
type Outcome struct {
	Skipped     bool
	DuplicateOf uuid.UUID
	Flagged     []repository.PotentialDuplicate
}

// Engine runs the strict and fuzzy tiers.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewEngine creates a dedup engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.DateWindowDays <= 0 {
		cfg.DateWindowDays = DefaultConfig().DateWindowDays
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	if cfg.AmountTolerance.IsNegative() {
		cfg.AmountTolerance = DefaultConfig().AmountTolerance
	}
	return &Engine{cfg: cfg, logger: logger, metrics: metrics.Noop{}}
}

// WithMetrics sets the metrics recorder.
func (e *Engine) WithMetrics(m metrics.Recorder) *Engine {
	e.metrics = m
	return e
}

// Handle adapts the engine to repository.TransactionHandler.
func (e *Engine) Handle(ctx context.Context, q *repository.Queries, txn *repository.BankTransaction) (repository.TransactionOutcome, error) {
	out, err := e.Process(ctx, q, txn)
	if err != nil {
		e.metrics.DedupOutcome("error")
		e.logger.Warn("dedup failed for transaction, skipping",
			slog.String("bank_account_id", txn.BankAccountID.String()),
			slog.Any("error", err),
		)
		return repository.TransactionOutcome{}, err
	}
	if out.Skipped {
		return repository.TransactionOutcome{}, nil
	}
	return repository.TransactionOutcome{Inserted: true, Flagged: len(out.Flagged)}, nil
}

// Process skips strict duplicates, inserts everything else, then flags fuzzy
// look-alikes. Fuzzy matches are never resolved automatically.
func (e *Engine) Process(ctx context.Context, store Store, txn *repository.BankTransaction) (*Outcome, error) {
	if err := validate(txn); err != nil {
		return nil, err
	}

	existing, found, err := store.FindStrictDuplicate(ctx, txn)
	if err != nil {
		return nil, err
	}
	if found {
		e.metrics.DedupOutcome("skipped")
		e.logger.Debug("strict duplicate skipped",
			slog.String("duplicate_of", existing.String()),
			slog.String("external_id", txn.ExternalID),
		)
		return &Outcome{Skipped: true, DuplicateOf: existing}, nil
	}

	if err := store.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	e.metrics.DedupOutcome("inserted")

	candidates, err := store.FindFuzzyCandidates(ctx, txn, e.cfg.DateWindowDays, e.cfg.AmountTolerance)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	for i := range candidates {
		c := &candidates[i]
		if c.ID == txn.ID || !e.withinWindow(txn, c) {
			continue
		}

		score := Similarity(txn.Description, c.Description)
		if score <= e.cfg.SimilarityThreshold {
			continue
		}

		dup := repository.PotentialDuplicate{
			TransactionAID: txn.ID,
			TransactionBID: c.ID,
			Similarity:     math.Round(score*10000) / 10000,
			Reason:         Reason(score, daysApart(txn.Date, c.Date)),
			Status:         repository.DuplicateStatusPending,
		}
		created, err := store.InsertPotentialDuplicate(ctx, &dup)
		if err != nil {
			return nil, err
		}
		if created {
			e.metrics.DedupOutcome("flagged")
			out.Flagged = append(out.Flagged, dup)
		}
	}
	return out, nil
}

// withinWindow re-checks the store's date and amount filter so a loose
// store cannot widen the fuzzy tier.
func (e *Engine) withinWindow(txn, c *repository.BankTransaction) bool {
	if daysApart(txn.Date, c.Date) > e.cfg.DateWindowDays {
		return false
	}
	return txn.Amount.Sub(c.Amount).Abs().LessThanOrEqual(e.cfg.AmountTolerance)
}

// Reason renders the reviewer-facing explanation of a fuzzy match.
func Reason(score float64, days int) string {
	return fmt.Sprintf("Description similarity %d%%, %d day(s) apart", int(math.Round(score*100)), days)
}

func daysApart(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func validate(txn *repository.BankTransaction) error {
	switch {
	case txn == nil:
		return fmt.Errorf("%w: nil transaction", ErrInvalidCandidate)
	case txn.BankAccountID == uuid.Nil:
		return fmt.Errorf("%w: missing bank account", ErrInvalidCandidate)
	case txn.Date.IsZero():
		return fmt.Errorf("%w: missing date", ErrInvalidCandidate)
	case txn.Amount.IsNegative():
		return fmt.Errorf("%w: negative magnitude %s", ErrInvalidCandidate, txn.Amount)
	case !txn.Direction.Valid():
		return fmt.Errorf("%w: direction %q", ErrInvalidCandidate, txn.Direction)
	}
	return nil
}
