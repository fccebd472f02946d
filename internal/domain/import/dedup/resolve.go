package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
)

// ResolutionStore is the transaction-scoped persistence used when a reviewer
// settles a pair. *repository.Queries satisfies it.
type ResolutionStore interface {
	GetPotentialDuplicateForUpdate(ctx context.Context, id uuid.UUID) (*repository.PotentialDuplicate, error)
	GetTransaction(ctx context.Context, id uuid.UUID, forUpdate bool) (*repository.BankTransaction, error)
	UpdateTransactionMetadata(ctx context.Context, t *repository.BankTransaction) error
	DeleteTransaction(ctx context.Context, id uuid.UUID) error
	MarkDuplicateResolved(ctx context.Context, id uuid.UUID, resolution repository.Resolution, resolvedBy string, at time.Time) error
	DropPendingPairsFor(ctx context.Context, transactionID, keep uuid.UUID) (int64, error)
}

// TxRunner opens the database transaction a resolution runs in.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// Resolver applies reviewer decisions to the potential duplicate queue.
type Resolver struct {
	tx     TxRunner
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(tx TxRunner, logger *slog.Logger) *Resolver {
	return &Resolver{tx: tx, logger: logger, now: time.Now}
}

// Resolve settles a pending pair in one database transaction.
//
//   - KEEP_BOTH marks the pair resolved without touching either transaction.
//   - DELETE_NEW deletes transaction A, the newer one.
//   - MERGE copies A's reference, counterparty and external id onto B where B's
//     field is empty, then deletes A.
func (r *Resolver) Resolve(ctx context.Context, duplicateID uuid.UUID, resolution repository.Resolution, resolvedBy string) error {
	if !resolution.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	err := r.tx.RunInTx(ctx, func(q *repository.Queries) error {
		return r.apply(ctx, q, duplicateID, resolution, resolvedBy)
	})
	if err != nil {
		return err
	}

	r.logger.Info("potential duplicate resolved",
		slog.String("duplicate_id", duplicateID.String()),
		slog.String("resolution", string(resolution)),
		slog.String("resolved_by", resolvedBy),
	)
	return nil
}

func (r *Resolver) apply(ctx context.Context, store ResolutionStore, duplicateID uuid.UUID, resolution repository.Resolution, resolvedBy string) error {
	if !resolution.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	dup, err := store.GetPotentialDuplicateForUpdate(ctx, duplicateID)
	if err != nil {
		return err
	}
	if dup.Status == repository.DuplicateStatusResolved {
		return ErrAlreadyResolved
	}

	switch resolution {
	case repository.ResolutionMerge:
		if err := merge(ctx, store, dup); err != nil {
			return err
		}
		if err := deleteNewer(ctx, store, dup); err != nil {
			return err
		}
	case repository.ResolutionDeleteNew:
		if err := deleteNewer(ctx, store, dup); err != nil {
			return err
		}
	case repository.ResolutionKeepBoth:
	}

	return store.MarkDuplicateResolved(ctx, dup.ID, resolution, resolvedBy, r.now())
}

func merge(ctx context.Context, store ResolutionStore, dup *repository.PotentialDuplicate) error {
	a, err := store.GetTransaction(ctx, dup.TransactionAID, true)
	if err != nil {
		return fmt.Errorf("failed to load newer transaction: %w", err)
	}
	b, err := store.GetTransaction(ctx, dup.TransactionBID, true)
	if err != nil {
		return fmt.Errorf("failed to load kept transaction: %w", err)
	}

	if !MergeInto(b, a) {
		return nil
	}
	return store.UpdateTransactionMetadata(ctx, b)
}

func deleteNewer(ctx context.Context, store ResolutionStore, dup *repository.PotentialDuplicate) error {
	if err := store.DeleteTransaction(ctx, dup.TransactionAID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	_, err := store.DropPendingPairsFor(ctx, dup.TransactionAID, dup.ID)
	return err
}

// MergeInto fills keep's empty metadata fields from src and reports whether
// anything changed. Amount, date, direction and description stay untouched.
func MergeInto(keep, src *repository.BankTransaction) bool {
	changed := false
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	fill(&keep.Reference, src.Reference)
	fill(&keep.CounterpartyName, src.CounterpartyName)
	fill(&keep.CounterpartyIBAN, src.CounterpartyIBAN)
	fill(&keep.ExternalID, src.ExternalID)
	return changed
}
