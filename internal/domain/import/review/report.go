// Package review builds the reviewer-facing report for jobs that ended in
// NEEDS_REVIEW and exports it as XLSX or CSV.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
)

// Reader is the read side of the import repository used by reports.
type Reader interface {
	GetStatementImportByJob(ctx context.Context, jobID uuid.UUID) (*repository.StatementImport, error)
	ListPages(ctx context.Context, statementImportID uuid.UUID) ([]repository.StatementPage, error)
	ListPendingDuplicates(ctx context.Context, bankAccountID uuid.UUID) ([]repository.DuplicatePair, error)
}

// PageIssue is a page that did not reconcile.
type PageIssue struct {
	PageNumber   int
	StartBalance *decimal.Decimal
	EndBalance   *decimal.Decimal
	Gap          *decimal.Decimal
}

// Report lists everything a reviewer has to look at for one import.
type Report struct {
	JobID             uuid.UUID
	StatementImportID uuid.UUID
	BankAccountID     uuid.UUID
	FileName          string
	Format            repository.Format
	GeneratedAt       time.Time
	Metadata          repository.ImportMetadata
	Pages             []PageIssue
	ContinuityGaps    []repository.ContinuityGap
	Duplicates        []repository.DuplicatePair
}

// Empty reports whether there is nothing to review.
func (r *Report) Empty() bool {
	return len(r.Pages) == 0 && len(r.ContinuityGaps) == 0 && len(r.Duplicates) == 0
}

// Builder assembles reports from the repository.
type Builder struct {
	repo   Reader
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder creates a report builder.
func NewBuilder(repo Reader, logger *slog.Logger) *Builder {
	return &Builder{repo: repo, logger: logger, now: time.Now}
}

// BuildReport collects the unverified pages, continuity gaps and pending
// duplicates of the import created by jobID. Duplicates are listed for the
// whole bank account since older imports may hold the other half of a pair.
func (b *Builder) BuildReport(ctx context.Context, jobID uuid.UUID) (*Report, error) {
	si, err := b.repo.GetStatementImportByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load statement import for job %s: %w", jobID, err)
	}

	pages, err := b.repo.ListPages(ctx, si.ID)
	if err != nil {
		return nil, err
	}
	dups, err := b.repo.ListPendingDuplicates(ctx, si.BankAccountID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		JobID:             jobID,
		StatementImportID: si.ID,
		BankAccountID:     si.BankAccountID,
		FileName:          si.FileName,
		Format:            si.Format,
		GeneratedAt:       b.now().UTC(),
		Metadata:          si.Metadata,
		ContinuityGaps:    si.Metadata.ContinuityGaps,
		Duplicates:        dups,
	}
	for _, p := range pages {
		if p.Status == repository.PageStatusVerified {
			continue
		}
		report.Pages = append(report.Pages, PageIssue{
			PageNumber:   p.PageNumber,
			StartBalance: p.StartBalance,
			EndBalance:   p.EndBalance,
			Gap:          p.ReconciliationGap,
		})
	}

	b.logger.Debug("review report built",
		"job_id", jobID,
		"pages", len(report.Pages),
		"continuity_gaps", len(report.ContinuityGaps),
		"duplicates", len(report.Duplicates),
	)
	return report, nil
}
