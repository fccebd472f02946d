// Package pipeline drives the AI extraction of PDF and scanned statements:
// text pass, arithmetic audit, vision repair and re-audit, page by page.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/aiextract"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/audit"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/extractor"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/fiskal-ledger/pkg/metrics"
)

// DefaultVisionTimeout bounds one vision repair call.
const DefaultVisionTimeout = 90 * time.Second

// PageExtractor is the AI adapter the orchestrator drives.
type PageExtractor interface {
	ExtractPage(ctx context.Context, page int, text string) (*aiextract.PageCandidate, error)
	RepairPage(ctx context.Context, req aiextract.RepairRequest) (*aiextract.PageCandidate, error)
}

// Result is the statement-level outcome of an extraction run.
type Result struct {
	Statement    repository.Statement
	Pages        []repository.StatementPage
	Transactions []repository.BankTransaction
	Metadata     repository.ImportMetadata
}

// NeedsReview reports whether a human has to look at the statement: some page
// did not reconcile or the pages do not chain.
func (r *Result) NeedsReview() bool {
	return len(r.Metadata.NeedsVisionPages) > 0 || len(r.Metadata.ContinuityGaps) > 0
}

// Orchestrator runs extraction for one document at a time.
type Orchestrator struct {
	ai            PageExtractor
	visionTimeout time.Duration
	metrics       metrics.Recorder
	tracer        trace.Tracer
	logger        *slog.Logger
}

// NewOrchestrator creates an orchestrator. A zero visionTimeout uses
// DefaultVisionTimeout.
func NewOrchestrator(ai PageExtractor, visionTimeout time.Duration, rec metrics.Recorder, logger *slog.Logger) *Orchestrator {
	if visionTimeout <= 0 {
		visionTimeout = DefaultVisionTimeout
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Orchestrator{
		ai:            ai,
		visionTimeout: visionTimeout,
		metrics:       rec,
		tracer:        otel.Tracer("fiskal-ledger/pipeline"),
		logger:        logger,
	}
}

// pageOutcome is what one page contributes to the result.
type pageOutcome struct {
	page         repository.StatementPage
	candidate    *aiextract.PageCandidate
	transactions []repository.BankTransaction
	textFailed   bool
	visionTried  bool
}

// Run extracts every page in ascending order. Only a document without pages
// is an error; page-level failures degrade to NEEDS_VISION pages.
func (o *Orchestrator) Run(ctx context.Context, doc *extractor.Document, currency string) (*Result, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, extractor.ErrNoPages
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.Int("pages", len(doc.Pages))))
	defer span.End()

	res := &Result{
		Statement: repository.Statement{Currency: currency},
		Metadata:  repository.ImportMetadata{PageCount: len(doc.Pages)},
	}

	var previousEnd *decimal.Decimal
	for i, p := range doc.Pages {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("extraction cancelled at page %d: %w", p.Number, err)
		}

		out := o.processPage(ctx, doc, p, currency)
		res.Pages = append(res.Pages, out.page)
		res.Transactions = append(res.Transactions, out.transactions...)

		if out.textFailed {
			res.Metadata.TextPassFailedPages = append(res.Metadata.TextPassFailedPages, p.Number)
		}
		if out.visionTried {
			res.Metadata.VisionTriggered = true
		}
		if out.page.VisionRepaired {
			res.Metadata.VisionRepairedPages = append(res.Metadata.VisionRepairedPages, p.Number)
		}
		if out.page.Status == repository.PageStatusNeedsVision {
			res.Metadata.NeedsVisionPages = append(res.Metadata.NeedsVisionPages, p.Number)
		}

		if i > 0 && !audit.Continuous(previousEnd, out.page.StartBalance) {
			gap := repository.ContinuityGap{Page: p.Number, PreviousEnd: *previousEnd, Start: *out.page.StartBalance}
			res.Metadata.ContinuityGaps = append(res.Metadata.ContinuityGaps, gap)
			o.logger.Warn("page balance does not continue previous page",
				slog.Int("page", p.Number),
				slog.String("previous_end", gap.PreviousEnd.StringFixed(2)),
				slog.String("start", gap.Start.StringFixed(2)),
			)
		}
		if out.page.EndBalance != nil {
			previousEnd = out.page.EndBalance
		}

		if res.Metadata.SequenceNumber == "" && res.Metadata.StatementDate == nil && out.candidate != nil && out.candidate.Metadata != nil {
			res.Metadata.SequenceNumber = out.candidate.Metadata.SequenceNumber
			res.Metadata.StatementDate = out.candidate.Metadata.StatementDate
		}
	}

	o.fillHeader(res)

	span.SetAttributes(
		attribute.Int("transactions", len(res.Transactions)),
		attribute.Bool("vision_triggered", res.Metadata.VisionTriggered),
		attribute.Int("needs_vision_pages", len(res.Metadata.NeedsVisionPages)),
	)
	return res, nil
}

func (o *Orchestrator) fillHeader(res *Result) {
	st := &res.Statement
	st.OpeningBalance = res.Pages[0].StartBalance
	st.ClosingBalance = res.Pages[len(res.Pages)-1].EndBalance
	st.SequenceNumber = res.Metadata.SequenceNumber
	st.StatementDate = res.Metadata.StatementDate
	if len(res.Transactions) == 0 {
		return
	}

	first, last := res.Transactions[0].Date, res.Transactions[0].Date
	for _, t := range res.Transactions[1:] {
		if t.Date.Before(first) {
			first = t.Date
		}
		if t.Date.After(last) {
			last = t.Date
		}
	}
	st.PeriodStart, st.PeriodEnd = &first, &last
	res.Metadata.PeriodStart, res.Metadata.PeriodEnd = &first, &last
}

func (o *Orchestrator) processPage(ctx context.Context, doc *extractor.Document, p extractor.Page, currency string) pageOutcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.Page", trace.WithAttributes(attribute.Int("page", p.Number)))
	defer span.End()

	logger := o.logger.With(slog.Int("page", p.Number))
	out := pageOutcome{page: repository.StatementPage{PageNumber: p.Number, RawText: p.Text}}

	var (
		candidate *aiextract.PageCandidate
		result    audit.Result
	)
	if p.Text != "" {
		var err error
		candidate, err = o.ai.ExtractPage(ctx, p.Number, p.Text)
		if err != nil {
			logger.Warn("text pass failed", slog.Any("error", err))
			out.textFailed = true
			candidate = nil
		} else {
			result = auditCandidate(candidate)
		}
	}

	repaired := false
	if candidate == nil || !result.Reconciled {
		out.visionTried = true
		if fixed, fixedResult, ok := o.repair(ctx, logger, doc, p, candidate); ok {
			candidate, result, repaired = fixed, fixedResult, true
		} else if candidate == nil && fixed != nil {
			candidate, result = fixed, fixedResult
		}
	}

	status, confidence := repository.PageStatusNeedsVision, repository.ConfidenceUnverified
	switch {
	case repaired:
		status, confidence = repository.PageStatusVerified, repository.ConfidenceVisionRepaired
	case result.Reconciled:
		status, confidence = repository.PageStatusVerified, repository.ConfidenceVerifiedAI
	}
	o.metrics.PageAudited(string(status))
	span.SetAttributes(attribute.String("status", string(status)), attribute.Bool("vision_repaired", repaired))

	out.page.Status = status
	out.page.VisionRepaired = repaired
	out.page.ReconciliationGap = result.Gap
	out.candidate = candidate
	if candidate != nil {
		out.page.StartBalance = candidate.StartBalance
		out.page.EndBalance = candidate.EndBalance
		out.transactions = candidate.BankTransactions(p.Number, currency, confidence)
	}

	logger.Info("page audited",
		slog.String("status", string(status)),
		slog.Bool("vision_repaired", repaired),
		slog.Int("transactions", len(out.transactions)),
	)
	return out
}

// repair runs the vision pass. It returns the repaired candidate and whether
// it reconciles; a candidate that came back but does not reconcile is still
// returned so pages without any text pass keep what vision read.
func (o *Orchestrator) repair(ctx context.Context, logger *slog.Logger, doc *extractor.Document, p extractor.Page, hint *aiextract.PageCandidate) (*aiextract.PageCandidate, audit.Result, bool) {
	if len(doc.Image) == 0 {
		logger.Warn("no page image for vision repair")
		return nil, audit.Result{}, false
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.VisionRepair")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.visionTimeout)
	defer cancel()

	fixed, err := o.ai.RepairPage(ctx, aiextract.RepairRequest{
		Page:          p.Number,
		Text:          p.Text,
		Image:         doc.Image,
		ImageMIMEType: doc.ImageMIMEType,
		Hint:          hint,
	})
	if err != nil {
		logger.Warn("vision repair failed", slog.Any("error", err))
		span.SetStatus(codes.Error, err.Error())
		o.metrics.VisionRepair(false)
		return nil, audit.Result{}, false
	}

	result := auditCandidate(fixed)
	o.metrics.VisionRepair(result.Reconciled)
	if !result.Reconciled {
		gap := "n/a"
		if result.Gap != nil {
			gap = result.Gap.StringFixed(2)
		}
		logger.Warn("vision repair did not reconcile", slog.String("gap", gap))
	}
	return fixed, result, result.Reconciled
}

func auditCandidate(c *aiextract.PageCandidate) audit.Result {
	return audit.Page(c.StartBalance, c.EndBalance, c.BankTransactions(0, "", 0))
}
