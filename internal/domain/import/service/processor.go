// Package service is the import worker's entry point: it claims jobs, routes
// files to the structured or AI path, persists the result and settles the job.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/dedup"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/extractor"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/pipeline"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/fiskal-ledger/pkg/metrics"
	"github.com/FACorreiaa/fiskal-ledger/pkg/money"
	"github.com/FACorreiaa/fiskal-ledger/pkg/storage"
)

// ErrUnsupportedFile is returned for files that neither path can read.
var ErrUnsupportedFile = errors.New("unsupported statement file")

// Outcome of one processing invocation, as reported to the queue collaborator.
type Outcome string

const (
	OutcomeIdle  Outcome = "idle"
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

const (
	// MaxFailureReason is the longest failure reason stored on a job.
	MaxFailureReason = 2000
	// DefaultMaxFileBytes caps how much of an uploaded file is read.
	DefaultMaxFileBytes = 50 << 20
)

// JobPayload is the message the queue collaborator delivers for a job.
type JobPayload struct {
	JobID            uuid.UUID `json:"jobId"`
	CompanyID        uuid.UUID `json:"companyId"`
	BankAccountID    uuid.UUID `json:"bankAccountId"`
	OriginalFileName string    `json:"originalFileName"`
	StoragePath      string    `json:"storagePath"`
	FileChecksum     string    `json:"fileChecksum"`
}

// StatementExtractor runs the AI path for a document.
type StatementExtractor interface {
	Run(ctx context.Context, doc *extractor.Document, currency string) (*pipeline.Result, error)
}

// ReviewExporter publishes the reviewer report of a NEEDS_REVIEW job.
type ReviewExporter interface {
	Export(ctx context.Context, jobID uuid.UUID) (string, error)
}

// Processor processes import jobs one at a time.
type Processor struct {
	repo            repository.ImportRepository
	files           storage.Storage
	extractor       StatementExtractor
	handle          repository.TransactionHandler
	locker          dedup.Locker
	review          ReviewExporter
	metrics         metrics.Recorder
	tracer          trace.Tracer
	logger          *slog.Logger
	maxFileBytes    int64
	defaultCurrency string
}

// NewProcessor creates a processor. engine may be nil, in which case every
// extracted transaction is inserted without deduplication.
func NewProcessor(repo repository.ImportRepository, files storage.Storage, ext StatementExtractor, engine *dedup.Engine, logger *slog.Logger) *Processor {
	p := &Processor{
		repo:            repo,
		files:           files,
		extractor:       ext,
		handle:          repository.InsertAll,
		locker:          dedup.NoopLocker{},
		metrics:         metrics.Noop{},
		tracer:          otel.Tracer("fiskal-ledger/import"),
		logger:          logger,
		maxFileBytes:    DefaultMaxFileBytes,
		defaultCurrency: money.EUR,
	}
	if engine != nil {
		p.handle = engine.Handle
	}
	return p
}

// WithLocker serializes persistence per bank account.
func (p *Processor) WithLocker(l dedup.Locker) *Processor {
	p.locker = l
	return p
}

// WithReviewExporter exports a report for every job settled NEEDS_REVIEW.
func (p *Processor) WithReviewExporter(e ReviewExporter) *Processor {
	p.review = e
	return p
}

// WithMetrics reports job outcomes.
func (p *Processor) WithMetrics(m metrics.Recorder) *Processor {
	p.metrics = m
	return p
}

// WithDefaultCurrency sets the currency assumed for AI-extracted statements.
func (p *Processor) WithDefaultCurrency(code string) *Processor {
	p.defaultCurrency = code
	return p
}

// ProcessNextImportJob claims the oldest pending job and processes it.
// Job-level failures are settled on the job and reported as OutcomeError with
// a nil error; a non-nil error means the queue itself could not be used.
func (p *Processor) ProcessNextImportJob(ctx context.Context) (Outcome, error) {
	job, err := p.repo.ClaimNextJob(ctx)
	if errors.Is(err, repository.ErrNoPendingJob) {
		return OutcomeIdle, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to claim import job: %w", err)
	}
	return p.run(ctx, job)
}

// ProcessJob processes a job delivered by the queue collaborator.
func (p *Processor) ProcessJob(ctx context.Context, payload JobPayload) (Outcome, error) {
	job, err := p.repo.ClaimJob(ctx, payload.JobID)
	if errors.Is(err, repository.ErrJobNotClaimable) {
		p.logger.Info("import job already being processed", "job_id", payload.JobID)
		return OutcomeIdle, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("failed to claim import job %s: %w", payload.JobID, err)
	}

	if job.StoragePath == "" {
		job.StoragePath = payload.StoragePath
	}
	if job.OriginalFileName == "" {
		job.OriginalFileName = payload.OriginalFileName
	}
	if job.FileChecksum == "" {
		job.FileChecksum = payload.FileChecksum
	}
	return p.run(ctx, job)
}

// settlement is the single terminal write of one run.
type settlement struct {
	status repository.JobStatus
	format repository.Format
	reason string
}

func (p *Processor) run(ctx context.Context, job *repository.ImportJob) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "import.ProcessJob", trace.WithAttributes(
		attribute.String("job_id", job.ID.String()),
		attribute.String("file_name", job.OriginalFileName),
	))
	defer span.End()

	start := time.Now()
	logger := p.logger.With("job_id", job.ID, "bank_account_id", job.BankAccountID)
	logger.Info("processing import job", "file", job.OriginalFileName)

	s := p.safeProcess(ctx, logger, job)

	var reason *string
	if s.status == repository.JobStatusFailed {
		r := truncate(s.reason, MaxFailureReason)
		reason = &r
		span.SetStatus(codes.Error, r)
		logger.Error("import job failed", "reason", r)
	}

	// The job is settled even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	if err := p.repo.FinishJob(finishCtx, job.ID, s.status, reason); err != nil {
		logger.Error("failed to settle import job", "status", s.status, "error", err)
		return OutcomeError, fmt.Errorf("failed to settle import job %s: %w", job.ID, err)
	}

	elapsed := time.Since(start)
	p.metrics.JobFinished(string(s.status), string(s.format), elapsed)
	span.SetAttributes(attribute.String("status", string(s.status)))
	logger.Info("import job settled", "status", s.status, "duration", elapsed)

	if s.status == repository.JobStatusNeedsReview && p.review != nil {
		if path, err := p.review.Export(finishCtx, job.ID); err != nil {
			logger.Warn("failed to export review report", "error", err)
		} else {
			span.SetAttributes(attribute.String("review_report", path))
		}
	}

	if s.status == repository.JobStatusFailed {
		return OutcomeError, nil
	}
	return OutcomeOK, nil
}

// safeProcess converts a panic anywhere in processing into a FAILED settlement.
func (p *Processor) safeProcess(ctx context.Context, logger *slog.Logger, job *repository.ImportJob) (s settlement) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing import job", "panic", r)
			s = settlement{status: repository.JobStatusFailed, reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return p.process(ctx, logger, job)
}

func (p *Processor) process(ctx context.Context, logger *slog.Logger, job *repository.ImportJob) settlement {
	failed := func(format repository.Format, err error) settlement {
		return settlement{status: repository.JobStatusFailed, format: format, reason: err.Error()}
	}

	exists, err := p.repo.StatementImportExistsForJob(ctx, job.ID)
	if err != nil {
		return failed("", err)
	}
	if exists {
		logger.Info("statement already imported for job, settling without parsing")
		return settlement{status: repository.JobStatusVerified}
	}

	data, err := storage.ReadAll(ctx, p.files, job.StoragePath, p.maxFileBytes)
	if err != nil {
		return failed("", fmt.Errorf("failed to read statement file: %w", err))
	}
	if job.FileChecksum != "" {
		if sum := sniffer.ChecksumBytes(data); sum != job.FileChecksum {
			logger.Warn("statement file checksum differs from upload", "expected", job.FileChecksum, "actual", sum)
		}
	}

	head := data
	if len(head) > sniffer.HeadSize {
		head = head[:sniffer.HeadSize]
	}
	kind := sniffer.Detect(job.OriginalFileName, head)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("kind", string(kind)))

	var bundle *repository.StatementBundle
	needsReview := false
	if kind.IsStructured() {
		bundle, needsReview, err = buildStructured(job, data)
	} else {
		bundle, needsReview, err = p.buildExtracted(ctx, job, kind, data)
	}
	if err != nil {
		format := repository.FormatPDF
		if kind.IsStructured() {
			format = repository.FormatCAMT053
		}
		return failed(format, err)
	}

	res, err := p.persist(ctx, bundle)
	if err != nil {
		return failed(bundle.Format, err)
	}
	if res.AlreadyImported {
		logger.Info("statement imported concurrently, settling without changes")
		return settlement{status: repository.JobStatusVerified, format: bundle.Format}
	}

	logger.Info("statement persisted",
		"format", bundle.Format,
		"inserted", res.Inserted,
		"skipped_duplicates", res.Skipped,
		"flagged_duplicates", res.Flagged,
		"failed_transactions", res.Failed,
	)

	status := repository.JobStatusVerified
	if needsReview {
		status = repository.JobStatusNeedsReview
	}
	return settlement{status: status, format: bundle.Format}
}

func (p *Processor) buildExtracted(ctx context.Context, job *repository.ImportJob, kind sniffer.Kind, data []byte) (*repository.StatementBundle, bool, error) {
	var (
		doc *extractor.Document
		err error
	)
	if kind == sniffer.KindUnknown {
		// Unrecognized files take the PDF path and fail there when unreadable.
		doc, err = extractor.Extract(sniffer.KindPDF, data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %v", ErrUnsupportedFile, job.OriginalFileName, err)
		}
	} else {
		doc, err = extractor.Extract(kind, data)
		if err != nil {
			return nil, false, err
		}
	}
	if doc.Degraded {
		p.logger.Warn("per-page text extraction failed, using whole-document text", "job_id", job.ID)
	}
	if !doc.HasText() {
		p.logger.Info("statement has no text layer, extraction relies on the page image",
			"job_id", job.ID, "pages", len(doc.Pages), "mime_type", doc.ImageMIMEType)
	}

	result, err := p.extractor.Run(ctx, doc, p.defaultCurrency)
	if err != nil {
		return nil, false, err
	}

	bundle := &repository.StatementBundle{
		Job:          job,
		Format:       repository.FormatPDF,
		Statement:    result.Statement,
		Pages:        result.Pages,
		Transactions: result.Transactions,
		Metadata:     result.Metadata,
	}
	return bundle, result.NeedsReview(), nil
}

// persist writes the bundle while holding the account's dedup lock.
func (p *Processor) persist(ctx context.Context, bundle *repository.StatementBundle) (*repository.PersistResult, error) {
	unlock, err := p.locker.LockAccount(ctx, bundle.Job.BankAccountID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("failed to release account lock", "bank_account_id", bundle.Job.BankAccountID, "error", err)
		}
	}()

	return p.repo.PersistStatement(ctx, bundle, p.handle)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
