package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/fiskal-ledger/pkg/storage"
)

// ErrUnknownFormat is returned for an export format other than xlsx or csv.
var ErrUnknownFormat = errors.New("unknown review export format")

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

const (
	sheetSummary = "Sazetak"
	sheetIssues  = "Za provjeru"
)

// WriteCSV writes the report rows as CSV with a header line.
func WriteCSV(w io.Writer, r *Report) error {
	rows := r.Rows()
	if len(rows) == 0 {
		_, err := io.WriteString(w, strings.Join(headers, ",")+"\n")
		return err
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write review csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with a summary sheet and one row per issue.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Datoteka", r.FileName},
		{"Format", string(r.Format)},
		{"Posao", r.JobID.String()},
		{"Izvod", r.Metadata.SequenceNumber},
		{"Stranica", r.Metadata.PageCount},
		{"Uvezeno transakcija", r.Metadata.InsertedTransactions},
		{"Preskočeno duplikata", r.Metadata.SkippedDuplicates},
		{"Mogući duplikati", r.Metadata.FlaggedDuplicates},
		{"Vision popravak", r.Metadata.VisionTriggered},
		{"Generirano", r.GeneratedAt.Format("2006-01-02 15:04:05")},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 24)
	_ = f.SetColWidth(sheetSummary, "B", "B", 40)

	if _, err := f.NewSheet(sheetIssues); err != nil {
		return fmt.Errorf("failed to create issues sheet: %w", err)
	}
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetIssues, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range r.Rows() {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := row.values()
		if err := f.SetSheetRow(sheetIssues, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(sheetIssues, "H", "H", 40)
	_ = f.SetColWidth(sheetIssues, "K", "K", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write review workbook: %w", err)
	}
	return nil
}

// Exporter builds a report for a settled job and stores it next to the uploads.
type Exporter struct {
	builder *Builder
	files   storage.Storage
	format  string
	prefix  string
	logger  *slog.Logger
}

// NewExporter creates an exporter writing format ("xlsx" or "csv") under prefix.
func NewExporter(builder *Builder, files storage.Storage, format, prefix string, logger *slog.Logger) (*Exporter, error) {
	if format != FormatXLSX && format != FormatCSV {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &Exporter{builder: builder, files: files, format: format, prefix: prefix, logger: logger}, nil
}

// Export writes the review report of jobID and returns its storage path.
func (e *Exporter) Export(ctx context.Context, jobID uuid.UUID) (string, error) {
	report, err := e.builder.BuildReport(ctx, jobID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	contentType := "text/csv"
	if e.format == FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = WriteXLSX(&buf, report)
	} else {
		err = WriteCSV(&buf, report)
	}
	if err != nil {
		return "", err
	}

	name := path.Join(e.prefix, report.BankAccountID.String(), jobID.String()+"."+e.format)
	stored, err := e.files.Put(ctx, name, contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to store review report: %w", err)
	}

	e.logger.Info("review report exported", "job_id", jobID, "path", stored, "issues", len(report.Rows()))
	return stored, nil
}
