package review

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Row kinds.
const (
	KindPage       = "PAGE"
	KindContinuity = "CONTINUITY"
	KindDuplicate  = "DUPLICATE"
)

const dateLayout = "2006-01-02"

// Row is the flat export shape shared by the CSV and XLSX writers.
type Row struct {
	Kind         string `csv:"kind"`
	Page         string `csv:"page"`
	StartBalance string `csv:"start_balance"`
	EndBalance   string `csv:"end_balance"`
	Gap          string `csv:"gap"`
	NewDate      string `csv:"new_date"`
	NewAmount    string `csv:"new_amount"`
	NewText      string `csv:"new_description"`
	OldDate      string `csv:"existing_date"`
	OldAmount    string `csv:"existing_amount"`
	OldText      string `csv:"existing_description"`
	Similarity   string `csv:"similarity"`
	Detail       string `csv:"detail"`
	DuplicateID  string `csv:"duplicate_id"`
}

var headers = []string{
	"kind", "page", "start_balance", "end_balance", "gap",
	"new_date", "new_amount", "new_description",
	"existing_date", "existing_amount", "existing_description",
	"similarity", "detail", "duplicate_id",
}

func (r Row) values() []interface{} {
	return []interface{}{
		r.Kind, r.Page, r.StartBalance, r.EndBalance, r.Gap,
		r.NewDate, r.NewAmount, r.NewText,
		r.OldDate, r.OldAmount, r.OldText,
		r.Similarity, r.Detail, r.DuplicateID,
	}
}

// Rows flattens the report: pages first, then continuity gaps, then duplicates.
func (r *Report) Rows() []Row {
	rows := make([]Row, 0, len(r.Pages)+len(r.ContinuityGaps)+len(r.Duplicates))

	for _, p := range r.Pages {
		detail := "balances do not reconcile"
		if p.StartBalance == nil || p.EndBalance == nil {
			detail = "page balances missing"
		}
		rows = append(rows, Row{
			Kind:         KindPage,
			Page:         fmt.Sprint(p.PageNumber),
			StartBalance: fixed(p.StartBalance),
			EndBalance:   fixed(p.EndBalance),
			Gap:          fixed(p.Gap),
			Detail:       detail,
		})
	}

	for _, g := range r.ContinuityGaps {
		gap := g.Start.Sub(g.PreviousEnd)
		rows = append(rows, Row{
			Kind:         KindContinuity,
			Page:         fmt.Sprint(g.Page),
			StartBalance: g.Start.StringFixed(2),
			EndBalance:   g.PreviousEnd.StringFixed(2),
			Gap:          gap.StringFixed(2),
			Detail:       fmt.Sprintf("page %d does not continue page %d", g.Page, g.Page-1),
		})
	}

	for _, d := range r.Duplicates {
		a, b := d.TransactionA, d.TransactionB
		rows = append(rows, Row{
			Kind:        KindDuplicate,
			NewDate:     a.Date.Format(dateLayout),
			NewAmount:   a.Signed().StringFixed(2),
			NewText:     a.Description,
			OldDate:     b.Date.Format(dateLayout),
			OldAmount:   b.Signed().StringFixed(2),
			OldText:     b.Description,
			Similarity:  fmt.Sprintf("%.0f%%", d.Duplicate.Similarity*100),
			Detail:      d.Duplicate.Reason,
			DuplicateID: d.Duplicate.ID.String(),
		})
	}
	return rows
}

func fixed(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
