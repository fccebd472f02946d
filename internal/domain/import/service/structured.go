package service

import (
	"bytes"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/audit"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/camt"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
)

// buildStructured parses a camt.053 file into a bundle with one virtual page
// spanning opening to closing balance.
func buildStructured(job *repository.ImportJob, data []byte) (*repository.StatementBundle, bool, error) {
	doc, err := camt.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	st := doc.Primary()

	result := audit.Page(st.OpeningBalance, st.ClosingBalance, st.Transactions)
	page := repository.StatementPage{
		PageNumber:        1,
		StartBalance:      st.OpeningBalance,
		EndBalance:        st.ClosingBalance,
		Status:            repository.PageStatusVerified,
		ReconciliationGap: result.Gap,
	}

	meta := repository.ImportMetadata{
		SequenceNumber:       st.SequenceNumber,
		StatementDate:        st.CreatedAt,
		PeriodStart:          st.PeriodStart,
		PeriodEnd:            st.PeriodEnd,
		PageCount:            1,
		AdditionalStatements: doc.Additional(),
	}
	if !result.Reconciled {
		page.Status = repository.PageStatusNeedsVision
		meta.NeedsVisionPages = []int{1}
	}

	bundle := &repository.StatementBundle{
		Job:    job,
		Format: repository.FormatCAMT053,
		Statement: repository.Statement{
			IBAN:           st.IBAN,
			OwnerName:      st.OwnerName,
			Currency:       st.Currency,
			StatementDate:  st.CreatedAt,
			PeriodStart:    st.PeriodStart,
			PeriodEnd:      st.PeriodEnd,
			OpeningBalance: st.OpeningBalance,
			ClosingBalance: st.ClosingBalance,
			SequenceNumber: st.SequenceNumber,
		},
		Pages:        []repository.StatementPage{page},
		Transactions: st.Transactions,
		Metadata:     meta,
	}
	return bundle, !result.Reconciled, nil
}
