// Package audit checks that a page's transactions reconcile its balances.
package audit

import (
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/fiskal-ledger/pkg/money"
)

// Result is the outcome of auditing one page.
type Result struct {
	// Reconciled is true when start + Σ signed == end at money.Scale.
	Reconciled bool
	// Computed is start + Σ signed, nil when start is missing.
	Computed *decimal.Decimal
	// Gap is end - computed, nil when either balance is missing.
	Gap *decimal.Decimal
	// MissingBalances is set when start or end was not extracted.
	MissingBalances bool
}

// Page audits a page. A page without both balances cannot be reconciled.
func Page(start, end *decimal.Decimal, txns []repository.BankTransaction) Result {
	var res Result
	if start == nil || end == nil {
		res.MissingBalances = true
	}
	if start == nil {
		return res
	}

	computed := money.Round(*start)
	for i := range txns {
		computed = computed.Add(money.Round(txns[i].Signed()))
	}
	res.Computed = &computed

	if end == nil {
		return res
	}
	gap := money.Round(*end).Sub(computed)
	res.Gap = &gap
	res.Reconciled = gap.IsZero()
	return res
}

// Continuous reports whether a page's start continues the previous page's end.
// Missing balances on either side are treated as continuous since there is
// nothing to compare.
func Continuous(previousEnd, start *decimal.Decimal) bool {
	if previousEnd == nil || start == nil {
		return true
	}
	return money.Round(*previousEnd).Equal(money.Round(*start))
}
