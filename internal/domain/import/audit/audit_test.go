package audit

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func txn(amount string, dir repository.Direction) repository.BankTransaction {
	return repository.BankTransaction{Amount: decimal.RequireFromString(amount), Direction: dir}
}

func TestPage(t *testing.T) {
	tests := []struct {
		name       string
		start, end *decimal.Decimal
		txns       []repository.BankTransaction
		reconciled bool
		gap        string
	}{
		{
			name:  "clean statement",
			start: dec("1000.00"), end: dec("1200.50"),
			txns: []repository.BankTransaction{
				txn("250.50", repository.DirectionIncoming),
				txn("50.00", repository.DirectionOutgoing),
			},
			reconciled: true, gap: "0",
		},
		{
			name:  "misread credit",
			start: dec("100.00"), end: dec("200.00"),
			txns:       []repository.BankTransaction{txn("80.00", repository.DirectionIncoming)},
			reconciled: false, gap: "20",
		},
		{
			name:       "empty page keeps its balance",
			start:      dec("55.10"), end: dec("55.10"),
			reconciled: true, gap: "0",
		},
		{
			name:  "sub-cent noise is rounded away",
			start: dec("10.004"), end: dec("11.00"),
			txns:       []repository.BankTransaction{txn("0.996", repository.DirectionIncoming)},
			reconciled: true, gap: "0",
		},
		{
			name:  "negative balances",
			start: dec("-20.00"), end: dec("-70.00"),
			txns:       []repository.BankTransaction{txn("50.00", repository.DirectionOutgoing)},
			reconciled: true, gap: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Page(tt.start, tt.end, tt.txns)
			assert.Equal(t, tt.reconciled, res.Reconciled)
			require.NotNil(t, res.Gap)
			assert.True(t, res.Gap.Equal(decimal.RequireFromString(tt.gap)), "gap %s", res.Gap)
			assert.False(t, res.MissingBalances)
		})
	}
}

func TestPage_MissingBalances(t *testing.T) {
	res := Page(nil, dec("1.00"), nil)
	assert.False(t, res.Reconciled)
	assert.True(t, res.MissingBalances)
	assert.Nil(t, res.Computed)
	assert.Nil(t, res.Gap)

	res = Page(dec("1.00"), nil, []repository.BankTransaction{txn("2.00", repository.DirectionIncoming)})
	assert.False(t, res.Reconciled)
	assert.True(t, res.MissingBalances)
	require.NotNil(t, res.Computed)
	assert.Equal(t, "3.00", res.Computed.StringFixed(2))
}

func TestPage_ReconcilesArbitraryInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		start := decimal.New(rng.Int63n(2_000_000)-1_000_000, -2)
		end := start
		var txns []repository.BankTransaction
		for j := 0; j < rng.Intn(30); j++ {
			amount := decimal.New(rng.Int63n(500_000), -2)
			dir := repository.DirectionIncoming
			if rng.Intn(2) == 0 {
				dir = repository.DirectionOutgoing
			}
			line := repository.BankTransaction{Amount: amount, Direction: dir}
			end = end.Add(line.Signed())
			txns = append(txns, line)
		}

		res := Page(&start, &end, txns)
		require.True(t, res.Reconciled, "iteration %d", i)

		off := end.Add(decimal.New(1, -2))
		assert.False(t, Page(&start, &off, txns).Reconciled)
	}
}

func TestContinuous(t *testing.T) {
	assert.True(t, Continuous(dec("10.00"), dec("10")))
	assert.False(t, Continuous(dec("10.00"), dec("10.01")))
	assert.True(t, Continuous(nil, dec("1")))
	assert.True(t, Continuous(dec("1"), nil))
}
