package camt

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
)

func parseFixture(t *testing.T, name string) *Document {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	require.NoError(t, err)
	defer f.Close()

	doc, err := Parse(f)
	require.NoError(t, err)
	return doc
}

func TestParse_CleanStatement(t *testing.T) {
	doc := parseFixture(t, "clean_statement.xml")
	require.Len(t, doc.Statements, 1)
	assert.Equal(t, 0, doc.Additional())

	st := doc.Primary()
	assert.Equal(t, "HR1210010051863000160", st.IBAN)
	assert.Equal(t, "FISKAL TEST D.O.O.", st.OwnerName)
	assert.Equal(t, "EUR", st.Currency)
	assert.Equal(t, "31", st.SequenceNumber)
	require.NotNil(t, st.PeriodStart)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *st.PeriodStart)
	require.NotNil(t, st.OpeningBalance)
	require.NotNil(t, st.ClosingBalance)
	assert.Equal(t, "1000.00", st.OpeningBalance.StringFixed(2))
	assert.Equal(t, "1200.50", st.ClosingBalance.StringFixed(2))

	require.Len(t, st.Transactions, 2, "pending entries are not booked")

	sum := *st.OpeningBalance
	for _, txn := range st.Transactions {
		sum = sum.Add(txn.Signed())
	}
	assert.True(t, sum.Equal(*st.ClosingBalance), "1000.00 + 250.50 - 50.00 reconciles")
}

func TestParse_EntryDetails(t *testing.T) {
	st := parseFixture(t, "clean_statement.xml").Primary()

	credit := st.Transactions[0]
	assert.Equal(t, repository.DirectionIncoming, credit.Direction)
	assert.Equal(t, "250.5", credit.Amount.String())
	assert.Equal(t, "ZABA-TX-0001", credit.ExternalID)
	assert.Equal(t, "HR00 12-2024", credit.Reference)
	assert.Equal(t, "ACME d.o.o.", credit.CounterpartyName, "debtor is the counterparty of a credit")
	assert.Equal(t, "GB82WEST12345698765432", credit.CounterpartyIBAN)
	assert.Equal(t, "Placanje racuna broj 12-2024", credit.Description)
	assert.Equal(t, repository.ConfidenceStructured, credit.ConfidenceScore)
	assert.Equal(t, 1, credit.PageNumber)
	require.NotNil(t, credit.ValueDate)

	debit := st.Transactions[1]
	assert.Equal(t, repository.DirectionOutgoing, debit.Direction)
	assert.Equal(t, "50", debit.Amount.String(), "magnitude is stored, not the sign")
	assert.Equal(t, "E2E-778", debit.Reference)
	assert.Equal(t, "HRVATSKI TELEKOM d.d.", debit.CounterpartyName, "creditor is the counterparty of a debit")
	assert.Nil(t, debit.ValueDate)
}

func TestParse_DirectionComesFromIndicator(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		indicator string
		direction repository.Direction
	}{
		{"credit", "10.00", "CRDT", repository.DirectionIncoming},
		{"negative credit", "-10.00", "CRDT", repository.DirectionIncoming},
		{"debit", "10.00", "DBIT", repository.DirectionOutgoing},
		{"negative debit", "-10.00", "DBIT", repository.DirectionOutgoing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xml := `<Document><BkToCstmrStmt><Stmt><Acct><Ccy>EUR</Ccy></Acct>
				<Ntry><Amt Ccy="EUR">` + tt.amount + `</Amt><CdtDbtInd>` + tt.indicator + `</CdtDbtInd>
				<BookgDt><Dt>2024-01-02</Dt></BookgDt></Ntry></Stmt></BkToCstmrStmt></Document>`

			doc, err := Parse(strings.NewReader(xml))
			require.NoError(t, err)

			txn := doc.Primary().Transactions[0]
			assert.Equal(t, tt.direction, txn.Direction)
			assert.True(t, txn.Amount.Equal(decimal.NewFromInt(10)))
			assert.False(t, txn.Amount.IsNegative())
		})
	}
}

func TestParse_BalanceSignAndFallbacks(t *testing.T) {
	xml := `<Document><BkToCstmrStmt><Stmt>
		<LglSeqNb>7</LglSeqNb>
		<Bal><Tp><CdOrPrtry><Cd>PRCD</Cd></CdOrPrtry></Tp><Amt Ccy="hrk">15.00</Amt><CdtDbtInd>DBIT</CdtDbtInd></Bal>
		<Bal><Tp><CdOrPrtry><Cd>CLBD</Cd></CdOrPrtry></Tp><Amt Ccy="HRK">5.00</Amt><CdtDbtInd>CRDT</CdtDbtInd></Bal>
		</Stmt></BkToCstmrStmt></Document>`

	doc, err := Parse(strings.NewReader(xml))
	require.NoError(t, err)

	st := doc.Primary()
	assert.Equal(t, "7", st.SequenceNumber)
	assert.Equal(t, "HRK", st.Currency)
	assert.Equal(t, "-15.00", st.OpeningBalance.StringFixed(2))
	assert.Equal(t, "5.00", st.ClosingBalance.StringFixed(2))
	assert.Empty(t, st.Transactions)
}

func TestParse_CamtV8StatusAndParty(t *testing.T) {
	xml := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.08"><BkToCstmrStmt><Stmt>
		<Ntry><Amt Ccy="EUR">3.00</Amt><CdtDbtInd>CRDT</CdtDbtInd><Sts><Cd>BOOK</Cd></Sts>
		<BookgDt><DtTm>2024-02-01T10:15:00</DtTm></BookgDt>
		<NtryDtls><TxDtls><RltdPties><Dbtr><Pty><Nm>Ivo Ivic</Nm></Pty></Dbtr></RltdPties></TxDtls></NtryDtls>
		</Ntry></Stmt></BkToCstmrStmt></Document>`

	doc, err := Parse(strings.NewReader(xml))
	require.NoError(t, err)

	txn := doc.Primary().Transactions[0]
	assert.Equal(t, "Ivo Ivic", txn.CounterpartyName)
	assert.Equal(t, time.Date(2024, 2, 1, 10, 15, 0, 0, time.UTC), txn.Date)
}

func TestParse_MultipleStatements(t *testing.T) {
	xml := `<Document><BkToCstmrStmt>
		<Stmt><ElctrncSeqNb>1</ElctrncSeqNb></Stmt>
		<Stmt><ElctrncSeqNb>2</ElctrncSeqNb></Stmt>
		<Stmt><ElctrncSeqNb>3</ElctrncSeqNb></Stmt>
		</BkToCstmrStmt></Document>`

	doc, err := Parse(strings.NewReader(xml))
	require.NoError(t, err)
	assert.Equal(t, "1", doc.Primary().SequenceNumber)
	assert.Equal(t, 2, doc.Additional())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"no statement", `<Document><BkToCstmrStmt></BkToCstmrStmt></Document>`, ErrNoStatement},
		{"other xml dialect", `<?xml version="1.0"?><Invoice><ID>1</ID></Invoice>`, ErrNoStatement},
		{"gibberish", "this is not xml at all", ErrMalformed},
		{"truncated", `<Document><BkToCstmrStmt><Stmt>`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_InvalidEntry(t *testing.T) {
	xml := `<Document><BkToCstmrStmt><Stmt>
		<Ntry><Amt>1,00</Amt><CdtDbtInd>CRDT</CdtDbtInd><BookgDt><Dt>2024-01-01</Dt></BookgDt></Ntry>
		</Stmt></BkToCstmrStmt></Document>`

	_, err := Parse(strings.NewReader(xml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1")
}
