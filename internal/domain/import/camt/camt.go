// Package camt parses ISO 20022 camt.053 bank-to-customer statements.
//
// The parser is deterministic: direction always comes from CdtDbtInd and
// amounts are stored as magnitudes, never inferred from a sign character.
package camt

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
)

var (
	// ErrNoStatement is returned when the document has no Stmt element.
	ErrNoStatement = errors.New("camt: no statement element")
	// ErrMalformed is returned when the XML cannot be decoded.
	ErrMalformed = errors.New("camt: malformed document")
)

// Credit/debit indicators and balance type codes.
const (
	indicatorCredit = "CRDT"
	indicatorDebit  = "DBIT"

	balanceOpening         = "OPBD"
	balancePreviousClosing = "PRCD"
	balanceClosing         = "CLBD"
	entryStatusBooked      = "BOOK"
	notProvided            = "NOTPROVIDED"
)

// Statement is one parsed Stmt element.
type Statement struct {
	ID             string
	IBAN           string
	OwnerName      string
	Currency       string
	CreatedAt      *time.Time
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	OpeningBalance *decimal.Decimal
	ClosingBalance *decimal.Decimal
	SequenceNumber string
	Transactions   []repository.BankTransaction
}

// Document is a parsed camt.053 file. One file may carry several statements.
type Document struct {
	Statements []Statement
}

// Primary returns the first statement, the one that gets persisted.
func (d *Document) Primary() *Statement {
	return &d.Statements[0]
}

// Additional returns how many statements follow the primary one.
func (d *Document) Additional() int {
	return len(d.Statements) - 1
}

// Parse decodes a camt.053 document.
func Parse(r io.Reader) (*Document, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(doc.Statement.Stmts) == 0 {
		return nil, ErrNoStatement
	}

	out := &Document{Statements: make([]Statement, 0, len(doc.Statement.Stmts))}
	for i := range doc.Statement.Stmts {
		st, err := convertStatement(&doc.Statement.Stmts[i])
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		out.Statements = append(out.Statements, *st)
	}
	return out, nil
}

func convertStatement(s *xmlStmt) (*Statement, error) {
	st := &Statement{
		ID:             strings.TrimSpace(s.ID),
		IBAN:           normalizer.IBAN(s.Acct.ID.IBAN),
		OwnerName:      strings.TrimSpace(s.Acct.Owner.Name),
		Currency:       strings.ToUpper(strings.TrimSpace(s.Acct.Currency)),
		SequenceNumber: strings.TrimSpace(s.ElectronicSeq),
	}
	if st.SequenceNumber == "" {
		st.SequenceNumber = strings.TrimSpace(s.LegalSeq)
	}
	if st.IBAN == "" {
		st.IBAN = strings.TrimSpace(s.Acct.ID.IBAN)
	}

	var err error
	if st.CreatedAt, err = parseOptionalTime(s.CreatedAt); err != nil {
		return nil, err
	}
	if st.PeriodStart, err = parseOptionalTime(s.Period.From); err != nil {
		return nil, err
	}
	if st.PeriodEnd, err = parseOptionalTime(s.Period.To); err != nil {
		return nil, err
	}

	for _, b := range s.Balances {
		amount, err := signedAmount(b.Amount.Value, b.Indicator)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", b.Type.Code(), err)
		}
		if st.Currency == "" {
			st.Currency = strings.ToUpper(b.Amount.Currency)
		}
		switch b.Type.Code() {
		case balanceOpening:
			st.OpeningBalance = &amount
		case balancePreviousClosing:
			if st.OpeningBalance == nil {
				st.OpeningBalance = &amount
			}
		case balanceClosing:
			st.ClosingBalance = &amount
		}
	}

	for i := range s.Entries {
		e := &s.Entries[i]
		if status := e.Status.Code(); status != "" && status != entryStatusBooked {
			continue
		}
		txn, err := convertEntry(e, st.Currency)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if st.Currency == "" {
			st.Currency = txn.Currency
		}
		st.Transactions = append(st.Transactions, *txn)
	}
	return st, nil
}

func convertEntry(e *xmlEntry, currency string) (*repository.BankTransaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amount.Value))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", e.Amount.Value)
	}

	txn := &repository.BankTransaction{
		Amount:          amount.Abs(),
		Currency:        currency,
		PageNumber:      1,
		MatchStatus:     repository.MatchStatusUnmatched,
		ConfidenceScore: repository.ConfidenceStructured,
		ExternalID:      strings.TrimSpace(e.ServicerRef),
	}
	if c := strings.ToUpper(strings.TrimSpace(e.Amount.Currency)); c != "" {
		txn.Currency = c
	}

	switch strings.ToUpper(strings.TrimSpace(e.Indicator)) {
	case indicatorCredit:
		txn.Direction = repository.DirectionIncoming
	case indicatorDebit:
		txn.Direction = repository.DirectionOutgoing
	default:
		return nil, fmt.Errorf("invalid credit/debit indicator %q", e.Indicator)
	}

	booking, err := e.BookingDate.parse()
	if err != nil || booking == nil {
		return nil, errors.New("missing booking date")
	}
	txn.Date = *booking
	if txn.ValueDate, err = e.ValueDate.parse(); err != nil {
		return nil, err
	}

	var details *xmlTxDetails
	if len(e.Details.Tx) > 0 {
		details = &e.Details.Tx[0]
	}
	applyDetails(txn, details)

	if txn.Description == "" {
		txn.Description = normalizer.Description(e.AdditionalInfo)
	}
	return txn, nil
}

func applyDetails(txn *repository.BankTransaction, d *xmlTxDetails) {
	if d == nil {
		return
	}

	if txn.ExternalID == "" {
		txn.ExternalID = strings.TrimSpace(d.Refs.ServicerRef)
	}

	reference := strings.TrimSpace(d.Remittance.Structured.CreditorRef.Ref)
	if reference == "" {
		if e2e := strings.TrimSpace(d.Refs.EndToEndID); e2e != "" && !strings.EqualFold(e2e, notProvided) {
			reference = e2e
		}
	}
	txn.Reference = normalizer.Reference(reference)

	// The counterparty is whoever is on the other side of the money flow.
	party, account := d.Parties.Creditor, d.Parties.CreditorAcct
	if txn.Direction == repository.DirectionIncoming {
		party, account = d.Parties.Debtor, d.Parties.DebtorAcct
	}
	txn.CounterpartyName = normalizer.CounterpartyName(party.name())
	txn.CounterpartyIBAN = normalizer.IBAN(account.ID.IBAN)

	description := strings.Join(d.Remittance.Unstructured, " ")
	if description == "" {
		description = d.AdditionalInfo
	}
	txn.Description = normalizer.Description(description)
}

func signedAmount(raw, indicator string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	d = d.Abs()
	if strings.EqualFold(strings.TrimSpace(indicator), indicatorDebit) {
		d = d.Neg()
	}
	return d, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := parseTime(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
