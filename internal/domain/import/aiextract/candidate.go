package aiextract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/fiskal-ledger/pkg/money"
)

// ErrInvalidResponse is returned when the model output does not match the
// page schema. It is a hard failure for that page.
var ErrInvalidResponse = errors.New("invalid model response")

// CandidateMetadata is statement-level data the model saw on a page.
type CandidateMetadata struct {
	SequenceNumber string
	StatementDate  *time.Time
}

// CandidateTransaction is one validated transaction line. Amount is a magnitude.
type CandidateTransaction struct {
	Date             time.Time
	Payee            string
	Description      string
	Amount           decimal.Decimal
	Direction        repository.Direction
	Reference        string
	CounterpartyIBAN string
}

// PageCandidate is the validated extraction of one page.
type PageCandidate struct {
	Metadata     *CandidateMetadata
	StartBalance *decimal.Decimal
	EndBalance   *decimal.Decimal
	Transactions []CandidateTransaction
}

// BankTransactions converts the candidate lines into ledger rows for a page.
func (c *PageCandidate) BankTransactions(page int, currency string, confidence float64) []repository.BankTransaction {
	out := make([]repository.BankTransaction, 0, len(c.Transactions))
	for _, t := range c.Transactions {
		description := normalizer.Description(t.Description)
		if description == "" {
			description = normalizer.Description(t.Payee)
		}
		out = append(out, repository.BankTransaction{
			PageNumber:       page,
			Date:             t.Date,
			Description:      description,
			Amount:           t.Amount,
			Direction:        t.Direction,
			Currency:         currency,
			Reference:        normalizer.Reference(t.Reference),
			CounterpartyName: normalizer.CounterpartyName(t.Payee),
			CounterpartyIBAN: normalizer.IBAN(t.CounterpartyIBAN),
			MatchStatus:      repository.MatchStatusUnmatched,
			ConfidenceScore:  confidence,
		})
	}
	return out
}

// Wire shapes. Amounts arrive as JSON numbers or as Croatian formatted strings.

type wireResponse struct {
	Metadata         *wireMetadata      `json:"metadata,omitempty"`
	PageStartBalance *flexAmount        `json:"pageStartBalance"`
	PageEndBalance   *flexAmount        `json:"pageEndBalance"`
	Transactions     *[]wireTransaction `json:"transactions"`
}

type wireMetadata struct {
	SequenceNumber flexString `json:"sequenceNumber,omitempty"`
	StatementDate  string     `json:"statementDate,omitempty"`
}

type wireTransaction struct {
	Date             string      `json:"date"`
	Payee            string      `json:"payee,omitempty"`
	Description      string      `json:"description,omitempty"`
	Amount           *flexAmount `json:"amount"`
	Direction        string      `json:"direction,omitempty"`
	Reference        string      `json:"reference,omitempty"`
	CounterpartyIBAN string      `json:"counterpartyIban,omitempty"`
}

type flexAmount struct {
	decimal.Decimal
}

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d, err := money.ParseAmount(s)
		if err != nil {
			return err
		}
		a.Decimal = d
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("invalid amount %s", b)
	}
	a.Decimal = d
	return nil
}

func (a flexAmount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(money.Scale)), nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("invalid sequence number %s", b)
	}
	*s = flexString(b)
	return nil
}

var dateLayouts = []string{"2006-01-02", "2.1.2006.", "2.1.2006", "2/1/2006", "2006-01-02T15:04:05Z07:00"}

func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

func parseDirection(raw string, amount decimal.Decimal) (repository.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INCOMING", "IN", "CREDIT", "CRDT", "UPLATA", "POTRAZUJE", "POTRAŽUJE":
		return repository.DirectionIncoming, nil
	case "OUTGOING", "OUT", "DEBIT", "DBIT", "ISPLATA", "DUGUJE":
		return repository.DirectionOutgoing, nil
	case "":
		if amount.IsNegative() {
			return repository.DirectionOutgoing, nil
		}
		return repository.DirectionIncoming, nil
	}
	return "", fmt.Errorf("invalid direction %q", raw)
}

// Decode validates raw model output against the page schema.
func Decode(raw string) (*PageCandidate, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	if strings.HasPrefix(s, "```") {
		return nil, fmt.Errorf("%w: markdown fence", ErrInvalidResponse)
	}
	if s[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidResponse)
	}

	var w wireResponse
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if w.Transactions == nil {
		return nil, fmt.Errorf("%w: transactions missing", ErrInvalidResponse)
	}

	c := &PageCandidate{Transactions: make([]CandidateTransaction, 0, len(*w.Transactions))}
	if w.PageStartBalance != nil {
		d := w.PageStartBalance.Decimal
		c.StartBalance = &d
	}
	if w.PageEndBalance != nil {
		d := w.PageEndBalance.Decimal
		c.EndBalance = &d
	}
	if w.Metadata != nil {
		c.Metadata = &CandidateMetadata{SequenceNumber: string(w.Metadata.SequenceNumber)}
		if w.Metadata.StatementDate != "" {
			if d, err := parseDate(w.Metadata.StatementDate); err == nil {
				c.Metadata.StatementDate = &d
			}
		}
	}

	for i, wt := range *w.Transactions {
		t, err := validateTransaction(wt)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %v", ErrInvalidResponse, i+1, err)
		}
		c.Transactions = append(c.Transactions, t)
	}
	return c, nil
}

func validateTransaction(wt wireTransaction) (CandidateTransaction, error) {
	if wt.Amount == nil {
		return CandidateTransaction{}, errors.New("missing amount")
	}
	date, err := parseDate(wt.Date)
	if err != nil {
		return CandidateTransaction{}, err
	}
	direction, err := parseDirection(wt.Direction, wt.Amount.Decimal)
	if err != nil {
		return CandidateTransaction{}, err
	}
	return CandidateTransaction{
		Date:             date,
		Payee:            strings.TrimSpace(wt.Payee),
		Description:      strings.TrimSpace(wt.Description),
		Amount:           wt.Amount.Abs(),
		Direction:        direction,
		Reference:        strings.TrimSpace(wt.Reference),
		CounterpartyIBAN: strings.TrimSpace(wt.CounterpartyIBAN),
	}, nil
}

// Encode renders a candidate in the wire shape, used as the correction hint
// for the vision pass.
func Encode(c *PageCandidate) ([]byte, error) {
	w := wireResponse{}
	if c.StartBalance != nil {
		w.PageStartBalance = &flexAmount{*c.StartBalance}
	}
	if c.EndBalance != nil {
		w.PageEndBalance = &flexAmount{*c.EndBalance}
	}
	if c.Metadata != nil {
		w.Metadata = &wireMetadata{SequenceNumber: flexString(c.Metadata.SequenceNumber)}
		if c.Metadata.StatementDate != nil {
			w.Metadata.StatementDate = c.Metadata.StatementDate.Format("2006-01-02")
		}
	}
	txns := make([]wireTransaction, 0, len(c.Transactions))
	for _, t := range c.Transactions {
		amount := flexAmount{t.Amount}
		txns = append(txns, wireTransaction{
			Date:             t.Date.Format("2006-01-02"),
			Payee:            t.Payee,
			Description:      t.Description,
			Amount:           &amount,
			Direction:        string(t.Direction),
			Reference:        t.Reference,
			CounterpartyIBAN: t.CounterpartyIBAN,
		})
	}
	w.Transactions = &txns
	return json.Marshal(w)
}
