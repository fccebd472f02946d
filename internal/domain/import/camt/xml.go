package camt

import (
	"strings"
	"time"
)

// Element names follow camt.053.001.02 through .08. Tags carry no namespace so
// every schema version decodes into the same structs.

type xmlDocument struct {
	Statement struct {
		Stmts []xmlStmt `xml:"Stmt"`
	} `xml:"BkToCstmrStmt"`
}

type xmlStmt struct {
	ID            string `xml:"Id"`
	ElectronicSeq string `xml:"ElctrncSeqNb"`
	LegalSeq      string `xml:"LglSeqNb"`
	CreatedAt     string `xml:"CreDtTm"`
	Period        struct {
		From string `xml:"FrDtTm"`
		To   string `xml:"ToDtTm"`
	} `xml:"FrToDt"`
	Acct struct {
		ID       xmlAccountID `xml:"Id"`
		Currency string       `xml:"Ccy"`
		Owner    struct {
			Name string `xml:"Nm"`
		} `xml:"Ownr"`
	} `xml:"Acct"`
	Balances []xmlBalance `xml:"Bal"`
	Entries  []xmlEntry   `xml:"Ntry"`
}

type xmlAccountID struct {
	IBAN string `xml:"IBAN"`
}

type xmlAmount struct {
	Value    string `xml:",chardata"`
	Currency string `xml:"Ccy,attr"`
}

type xmlBalance struct {
	Type      xmlBalanceType `xml:"Tp"`
	Amount    xmlAmount      `xml:"Amt"`
	Indicator string         `xml:"CdtDbtInd"`
	Date      xmlDate        `xml:"Dt"`
}

type xmlBalanceType struct {
	CdOrPrtry struct {
		Cd    string `xml:"Cd"`
		Prtry string `xml:"Prtry"`
	} `xml:"CdOrPrtry"`
}

// Code returns the balance type code, falling back to the proprietary value.
func (t xmlBalanceType) Code() string {
	if c := strings.TrimSpace(t.CdOrPrtry.Cd); c != "" {
		return strings.ToUpper(c)
	}
	return strings.ToUpper(strings.TrimSpace(t.CdOrPrtry.Prtry))
}

type xmlEntry struct {
	Amount         xmlAmount `xml:"Amt"`
	Indicator      string    `xml:"CdtDbtInd"`
	Status         xmlStatus `xml:"Sts"`
	BookingDate    xmlDate   `xml:"BookgDt"`
	ValueDate      xmlDate   `xml:"ValDt"`
	ServicerRef    string    `xml:"AcctSvcrRef"`
	AdditionalInfo string    `xml:"AddtlNtryInf"`
	Details        struct {
		Tx []xmlTxDetails `xml:"TxDtls"`
	} `xml:"NtryDtls"`
}

type xmlTxDetails struct {
	Refs struct {
		ServicerRef string `xml:"AcctSvcrRef"`
		EndToEndID  string `xml:"EndToEndId"`
	} `xml:"Refs"`
	Parties struct {
		Debtor     xmlParty `xml:"Dbtr"`
		DebtorAcct struct {
			ID xmlAccountID `xml:"Id"`
		} `xml:"DbtrAcct"`
		Creditor     xmlParty `xml:"Cdtr"`
		CreditorAcct struct {
			ID xmlAccountID `xml:"Id"`
		} `xml:"CdtrAcct"`
	} `xml:"RltdPties"`
	Remittance struct {
		Unstructured []string `xml:"Ustrd"`
		Structured   struct {
			CreditorRef struct {
				Ref string `xml:"Ref"`
			} `xml:"CdtrRefInf"`
		} `xml:"Strd"`
	} `xml:"RmtInf"`
	AdditionalInfo string `xml:"AddtlTxInf"`
}

// xmlParty covers both the flat Nm of .02 and the Pty/Nm nesting of .08.
type xmlParty struct {
	Nm  string `xml:"Nm"`
	Pty struct {
		Nm string `xml:"Nm"`
	} `xml:"Pty"`
}

func (p xmlParty) name() string {
	if p.Nm != "" {
		return p.Nm
	}
	return p.Pty.Nm
}

// xmlStatus is plain text in .02 and a Cd child in later versions.
type xmlStatus struct {
	Value string `xml:",chardata"`
	Cd    string `xml:"Cd"`
}

func (s xmlStatus) Code() string {
	if c := strings.TrimSpace(s.Cd); c != "" {
		return strings.ToUpper(c)
	}
	return strings.ToUpper(strings.TrimSpace(s.Value))
}

type xmlDate struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

func (d xmlDate) parse() (*time.Time, error) {
	raw := d.Dt
	if strings.TrimSpace(raw) == "" {
		raw = d.DtTm
	}
	return parseOptionalTime(raw)
}
