package domain

import (
	"math/big"
	"strings"
)

// Party is an account identity on the settlement ledger.
type Party string

type AgreementTerms struct {
	Nonce               string             `json:"nonce"`
	Provider            Party              `json:"provider"`
	Client              Party              `json:"client"`
	ContractURI         string             `json:"contract_uri"`
	TermLengthSeconds   int64              `json:"term_length_seconds"`
	StreamToken         string             `json:"stream_token"`
	TotalStreamedTokens *big.Int           `json:"total_streamed_tokens"`
	TerminationClauses  TerminationClauses `json:"termination_clauses"`
}

type TerminationClauses struct {
	AtWillDays   int64 `json:"at_will_days"`
	CureTimeDays int64 `json:"cure_time_days"`

	LegalCompulsion                 bool `json:"legal_compulsion"`
	MoralTurpitude                  bool `json:"moral_turpitude"`
	BankruptcyDissolutionInsolvency bool `json:"bankruptcy_dissolution_insolvency"`
	CounterpartyMalfeasance         bool `json:"counterparty_malfeasance"`
	LossOfKeyControl                bool `json:"loss_of_key_control"`
}

// Counterparty returns the other party to the agreement, or
// ErrUnauthorizedCaller when the caller is neither provider nor client.
func (t AgreementTerms) Counterparty(caller Party) (Party, error) {
	switch caller {
	case t.Provider:
		return t.Client, nil
	case t.Client:
		return t.Provider, nil
	default:
		return "", ErrUnauthorizedCaller
	}
}

type TerminationReason int

const (
	MutualConsent TerminationReason = iota
	MaterialBreach
	AtWill
	LegalCompulsion
	MoralTurpitude
	Bankruptcy
	Dissolution
	Insolvency
	CounterpartyMalfeasance
	LossOfKeyControl
)

// MaxCureAllowance is the number of cures an accused party may perform
// before the accuser can terminate for material breach.
const MaxCureAllowance = 3

var reasonNames = map[TerminationReason]string{
	MutualConsent:           "MUTUAL_CONSENT",
	MaterialBreach:          "MATERIAL_BREACH",
	AtWill:                  "AT_WILL",
	LegalCompulsion:         "LEGAL_COMPULSION",
	MoralTurpitude:          "MORAL_TURPITUDE",
	Bankruptcy:              "BANKRUPTCY",
	Dissolution:             "DISSOLUTION",
	Insolvency:              "INSOLVENCY",
	CounterpartyMalfeasance: "COUNTERPARTY_MALFEASANCE",
	LossOfKeyControl:        "LOSS_OF_KEY_CONTROL",
}

func (r TerminationReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

func ParseTerminationReason(s string) (TerminationReason, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for r, name := range reasonNames {
		if name == s {
			return r, true
		}
	}
	return 0, false
}

// IsRage reports whether the reason is one of the enumerated rage reasons.
// The three default reasons each have a dedicated termination path.
func (r TerminationReason) IsRage() bool {
	return r >= LegalCompulsion && r <= LossOfKeyControl
}

// Allows reports whether the clauses permit a rage termination for the
// given reason. Non-rage reasons are never allowed here.
func (c TerminationClauses) Allows(r TerminationReason) bool {
	switch r {
	case LegalCompulsion:
		return c.LegalCompulsion
	case MoralTurpitude:
		return c.MoralTurpitude
	case Bankruptcy, Dissolution, Insolvency:
		return c.BankruptcyDissolutionInsolvency
	case CounterpartyMalfeasance:
		return c.CounterpartyMalfeasance
	case LossOfKeyControl:
		return c.LossOfKeyControl
	default:
		return false
	}
}
