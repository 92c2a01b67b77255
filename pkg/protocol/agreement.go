package protocol

import (
	"fmt"
	"math/big"
	"time"

	"streampact/pkg/commithash"
	"streampact/pkg/domain"
	"streampact/pkg/token"
)

// agreement is one funded instance. Born active the instant settlement
// succeeds; reaches the terminal state through exactly one of the four
// termination paths. State is only ever mutated under the engine mutex.
type agreement struct {
	e *Engine

	slotID      string
	baseSlotID  string
	address     string
	provider    domain.Party
	client      domain.Party
	contractURI string
	tokenID     string
	clauses     domain.TerminationClauses
	streamID    string

	initialized       bool
	terminated        bool
	terminationReason domain.TerminationReason

	mutualConsentTerminationID string
	atWillNoticeAt             map[domain.Party]time.Time
	breachNoticeAt             map[domain.Party]time.Time
	breachCureCount            int
}

// initialize approves the custodian for the pre-positioned deposit and opens
// the payout stream to the provider.
func (a *agreement) initialize(tok token.Token, deposit *big.Int, termLengthSeconds int64) error {
	if a.initialized {
		return domain.ErrDoubleInitialization
	}
	if err := tok.Approve(a.address, a.e.custodianAccount, deposit); err != nil {
		return err
	}
	start := a.e.now()
	stop := start.Add(time.Duration(termLengthSeconds) * time.Second)
	streamID, err := a.e.custodian.CreateStream(a.address, string(a.provider), deposit, a.tokenID, start, stop)
	if err != nil {
		return err
	}
	a.streamID = streamID
	a.initialized = true
	return nil
}

func (a *agreement) otherParty(caller domain.Party) (domain.Party, error) {
	switch caller {
	case a.provider:
		return a.client, nil
	case a.client:
		return a.provider, nil
	default:
		return "", domain.ErrUnauthorizedCaller
	}
}

func (a *agreement) guard(caller domain.Party) (domain.Party, error) {
	other, err := a.otherParty(caller)
	if err != nil {
		return "", err
	}
	if a.terminated {
		return "", domain.ErrAgreementTerminated
	}
	return other, nil
}

// mutualConsent terminates when the counterparty has already proposed the
// same reason text; otherwise it records the caller's proposal. A party
// repeating their own reason can never self-terminate because the pending id
// bakes in the proposer's identity.
func (a *agreement) mutualConsent(caller domain.Party, reasonText string) error {
	other, err := a.guard(caller)
	if err != nil {
		return err
	}
	if commithash.TerminationID(other, reasonText) == a.mutualConsentTerminationID {
		return a.terminate(caller, domain.MutualConsent)
	}
	a.mutualConsentTerminationID = commithash.TerminationID(caller, reasonText)
	a.e.emit(Event{Type: EventTerminationProposed, SlotID: a.slotID, Actor: caller, Payload: map[string]any{
		"reason": domain.MutualConsent.String(),
		"info":   reasonText,
	}})
	return nil
}

func (a *agreement) issueAtWillNotice(caller domain.Party, info string) error {
	if _, err := a.guard(caller); err != nil {
		return err
	}
	a.atWillNoticeAt[caller] = a.e.now()
	a.e.emit(Event{Type: EventTerminationProposed, SlotID: a.slotID, Actor: caller, Payload: map[string]any{
		"reason": domain.AtWill.String(),
		"info":   info,
	}})
	return nil
}

func (a *agreement) terminateAtWill(caller domain.Party) error {
	if _, err := a.guard(caller); err != nil {
		return err
	}
	stamp := a.atWillNoticeAt[caller]
	if stamp.IsZero() {
		return domain.ErrCureTimeNotMet
	}
	if a.e.now().Before(stamp.Add(days(a.clauses.AtWillDays))) {
		return domain.ErrCureTimeNotMet
	}
	if err := a.terminate(caller, domain.AtWill); err != nil {
		return err
	}
	delete(a.atWillNoticeAt, caller)
	return nil
}

// issueBreachNotice is repeatable; each call restarts the cure clock.
func (a *agreement) issueBreachNotice(caller domain.Party, info string) error {
	if _, err := a.guard(caller); err != nil {
		return err
	}
	a.breachNoticeAt[caller] = a.e.now()
	a.e.emit(Event{Type: EventTerminationProposed, SlotID: a.slotID, Actor: caller, Payload: map[string]any{
		"reason": domain.MaterialBreach.String(),
		"info":   info,
	}})
	return nil
}

func (a *agreement) withdrawBreachNotice(caller domain.Party, info string) error {
	if _, err := a.guard(caller); err != nil {
		return err
	}
	if a.breachNoticeAt[caller].IsZero() {
		return domain.ErrNoBreachNoticeIssued
	}
	delete(a.breachNoticeAt, caller)
	a.e.emit(Event{Type: EventTerminationProposalWithdrawn, SlotID: a.slotID, Actor: caller, Payload: map[string]any{
		"reason": domain.MaterialBreach.String(),
		"info":   info,
	}})
	return nil
}

// issueCureNotice is called by the accused: it clears the accuser's breach
// notice and spends one unit of the cure allowance.
func (a *agreement) issueCureNotice(caller domain.Party, info string) error {
	other, err := a.guard(caller)
	if err != nil {
		return err
	}
	if a.breachNoticeAt[other].IsZero() {
		return domain.ErrNoBreachNoticeIssued
	}
	delete(a.breachNoticeAt, other)
	a.breachCureCount++
	a.e.emit(Event{Type: EventTerminationProposalWithdrawn, SlotID: a.slotID, Actor: caller, Payload: map[string]any{
		"reason":            domain.MaterialBreach.String(),
		"info":              info,
		"cured":             true,
		"breach_cure_count": a.breachCureCount,
	}})
	return nil
}

// terminateByMaterialBreach requires the caller's own notice to have aged
// past the cure window and the accused to have exhausted the cure allowance.
func (a *agreement) terminateByMaterialBreach(caller domain.Party) error {
	if _, err := a.guard(caller); err != nil {
		return err
	}
	stamp := a.breachNoticeAt[caller]
	if stamp.IsZero() {
		return domain.ErrCureTimeNotMet
	}
	if !a.e.now().After(stamp.Add(days(a.clauses.CureTimeDays))) {
		return domain.ErrCureTimeNotMet
	}
	if a.breachCureCount < domain.MaxCureAllowance {
		return domain.ErrCureTimeNotMet
	}
	if err := a.terminate(caller, domain.MaterialBreach); err != nil {
		return err
	}
	delete(a.breachNoticeAt, caller)
	return nil
}

func (a *agreement) rageTerminate(caller domain.Party, reason domain.TerminationReason, info string) error {
	if _, err := a.guard(caller); err != nil {
		return err
	}
	if !reason.IsRage() {
		return domain.ErrRageTerminationNotAllowed
	}
	if !a.clauses.Allows(reason) {
		return domain.ErrRageTerminationNotAllowed
	}
	a.e.emit(Event{Type: EventRageTermination, SlotID: a.slotID, Actor: caller, Payload: map[string]any{
		"reason": reason.String(),
		"info":   info,
	}})
	return a.terminate(caller, reason)
}

// terminate is the common effect: cancel the stream, sweep the instance's
// remaining balance to the client, flip to the terminal state.
func (a *agreement) terminate(terminator domain.Party, reason domain.TerminationReason) error {
	tok, _, err := a.e.streamToken(a.streamID)
	if err != nil {
		return err
	}
	if err := a.e.custodian.CancelStream(a.address, a.streamID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStreamCancellationFailed, err)
	}
	if bal := tok.BalanceOf(a.address); bal.Sign() > 0 {
		if err := tok.Transfer(a.address, string(a.client), bal); err != nil {
			return err
		}
	}
	a.terminated = true
	a.terminationReason = reason
	a.e.emit(Event{Type: EventAgreementTerminated, SlotID: a.slotID, Actor: terminator, Payload: map[string]any{
		"reason": reason.String(),
	}})
	return nil
}

type AgreementView struct {
	SlotID                     string                      `json:"slot_id"`
	InstanceAddress            string                      `json:"instance_address"`
	Provider                   domain.Party                `json:"provider"`
	Client                     domain.Party                `json:"client"`
	ContractURI                string                      `json:"contract_uri"`
	StreamToken                string                      `json:"stream_token"`
	StreamID                   string                      `json:"stream_id"`
	TerminationClauses         domain.TerminationClauses   `json:"termination_clauses"`
	Status                     string                      `json:"status"`
	TerminationReason          string                      `json:"termination_reason,omitempty"`
	MutualConsentTerminationID string                      `json:"mutual_consent_termination_id,omitempty"`
	AtWillNoticeAt             map[domain.Party]time.Time  `json:"at_will_notice_at,omitempty"`
	BreachNoticeAt             map[domain.Party]time.Time  `json:"breach_notice_at,omitempty"`
	BreachCureCount            int                         `json:"breach_cure_count"`
}

func (a *agreement) view() AgreementView {
	v := AgreementView{
		SlotID:                     a.slotID,
		InstanceAddress:            a.address,
		Provider:                   a.provider,
		Client:                     a.client,
		ContractURI:                a.contractURI,
		StreamToken:                a.tokenID,
		StreamID:                   a.streamID,
		TerminationClauses:         a.clauses,
		Status:                     "ACTIVE",
		MutualConsentTerminationID: a.mutualConsentTerminationID,
		AtWillNoticeAt:             map[domain.Party]time.Time{},
		BreachNoticeAt:             map[domain.Party]time.Time{},
		BreachCureCount:            a.breachCureCount,
	}
	if a.terminated {
		v.Status = "TERMINATED"
		v.TerminationReason = a.terminationReason.String()
	}
	for p, t := range a.atWillNoticeAt {
		v.AtWillNoticeAt[p] = t
	}
	for p, t := range a.breachNoticeAt {
		v.BreachNoticeAt[p] = t
	}
	return v
}

func days(n int64) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
