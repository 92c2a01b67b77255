package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"streampact/pkg/commithash"
	"streampact/pkg/domain"
	"streampact/pkg/streamer"
	"streampact/pkg/token"
)

// Account is the ledger identity the settlement engine pulls client funds
// under. Clients approve this account for the full agreement amount before
// proposing.
const Account = "settlement_engine"

// MinStreamTokenDecimals is the granularity floor: streaming a month-long
// term per second needs sub-unit resolution.
const MinStreamTokenDecimals = 6

type SlotReusePolicy string

const (
	// SlotReuseReject refuses a second agreement at a used slot forever.
	SlotReuseReject SlotReusePolicy = "reject"
	// SlotReuseSubslot lets the same triple negotiate again after
	// termination under a derived sub-slot.
	SlotReuseSubslot SlotReusePolicy = "subslot"
)

var ErrUnknownSlot = errors.New("no agreement at slot")

// pending is the per-slot commitment state: absent from the map means empty,
// present means exactly one unmatched commitment from one party.
type pending struct {
	party domain.Party
	hash  string
}

type Options struct {
	Tokens           map[string]token.Token
	Custodian        streamer.Custodian
	CustodianAccount string
	Now              func() time.Time
	SlotReuse        SlotReusePolicy
	Sink             Sink
}

// Engine is the arbitration entry point. Calls are applied one at a time in
// arrival order; a single mutex is the serialized-ledger execution model.
type Engine struct {
	mu               sync.Mutex
	tokens           map[string]token.Token
	custodian        streamer.Custodian
	custodianAccount string
	now              func() time.Time
	slotReuse        SlotReusePolicy
	sink             Sink

	commitments map[string]pending
	instances   map[string]*agreement
	generations map[string]int
}

func New(opts Options) *Engine {
	e := &Engine{
		tokens:           opts.Tokens,
		custodian:        opts.Custodian,
		custodianAccount: opts.CustodianAccount,
		now:              opts.Now,
		slotReuse:        opts.SlotReuse,
		sink:             opts.Sink,
		commitments:      map[string]pending{},
		instances:        map[string]*agreement{},
		generations:      map[string]int{},
	}
	if e.custodianAccount == "" {
		e.custodianAccount = streamer.Account
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.slotReuse == "" {
		e.slotReuse = SlotReuseReject
	}
	if e.sink == nil {
		e.sink = SinkFunc(func(Event) {})
	}
	return e
}

type ProposeOutcome struct {
	SlotID          string `json:"slot_id"`
	Commitment      string `json:"commitment"`
	Settled         bool   `json:"settled"`
	InstanceAddress string `json:"instance_address,omitempty"`
	StreamID        string `json:"stream_id,omitempty"`
}

// Slot returns the slot a proposal for the triple would negotiate under,
// accounting for the reuse policy's generation counter.
func (e *Engine) Slot(nonce string, provider, client domain.Party) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	base := commithash.SlotID(nonce, provider, client)
	return commithash.SubSlot(base, e.generations[base])
}

// Propose records the caller's commitment to the full terms, or settles the
// agreement when it matches the counterparty's outstanding commitment.
// Before a match the call moves no funds and is idempotent per caller.
func (e *Engine) Propose(terms domain.AgreementTerms, caller domain.Party) (ProposeOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	counterparty, err := terms.Counterparty(caller)
	if err != nil {
		return ProposeOutcome{}, err
	}
	if terms.TermLengthSeconds <= 0 {
		return ProposeOutcome{}, domain.ErrInvalidTermLength
	}
	tok, ok := e.tokens[terms.StreamToken]
	if !ok {
		return ProposeOutcome{}, token.ErrUnknownToken
	}
	if tok.Decimals() < MinStreamTokenDecimals {
		return ProposeOutcome{}, domain.ErrIncompatibleToken
	}
	if terms.TotalStreamedTokens == nil || terms.TotalStreamedTokens.Sign() <= 0 {
		return ProposeOutcome{}, token.ErrNegativeAmount
	}

	base := commithash.SlotID(terms.Nonce, terms.Provider, terms.Client)
	slot := commithash.SubSlot(base, e.generations[base])

	expected, err := commithash.Commitment(counterparty, terms)
	if err != nil {
		return ProposeOutcome{}, err
	}
	cur, exists := e.commitments[slot]
	if !exists || cur.hash != expected {
		// First proposal, a resubmission, or a conflicting counter-proposal:
		// overwrite the slot's pending commitment and wait.
		mine, err := commithash.Commitment(caller, terms)
		if err != nil {
			return ProposeOutcome{}, err
		}
		e.commitments[slot] = pending{party: caller, hash: mine}
		e.emit(Event{Type: EventProposed, SlotID: slot, Actor: caller, Payload: map[string]any{
			"commitment": mine,
			"nonce":      terms.Nonce,
			"provider":   terms.Provider,
			"client":     terms.Client,
			"terms":      terms,
		}})
		return ProposeOutcome{SlotID: slot, Commitment: mine}, nil
	}

	out, err := e.settle(terms, slot, tok)
	if err != nil {
		// The whole propose call is all-or-nothing; the counterparty's
		// commitment stays pending.
		return ProposeOutcome{}, err
	}
	delete(e.commitments, slot)
	out.Commitment = expected
	return out, nil
}

// settle runs only on a matched commitment: split off the rounding
// remainder, pre-position the stream deposit at the deterministic instance
// address, then instantiate and start the stream. Every failure mode is
// checked before any funds move.
func (e *Engine) settle(terms domain.AgreementTerms, slot string, tok token.Token) (ProposeOutcome, error) {
	if _, occupied := e.instances[slot]; occupied {
		return ProposeOutcome{}, domain.ErrSlotAlreadyOccupied
	}

	seconds := big.NewInt(terms.TermLengthSeconds)
	remainder := new(big.Int).Mod(terms.TotalStreamedTokens, seconds)
	deposit := new(big.Int).Sub(terms.TotalStreamedTokens, remainder)
	if deposit.Sign() == 0 {
		return ProposeOutcome{}, streamer.ErrZeroRate
	}

	clientAcct := string(terms.Client)
	if tok.BalanceOf(clientAcct).Cmp(terms.TotalStreamedTokens) < 0 {
		return ProposeOutcome{}, token.ErrInsufficientBalance
	}
	if tok.Allowance(clientAcct, Account).Cmp(terms.TotalStreamedTokens) < 0 {
		return ProposeOutcome{}, token.ErrInsufficientAllowance
	}

	// Fund movement is ordered so that every step before the last leaves the
	// moved funds at an engine-controlled address: the deposit lands at the
	// instance address first, the remainder goes out to the provider last.
	// A later failure unwinds through the instance address back to the client.
	addr := commithash.InstanceAddress(slot)
	if err := tok.TransferFrom(Account, clientAcct, addr, deposit); err != nil {
		return ProposeOutcome{}, err
	}

	ag := &agreement{
		e:              e,
		slotID:         slot,
		baseSlotID:     commithash.SlotID(terms.Nonce, terms.Provider, terms.Client),
		address:        addr,
		provider:       terms.Provider,
		client:         terms.Client,
		contractURI:    terms.ContractURI,
		tokenID:        terms.StreamToken,
		clauses:        terms.TerminationClauses,
		atWillNoticeAt: map[domain.Party]time.Time{},
		breachNoticeAt: map[domain.Party]time.Time{},
	}
	if err := ag.initialize(tok, deposit, terms.TermLengthSeconds); err != nil {
		_ = tok.Transfer(addr, clientAcct, deposit)
		return ProposeOutcome{}, err
	}
	if remainder.Sign() > 0 {
		if err := tok.TransferFrom(Account, clientAcct, string(terms.Provider), remainder); err != nil {
			// Nothing has streamed yet, so cancellation refunds the whole
			// deposit to the instance address for the sweep back.
			_ = e.custodian.CancelStream(addr, ag.streamID)
			if bal := tok.BalanceOf(addr); bal.Sign() > 0 {
				_ = tok.Transfer(addr, clientAcct, bal)
			}
			return ProposeOutcome{}, err
		}
	}
	e.instances[slot] = ag

	e.emit(Event{Type: EventInitiated, SlotID: slot, Payload: map[string]any{
		"nonce":            terms.Nonce,
		"provider":         terms.Provider,
		"client":           terms.Client,
		"contract_uri":     terms.ContractURI,
		"stream_token":     terms.StreamToken,
		"instance_address": addr,
		"stream_id":        ag.streamID,
	}})
	return ProposeOutcome{SlotID: slot, Settled: true, InstanceAddress: addr, StreamID: ag.streamID}, nil
}

func (e *Engine) emit(ev Event) {
	ev.At = e.now()
	e.sink.Emit(ev)
}

func (e *Engine) lookup(slotID string) (*agreement, error) {
	ag, ok := e.instances[slotID]
	if !ok {
		return nil, ErrUnknownSlot
	}
	return ag, nil
}

// afterTermination advances the generation counter so the triple can
// negotiate again under a derived sub-slot.
func (e *Engine) afterTermination(ag *agreement) {
	if e.slotReuse == SlotReuseSubslot && ag.terminated {
		e.generations[ag.baseSlotID]++
	}
}

func (e *Engine) TerminateByMutualConsent(slotID string, caller domain.Party, reasonText string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	if err := ag.mutualConsent(caller, reasonText); err != nil {
		return err
	}
	e.afterTermination(ag)
	return nil
}

func (e *Engine) IssueNoticeOfTermination(slotID string, caller domain.Party, info string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	return ag.issueAtWillNotice(caller, info)
}

func (e *Engine) TerminateAtWill(slotID string, caller domain.Party) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	if err := ag.terminateAtWill(caller); err != nil {
		return err
	}
	e.afterTermination(ag)
	return nil
}

func (e *Engine) IssueNoticeOfMaterialBreach(slotID string, caller domain.Party, info string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	return ag.issueBreachNotice(caller, info)
}

func (e *Engine) WithdrawNoticeOfMaterialBreach(slotID string, caller domain.Party, info string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	return ag.withdrawBreachNotice(caller, info)
}

func (e *Engine) IssueNoticeOfCure(slotID string, caller domain.Party, info string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	return ag.issueCureNotice(caller, info)
}

func (e *Engine) TerminateByMaterialBreach(slotID string, caller domain.Party) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	if err := ag.terminateByMaterialBreach(caller); err != nil {
		return err
	}
	e.afterTermination(ag)
	return nil
}

func (e *Engine) RageTerminate(slotID string, caller domain.Party, reason domain.TerminationReason, info string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	if err := ag.rageTerminate(caller, reason, info); err != nil {
		return err
	}
	e.afterTermination(ag)
	return nil
}

// EmergencyRecoverTokens sweeps the instance's balance of the given token to
// the client. Callable by anyone; causes no state transition. It exists to
// recover funds after the custodian cancelled the stream out-of-band.
func (e *Engine) EmergencyRecoverTokens(slotID, tokenID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return err
	}
	tok, ok := e.tokens[tokenID]
	if !ok {
		return token.ErrUnknownToken
	}
	bal := tok.BalanceOf(ag.address)
	if bal.Sign() == 0 {
		return nil
	}
	return tok.Transfer(ag.address, string(ag.client), bal)
}

func (e *Engine) View(slotID string) (AgreementView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ag, err := e.lookup(slotID)
	if err != nil {
		return AgreementView{}, err
	}
	return ag.view(), nil
}

func (e *Engine) streamToken(streamID string) (token.Token, string, error) {
	s, err := e.custodian.GetStream(streamID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrStreamCancellationFailed, err)
	}
	tok, ok := e.tokens[s.Token]
	if !ok {
		return nil, "", token.ErrUnknownToken
	}
	return tok, s.Token, nil
}
