package protocol_test

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streampact/pkg/domain"
	"streampact/pkg/protocol"
	"streampact/pkg/streamer"
	"streampact/pkg/token"
)

const (
	devToken = "tok_dev"
	provider = domain.Party("acc_provider")
	client   = domain.Party("acc_client")
)

type fixture struct {
	now    time.Time
	ledger *token.Ledger
	cust   *streamer.InMemory
	log    *protocol.Log
	eng    *protocol.Engine
}

func newFixture(t *testing.T, policy protocol.SlotReusePolicy) *fixture {
	t.Helper()
	f := &fixture{now: time.Unix(1_700_000_000, 0).UTC()}
	nowFn := func() time.Time { return f.now }
	f.ledger = token.NewLedger(18)
	tokens := map[string]token.Token{devToken: f.ledger}
	f.cust = streamer.NewInMemory(tokens, nowFn)
	f.log = protocol.NewLog()
	f.eng = protocol.New(protocol.Options{
		Tokens:    tokens,
		Custodian: f.cust,
		Now:       nowFn,
		SlotReuse: policy,
		Sink:      f.log,
	})
	return f
}

func (f *fixture) fundClient(t *testing.T, amount *big.Int) {
	t.Helper()
	f.ledger.Mint(string(client), amount)
	require.NoError(t, f.ledger.Approve(string(client), protocol.Account, amount))
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) eventTypes() []protocol.EventType {
	var out []protocol.EventType
	for _, e := range f.log.Events() {
		out = append(out, e.Type)
	}
	return out
}

func baseTerms() domain.AgreementTerms {
	return domain.AgreementTerms{
		Nonce:               "n-1",
		Provider:            provider,
		Client:              client,
		ContractURI:         "ipfs://sow-v1",
		TermLengthSeconds:   1000,
		StreamToken:         devToken,
		TotalStreamedTokens: big.NewInt(1_000_003),
		TerminationClauses: domain.TerminationClauses{
			AtWillDays:   3,
			CureTimeDays: 7,
		},
	}
}

// settleBase drives both parties through identical proposals.
func (f *fixture) settleBase(t *testing.T, terms domain.AgreementTerms) protocol.ProposeOutcome {
	t.Helper()
	f.fundClient(t, terms.TotalStreamedTokens)
	first, err := f.eng.Propose(terms, provider)
	require.NoError(t, err)
	require.False(t, first.Settled)
	out, err := f.eng.Propose(terms, client)
	require.NoError(t, err)
	require.True(t, out.Settled)
	return out
}

func TestProposeMatchSettlesExactlyOnce(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	terms := baseTerms()
	f.fundClient(t, terms.TotalStreamedTokens)

	first, err := f.eng.Propose(terms, provider)
	require.NoError(t, err)
	require.False(t, first.Settled)
	require.NotEmpty(t, first.Commitment)
	// No funds move before a match.
	require.Zero(t, f.ledger.BalanceOf(string(provider)).Sign())
	require.Equal(t, terms.TotalStreamedTokens, f.ledger.BalanceOf(string(client)))

	out, err := f.eng.Propose(terms, client)
	require.NoError(t, err)
	require.True(t, out.Settled)
	require.Equal(t, first.SlotID, out.SlotID)
	require.NotEmpty(t, out.StreamID)

	// remainder = 1_000_003 mod 1000 straight to the provider; the rest is
	// in custody backing the stream.
	require.Equal(t, big.NewInt(3), f.ledger.BalanceOf(string(provider)))
	require.Zero(t, f.ledger.BalanceOf(string(client)).Sign())
	require.Equal(t, big.NewInt(1_000_000), f.ledger.BalanceOf(streamer.Account))
	require.Zero(t, f.ledger.BalanceOf(out.InstanceAddress).Sign())

	require.Equal(t, []protocol.EventType{protocol.EventProposed, protocol.EventInitiated}, f.eventTypes())
}

func TestSamePartyRepeatingNeverSettles(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	terms := baseTerms()
	f.fundClient(t, terms.TotalStreamedTokens)

	for i := 0; i < 3; i++ {
		out, err := f.eng.Propose(terms, provider)
		require.NoError(t, err)
		require.False(t, out.Settled)
	}
	require.Equal(t, terms.TotalStreamedTokens, f.ledger.BalanceOf(string(client)))
}

func TestConflictingTermsOverwriteSlot(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	terms := baseTerms()
	f.fundClient(t, terms.TotalStreamedTokens)

	_, err := f.eng.Propose(terms, provider)
	require.NoError(t, err)

	counter := terms
	counter.ContractURI = "ipfs://sow-v2"
	out, err := f.eng.Propose(counter, client)
	require.NoError(t, err)
	require.False(t, out.Settled, "differing terms are a competing proposal, not a match")

	// The provider accepting the counter-proposal settles.
	out, err = f.eng.Propose(counter, provider)
	require.NoError(t, err)
	require.True(t, out.Settled)
}

func TestProposePreconditions(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	terms := baseTerms()

	_, err := f.eng.Propose(terms, "acc_stranger")
	require.ErrorIs(t, err, domain.ErrUnauthorizedCaller)

	zero := terms
	zero.TermLengthSeconds = 0
	_, err = f.eng.Propose(zero, provider)
	require.ErrorIs(t, err, domain.ErrInvalidTermLength)

	unknown := terms
	unknown.StreamToken = "tok_missing"
	_, err = f.eng.Propose(unknown, provider)
	require.ErrorIs(t, err, token.ErrUnknownToken)
}

func TestProposeRejectsCoarseToken(t *testing.T) {
	coarse := token.NewLedger(2)
	tokens := map[string]token.Token{"tok_coarse": coarse}
	eng := protocol.New(protocol.Options{
		Tokens:    tokens,
		Custodian: streamer.NewInMemory(tokens, nil),
	})

	terms := baseTerms()
	terms.StreamToken = "tok_coarse"
	_, err := eng.Propose(terms, provider)
	require.ErrorIs(t, err, domain.ErrIncompatibleToken)
}

func TestRemainderCorrectness(t *testing.T) {
	cases := []struct {
		total     int64
		term      int64
		remainder int64
	}{
		{1_000_003, 1000, 3},
		{2_000_000, 1000, 0},
		{864_007, 86_400, 7},
	}
	for _, tc := range cases {
		f := newFixture(t, protocol.SlotReuseReject)
		terms := baseTerms()
		terms.TermLengthSeconds = tc.term
		terms.TotalStreamedTokens = big.NewInt(tc.total)
		out := f.settleBase(t, terms)

		require.Equal(t, big.NewInt(tc.remainder), f.ledger.BalanceOf(string(provider)))
		s, err := f.cust.GetStream(out.StreamID)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(tc.total-tc.remainder), s.Deposit)
		require.Zero(t, new(big.Int).Mod(s.Deposit, big.NewInt(tc.term)).Sign())
	}
}

func TestThirtyDayStreamSettlement(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	total, ok := new(big.Int).SetString("2999999999999998944000", 10)
	require.True(t, ok)

	terms := baseTerms()
	terms.TermLengthSeconds = 30 * 24 * 60 * 60
	terms.TotalStreamedTokens = total
	start := f.now

	out := f.settleBase(t, terms)

	// This deposit divides a 30-day term exactly: no remainder.
	require.Zero(t, f.ledger.BalanceOf(string(provider)).Sign())
	s, err := f.cust.GetStream(out.StreamID)
	require.NoError(t, err)
	require.Equal(t, total, s.Deposit)
	require.Equal(t, start, s.StartTime)
	require.Equal(t, start.Add(30*24*time.Hour), s.StopTime)
	require.Equal(t, big.NewInt(1_157_407_407_407_407), s.RatePerSecond)
}

func TestSettledSlotCannotBeReused(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	terms := baseTerms()
	f.settleBase(t, terms)

	f.fundClient(t, terms.TotalStreamedTokens)
	out, err := f.eng.Propose(terms, provider)
	require.NoError(t, err)
	require.False(t, out.Settled)

	_, err = f.eng.Propose(terms, client)
	require.ErrorIs(t, err, domain.ErrSlotAlreadyOccupied)
}

func TestSubslotPolicyAllowsRenegotiationAfterTermination(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseSubslot)
	terms := baseTerms()
	terms.TerminationClauses.LegalCompulsion = true
	first := f.settleBase(t, terms)

	require.NoError(t, f.eng.RageTerminate(first.SlotID, client, domain.LegalCompulsion, "court order"))

	second := f.settleBase(t, terms)
	require.True(t, second.Settled)
	require.NotEqual(t, first.SlotID, second.SlotID)
	require.NotEqual(t, first.InstanceAddress, second.InstanceAddress)
}

func TestSettlementIsAllOrNothing(t *testing.T) {
	f := newFixture(t, protocol.SlotReuseReject)
	terms := baseTerms()

	// Approved in full but underfunded.
	f.ledger.Mint(string(client), big.NewInt(10))
	require.NoError(t, f.ledger.Approve(string(client), protocol.Account, terms.TotalStreamedTokens))

	_, err := f.eng.Propose(terms, provider)
	require.NoError(t, err)
	_, err = f.eng.Propose(terms, client)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	// Nothing moved, and the provider's commitment is still pending: once
	// funded, the client's retry settles without the provider re-proposing.
	require.Equal(t, big.NewInt(10), f.ledger.BalanceOf(string(client)))
	require.Zero(t, f.ledger.BalanceOf(string(provider)).Sign())

	f.ledger.Mint(string(client), new(big.Int).Sub(terms.TotalStreamedTokens, big.NewInt(10)))
	out, err := f.eng.Propose(terms, client)
	require.NoError(t, err)
	require.True(t, out.Settled)
}

var errTransferVetoed = errors.New("transfer refused by token")

// vetoTransfers wraps a token and refuses TransferFrom to chosen
// destinations, standing in for an external token that fails mid-settlement.
type vetoTransfers struct {
	token.Token
	veto func(to string) bool
}

func (v *vetoTransfers) TransferFrom(caller, from, to string, amount *big.Int) error {
	if v.veto(to) {
		return errTransferVetoed
	}
	return v.Token.TransferFrom(caller, from, to, amount)
}

func TestFailedTransferUnwindsSettlement(t *testing.T) {
	cases := []struct {
		name string
		veto func(to string) bool
	}{
		{"deposit transfer refused", func(to string) bool { return strings.HasPrefix(to, "agr_") }},
		{"remainder transfer refused", func(to string) bool { return to == string(provider) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Unix(1_700_000_000, 0).UTC()
			nowFn := func() time.Time { return now }
			ledger := token.NewLedger(18)
			tokens := map[string]token.Token{devToken: &vetoTransfers{Token: ledger, veto: tc.veto}}
			eng := protocol.New(protocol.Options{
				Tokens:    tokens,
				Custodian: streamer.NewInMemory(tokens, nowFn),
				Now:       nowFn,
			})

			terms := baseTerms()
			ledger.Mint(string(client), terms.TotalStreamedTokens)
			require.NoError(t, ledger.Approve(string(client), protocol.Account, terms.TotalStreamedTokens))

			_, err := eng.Propose(terms, provider)
			require.NoError(t, err)
			_, err = eng.Propose(terms, client)
			require.ErrorIs(t, err, errTransferVetoed)

			// Everything the client put up is back where it started: nothing
			// with the provider, nothing stranded in custody or at the
			// instance address.
			require.Equal(t, terms.TotalStreamedTokens, ledger.BalanceOf(string(client)))
			require.Zero(t, ledger.BalanceOf(string(provider)).Sign())
			require.Zero(t, ledger.BalanceOf(streamer.Account).Sign())
		})
	}
}
