package streamer

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"streampact/pkg/token"
)

func newFixture(t *testing.T) (*token.Ledger, *InMemory, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	ledger := token.NewLedger(18)
	cust := NewInMemory(map[string]token.Token{"tok_dev": ledger}, func() time.Time { return now })
	return ledger, cust, &now
}

func TestCreateStreamPullsDeposit(t *testing.T) {
	ledger, cust, now := newFixture(t)
	ledger.Mint("sender", big.NewInt(1000))
	if err := ledger.Approve("sender", Account, big.NewInt(1000)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	id, err := cust.CreateStream("sender", "recipient", big.NewInt(1000), "tok_dev", *now, now.Add(1000*time.Second))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := ledger.BalanceOf("sender"); got.Sign() != 0 {
		t.Fatalf("sender balance = %s", got)
	}
	if got := ledger.BalanceOf(Account); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("custodian balance = %s", got)
	}

	s, err := cust.GetStream(id)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.RatePerSecond.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rate = %s", s.RatePerSecond)
	}
}

func TestCreateStreamRejectsIndivisibleDeposit(t *testing.T) {
	ledger, cust, now := newFixture(t)
	ledger.Mint("sender", big.NewInt(1001))
	_ = ledger.Approve("sender", Account, big.NewInt(1001))

	_, err := cust.CreateStream("sender", "recipient", big.NewInt(1001), "tok_dev", *now, now.Add(1000*time.Second))
	if !errors.Is(err, ErrIndivisibleDeposit) {
		t.Fatalf("expected ErrIndivisibleDeposit, got %v", err)
	}
}

func TestCreateStreamRejectsZeroRate(t *testing.T) {
	ledger, cust, now := newFixture(t)
	ledger.Mint("sender", big.NewInt(0))
	_ = ledger.Approve("sender", Account, big.NewInt(0))

	_, err := cust.CreateStream("sender", "recipient", big.NewInt(0), "tok_dev", *now, now.Add(1000*time.Second))
	if !errors.Is(err, ErrZeroRate) {
		t.Fatalf("expected ErrZeroRate, got %v", err)
	}
}

func TestCancelStreamSplitsEarnedAndUnearned(t *testing.T) {
	ledger, cust, now := newFixture(t)
	ledger.Mint("sender", big.NewInt(1000))
	_ = ledger.Approve("sender", Account, big.NewInt(1000))

	start := *now
	id, err := cust.CreateStream("sender", "recipient", big.NewInt(1000), "tok_dev", start, start.Add(1000*time.Second))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	*now = start.Add(400 * time.Second)
	if err := cust.CancelStream("sender", id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := ledger.BalanceOf("recipient"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("recipient balance = %s", got)
	}
	if got := ledger.BalanceOf("sender"); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("sender balance = %s", got)
	}
	if _, err := cust.GetStream(id); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("stream must no longer exist, got %v", err)
	}
	if err := cust.CancelStream("sender", id); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("second cancel must fail, got %v", err)
	}
}

func TestCancelAfterStopPaysRecipientEverything(t *testing.T) {
	ledger, cust, now := newFixture(t)
	ledger.Mint("sender", big.NewInt(1000))
	_ = ledger.Approve("sender", Account, big.NewInt(1000))

	start := *now
	id, _ := cust.CreateStream("sender", "recipient", big.NewInt(1000), "tok_dev", start, start.Add(1000*time.Second))

	*now = start.Add(5000 * time.Second)
	if err := cust.CancelStream("recipient", id); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := ledger.BalanceOf("recipient"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("recipient balance = %s", got)
	}
}
