package streamer

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"streampact/pkg/token"
)

// Account is the ledger identity the custodian holds deposits under. Senders
// approve this account before opening a stream.
const Account = "stream_custodian"

// InMemory is a reference Custodian backed by the in-process token ledger.
type InMemory struct {
	mu      sync.Mutex
	tokens  map[string]token.Token
	now     func() time.Time
	nextID  int
	streams map[string]Stream
}

func NewInMemory(tokens map[string]token.Token, now func() time.Time) *InMemory {
	if now == nil {
		now = time.Now
	}
	return &InMemory{tokens: tokens, now: now, streams: map[string]Stream{}}
}

func (c *InMemory) CreateStream(sender, recipient string, deposit *big.Int, tokenID string, start, stop time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !stop.After(start) {
		return "", ErrInvalidWindow
	}
	seconds := big.NewInt(int64(stop.Sub(start) / time.Second))
	if new(big.Int).Mod(deposit, seconds).Sign() != 0 {
		return "", ErrIndivisibleDeposit
	}
	rate := new(big.Int).Quo(deposit, seconds)
	if rate.Sign() == 0 {
		return "", ErrZeroRate
	}
	tok, ok := c.tokens[tokenID]
	if !ok {
		return "", token.ErrUnknownToken
	}
	if err := tok.TransferFrom(Account, sender, Account, deposit); err != nil {
		return "", err
	}

	c.nextID++
	id := fmt.Sprintf("stm_%06d", c.nextID)
	c.streams[id] = Stream{
		ID:            id,
		Sender:        sender,
		Recipient:     recipient,
		Deposit:       new(big.Int).Set(deposit),
		Token:         tokenID,
		StartTime:     start,
		StopTime:      stop,
		RatePerSecond: rate,
	}
	return id, nil
}

func (c *InMemory) CancelStream(caller, streamID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[streamID]
	if !ok {
		return ErrStreamNotFound
	}
	if caller != s.Sender && caller != s.Recipient {
		return fmt.Errorf("caller %s is not a stream party", caller)
	}
	earned := c.earned(s)
	unearned := new(big.Int).Sub(s.Deposit, earned)
	tok := c.tokens[s.Token]

	// The custodian holds the full deposit, so neither payout can partially
	// fail; refuse to start if custody has been drained out-of-band.
	if tok.BalanceOf(Account).Cmp(s.Deposit) < 0 {
		return token.ErrInsufficientBalance
	}
	if earned.Sign() > 0 {
		if err := tok.Transfer(Account, s.Recipient, earned); err != nil {
			return err
		}
	}
	if unearned.Sign() > 0 {
		if err := tok.Transfer(Account, s.Sender, unearned); err != nil {
			return err
		}
	}
	delete(c.streams, streamID)
	return nil
}

func (c *InMemory) GetStream(streamID string) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[streamID]
	if !ok {
		return Stream{}, ErrStreamNotFound
	}
	return s, nil
}

func (c *InMemory) earned(s Stream) *big.Int {
	now := c.now()
	if !now.After(s.StartTime) {
		return new(big.Int)
	}
	if !now.Before(s.StopTime) {
		return new(big.Int).Set(s.Deposit)
	}
	elapsed := big.NewInt(int64(now.Sub(s.StartTime) / time.Second))
	return new(big.Int).Mul(s.RatePerSecond, elapsed)
}
