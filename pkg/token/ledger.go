package token

import (
	"math/big"
	"sync"
)

// Ledger is an in-memory Token used by tests, the dev server mode, and the
// CLI walkthrough. Balances and allowances are arbitrary-precision.
type Ledger struct {
	mu         sync.Mutex
	decimals   int
	balances   map[string]*big.Int
	allowances map[string]map[string]*big.Int
}

func NewLedger(decimals int) *Ledger {
	return &Ledger{
		decimals:   decimals,
		balances:   map[string]*big.Int{},
		allowances: map[string]map[string]*big.Int{},
	}
}

func (l *Ledger) Decimals() int { return l.decimals }

// Mint credits an account out of thin air. Dev and test seeding only.
func (l *Ledger) Mint(account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

func (l *Ledger) BalanceOf(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) Allowance(owner, spender string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance(owner, spender))
}

func (l *Ledger) Transfer(caller, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(caller, to, amount)
}

func (l *Ledger) TransferFrom(caller, from, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	allowed := l.allowance(from, caller)
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (l *Ledger) Approve(caller, spender string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if l.allowances[caller] == nil {
		l.allowances[caller] = map[string]*big.Int{}
	}
	l.allowances[caller][spender] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) allowance(owner, spender string) *big.Int {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	zero := new(big.Int)
	if l.allowances[owner] == nil {
		l.allowances[owner] = map[string]*big.Int{}
	}
	l.allowances[owner][spender] = zero
	return zero
}

func (l *Ledger) move(from, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(account string, amount *big.Int) {
	if b, ok := l.balances[account]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[account] = new(big.Int).Set(amount)
}
