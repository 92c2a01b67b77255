package token

import (
	"errors"
	"math/big"
)

// Token is the fungible-token collaborator. Every operation names the acting
// account explicitly; failures abort the caller's operation rather than being
// swallowed.
type Token interface {
	Decimals() int
	BalanceOf(account string) *big.Int
	Allowance(owner, spender string) *big.Int
	Transfer(caller, to string, amount *big.Int) error
	TransferFrom(caller, from, to string, amount *big.Int) error
	Approve(caller, spender string, amount *big.Int) error
}

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrNegativeAmount        = errors.New("token amount must not be negative")
	ErrUnknownToken          = errors.New("unknown stream token")
)
