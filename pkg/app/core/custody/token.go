package custody

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/levelbook/pkg/xerr"
)

// TokenLedger holds fungible payment-token balances and allowances.
type TokenLedger struct {
	v          *Vault
	balances   map[common.Address]map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]map[common.Address]uint256.Int
}

// Create registers a payment token.
func (l *TokenLedger) Create(token common.Address) {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	if _, ok := l.balances[token]; !ok {
		l.balances[token] = make(map[common.Address]uint256.Int)
		l.allowances[token] = make(map[common.Address]map[common.Address]uint256.Int)
	}
}

func (l *TokenLedger) IsToken(token common.Address) bool {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	_, ok := l.balances[token]
	return ok
}

// Mint credits amount to to (a deposit).
func (l *TokenLedger) Mint(token, to common.Address, amount *uint256.Int) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	bal, ok := l.balances[token]
	if !ok {
		return unknownCollection(token)
	}
	cur := bal[to]
	sum, overflow := new(uint256.Int).AddOverflow(&cur, amount)
	if overflow {
		return xerr.New(xerr.InvalidRequest, "balance overflow")
	}
	l.setBalance(token, to, *sum)
	return nil
}

func (l *TokenLedger) BalanceOf(token, owner common.Address) uint256.Int {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	return l.balances[token][owner]
}

func (l *TokenLedger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	if _, ok := l.allowances[token]; !ok {
		return unknownCollection(token)
	}
	l.setAllowance(token, owner, spender, *amount)
	return nil
}

func (l *TokenLedger) Allowance(token, owner, spender common.Address) uint256.Int {
	l.v.mu.RLock()
	defer l.v.mu.RUnlock()
	return l.allowances[token][owner][spender]
}

// TransferFrom moves amount from from to to, spending spender's allowance
// unless spender is from.
func (l *TokenLedger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) error {
	l.v.mu.Lock()
	defer l.v.mu.Unlock()
	bal, ok := l.balances[token]
	if !ok {
		return unknownCollection(token)
	}
	if to == (common.Address{}) {
		return xerr.New(xerr.InvalidRequest, "transfer to the zero address")
	}
	if spender != from {
		allowed := l.allowances[token][from][spender]
		if allowed.Lt(amount) {
			return xerr.New(xerr.PermissionDenied, "insufficient allowance")
		}
		l.setAllowance(token, from, spender, *new(uint256.Int).Sub(&allowed, amount))
	}
	fromBal := bal[from]
	if fromBal.Lt(amount) {
		return xerr.New(xerr.PermissionDenied, "transfer amount exceeds balance")
	}
	l.setBalance(token, from, *new(uint256.Int).Sub(&fromBal, amount))
	toBal := bal[to]
	l.setBalance(token, to, *new(uint256.Int).Add(&toBal, amount))
	return nil
}

func (l *TokenLedger) setBalance(token, owner common.Address, v uint256.Int) {
	bal := l.balances[token]
	prev, existed := bal[owner]
	bal[owner] = v
	l.v.record(func() {
		if existed {
			bal[owner] = prev
		} else {
			delete(bal, owner)
		}
	})
}

func (l *TokenLedger) setAllowance(token, owner, spender common.Address, v uint256.Int) {
	byOwner := l.allowances[token]
	if byOwner[owner] == nil {
		byOwner[owner] = make(map[common.Address]uint256.Int)
	}
	prev := byOwner[owner][spender]
	byOwner[owner][spender] = v
	l.v.record(func() { byOwner[owner][spender] = prev })
}
