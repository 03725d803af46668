package types

import "math/big"

// Account is a token-ledger record tracking liquid balances per mint. The
// lending engine moves funds between user accounts and module vault accounts
// through this record; settlement itself is owned by the hosting ledger.
type Account struct {
	Balances map[string]*big.Int
}

// NewAccount returns an account with an initialised balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the balance held for the given mint, treating missing
// entries as zero.
func (a *Account) Balance(mint string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[mint]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance records the balance for the given mint.
func (a *Account) SetBalance(mint string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	a.Balances[mint] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := NewAccount()
	for mint, bal := range a.Balances {
		if bal != nil {
			clone.Balances[mint] = new(big.Int).Set(bal)
		}
	}
	return clone
}
