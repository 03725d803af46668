package lending

import (
	"math/big"

	"lendcore/crypto"
)

// Bank returns a copy of the named pool's state.
func (e *Engine) Bank(mint string) (*Bank, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.requireBank(mint)
}

// Position returns a copy of the wallet's position.
func (e *Engine) Position(owner crypto.Address) (*UserPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.requirePosition(owner)
}

// Snapshot returns one entry of the wallet's health history.
func (e *Engine) Snapshot(owner crypto.Address, sequence uint64) (*HealthSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	snapshot, err := e.state.GetHealthSnapshot(owner, sequence)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, ErrSnapshotNotFound
	}
	return snapshot, nil
}

// PoolStatus is a read-only view of a bank's utilisation and current rate.
type PoolStatus struct {
	Mint           string
	TotalDeposits  *big.Int
	TotalBorrowed  *big.Int
	UtilizationBps uint64
	BorrowRateBps  uint64
}

// PoolStatus derives the utilisation and borrow rate a mutation at this
// moment would accrue at. Purely informational; nothing is persisted.
func (e *Engine) PoolStatus(mint string) (*PoolStatus, error) {
	bank, err := e.Bank(mint)
	if err != nil {
		return nil, err
	}
	utilization := UtilizationBps(bank.TotalBorrowed, bank.TotalDeposits)
	return &PoolStatus{
		Mint:           bank.Mint,
		TotalDeposits:  bank.TotalDeposits,
		TotalBorrowed:  bank.TotalBorrowed,
		UtilizationBps: utilization,
		BorrowRateBps:  bank.Curve.BorrowRateBps(utilization),
	}, nil
}
