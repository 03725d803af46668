package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"lendcore/core/types"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/storage"
)

// Manager persists lending records to a key-value database. Records are RLP
// encoded through storage mirror structs so the wire layout stays stable when
// in-memory types grow convenience fields. It satisfies the lending engine's
// state contract.
type Manager struct {
	db storage.Database
}

// NewManager wraps the database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedBank struct {
	Mint                    string
	TotalDeposits           *big.Int
	TotalBorrowed           *big.Int
	LiquidationThresholdBps uint64
	MaxLTVBps               uint64
	LastAccrualTs           uint64
	BaseRateBps             uint64
	Slope1Bps               uint64
	Slope2Bps               uint64
	OptimalUtilizationBps   uint64
}

type storedPosition struct {
	OwnerPrefix           string
	Owner                 []byte
	CollateralMint        string
	DebtMint              string
	DepositedCollateral   *big.Int
	BorrowedDebt          *big.Int
	HealthFactorBps       uint64
	AlertThresholdBps     uint64
	AlertFrequencySeconds uint64
	MonitoringEnabled     bool
	LastHealthCheckTs     uint64
	LastAlertSentTs       uint64
	HealthHistoryCount    uint64
	BadDebt               bool
}

type storedSnapshot struct {
	UserPrefix           string
	User                 []byte
	SequenceIndex        uint64
	Timestamp            uint64
	HealthFactorBps      uint64
	TotalCollateralValue *big.Int
	TotalBorrowedValue   *big.Int
	CollateralPrice      *big.Int
	DebtPrice            *big.Int
}

type storedAccount struct {
	Mints    []string
	Balances []*big.Int
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key[:4], err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, record interface{}) error {
	raw, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key[:4], err)
	}
	return m.db.Put(key, raw)
}

// GetBank loads a pool record, returning (nil, nil) when absent.
func (m *Manager) GetBank(mint string) (*lending.Bank, error) {
	var stored storedBank
	ok, err := m.get(bankKey(mint), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Bank{
		Mint:                    stored.Mint,
		TotalDeposits:           orZero(stored.TotalDeposits),
		TotalBorrowed:           orZero(stored.TotalBorrowed),
		LiquidationThresholdBps: stored.LiquidationThresholdBps,
		MaxLTVBps:               stored.MaxLTVBps,
		LastAccrualTs:           int64(stored.LastAccrualTs),
		Curve: lending.InterestCurve{
			BaseRateBps:           stored.BaseRateBps,
			Slope1Bps:             stored.Slope1Bps,
			Slope2Bps:             stored.Slope2Bps,
			OptimalUtilizationBps: stored.OptimalUtilizationBps,
		},
	}, nil
}

// PutBank writes a pool record.
func (m *Manager) PutBank(bank *lending.Bank) error {
	if bank == nil {
		return errors.New("state: nil bank")
	}
	return m.put(bankKey(bank.Mint), &storedBank{
		Mint:                    bank.Mint,
		TotalDeposits:           orZero(bank.TotalDeposits),
		TotalBorrowed:           orZero(bank.TotalBorrowed),
		LiquidationThresholdBps: bank.LiquidationThresholdBps,
		MaxLTVBps:               bank.MaxLTVBps,
		LastAccrualTs:           uint64(bank.LastAccrualTs),
		BaseRateBps:             bank.Curve.BaseRateBps,
		Slope1Bps:               bank.Curve.Slope1Bps,
		Slope2Bps:               bank.Curve.Slope2Bps,
		OptimalUtilizationBps:   bank.Curve.OptimalUtilizationBps,
	})
}

// GetPosition loads a position record, returning (nil, nil) when absent.
func (m *Manager) GetPosition(owner crypto.Address) (*lending.UserPosition, error) {
	var stored storedPosition
	ok, err := m.get(positionKey(owner), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.UserPosition{
		Owner:                 crypto.NewAddress(crypto.AddressPrefix(stored.OwnerPrefix), stored.Owner),
		CollateralMint:        stored.CollateralMint,
		DebtMint:              stored.DebtMint,
		DepositedCollateral:   orZero(stored.DepositedCollateral),
		BorrowedDebt:          orZero(stored.BorrowedDebt),
		HealthFactorBps:       stored.HealthFactorBps,
		AlertThresholdBps:     stored.AlertThresholdBps,
		AlertFrequencySeconds: stored.AlertFrequencySeconds,
		MonitoringEnabled:     stored.MonitoringEnabled,
		LastHealthCheckTs:     int64(stored.LastHealthCheckTs),
		LastAlertSentTs:       int64(stored.LastAlertSentTs),
		HealthHistoryCount:    stored.HealthHistoryCount,
		BadDebt:               stored.BadDebt,
	}, nil
}

// PutPosition writes a position record and keeps the per-mint borrower index
// in step with the position's outstanding debt.
func (m *Manager) PutPosition(position *lending.UserPosition) error {
	if position == nil {
		return errors.New("state: nil position")
	}
	err := m.put(positionKey(position.Owner), &storedPosition{
		OwnerPrefix:           string(position.Owner.Prefix()),
		Owner:                 position.Owner.Bytes(),
		CollateralMint:        position.CollateralMint,
		DebtMint:              position.DebtMint,
		DepositedCollateral:   orZero(position.DepositedCollateral),
		BorrowedDebt:          orZero(position.BorrowedDebt),
		HealthFactorBps:       position.HealthFactorBps,
		AlertThresholdBps:     position.AlertThresholdBps,
		AlertFrequencySeconds: position.AlertFrequencySeconds,
		MonitoringEnabled:     position.MonitoringEnabled,
		LastHealthCheckTs:     uint64(position.LastHealthCheckTs),
		LastAlertSentTs:       uint64(position.LastAlertSentTs),
		HealthHistoryCount:    position.HealthHistoryCount,
		BadDebt:               position.BadDebt,
	})
	if err != nil {
		return err
	}
	indebted := position.BorrowedDebt != nil && position.BorrowedDebt.Sign() > 0
	return m.updateBorrowerIndex(position.DebtMint, position.Owner, indebted)
}

type borrowerIndex struct {
	Prefixes []string
	Owners   [][]byte
}

func (m *Manager) updateBorrowerIndex(mint string, owner crypto.Address, indebted bool) error {
	var index borrowerIndex
	if _, err := m.get(borrowerIndexKey(mint), &index); err != nil {
		return err
	}
	pos := -1
	for i, raw := range index.Owners {
		if bytes.Equal(raw, owner.Bytes()) && index.Prefixes[i] == string(owner.Prefix()) {
			pos = i
			break
		}
	}
	switch {
	case indebted && pos < 0:
		index.Prefixes = append(index.Prefixes, string(owner.Prefix()))
		index.Owners = append(index.Owners, owner.Bytes())
	case !indebted && pos >= 0:
		index.Prefixes = append(index.Prefixes[:pos], index.Prefixes[pos+1:]...)
		index.Owners = append(index.Owners[:pos], index.Owners[pos+1:]...)
	default:
		return nil
	}
	sort.Sort(&index)
	return m.put(borrowerIndexKey(mint), &index)
}

func (idx *borrowerIndex) Len() int { return len(idx.Owners) }
func (idx *borrowerIndex) Less(i, j int) bool {
	return bytes.Compare(idx.Owners[i], idx.Owners[j]) < 0
}
func (idx *borrowerIndex) Swap(i, j int) {
	idx.Owners[i], idx.Owners[j] = idx.Owners[j], idx.Owners[i]
	idx.Prefixes[i], idx.Prefixes[j] = idx.Prefixes[j], idx.Prefixes[i]
}

// BorrowerPositions returns every position holding debt in the mint, ordered
// by owner address.
func (m *Manager) BorrowerPositions(debtMint string) ([]*lending.UserPosition, error) {
	var index borrowerIndex
	if _, err := m.get(borrowerIndexKey(debtMint), &index); err != nil {
		return nil, err
	}
	out := make([]*lending.UserPosition, 0, len(index.Owners))
	for i, raw := range index.Owners {
		owner := crypto.NewAddress(crypto.AddressPrefix(index.Prefixes[i]), raw)
		position, err := m.GetPosition(owner)
		if err != nil {
			return nil, err
		}
		if position == nil {
			continue
		}
		out = append(out, position)
	}
	return out, nil
}

// GetAccount loads a token-ledger account, returning (nil, nil) when absent.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.get(accountKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	account := types.NewAccount()
	for i, mint := range stored.Mints {
		account.SetBalance(mint, orZero(stored.Balances[i]))
	}
	return account, nil
}

// PutAccount writes a token-ledger account. Balances are serialised in mint
// order so equal accounts encode to equal bytes.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	mints := make([]string, 0, len(account.Balances))
	for mint := range account.Balances {
		mints = append(mints, mint)
	}
	sort.Strings(mints)
	stored := storedAccount{Mints: mints, Balances: make([]*big.Int, len(mints))}
	for i, mint := range mints {
		stored.Balances[i] = account.Balance(mint)
	}
	return m.put(accountKey(addr), &stored)
}

// PutHealthSnapshot appends a snapshot. History entries are append-only;
// writing an existing (user, sequence) key fails.
func (m *Manager) PutHealthSnapshot(snapshot *lending.HealthSnapshot) error {
	if snapshot == nil {
		return errors.New("state: nil snapshot")
	}
	key := snapshotKey(snapshot.User, snapshot.SequenceIndex)
	exists, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return lending.ErrSnapshotExists
	}
	return m.put(key, &storedSnapshot{
		UserPrefix:           string(snapshot.User.Prefix()),
		User:                 snapshot.User.Bytes(),
		SequenceIndex:        snapshot.SequenceIndex,
		Timestamp:            uint64(snapshot.Timestamp),
		HealthFactorBps:      snapshot.HealthFactorBps,
		TotalCollateralValue: orZero(snapshot.TotalCollateralValue),
		TotalBorrowedValue:   orZero(snapshot.TotalBorrowedValue),
		CollateralPrice:      orZero(snapshot.CollateralPrice),
		DebtPrice:            orZero(snapshot.DebtPrice),
	})
}

// GetHealthSnapshot loads one history entry, returning (nil, nil) when
// absent.
func (m *Manager) GetHealthSnapshot(user crypto.Address, sequence uint64) (*lending.HealthSnapshot, error) {
	var stored storedSnapshot
	ok, err := m.get(snapshotKey(user, sequence), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.HealthSnapshot{
		User:                 crypto.NewAddress(crypto.AddressPrefix(stored.UserPrefix), stored.User),
		SequenceIndex:        stored.SequenceIndex,
		Timestamp:            int64(stored.Timestamp),
		HealthFactorBps:      stored.HealthFactorBps,
		TotalCollateralValue: stored.TotalCollateralValue,
		TotalBorrowedValue:   stored.TotalBorrowedValue,
		CollateralPrice:      stored.CollateralPrice,
		DebtPrice:            stored.DebtPrice,
	}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
