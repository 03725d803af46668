package lending

import (
	"bytes"
	"math/big"
	"sort"

	"lendcore/core/events"
	"lendcore/core/types"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
)

const moduleName = "lending"

// engineState is the explicit entity store the engine reads and writes
// through. Implementations return (nil, nil) for missing records. The engine
// assumes the hosting environment serializes concurrent operations touching
// the same record.
type engineState interface {
	GetBank(mint string) (*Bank, error)
	PutBank(bank *Bank) error
	GetPosition(owner crypto.Address) (*UserPosition, error)
	PutPosition(position *UserPosition) error
	// BorrowerPositions returns every position with outstanding debt in
	// the given mint.
	BorrowerPositions(debtMint string) ([]*UserPosition, error)
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	// PutHealthSnapshot appends an immutable snapshot. Implementations
	// must reject writes to an existing (user, sequence) key.
	PutHealthSnapshot(snapshot *HealthSnapshot) error
	GetHealthSnapshot(user crypto.Address, sequence uint64) (*HealthSnapshot, error)
}

// Engine orchestrates the state transitions of the lending module: pool
// accounting, lazy interest accrual, health monitoring and liquidation. All
// operations are synchronous and all-or-nothing: records are cloned, mutated
// and persisted only after every check has passed.
type Engine struct {
	state     engineState
	authority crypto.Address
	vault     crypto.Address
	risk      RiskConfig
	curve     InterestCurve
	pauses    nativecommon.PauseView
	emitter   events.Emitter
}

// NewEngine constructs an engine bound to the admin authority and the module
// vault address holding pooled funds.
func NewEngine(authority, vault crypto.Address, risk RiskConfig) *Engine {
	return &Engine{
		authority: authority,
		vault:     vault,
		risk:      risk,
		curve:     DefaultInterestCurve,
		emitter:   events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink. A nil emitter restores the noop default.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetRiskConfig replaces the global risk parameters. Risk config is tuned
// independently of any bank.
func (e *Engine) SetRiskConfig(risk RiskConfig) {
	if e == nil {
		return
	}
	e.risk = risk
}

// RiskConfig returns the currently applied risk parameters.
func (e *Engine) RiskConfig() RiskConfig {
	if e == nil {
		return RiskConfig{}
	}
	return e.risk
}

// SetDefaultCurve replaces the interest curve applied to banks created
// without explicit curve parameters.
func (e *Engine) SetDefaultCurve(curve InterestCurve) {
	if e == nil {
		return
	}
	e.curve = curve.Normalize()
}

// InitBank provisions the pool for a mint. Only the engine authority may
// create banks.
func (e *Engine) InitBank(caller crypto.Address, mint string, liquidationThresholdBps, maxLTVBps uint64, curve InterestCurve, now int64) (*Bank, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !caller.Equal(e.authority) {
		return nil, ErrUnauthorized
	}
	if maxLTVBps == 0 || maxLTVBps > liquidationThresholdBps || liquidationThresholdBps > bpsDenominator {
		return nil, ErrInvalidThreshold
	}
	mint = normalizeMint(mint)
	if mint == "" {
		return nil, ErrBankNotFound
	}
	existing, err := e.state.GetBank(mint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrBankExists
	}
	if curve == (InterestCurve{}) {
		curve = e.curve
	}
	bank := &Bank{
		Mint:                    mint,
		TotalDeposits:           big.NewInt(0),
		TotalBorrowed:           big.NewInt(0),
		LiquidationThresholdBps: liquidationThresholdBps,
		MaxLTVBps:               maxLTVBps,
		LastAccrualTs:           now,
		Curve:                   curve.Normalize(),
	}
	if err := e.state.PutBank(bank); err != nil {
		return nil, err
	}
	return bank.Clone(), nil
}

// InitUser provisions the position record for a wallet. The debt mint is
// fixed for the lifetime of the position.
func (e *Engine) InitUser(owner crypto.Address, debtMint string, now int64) (*UserPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	debtMint = normalizeMint(debtMint)
	if _, err := e.requireBank(debtMint); err != nil {
		return nil, err
	}
	existing, err := e.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPositionExists
	}
	position := &UserPosition{
		Owner:                 owner,
		DebtMint:              debtMint,
		DepositedCollateral:   big.NewInt(0),
		BorrowedDebt:          big.NewInt(0),
		HealthFactorBps:       HealthFactorInfinite,
		AlertThresholdBps:     DefaultAlertThresholdBps,
		AlertFrequencySeconds: DefaultAlertFrequencySeconds,
		LastHealthCheckTs:     now,
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// Deposit locks collateral in the mint's pool. The first deposit pins the
// position's collateral mint.
func (e *Engine) Deposit(owner crypto.Address, mint string, amount *big.Int, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	mint = normalizeMint(mint)
	bank, err := e.requireBank(mint)
	if err != nil {
		return err
	}
	borrowers, err := e.accrueInterest(bank, now)
	if err != nil {
		return err
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return err
	}
	if position.CollateralMint == "" {
		position.CollateralMint = mint
	} else if position.CollateralMint != mint {
		return ErrMintMismatch
	}

	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	if ownerAcc.Balance(mint).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}

	newDeposits, err := checkedAdd(bank.TotalDeposits, amount)
	if err != nil {
		return err
	}
	newCollateral, err := checkedAdd(position.DepositedCollateral, amount)
	if err != nil {
		return err
	}

	ownerAcc.SetBalance(mint, new(big.Int).Sub(ownerAcc.Balance(mint), amount))
	vaultAcc.SetBalance(mint, new(big.Int).Add(vaultAcc.Balance(mint), amount))
	bank.TotalDeposits = newDeposits
	position.DepositedCollateral = newCollateral

	return e.persist(
		accountWrite{owner, ownerAcc}, accountWrite{e.vault, vaultAcc},
		position, borrowers, bank,
	)
}

// Withdraw releases collateral, re-checking health when the position carries
// debt.
func (e *Engine) Withdraw(owner crypto.Address, mint string, amount *big.Int, prices PriceSet, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	mint = normalizeMint(mint)
	bank, err := e.requireBank(mint)
	if err != nil {
		return err
	}
	borrowers, err := e.accrueInterest(bank, now)
	if err != nil {
		return err
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return err
	}
	if position.CollateralMint != mint {
		return ErrMintMismatch
	}
	if position.DepositedCollateral.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	remaining := new(big.Int).Sub(position.DepositedCollateral, amount)
	if position.BorrowedDebt.Sign() > 0 {
		projected := position.Clone()
		projected.DepositedCollateral = remaining
		factor, _, _, err := e.healthFactor(projected, bank, prices, now)
		if err != nil {
			return err
		}
		if factor < e.risk.MinHealthFactorBps {
			return ErrInsufficientCollateral
		}
	}

	liquidity := new(big.Int).Sub(bank.TotalDeposits, bank.TotalBorrowed)
	if liquidity.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	if vaultAcc.Balance(mint).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}

	vaultAcc.SetBalance(mint, new(big.Int).Sub(vaultAcc.Balance(mint), amount))
	ownerAcc.SetBalance(mint, new(big.Int).Add(ownerAcc.Balance(mint), amount))
	bank.TotalDeposits = new(big.Int).Sub(bank.TotalDeposits, amount)
	position.DepositedCollateral = remaining

	return e.persist(
		accountWrite{e.vault, vaultAcc}, accountWrite{owner, ownerAcc},
		position, borrowers, bank,
	)
}

// Borrow draws debt against the position's collateral, enforcing the
// origination LTV cap of the collateral bank.
func (e *Engine) Borrow(owner crypto.Address, amount *big.Int, prices PriceSet, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return err
	}
	if now < position.LastHealthCheckTs {
		return ErrInvalidTimestamp
	}
	debtBank, err := e.requireBank(position.DebtMint)
	if err != nil {
		return err
	}
	borrowers, err := e.accrueInterest(debtBank, now)
	if err != nil {
		return err
	}
	// Accrual may have touched this borrower's debt; refresh from the
	// touched set so the LTV check sees the compounded value.
	position = refreshFromTouched(position, borrowers)

	collBank, err := e.collateralBank(position)
	if err != nil {
		return err
	}

	debtPrice, err := priceFor(prices, position.DebtMint, now, e.risk)
	if err != nil {
		return err
	}
	collateralValue := big.NewInt(0)
	if collBank != nil && position.DepositedCollateral.Sign() > 0 {
		collPrice, err := priceFor(prices, position.CollateralMint, now, e.risk)
		if err != nil {
			return err
		}
		collateralValue, err = checkedMul(position.DepositedCollateral, collPrice)
		if err != nil {
			return err
		}
	}

	borrowedValue, err := checkedMul(position.BorrowedDebt, debtPrice)
	if err != nil {
		return err
	}
	drawValue, err := checkedMul(amount, debtPrice)
	if err != nil {
		return err
	}
	projectedValue, err := checkedAdd(borrowedValue, drawValue)
	if err != nil {
		return err
	}
	maxLTVBps := uint64(0)
	if collBank != nil {
		maxLTVBps = collBank.MaxLTVBps
	}
	borrowCap, err := bpsOf(collateralValue, maxLTVBps)
	if err != nil {
		return err
	}
	if projectedValue.Cmp(borrowCap) > 0 {
		return ErrExceedsLtv
	}

	liquidity := new(big.Int).Sub(debtBank.TotalDeposits, debtBank.TotalBorrowed)
	if liquidity.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	if vaultAcc.Balance(position.DebtMint).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}

	newBorrowed, err := checkedAdd(debtBank.TotalBorrowed, amount)
	if err != nil {
		return err
	}
	newDebt, err := checkedAdd(position.BorrowedDebt, amount)
	if err != nil {
		return err
	}

	vaultAcc.SetBalance(position.DebtMint, new(big.Int).Sub(vaultAcc.Balance(position.DebtMint), amount))
	ownerAcc.SetBalance(position.DebtMint, new(big.Int).Add(ownerAcc.Balance(position.DebtMint), amount))
	debtBank.TotalBorrowed = newBorrowed
	position.BorrowedDebt = newDebt

	// Cache the post-borrow factor. Alert evaluation stays with
	// CheckHealthFactor; borrowing itself never fires alerts.
	factor, _, _, err := e.healthFactor(position, collBank, prices, now)
	if err != nil {
		return err
	}
	position.HealthFactorBps = factor
	position.LastHealthCheckTs = now

	return e.persist(
		accountWrite{e.vault, vaultAcc}, accountWrite{owner, ownerAcc},
		position, borrowers, debtBank,
	)
}

// Repay pays down outstanding debt. Overpaying is rejected rather than
// clamped.
func (e *Engine) Repay(owner crypto.Address, amount *big.Int, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return err
	}
	debtBank, err := e.requireBank(position.DebtMint)
	if err != nil {
		return err
	}
	borrowers, err := e.accrueInterest(debtBank, now)
	if err != nil {
		return err
	}
	position = refreshFromTouched(position, borrowers)
	if position.BorrowedDebt.Sign() == 0 || amount.Cmp(position.BorrowedDebt) > 0 {
		return ErrInsufficientDebt
	}

	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	if ownerAcc.Balance(position.DebtMint).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}

	ownerAcc.SetBalance(position.DebtMint, new(big.Int).Sub(ownerAcc.Balance(position.DebtMint), amount))
	vaultAcc.SetBalance(position.DebtMint, new(big.Int).Add(vaultAcc.Balance(position.DebtMint), amount))
	debtBank.TotalBorrowed = new(big.Int).Sub(debtBank.TotalBorrowed, amount)
	position.BorrowedDebt = new(big.Int).Sub(position.BorrowedDebt, amount)
	if position.BorrowedDebt.Sign() == 0 {
		position.HealthFactorBps = HealthFactorInfinite
	}

	return e.persist(
		accountWrite{owner, ownerAcc}, accountWrite{e.vault, vaultAcc},
		position, borrowers, debtBank,
	)
}

// accrueInterest lazily compounds the pool's debt for the time elapsed since
// the last accrual and distributes it across borrowers pro-rata, so the
// aggregate debt always equals the sum of individual debts. The remainder of
// the integer division lands on the earliest borrowers in address order,
// keeping the split deterministic. Returns the touched borrower clones; the
// caller persists them on success.
func (e *Engine) accrueInterest(bank *Bank, now int64) ([]*UserPosition, error) {
	if bank == nil {
		return nil, ErrBankNotFound
	}
	elapsed := now - bank.LastAccrualTs
	if elapsed < 0 {
		return nil, ErrInvalidTimestamp
	}
	if elapsed == 0 {
		return nil, nil
	}
	if bank.TotalBorrowed == nil || bank.TotalBorrowed.Sign() == 0 {
		bank.LastAccrualTs = now
		return nil, nil
	}

	utilization := UtilizationBps(bank.TotalBorrowed, bank.TotalDeposits)
	rateBps := bank.Curve.BorrowRateBps(utilization)

	// Debt rounds up, depositor yield rounds down: rounding always favors
	// solvency.
	debtInterest, err := interestAccrued(bank.TotalBorrowed, rateBps, elapsed, true)
	if err != nil {
		return nil, err
	}
	supplyInterest, err := interestAccrued(bank.TotalBorrowed, rateBps, elapsed, false)
	if err != nil {
		return nil, err
	}
	if debtInterest.Sign() == 0 {
		bank.LastAccrualTs = now
		return nil, nil
	}

	stored, err := e.state.BorrowerPositions(bank.Mint)
	if err != nil {
		return nil, err
	}
	borrowers := make([]*UserPosition, 0, len(stored))
	for _, b := range stored {
		if b != nil && b.BorrowedDebt != nil && b.BorrowedDebt.Sign() > 0 {
			borrowers = append(borrowers, b.Clone())
		}
	}
	if len(borrowers) == 0 {
		bank.LastAccrualTs = now
		return nil, nil
	}
	sort.Slice(borrowers, func(i, j int) bool {
		return bytes.Compare(borrowers[i].Owner.Bytes(), borrowers[j].Owner.Bytes()) < 0
	})

	distributed := big.NewInt(0)
	for _, borrower := range borrowers {
		share, err := mulDivFloor(debtInterest, borrower.BorrowedDebt, bank.TotalBorrowed)
		if err != nil {
			return nil, err
		}
		borrower.BorrowedDebt = new(big.Int).Add(borrower.BorrowedDebt, share)
		distributed.Add(distributed, share)
	}
	remainder := new(big.Int).Sub(debtInterest, distributed)
	one := big.NewInt(1)
	for i := 0; remainder.Sign() > 0 && i < len(borrowers); i++ {
		borrowers[i].BorrowedDebt.Add(borrowers[i].BorrowedDebt, one)
		remainder.Sub(remainder, one)
	}

	newBorrowed, err := checkedAdd(bank.TotalBorrowed, debtInterest)
	if err != nil {
		return nil, err
	}
	newDeposits, err := checkedAdd(bank.TotalDeposits, supplyInterest)
	if err != nil {
		return nil, err
	}
	bank.TotalBorrowed = newBorrowed
	bank.TotalDeposits = newDeposits
	bank.LastAccrualTs = now
	return borrowers, nil
}

// accountWrite pairs an address with its mutated account for deferred
// persistence.
type accountWrite struct {
	addr    crypto.Address
	account *types.Account
}

// persist flushes the mutated records in one pass, every touched bank
// included. Accrual-touched borrower clones are written alongside so the
// aggregate invariant holds after every operation.
func (e *Engine) persist(first, second accountWrite, position *UserPosition, borrowers []*UserPosition, banks ...*Bank) error {
	for _, write := range []accountWrite{first, second} {
		if write.account == nil {
			continue
		}
		if err := e.state.PutAccount(write.addr, write.account); err != nil {
			return err
		}
	}
	for _, borrower := range borrowers {
		if position != nil && borrower.Owner.Equal(position.Owner) {
			continue
		}
		if err := e.state.PutPosition(borrower); err != nil {
			return err
		}
	}
	if position != nil {
		if err := e.state.PutPosition(position); err != nil {
			return err
		}
	}
	for _, bank := range banks {
		if bank == nil {
			continue
		}
		if err := e.state.PutBank(bank); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) requireBank(mint string) (*Bank, error) {
	mint = normalizeMint(mint)
	if mint == "" {
		return nil, ErrBankNotFound
	}
	bank, err := e.state.GetBank(mint)
	if err != nil {
		return nil, err
	}
	if bank == nil {
		return nil, ErrBankNotFound
	}
	clone := bank.Clone()
	clone.TotalDeposits = zeroIfNil(clone.TotalDeposits)
	clone.TotalBorrowed = zeroIfNil(clone.TotalBorrowed)
	return clone, nil
}

func (e *Engine) requirePosition(owner crypto.Address) (*UserPosition, error) {
	position, err := e.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	clone := position.Clone()
	clone.DepositedCollateral = zeroIfNil(clone.DepositedCollateral)
	clone.BorrowedDebt = zeroIfNil(clone.BorrowedDebt)
	return clone, nil
}

// collateralBank resolves the bank backing the position's collateral, or nil
// when no collateral has been pledged yet.
func (e *Engine) collateralBank(position *UserPosition) (*Bank, error) {
	if position == nil || position.CollateralMint == "" {
		return nil, nil
	}
	return e.requireBank(position.CollateralMint)
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return types.NewAccount(), nil
	}
	return account.Clone(), nil
}

// refreshFromTouched swaps the working position for its accrual-touched clone
// when the accrual pass adjusted this borrower's debt.
func refreshFromTouched(position *UserPosition, touched []*UserPosition) *UserPosition {
	for _, candidate := range touched {
		if candidate.Owner.Equal(position.Owner) {
			return candidate
		}
	}
	return position
}
