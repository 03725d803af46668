package lending

import (
	"math/big"

	"lendcore/core/events"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
)

// LiquidationResult reports what a liquidation moved and where the position's
// health landed afterwards.
type LiquidationResult struct {
	DebtRepaid          *big.Int
	CollateralSeized    *big.Int
	FactorBeforeBps     uint64
	FactorAfterBps      uint64
	BadDebt             bool
	RemainingDebt       *big.Int
	RemainingCollateral *big.Int
}

// Liquidate lets a third party repay part of an unhealthy position's debt in
// exchange for discounted collateral. The seized amount converts the repaid
// debt value into collateral units at oracle prices and applies the
// liquidation bonus, rounding down. Seizure is capped at the pledged
// collateral; when the cap binds while debt remains, the position is flagged
// as bad debt.
func (e *Engine) Liquidate(liquidator, owner crypto.Address, repayAmount *big.Int, prices PriceSet, now int64) (*LiquidationResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return nil, err
	}
	if now < position.LastHealthCheckTs {
		return nil, ErrInvalidTimestamp
	}
	debtBank, err := e.requireBank(position.DebtMint)
	if err != nil {
		return nil, err
	}
	borrowers, err := e.accrueInterest(debtBank, now)
	if err != nil {
		return nil, err
	}
	position = refreshFromTouched(position, borrowers)
	if position.BorrowedDebt.Sign() == 0 {
		return nil, ErrInsufficientDebt
	}
	collBank, err := e.collateralBank(position)
	if err != nil {
		return nil, err
	}
	sameBank := collBank != nil && collBank.Mint == debtBank.Mint
	if sameBank {
		collBank = debtBank
	} else if collBank != nil {
		collBorrowers, err := e.accrueInterest(collBank, now)
		if err != nil {
			return nil, err
		}
		borrowers = append(borrowers, collBorrowers...)
	}

	factorBefore, _, _, err := e.healthFactor(position, collBank, prices, now)
	if err != nil {
		return nil, err
	}
	if factorBefore > e.risk.MinHealthFactorBps {
		return nil, ErrPositionHealthy
	}
	if repayAmount.Cmp(position.BorrowedDebt) > 0 {
		return nil, ErrInsufficientDebt
	}

	debtPrice, err := priceFor(prices, position.DebtMint, now, e.risk)
	if err != nil {
		return nil, err
	}
	collPrice, err := priceFor(prices, position.CollateralMint, now, e.risk)
	if err != nil {
		return nil, err
	}

	// seized = repay * debtPrice * (1 + bonus) / collPrice, floored.
	repayValue, err := checkedMul(repayAmount, debtPrice)
	if err != nil {
		return nil, err
	}
	bonusNumerator := new(big.Int).SetUint64(bpsDenominator + e.risk.LiquidationBonusBps)
	denominator, err := checkedMul(collPrice, bigBps)
	if err != nil {
		return nil, err
	}
	seized, err := mulDivFloor(repayValue, bonusNumerator, denominator)
	if err != nil {
		return nil, err
	}
	badDebt := false
	if seized.Cmp(position.DepositedCollateral) > 0 {
		seized = new(big.Int).Set(position.DepositedCollateral)
		badDebt = repayAmount.Cmp(position.BorrowedDebt) < 0
	}

	liqAcc, err := e.loadAccount(liquidator)
	if err != nil {
		return nil, err
	}
	if liqAcc.Balance(position.DebtMint).Cmp(repayAmount) < 0 {
		return nil, ErrInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return nil, err
	}
	if vaultAcc.Balance(position.CollateralMint).Cmp(seized) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	liqAcc.SetBalance(position.DebtMint, new(big.Int).Sub(liqAcc.Balance(position.DebtMint), repayAmount))
	vaultAcc.SetBalance(position.DebtMint, new(big.Int).Add(vaultAcc.Balance(position.DebtMint), repayAmount))
	vaultAcc.SetBalance(position.CollateralMint, new(big.Int).Sub(vaultAcc.Balance(position.CollateralMint), seized))
	liqAcc.SetBalance(position.CollateralMint, new(big.Int).Add(liqAcc.Balance(position.CollateralMint), seized))

	debtBank.TotalBorrowed = new(big.Int).Sub(debtBank.TotalBorrowed, repayAmount)
	if collBank != nil {
		collBank.TotalDeposits = new(big.Int).Sub(collBank.TotalDeposits, seized)
	}
	position.BorrowedDebt = new(big.Int).Sub(position.BorrowedDebt, repayAmount)
	position.DepositedCollateral = new(big.Int).Sub(position.DepositedCollateral, seized)
	if badDebt {
		position.BadDebt = true
	}

	factorAfter, _, _, err := e.healthFactor(position, collBank, prices, now)
	if err != nil {
		return nil, err
	}
	// A seizure may only lower the factor when it drains the collateral
	// outright; every surviving position must come out at least as healthy.
	if factorAfter < factorBefore && position.DepositedCollateral.Sign() > 0 {
		return nil, ErrLiquidationWorsensHealth
	}
	position.HealthFactorBps = factorAfter
	position.LastHealthCheckTs = now

	banks := []*Bank{debtBank}
	if collBank != nil && !sameBank {
		banks = append(banks, collBank)
	}
	if err := e.persist(
		accountWrite{liquidator, liqAcc}, accountWrite{e.vault, vaultAcc},
		position, borrowers, banks...,
	); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.LiquidationExecuted{
		Liquidator:       liquidator,
		User:             position.Owner,
		DebtRepaid:       repayAmount,
		CollateralSeized: seized,
		Timestamp:        now,
	})
	if badDebt {
		e.emitter.Emit(events.BadDebtFlagged{
			User:         position.Owner,
			ResidualDebt: new(big.Int).Set(position.BorrowedDebt),
			Timestamp:    now,
		})
	}
	return &LiquidationResult{
		DebtRepaid:          new(big.Int).Set(repayAmount),
		CollateralSeized:    seized,
		FactorBeforeBps:     factorBefore,
		FactorAfterBps:      factorAfter,
		BadDebt:             badDebt,
		RemainingDebt:       new(big.Int).Set(position.BorrowedDebt),
		RemainingCollateral: new(big.Int).Set(position.DepositedCollateral),
	}, nil
}
