package lending

import (
	"math/big"

	"lendcore/core/events"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
)

// HealthCheckResult reports the outcome of a health factor evaluation.
type HealthCheckResult struct {
	HealthFactorBps uint64
	CollateralValue *big.Int
	BorrowedValue   *big.Int
	Status          PositionStatus
	AlertFired      bool
}

// healthFactor values the position at the supplied prices and returns the
// liquidation-threshold-weighted factor in basis points. A position with no
// debt is infinitely healthy and never consults the oracle for its debt leg.
func (e *Engine) healthFactor(position *UserPosition, collBank *Bank, prices PriceSet, now int64) (uint64, *big.Int, *big.Int, error) {
	collateralValue := big.NewInt(0)
	if collBank != nil && position.DepositedCollateral != nil && position.DepositedCollateral.Sign() > 0 {
		price, err := priceFor(prices, position.CollateralMint, now, e.risk)
		if err != nil {
			return 0, nil, nil, err
		}
		collateralValue, err = checkedMul(position.DepositedCollateral, price)
		if err != nil {
			return 0, nil, nil, err
		}
	}
	if position.BorrowedDebt == nil || position.BorrowedDebt.Sign() == 0 {
		return HealthFactorInfinite, collateralValue, big.NewInt(0), nil
	}
	price, err := priceFor(prices, position.DebtMint, now, e.risk)
	if err != nil {
		return 0, nil, nil, err
	}
	borrowedValue, err := checkedMul(position.BorrowedDebt, price)
	if err != nil {
		return 0, nil, nil, err
	}
	thresholdBps := uint64(0)
	if collBank != nil {
		thresholdBps = collBank.LiquidationThresholdBps
	}
	factor, err := factorBps(collateralValue, thresholdBps, borrowedValue)
	if err != nil {
		return 0, nil, nil, err
	}
	return factor, collateralValue, borrowedValue, nil
}

// Classify maps a health factor to the position's risk bucket relative to the
// user's alert threshold and the global liquidation cutoff.
func (e *Engine) Classify(factorBps, alertThresholdBps uint64) PositionStatus {
	switch {
	case factorBps <= e.risk.MinHealthFactorBps:
		return StatusLiquidatable
	case factorBps < alertThresholdBps:
		return StatusAtRisk
	default:
		return StatusHealthy
	}
}

// CheckHealthFactor recomputes and caches the position's health factor. When
// monitoring is enabled and the factor sits below the user's alert threshold,
// an alert fires at most once per configured frequency window. The cached
// factor and check timestamp are updated whether or not an alert fires.
func (e *Engine) CheckHealthFactor(owner crypto.Address, prices PriceSet, now int64) (*HealthCheckResult, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return nil, err
	}
	if now < position.LastHealthCheckTs {
		return nil, ErrInvalidTimestamp
	}
	collBank, err := e.collateralBank(position)
	if err != nil {
		return nil, err
	}
	factor, collateralValue, borrowedValue, err := e.healthFactor(position, collBank, prices, now)
	if err != nil {
		return nil, err
	}

	position.HealthFactorBps = factor
	position.LastHealthCheckTs = now

	alerted := false
	if position.MonitoringEnabled && factor < position.AlertThresholdBps {
		elapsed := now - position.LastAlertSentTs
		if position.LastAlertSentTs == 0 || elapsed >= int64(position.AlertFrequencySeconds) {
			position.LastAlertSentTs = now
			alerted = true
		}
	}

	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if alerted {
		e.emitter.Emit(events.HealthAlert{
			User:                 position.Owner,
			HealthFactorBps:      factor,
			AlertThresholdBps:    position.AlertThresholdBps,
			TotalCollateralValue: collateralValue,
			TotalBorrowedValue:   borrowedValue,
			Timestamp:            now,
		})
	}
	return &HealthCheckResult{
		HealthFactorBps: factor,
		CollateralValue: collateralValue,
		BorrowedValue:   borrowedValue,
		Status:          e.Classify(factor, position.AlertThresholdBps),
		AlertFired:      alerted,
	}, nil
}

// EnableHealthMonitoring switches alerting on for the position. Calling it on
// an already monitored position is a no-op.
func (e *Engine) EnableHealthMonitoring(owner crypto.Address, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return err
	}
	if now < position.LastHealthCheckTs {
		return ErrInvalidTimestamp
	}
	if position.MonitoringEnabled {
		return nil
	}
	position.MonitoringEnabled = true
	position.LastHealthCheckTs = now
	return e.state.PutPosition(position)
}

// UpdateHealthThreshold reconfigures the alert threshold and cadence as an
// atomic pair. Either both values pass validation or neither is applied.
func (e *Engine) UpdateHealthThreshold(owner crypto.Address, thresholdBps uint64, frequencyHours uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if thresholdBps < MinAlertThresholdBps || thresholdBps > MaxAlertThresholdBps {
		return ErrInvalidThreshold
	}
	frequencySeconds := frequencyHours * 3600
	if frequencySeconds < MinAlertFrequencySeconds || frequencySeconds > MaxAlertFrequencySeconds {
		return ErrInvalidAlertFrequency
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return err
	}
	position.AlertThresholdBps = thresholdBps
	position.AlertFrequencySeconds = frequencySeconds
	return e.state.PutPosition(position)
}

// CreateHealthSnapshot freezes the position's current valuation, including
// the oracle prices it was observed at, under the next sequence index.
// Snapshots are append-only; the store rejects overwrites.
func (e *Engine) CreateHealthSnapshot(owner crypto.Address, prices PriceSet, now int64) (*HealthSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	position, err := e.requirePosition(owner)
	if err != nil {
		return nil, err
	}
	if now < position.LastHealthCheckTs {
		return nil, ErrInvalidTimestamp
	}
	collBank, err := e.collateralBank(position)
	if err != nil {
		return nil, err
	}
	factor, collateralValue, borrowedValue, err := e.healthFactor(position, collBank, prices, now)
	if err != nil {
		return nil, err
	}

	collateralPrice := big.NewInt(0)
	if position.CollateralMint != "" {
		if quote, ok := prices.Quote(position.CollateralMint); ok && quote.Price != nil {
			collateralPrice = new(big.Int).Set(quote.Price)
		}
	}
	debtPrice := big.NewInt(0)
	if quote, ok := prices.Quote(position.DebtMint); ok && quote.Price != nil {
		debtPrice = new(big.Int).Set(quote.Price)
	}

	snapshot := &HealthSnapshot{
		User:                 position.Owner,
		SequenceIndex:        position.HealthHistoryCount,
		Timestamp:            now,
		HealthFactorBps:      factor,
		TotalCollateralValue: collateralValue,
		TotalBorrowedValue:   borrowedValue,
		CollateralPrice:      collateralPrice,
		DebtPrice:            debtPrice,
	}
	if err := e.state.PutHealthSnapshot(snapshot); err != nil {
		return nil, err
	}
	position.HealthHistoryCount++
	position.HealthFactorBps = factor
	position.LastHealthCheckTs = now
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.SnapshotCreated{
		User:            position.Owner,
		SequenceIndex:   snapshot.SequenceIndex,
		HealthFactorBps: factor,
		Timestamp:       now,
	})
	return snapshot, nil
}
