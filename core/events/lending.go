package events

import (
	"math/big"
	"strconv"

	"lendcore/crypto"
)

const (
	// TypeLendingHealthAlert is emitted when a monitored position drops
	// below its configured alert threshold and the rate limit allows a new
	// alert.
	TypeLendingHealthAlert = "lending.health.alert"
	// TypeLendingSnapshotCreated is emitted when an immutable health
	// snapshot is appended to a user's history.
	TypeLendingSnapshotCreated = "lending.health.snapshot"
	// TypeLendingLiquidation is emitted after a liquidation settles.
	TypeLendingLiquidation = "lending.liquidation.executed"
	// TypeLendingBadDebt is emitted when a liquidation exhausts collateral
	// before the debt is fully repaid and the position is flagged.
	TypeLendingBadDebt = "lending.position.bad_debt"
)

// HealthAlert captures the decision to fire a health alert. Delivery is the
// subscriber's concern; the engine only records that the alert fired.
type HealthAlert struct {
	User                 crypto.Address
	HealthFactorBps      uint64
	AlertThresholdBps    uint64
	TotalCollateralValue *big.Int
	TotalBorrowedValue   *big.Int
	Timestamp            int64
}

func (HealthAlert) EventType() string { return TypeLendingHealthAlert }

// Attributes renders the event payload as flat string pairs for indexing.
func (a HealthAlert) Attributes() map[string]string {
	attrs := map[string]string{
		"user":         a.User.String(),
		"healthFactor": strconv.FormatUint(a.HealthFactorBps, 10),
		"threshold":    strconv.FormatUint(a.AlertThresholdBps, 10),
		"timestamp":    strconv.FormatInt(a.Timestamp, 10),
	}
	if a.TotalCollateralValue != nil {
		attrs["collateralValue"] = a.TotalCollateralValue.String()
	}
	if a.TotalBorrowedValue != nil {
		attrs["borrowedValue"] = a.TotalBorrowedValue.String()
	}
	return attrs
}

// SnapshotCreated records the append of a health snapshot.
type SnapshotCreated struct {
	User            crypto.Address
	SequenceIndex   uint64
	HealthFactorBps uint64
	Timestamp       int64
}

func (SnapshotCreated) EventType() string { return TypeLendingSnapshotCreated }

func (s SnapshotCreated) Attributes() map[string]string {
	return map[string]string{
		"user":         s.User.String(),
		"sequence":     strconv.FormatUint(s.SequenceIndex, 10),
		"healthFactor": strconv.FormatUint(s.HealthFactorBps, 10),
		"timestamp":    strconv.FormatInt(s.Timestamp, 10),
	}
}

// LiquidationExecuted records a settled liquidation.
type LiquidationExecuted struct {
	Liquidator       crypto.Address
	User             crypto.Address
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	Timestamp        int64
}

func (LiquidationExecuted) EventType() string { return TypeLendingLiquidation }

func (l LiquidationExecuted) Attributes() map[string]string {
	attrs := map[string]string{
		"liquidator": l.Liquidator.String(),
		"user":       l.User.String(),
		"timestamp":  strconv.FormatInt(l.Timestamp, 10),
	}
	if l.DebtRepaid != nil {
		attrs["debtRepaid"] = l.DebtRepaid.String()
	}
	if l.CollateralSeized != nil {
		attrs["collateralSeized"] = l.CollateralSeized.String()
	}
	return attrs
}

// BadDebtFlagged records a position closed with residual uncollateralized
// debt. The debt is not forgiven; downstream recovery is out of band.
type BadDebtFlagged struct {
	User         crypto.Address
	ResidualDebt *big.Int
	Timestamp    int64
}

func (BadDebtFlagged) EventType() string { return TypeLendingBadDebt }

func (b BadDebtFlagged) Attributes() map[string]string {
	attrs := map[string]string{
		"user":      b.User.String(),
		"timestamp": strconv.FormatInt(b.Timestamp, 10),
	}
	if b.ResidualDebt != nil {
		attrs["residualDebt"] = b.ResidualDebt.String()
	}
	return attrs
}
