package lending

import (
	"math/big"

	"lendcore/crypto"
)

// Bank captures the accounting state of a single asset pool. Amounts are
// denominated in the mint's smallest unit and expressed as big integers to
// keep the arithmetic bit-reproducible.
type Bank struct {
	// Mint is the asset identifier the bank pools.
	Mint string
	// TotalDeposits is the aggregate liquidity deposited by all users,
	// including yield distributed through accrual.
	TotalDeposits *big.Int
	// TotalBorrowed tracks the outstanding debt across all positions,
	// including accrued interest.
	TotalBorrowed *big.Int
	// LiquidationThresholdBps is the LTV boundary, in basis points, where
	// positions collateralised by this bank become liquidatable.
	LiquidationThresholdBps uint64
	// MaxLTVBps caps new borrowing, in basis points. Always at or below
	// LiquidationThresholdBps.
	MaxLTVBps uint64
	// LastAccrualTs records when interest was last compounded.
	LastAccrualTs int64
	// Curve holds the utilization-keyed interest model parameters.
	Curve InterestCurve
}

// Clone returns a deep copy of the bank.
func (b *Bank) Clone() *Bank {
	if b == nil {
		return nil
	}
	clone := &Bank{
		Mint:                    b.Mint,
		LiquidationThresholdBps: b.LiquidationThresholdBps,
		MaxLTVBps:               b.MaxLTVBps,
		LastAccrualTs:           b.LastAccrualTs,
		Curve:                   b.Curve,
	}
	if b.TotalDeposits != nil {
		clone.TotalDeposits = new(big.Int).Set(b.TotalDeposits)
	}
	if b.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(b.TotalBorrowed)
	}
	return clone
}

// UserPosition maintains the collateral, debt and health-monitoring state of
// one wallet.
type UserPosition struct {
	// Owner is the wallet the position belongs to.
	Owner crypto.Address
	// CollateralMint names the bank holding the position's collateral.
	CollateralMint string
	// DebtMint names the bank the position borrows from. Fixed at init.
	DebtMint string
	// DepositedCollateral is the locked collateral amount.
	DepositedCollateral *big.Int
	// BorrowedDebt is the outstanding debt including accrued interest.
	BorrowedDebt *big.Int
	// HealthFactorBps caches the factor computed by the last health-aware
	// operation, in whole-percent units (150 means 150%).
	// HealthFactorInfinite when the position carries no debt.
	HealthFactorBps uint64
	// AlertThresholdBps is the health factor below which alerts fire, in
	// the same percent units as HealthFactorBps.
	AlertThresholdBps uint64
	// AlertFrequencySeconds is the minimum spacing between alerts.
	AlertFrequencySeconds uint64
	// MonitoringEnabled gates alert evaluation entirely.
	MonitoringEnabled bool
	// LastHealthCheckTs records the last health factor recomputation.
	LastHealthCheckTs int64
	// LastAlertSentTs records when the last alert fired; zero means never.
	LastAlertSentTs int64
	// HealthHistoryCount is the next snapshot sequence index.
	HealthHistoryCount uint64
	// BadDebt marks a position closed by liquidation with residual
	// uncollateralized debt. The debt is flagged, never written off.
	BadDebt bool
}

// Clone returns a deep copy of the position.
func (u *UserPosition) Clone() *UserPosition {
	if u == nil {
		return nil
	}
	clone := *u
	if u.DepositedCollateral != nil {
		clone.DepositedCollateral = new(big.Int).Set(u.DepositedCollateral)
	}
	if u.BorrowedDebt != nil {
		clone.BorrowedDebt = new(big.Int).Set(u.BorrowedDebt)
	}
	return &clone
}

// HealthSnapshot is an immutable record of a position's health at one point
// in time, keyed by (user, sequence index).
type HealthSnapshot struct {
	User                 crypto.Address
	SequenceIndex        uint64
	Timestamp            int64
	HealthFactorBps      uint64
	TotalCollateralValue *big.Int
	TotalBorrowedValue   *big.Int
	CollateralPrice      *big.Int
	DebtPrice            *big.Int
}

// RiskConfig groups the globally tuned liquidation and oracle tolerances.
// It is updatable independently of any bank.
type RiskConfig struct {
	// MinHealthFactorBps is the factor at or below which positions become
	// liquidatable, in the same percent units as cached health factors.
	MinHealthFactorBps uint64
	// LiquidationBonusBps is the liquidator's collateral discount.
	LiquidationBonusBps uint64
	// MaxPriceStalenessSeconds bounds the accepted oracle quote age.
	MaxPriceStalenessSeconds int64
	// MaxConfidenceBps bounds the accepted confidence/price ratio.
	MaxConfidenceBps uint64
}

// PositionStatus is the derived risk classification of a position. It is
// computed on demand from current prices and never persisted.
type PositionStatus int

const (
	// StatusHealthy: factor at or above the user's alert threshold.
	StatusHealthy PositionStatus = iota
	// StatusAtRisk: below the alert threshold but not yet liquidatable.
	StatusAtRisk
	// StatusLiquidatable: at or below the liquidation cutoff.
	StatusLiquidatable
)

// String renders the classification for logs and API responses.
func (s PositionStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusAtRisk:
		return "at_risk"
	case StatusLiquidatable:
		return "liquidatable"
	default:
		return "unknown"
	}
}

// Default health-monitoring configuration applied at position init.
const (
	DefaultAlertThresholdBps     = 150
	DefaultAlertFrequencySeconds = 24 * 3600

	MinAlertThresholdBps = 110
	MaxAlertThresholdBps = 300

	MinAlertFrequencySeconds = 3600
	MaxAlertFrequencySeconds = 168 * 3600
)

// HealthFactorInfinite is the sentinel cached for debt-free positions. It
// compares as maximally healthy everywhere.
const HealthFactorInfinite = ^uint64(0)
