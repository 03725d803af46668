package lending

import "errors"

// Engine error kinds. All of them are terminal: the engine never retries and
// on any error no record field has been mutated. Callers retry only after
// fixing the violated precondition.
var (
	// ErrInvalidThreshold covers bank risk parameters outside
	// 0 < maxLTV <= liquidationThreshold <= 10000 and alert thresholds
	// outside [110, 300].
	ErrInvalidThreshold = errors.New("lending engine: invalid threshold")
	// ErrInvalidAlertFrequency covers alert frequencies outside 1h-168h.
	ErrInvalidAlertFrequency = errors.New("lending engine: invalid alert frequency")
	// ErrInvalidTimestamp is returned when a supplied timestamp precedes
	// the last recorded one. Time only moves forward.
	ErrInvalidTimestamp = errors.New("lending engine: timestamp precedes recorded state")
	// ErrExceedsLtv is returned when a borrow would push the position past
	// the bank's maximum loan-to-value ratio.
	ErrExceedsLtv = errors.New("lending engine: borrow exceeds maximum LTV")
	// ErrInsufficientCollateral is returned when a withdrawal would leave
	// an indebted position below the liquidation threshold.
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	// ErrInsufficientDebt is returned when a repay or liquidation names
	// more debt than is outstanding.
	ErrInsufficientDebt = errors.New("lending engine: amount exceeds outstanding debt")
	// ErrLiquidationWorsensHealth rejects a partial liquidation whose
	// post-seizure health factor would land below the pre-seizure one.
	// Only a closure that exhausts the collateral may lower the factor.
	ErrLiquidationWorsensHealth = errors.New("lending engine: liquidation would worsen health factor")
	// ErrPositionHealthy is returned when liquidation targets a position
	// whose health factor sits above the liquidation cutoff.
	ErrPositionHealthy = errors.New("lending engine: position not eligible for liquidation")
	// ErrStalePrice is returned when an oracle quote is older than the
	// configured maximum staleness.
	ErrStalePrice = errors.New("lending engine: oracle price too old")
	// ErrPriceConfidenceTooWide is returned when the oracle confidence
	// interval exceeds the configured bound relative to the price.
	ErrPriceConfidenceTooWide = errors.New("lending engine: oracle confidence interval too wide")
	// ErrOverflow is returned when fixed-point arithmetic would exceed the
	// 256-bit value domain.
	ErrOverflow = errors.New("lending engine: arithmetic overflow")
	// ErrUnauthorized is returned when the supplied caller capability does
	// not grant the requested operation.
	ErrUnauthorized = errors.New("lending engine: caller not authorized")

	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrNilState signals an engine used before SetState.
	ErrNilState = errors.New("lending engine: state not configured")
	// ErrBankNotFound is returned when the named bank does not exist.
	ErrBankNotFound = errors.New("lending engine: bank not initialised")
	// ErrBankExists rejects double initialisation of a bank.
	ErrBankExists = errors.New("lending engine: bank already initialised")
	// ErrPositionNotFound is returned when the wallet has no position.
	ErrPositionNotFound = errors.New("lending engine: user position not initialised")
	// ErrPositionExists rejects double initialisation of a position.
	ErrPositionExists = errors.New("lending engine: user position already initialised")
	// ErrPriceUnavailable is returned when the supplied price set lacks a
	// quote for a required mint.
	ErrPriceUnavailable = errors.New("lending engine: oracle price unavailable")
	// ErrInsufficientBalance is returned when a token-ledger account does
	// not cover the requested transfer.
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	// ErrInsufficientLiquidity is returned when the pool cannot cover a
	// withdrawal or borrow.
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	// ErrMintMismatch is returned when an operation names a mint other than
	// the one already pinned to the position.
	ErrMintMismatch = errors.New("lending engine: mint does not match position")
	// ErrSnapshotNotFound is returned when the requested history entry does
	// not exist.
	ErrSnapshotNotFound = errors.New("lending engine: health snapshot not found")
	// ErrSnapshotExists guards snapshot immutability: history entries are
	// append-only and never rewritten.
	ErrSnapshotExists = errors.New("lending engine: health snapshot already recorded")
)
