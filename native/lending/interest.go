package lending

import "math/big"

// InterestCurve is a kinked utilization model expressed entirely in basis
// points: the borrow rate climbs from BaseRateBps along Slope1Bps until
// utilization reaches the optimal point, then along Slope2Bps. The curve is
// continuous and monotonic in utilization, and being pure integer math it is
// deterministic across platforms.
type InterestCurve struct {
	BaseRateBps           uint64
	Slope1Bps             uint64
	Slope2Bps             uint64
	OptimalUtilizationBps uint64
}

// DefaultInterestCurve mirrors a conservative money-market configuration: 2%
// base, 4% slope to an 80% kink, 60% slope beyond it.
var DefaultInterestCurve = InterestCurve{
	BaseRateBps:           200,
	Slope1Bps:             400,
	Slope2Bps:             6000,
	OptimalUtilizationBps: 8000,
}

// Normalize clamps nonsense parameters so a zero-value curve still behaves.
func (c InterestCurve) Normalize() InterestCurve {
	if c.OptimalUtilizationBps == 0 || c.OptimalUtilizationBps > bpsDenominator {
		c.OptimalUtilizationBps = bpsDenominator
	}
	return c
}

// UtilizationBps computes borrowed/deposits as a basis-point ratio, clamped
// to [0, 10000]. Empty pools report zero utilization.
func UtilizationBps(totalBorrowed, totalDeposits *big.Int) uint64 {
	borrowed := zeroIfNil(totalBorrowed)
	deposits := zeroIfNil(totalDeposits)
	if deposits.Sign() == 0 || borrowed.Sign() == 0 {
		return 0
	}
	if borrowed.Cmp(deposits) >= 0 {
		return bpsDenominator
	}
	ratio := new(big.Int).Mul(borrowed, bigBps)
	ratio.Quo(ratio, deposits)
	return ratio.Uint64()
}

// BorrowRateBps derives the annualized borrow rate for the given utilization.
func (c InterestCurve) BorrowRateBps(utilizationBps uint64) uint64 {
	curve := c.Normalize()
	if utilizationBps > bpsDenominator {
		utilizationBps = bpsDenominator
	}
	if utilizationBps <= curve.OptimalUtilizationBps {
		// base + slope1 * u/optimal
		contrib := utilizationBps * curve.Slope1Bps / curve.OptimalUtilizationBps
		return curve.BaseRateBps + contrib
	}
	over := utilizationBps - curve.OptimalUtilizationBps
	denom := uint64(bpsDenominator) - curve.OptimalUtilizationBps
	if denom == 0 {
		return curve.BaseRateBps + curve.Slope1Bps
	}
	contrib := over * curve.Slope2Bps / denom
	return curve.BaseRateBps + curve.Slope1Bps + contrib
}

// interestAccrued computes the simple interest on totalBorrowed over elapsed
// seconds at the annualized rate: borrowed * rateBps/10000 * elapsed/year.
// The caller decides the rounding direction at the point of application.
func interestAccrued(totalBorrowed *big.Int, rateBps uint64, elapsed int64, roundUp bool) (*big.Int, error) {
	borrowed := zeroIfNil(totalBorrowed)
	if borrowed.Sign() == 0 || rateBps == 0 || elapsed <= 0 {
		return big.NewInt(0), nil
	}
	numerator, err := checkedMul(new(big.Int).SetUint64(rateBps), big.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	denominator := new(big.Int).Mul(bigBps, big.NewInt(secondsPerYear))
	if roundUp {
		return mulDivCeil(borrowed, numerator, denominator)
	}
	return mulDivFloor(borrowed, numerator, denominator)
}
