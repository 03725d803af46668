package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

// All monetary and ratio arithmetic runs on 256-bit unsigned fixed-point
// integers with explicit overflow checks. Floats never appear in the
// accounting path so every computation is bit-reproducible.

const (
	bpsDenominator = 10_000
	secondsPerYear = 31_536_000
)

var bigBps = big.NewInt(bpsDenominator)

// toChecked converts a big integer into the 256-bit domain, rejecting
// negative values and anything wider than 256 bits.
func toChecked(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, ErrOverflow
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// mulDivFloor computes a*b/den rounded toward zero, failing on overflow or a
// zero denominator.
func mulDivFloor(a, b, den *big.Int) (*big.Int, error) {
	x, err := toChecked(a)
	if err != nil {
		return nil, err
	}
	y, err := toChecked(b)
	if err != nil {
		return nil, err
	}
	d, err := toChecked(den)
	if err != nil {
		return nil, err
	}
	if d.IsZero() {
		return nil, ErrOverflow
	}
	quo, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return quo.ToBig(), nil
}

// mulDivCeil computes a*b/den rounded away from zero. Interest added to debt
// rounds this way so rounding always favors solvency.
func mulDivCeil(a, b, den *big.Int) (*big.Int, error) {
	floor, err := mulDivFloor(a, b, den)
	if err != nil {
		return nil, err
	}
	x, _ := toChecked(a)
	y, _ := toChecked(b)
	d, _ := toChecked(den)
	rem := new(uint256.Int).MulMod(x, y, d)
	if !rem.IsZero() {
		floor.Add(floor, big.NewInt(1))
	}
	return floor, nil
}

// checkedAdd returns a+b, failing when the sum leaves the 256-bit domain.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	x, err := toChecked(a)
	if err != nil {
		return nil, err
	}
	y, err := toChecked(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}

// checkedMul returns a*b with overflow detection.
func checkedMul(a, b *big.Int) (*big.Int, error) {
	x, err := toChecked(a)
	if err != nil {
		return nil, err
	}
	y, err := toChecked(b)
	if err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return product.ToBig(), nil
}

// bpsOf computes amount*bps/10000 rounded down.
func bpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	return mulDivFloor(amount, new(big.Int).SetUint64(bps), bigBps)
}

// factorBps weighs value by numeratorBps and divides by denominator, scaled
// so the result lands in whole-percent units: 150 means 150%. Clamps at
// HealthFactorInfinite when the ratio does not fit a uint64.
func factorBps(value *big.Int, numeratorBps uint64, denominator *big.Int) (uint64, error) {
	if denominator == nil || denominator.Sign() == 0 {
		return HealthFactorInfinite, nil
	}
	scaled, err := checkedMul(denominator, big.NewInt(100))
	if err != nil {
		return 0, err
	}
	ratio, err := mulDivFloor(value, new(big.Int).SetUint64(numeratorBps), scaled)
	if err != nil {
		return 0, err
	}
	if !ratio.IsUint64() {
		return HealthFactorInfinite, nil
	}
	return ratio.Uint64(), nil
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
