package lending

import (
	"errors"
	"math/big"
	"testing"

	"lendcore/core/events"
	"lendcore/crypto"
)

// setupLeveragedUser provisions a WETH-collateralised USD borrower with the
// risk parameters of the reference walkthrough: 80% liquidation threshold,
// 75% max LTV.
func setupLeveragedUser(t *testing.T, env *testEnv, now int64) crypto.Address {
	t.Helper()
	if _, err := env.engine.InitBank(env.authority, mintUSD, 9_000, 8_500, InterestCurve{}, now); err != nil {
		t.Fatalf("init usd bank: %v", err)
	}
	if _, err := env.engine.InitBank(env.authority, mintWETH, 8_000, 7_500, InterestCurve{}, now); err != nil {
		t.Fatalf("init weth bank: %v", err)
	}
	depositor := testAddr(0x02)
	if _, err := env.engine.InitUser(depositor, mintWETH, now); err != nil {
		t.Fatalf("init depositor: %v", err)
	}
	env.fund(depositor, mintUSD, 100_000)
	if err := env.engine.Deposit(depositor, mintUSD, big.NewInt(100_000), now); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	owner := testAddr(0x01)
	if _, err := env.engine.InitUser(owner, mintUSD, now); err != nil {
		t.Fatalf("init borrower: %v", err)
	}
	env.fund(owner, mintWETH, 100)
	if err := env.engine.Deposit(owner, mintWETH, big.NewInt(100), now); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	return owner
}

func TestHealthFactorWalkthrough(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)
	prices := pricesAt(now, map[string]int64{mintUSD: 1, mintWETH: 150})

	// $15,000 of collateral, 80% threshold: borrowing 1000 lands at 1200%.
	if err := env.engine.Borrow(owner, big.NewInt(1_000), prices, now); err != nil {
		t.Fatalf("borrow 1000: %v", err)
	}
	position, _ := env.engine.Position(owner)
	if position.HealthFactorBps != 1_200 {
		t.Fatalf("factor after first borrow = %d, want 1200", position.HealthFactorBps)
	}

	if err := env.engine.Borrow(owner, big.NewInt(4_000), prices, now); err != nil {
		t.Fatalf("borrow to 5000: %v", err)
	}
	position, _ = env.engine.Position(owner)
	if position.HealthFactorBps != 240 {
		t.Fatalf("factor at 5000 debt = %d, want 240", position.HealthFactorBps)
	}

	// Configure monitoring at a 200% threshold, then lever past it.
	if err := env.engine.EnableHealthMonitoring(owner, now); err != nil {
		t.Fatalf("enable monitoring: %v", err)
	}
	if err := env.engine.UpdateHealthThreshold(owner, 200, 24); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	if err := env.engine.Borrow(owner, big.NewInt(1_100), prices, now); err != nil {
		t.Fatalf("borrow to 6100: %v", err)
	}
	position, _ = env.engine.Position(owner)
	if position.HealthFactorBps != 196 {
		t.Fatalf("factor at 6100 debt = %d, want 196", position.HealthFactorBps)
	}
	// Borrowing never fires alerts; the next explicit check does.
	if len(env.emitter.byType(events.TypeLendingHealthAlert)) != 0 {
		t.Fatalf("borrow must not fire alerts")
	}

	result, err := env.engine.CheckHealthFactor(owner, prices, now)
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if !result.AlertFired {
		t.Fatalf("expected alert below threshold")
	}
	if result.Status != StatusAtRisk {
		t.Fatalf("expected at_risk classification, got %s", result.Status)
	}
	position, _ = env.engine.Position(owner)
	if position.LastAlertSentTs != now {
		t.Fatalf("lastAlertSentTs = %d, want %d", position.LastAlertSentTs, now)
	}
	alerts := env.emitter.byType(events.TypeLendingHealthAlert)
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
}

func TestCheckHealthFactorRateLimit(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)
	prices := pricesAt(now, map[string]int64{mintUSD: 1, mintWETH: 150})
	if err := env.engine.Borrow(owner, big.NewInt(6_100), prices, now); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := env.engine.EnableHealthMonitoring(owner, now); err != nil {
		t.Fatalf("enable monitoring: %v", err)
	}
	if err := env.engine.UpdateHealthThreshold(owner, 200, 1); err != nil {
		t.Fatalf("update threshold: %v", err)
	}

	first, err := env.engine.CheckHealthFactor(owner, pricesAt(now+10, map[string]int64{mintUSD: 1, mintWETH: 150}), now+10)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if !first.AlertFired {
		t.Fatalf("first check below threshold must alert")
	}

	// A second check inside the frequency window updates the cached factor
	// but leaves lastAlertSentTs alone.
	second, err := env.engine.CheckHealthFactor(owner, pricesAt(now+20, map[string]int64{mintUSD: 1, mintWETH: 150}), now+20)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if second.AlertFired {
		t.Fatalf("second check within window must not alert")
	}
	position, _ := env.engine.Position(owner)
	if position.LastAlertSentTs != now+10 {
		t.Fatalf("lastAlertSentTs moved inside the window: %d", position.LastAlertSentTs)
	}
	if position.LastHealthCheckTs != now+20 {
		t.Fatalf("lastHealthCheckTs must advance on every check")
	}

	// Once the hour elapses the alert fires again.
	later := now + 10 + 3_600
	third, err := env.engine.CheckHealthFactor(owner, pricesAt(later, map[string]int64{mintUSD: 1, mintWETH: 150}), later)
	if err != nil {
		t.Fatalf("third check: %v", err)
	}
	if !third.AlertFired {
		t.Fatalf("expected alert after frequency window elapsed")
	}
	if got := len(env.emitter.byType(events.TypeLendingHealthAlert)); got != 2 {
		t.Fatalf("expected two alerts total, got %d", got)
	}
}

func TestCheckHealthFactorDebtFree(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)
	if err := env.engine.EnableHealthMonitoring(owner, now); err != nil {
		t.Fatalf("enable monitoring: %v", err)
	}
	// No oracle data supplied: a debt-free position never consults prices
	// for its debt leg, but still values collateral.
	result, err := env.engine.CheckHealthFactor(owner, pricesAt(now, map[string]int64{mintWETH: 150}), now)
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if result.HealthFactorBps != HealthFactorInfinite {
		t.Fatalf("expected infinite factor, got %d", result.HealthFactorBps)
	}
	if result.AlertFired {
		t.Fatalf("infinite factor must never alert")
	}
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", result.Status)
	}
}

func TestEnableHealthMonitoringIdempotent(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)
	if err := env.engine.EnableHealthMonitoring(owner, now); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := env.engine.EnableHealthMonitoring(owner, now+50); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	position, _ := env.engine.Position(owner)
	if !position.MonitoringEnabled {
		t.Fatalf("monitoring not enabled")
	}
	// The no-op path leaves the check timestamp from the first enable.
	if position.LastHealthCheckTs != now {
		t.Fatalf("re-enable mutated lastHealthCheckTs: %d", position.LastHealthCheckTs)
	}
}

func TestUpdateHealthThresholdValidation(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)

	if err := env.engine.UpdateHealthThreshold(owner, 50, 12); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
	if err := env.engine.UpdateHealthThreshold(owner, 301, 12); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold above range, got %v", err)
	}
	if err := env.engine.UpdateHealthThreshold(owner, 200, 200); !errors.Is(err, ErrInvalidAlertFrequency) {
		t.Fatalf("expected ErrInvalidAlertFrequency, got %v", err)
	}
	if err := env.engine.UpdateHealthThreshold(owner, 200, 0); !errors.Is(err, ErrInvalidAlertFrequency) {
		t.Fatalf("expected ErrInvalidAlertFrequency for zero hours, got %v", err)
	}

	// Rejected updates leave both fields untouched.
	position, _ := env.engine.Position(owner)
	if position.AlertThresholdBps != DefaultAlertThresholdBps || position.AlertFrequencySeconds != DefaultAlertFrequencySeconds {
		t.Fatalf("failed update mutated thresholds: %d/%d", position.AlertThresholdBps, position.AlertFrequencySeconds)
	}

	if err := env.engine.UpdateHealthThreshold(owner, 250, 12); err != nil {
		t.Fatalf("valid update: %v", err)
	}
	position, _ = env.engine.Position(owner)
	if position.AlertThresholdBps != 250 || position.AlertFrequencySeconds != 12*3600 {
		t.Fatalf("update not applied: %d/%d", position.AlertThresholdBps, position.AlertFrequencySeconds)
	}
}

func TestHealthSnapshotsAreSequencedAndImmutable(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)
	prices := pricesAt(now, map[string]int64{mintUSD: 1, mintWETH: 150})
	if err := env.engine.Borrow(owner, big.NewInt(5_000), prices, now); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	first, err := env.engine.CreateHealthSnapshot(owner, prices, now)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if first.SequenceIndex != 0 {
		t.Fatalf("first snapshot sequence = %d, want 0", first.SequenceIndex)
	}
	if first.HealthFactorBps != 240 {
		t.Fatalf("snapshot factor = %d, want 240", first.HealthFactorBps)
	}
	if first.CollateralPrice.Cmp(big.NewInt(150)) != 0 || first.DebtPrice.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("snapshot must record observed prices, got %s/%s", first.CollateralPrice, first.DebtPrice)
	}
	if first.TotalCollateralValue.Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("snapshot collateral value = %s, want 15000", first.TotalCollateralValue)
	}

	// Prices move; the old snapshot keeps its observations.
	later := now + 60
	cheaper := pricesAt(later, map[string]int64{mintUSD: 1, mintWETH: 120})
	second, err := env.engine.CreateHealthSnapshot(owner, cheaper, later)
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if second.SequenceIndex != 1 {
		t.Fatalf("second snapshot sequence = %d, want 1", second.SequenceIndex)
	}
	stored, err := env.engine.Snapshot(owner, 0)
	if err != nil {
		t.Fatalf("load first snapshot: %v", err)
	}
	if stored.CollateralPrice.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("snapshot price rewritten: %s", stored.CollateralPrice)
	}

	// The store refuses to rewrite history.
	if err := env.state.PutHealthSnapshot(&HealthSnapshot{User: owner, SequenceIndex: 0}); !errors.Is(err, ErrSnapshotExists) {
		t.Fatalf("expected ErrSnapshotExists, got %v", err)
	}
	position, _ := env.engine.Position(owner)
	if position.HealthHistoryCount != 2 {
		t.Fatalf("history count = %d, want 2", position.HealthHistoryCount)
	}

	if _, err := env.engine.Snapshot(owner, 7); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestBackwardsTimestampsRejected(t *testing.T) {
	env := newTestEnv()
	now := int64(1_000)
	owner := setupLeveragedUser(t, env, now)
	prices := pricesAt(now, map[string]int64{mintUSD: 1, mintWETH: 150})
	if err := env.engine.Borrow(owner, big.NewInt(1_000), prices, now); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	checkedAt := now + 500
	later := pricesAt(checkedAt, map[string]int64{mintUSD: 1, mintWETH: 150})
	if _, err := env.engine.CheckHealthFactor(owner, later, checkedAt); err != nil {
		t.Fatalf("check: %v", err)
	}

	earlier := now + 100
	stale := pricesAt(earlier, map[string]int64{mintUSD: 1, mintWETH: 150})
	if _, err := env.engine.CreateHealthSnapshot(owner, stale, earlier); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("snapshot: expected ErrInvalidTimestamp, got %v", err)
	}
	if err := env.engine.EnableHealthMonitoring(owner, earlier); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("enable monitoring: expected ErrInvalidTimestamp, got %v", err)
	}
	if err := env.engine.Borrow(owner, big.NewInt(100), stale, earlier); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("borrow: expected ErrInvalidTimestamp, got %v", err)
	}
	liquidator := testAddr(0x03)
	env.fund(liquidator, mintUSD, 10_000)
	if _, err := env.engine.Liquidate(liquidator, owner, big.NewInt(100), stale, earlier); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("liquidate: expected ErrInvalidTimestamp, got %v", err)
	}

	position, _ := env.engine.Position(owner)
	if position.LastHealthCheckTs != checkedAt {
		t.Fatalf("lastHealthCheckTs moved: %d, want %d", position.LastHealthCheckTs, checkedAt)
	}
	if position.HealthHistoryCount != 0 {
		t.Fatalf("rejected snapshot recorded: count %d", position.HealthHistoryCount)
	}
}
