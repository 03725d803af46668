package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lending.MinHealthFactorBps != 100 {
		t.Fatalf("unexpected liquidation floor: %d", cfg.Lending.MinHealthFactorBps)
	}
	if cfg.Lending.LiquidationBonusBps != 500 {
		t.Fatalf("unexpected liquidation bonus: %d", cfg.Lending.LiquidationBonusBps)
	}
	if cfg.PauseView().IsPaused("lending") {
		t.Fatalf("no module should start paused")
	}
}

func TestLoadAppliesOverridesAndPauses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	contents := `
paused_modules = [" Lending "]

[lending]
MinHealthFactorBps = 120
LiquidationBonusBps = 800

[lending.curve]
BaseRateBps = 100
Slope1Bps = 300
Slope2Bps = 5000
OptimalUtilizationBps = 9000
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lending.MinHealthFactorBps != 120 || cfg.Lending.LiquidationBonusBps != 800 {
		t.Fatalf("overrides not applied: %+v", cfg.Lending)
	}
	curve := cfg.Lending.InterestCurve()
	if curve.BaseRateBps != 100 || curve.OptimalUtilizationBps != 9000 {
		t.Fatalf("curve overrides not applied: %+v", curve)
	}
	if !cfg.PauseView().IsPaused("lending") {
		t.Fatalf("pause switch not normalised")
	}
}
