package lending

// Config captures the runtime configuration for the lending module. Values
// arrive from the global TOML config and are applied to the engine at wiring
// time.
type Config struct {
	MinHealthFactorBps       uint64      `toml:"MinHealthFactorBps"`
	LiquidationBonusBps      uint64      `toml:"LiquidationBonusBps"`
	MaxPriceStalenessSeconds int64       `toml:"MaxPriceStalenessSeconds"`
	MaxConfidenceBps         uint64      `toml:"MaxConfidenceBps"`
	Curve                    CurveConfig `toml:"curve"`
}

// CurveConfig mirrors InterestCurve for configuration files.
type CurveConfig struct {
	BaseRateBps           uint64 `toml:"BaseRateBps"`
	Slope1Bps             uint64 `toml:"Slope1Bps"`
	Slope2Bps             uint64 `toml:"Slope2Bps"`
	OptimalUtilizationBps uint64 `toml:"OptimalUtilizationBps"`
}

// EnsureDefaults fills unset fields with the module defaults so a partial
// config file still yields a safe engine.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	if c.MinHealthFactorBps == 0 {
		c.MinHealthFactorBps = 100
	}
	if c.LiquidationBonusBps == 0 {
		c.LiquidationBonusBps = 500
	}
	if c.MaxPriceStalenessSeconds == 0 {
		c.MaxPriceStalenessSeconds = 120
	}
	if c.MaxConfidenceBps == 0 {
		c.MaxConfidenceBps = 200
	}
	if c.Curve == (CurveConfig{}) {
		c.Curve = CurveConfig{
			BaseRateBps:           DefaultInterestCurve.BaseRateBps,
			Slope1Bps:             DefaultInterestCurve.Slope1Bps,
			Slope2Bps:             DefaultInterestCurve.Slope2Bps,
			OptimalUtilizationBps: DefaultInterestCurve.OptimalUtilizationBps,
		}
	}
}

// RiskConfig converts the config into the engine's risk parameters.
func (c Config) RiskConfig() RiskConfig {
	return RiskConfig{
		MinHealthFactorBps:       c.MinHealthFactorBps,
		LiquidationBonusBps:      c.LiquidationBonusBps,
		MaxPriceStalenessSeconds: c.MaxPriceStalenessSeconds,
		MaxConfidenceBps:         c.MaxConfidenceBps,
	}
}

// InterestCurve converts the curve section into engine parameters.
func (c Config) InterestCurve() InterestCurve {
	return InterestCurve{
		BaseRateBps:           c.Curve.BaseRateBps,
		Slope1Bps:             c.Curve.Slope1Bps,
		Slope2Bps:             c.Curve.Slope2Bps,
		OptimalUtilizationBps: c.Curve.OptimalUtilizationBps,
	}.Normalize()
}
