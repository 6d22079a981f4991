package state

import "fmt"

// RiskParams defines the protocol solvency thresholds, as whole
// percentages on the ratio scale.
type RiskParams struct {
	MinCollateralRatioPct uint64 // normal-mode threshold (MCR)
	RecoveryRatioPct      uint64 // recovery-mode threshold (CCR)
}

// DefaultRiskParams returns the protocol constants: 110% MCR, 150% CCR.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		MinCollateralRatioPct: 110,
		RecoveryRatioPct:      150,
	}
}

// ValidateRiskParams checks that thresholds are within valid ranges:
// mcr > 100, ccr > mcr.
func ValidateRiskParams(params RiskParams) error {
	if params.MinCollateralRatioPct <= 100 {
		return fmt.Errorf("min_collateral_ratio_pct must be > 100, got %d", params.MinCollateralRatioPct)
	}
	if params.RecoveryRatioPct <= params.MinCollateralRatioPct {
		return fmt.Errorf("recovery_ratio_pct (%d) must be > min_collateral_ratio_pct (%d)",
			params.RecoveryRatioPct, params.MinCollateralRatioPct)
	}
	return nil
}

// Threshold returns the applicable solvency threshold for the mode.
func (p RiskParams) Threshold(recoveryMode bool) uint64 {
	if recoveryMode {
		return p.RecoveryRatioPct
	}
	return p.MinCollateralRatioPct
}
