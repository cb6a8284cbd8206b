package domain

// RiskTier — один из пяти фиксированных классов риска действия.
type RiskTier string

const (
	TierRead            RiskTier = "read"
	TierLowRiskWrite    RiskTier = "low_risk_write"
	TierMediumRiskWrite RiskTier = "medium_risk_write"
	TierHighRiskWrite   RiskTier = "high_risk_write"
	TierCritical        RiskTier = "critical"
)

// AllTiers задает канонический порядок классификации (от чтения к критичным операциям).
var AllTiers = []RiskTier{
	TierRead,
	TierLowRiskWrite,
	TierMediumRiskWrite,
	TierHighRiskWrite,
	TierCritical,
}

func (t RiskTier) Valid() bool {
	for _, known := range AllTiers {
		if t == known {
			return true
		}
	}
	return false
}

// IsWrite: любой класс, кроме чтения. Используется фильтром applies_to: "write".
func (t RiskTier) IsWrite() bool {
	return t != TierRead
}
