package market

import (
	"fmt"

	"exchange-core/internal/models"
)

// FeePolicy decides whether a trade between two accounts is fee free.
type FeePolicy interface {
	Exempt(buyer, seller *models.Account) bool
}

// ExemptionMode is the configurable FeePolicy for fee-exempt accounts.
type ExemptionMode string

const (
	// ExemptEither waives fees when at least one side is exempt.
	ExemptEither ExemptionMode = "either"
	// ExemptBoth waives fees only when both sides are exempt.
	ExemptBoth ExemptionMode = "both"
	// ExemptNone always charges fees.
	ExemptNone ExemptionMode = "none"
)

// ParseExemption validates a configured exemption mode.
func ParseExemption(s string) (ExemptionMode, error) {
	switch m := ExemptionMode(s); m {
	case ExemptEither, ExemptBoth, ExemptNone:
		return m, nil
	case "":
		return ExemptEither, nil
	default:
		return "", fmt.Errorf("unknown fee exemption mode %q", s)
	}
}

// Exempt implements FeePolicy.
func (m ExemptionMode) Exempt(buyer, seller *models.Account) bool {
	switch m {
	case ExemptEither:
		return buyer.FeeExempt || seller.FeeExempt
	case ExemptBoth:
		return buyer.FeeExempt && seller.FeeExempt
	default:
		return false
	}
}
