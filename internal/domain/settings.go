package domain

import "github.com/shopspring/decimal"

// Settings is the immutable configuration snapshot passed into every engine
// call. It is read once per invocation from the settings store; there is no
// ambient global.
type Settings struct {
	ActivationAmount decimal.Decimal

	// BinaryCommissionActivationCount is the number of direct children that
	// flips activation and ends direct-referral commissions.
	BinaryCommissionActivationCount int

	DirectUserCommissionAmount decimal.Decimal
	BinaryPairCommissionAmount decimal.Decimal

	BinaryCommissionTDSPercentage  decimal.Decimal
	BinaryExtraDeductionPercentage decimal.Decimal

	// BinaryTDSThresholdPairs is the pair number after which the extra
	// deduction applies (strictly greater than).
	BinaryTDSThresholdPairs int

	BinaryDailyPairLimit int

	// MaxEarningsBeforeActiveBuyer caps paid, non-blocked pairs for owners
	// who are not active buyers; later pairs are created blocked.
	MaxEarningsBeforeActiveBuyer int
}

// DefaultSettings returns the platform defaults.
func DefaultSettings() Settings {
	return Settings{
		ActivationAmount:                decimal.NewFromInt(5000),
		BinaryCommissionActivationCount: 3,
		DirectUserCommissionAmount:      decimal.NewFromInt(1000),
		BinaryPairCommissionAmount:      decimal.NewFromInt(2000),
		BinaryCommissionTDSPercentage:   decimal.NewFromInt(20),
		BinaryExtraDeductionPercentage:  decimal.NewFromInt(20),
		BinaryTDSThresholdPairs:         5,
		BinaryDailyPairLimit:            10,
		MaxEarningsBeforeActiveBuyer:    5,
	}
}
