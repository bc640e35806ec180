package postgres

import (
	"context"
	"fmt"

	"ev-commission-engine/internal/domain"
	"ev-commission-engine/internal/storage"
)

// SettingsStore reads platform settings from PostgreSQL. The table holds
// one active row; when none exists yet the defaults are returned so the
// engine can run before an operator has tuned anything.
type SettingsStore struct {
	pool *Pool
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(pool *Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettingsStore = (*SettingsStore)(nil)

// Get returns the active platform settings.
func (s *SettingsStore) Get(ctx context.Context) (domain.Settings, error) {
	var st domain.Settings
	err := s.pool.QueryRow(ctx, `
		SELECT activation_amount, binary_commission_activation_count,
			direct_user_commission_amount, binary_pair_commission_amount,
			binary_commission_tds_percentage, binary_extra_deduction_percentage,
			binary_tds_threshold_pairs, binary_daily_pair_limit,
			max_earnings_before_active_buyer
		FROM platform_settings
		WHERE is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(
		&st.ActivationAmount, &st.BinaryCommissionActivationCount,
		&st.DirectUserCommissionAmount, &st.BinaryPairCommissionAmount,
		&st.BinaryCommissionTDSPercentage, &st.BinaryExtraDeductionPercentage,
		&st.BinaryTDSThresholdPairs, &st.BinaryDailyPairLimit,
		&st.MaxEarningsBeforeActiveBuyer,
	)
	if err != nil {
		if isNotFoundError(err) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}
