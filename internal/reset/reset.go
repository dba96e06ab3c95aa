// Package reset implements the billing-boundary job that zeroes period
// counters for accounts in good standing, preserving unused top-up surplus.
package reset

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/organote/organote/internal/models"
	"github.com/organote/organote/internal/usage"
)

// Counts reports how many records a run touched.
type Counts struct {
	UsersReset         int // Paid recurring subscriptions reset.
	FreeTierUsersReset int // Legacy/default-cycle records reset.
}

// Resetter resets usage counters at billing boundaries. Each record update
// is independent and idempotent, so a re-run after a partial failure is safe.
type Resetter struct {
	db       *gorm.DB
	interval time.Duration
}

// New constructs a Resetter. A non-positive interval disables the in-process
// ticker; the HTTP trigger drives it instead.
func New(db *gorm.DB, interval time.Duration) *Resetter {
	return &Resetter{db: db, interval: interval}
}

// Run resets all eligible records and returns the affected counts. Records
// whose subscription is not active and paid are left untouched. Any storage
// failure aborts the run and is reported; there is no partial silent success.
func (r *Resetter) Run(ctx context.Context) (Counts, error) {
	var counts Counts

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.UserUsage
		if errFind := tx.
			Where("subscription_status IN ?", []string{models.SubscriptionActive, models.SubscriptionSucceeded}).
			Where("payment_status IN ?", []string{models.PaymentPaid, models.PaymentSucceeded}).
			Where("billing_cycle IN ?", []string{
				models.BillingCycleMonthly,
				models.BillingCycleYearly,
				models.BillingCycleSubscription,
				models.BillingCycleDefault,
			}).
			Find(&rows).Error; errFind != nil {
			return fmt.Errorf("reset: load eligible records: %w", errFind)
		}

		for i := range rows {
			row := &rows[i]

			monthlyLimit := usage.MonthlyTokenLimit
			monthlyMinutes := usage.MonthlyAudioMinutes
			freeTier := row.BillingCycle == models.BillingCycleDefault
			if freeTier {
				monthlyLimit = usage.DefaultMaxTokenUsage
				monthlyMinutes = usage.DefaultMaxAudioMinutes
			}

			newMax := monthlyLimit + carriedSurplus(row.MaxTokenUsage, row.TokenUsage, monthlyLimit)

			if errUpdate := tx.Model(&models.UserUsage{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"token_usage":                     0,
					"max_token_usage":                 newMax,
					"audio_transcription_minutes":     0,
					"max_audio_transcription_minutes": monthlyMinutes,
				}).Error; errUpdate != nil {
				return fmt.Errorf("reset: update user %s: %w", row.UserID, errUpdate)
			}

			if freeTier {
				counts.FreeTierUsersReset++
			} else {
				counts.UsersReset++
			}
		}
		return nil
	})
	if errTx != nil {
		return Counts{}, errTx
	}

	log.WithFields(log.Fields{
		"users_reset":           counts.UsersReset,
		"free_tier_users_reset": counts.FreeTierUsersReset,
	}).Info("usage reset completed")
	return counts, nil
}

// carriedSurplus computes the unused one-time top-up balance that survives a
// reset: tokens purchased beyond the recurring allotment persist only to the
// extent they were not already consumed.
func carriedSurplus(previousMax, previousUsage, monthlyLimit int64) int64 {
	purchased := previousMax - monthlyLimit
	if purchased < 0 {
		purchased = 0
	}
	consumedBeyond := previousUsage - monthlyLimit
	if consumedBeyond < 0 {
		consumedBeyond = 0
	}
	surplus := purchased - consumedBeyond
	if surplus < 0 {
		return 0
	}
	return surplus
}

// Start launches the periodic reset loop in a background goroutine when an
// interval is configured.
func (r *Resetter) Start(ctx context.Context) {
	if r == nil || r.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, errRun := r.Run(ctx); errRun != nil {
					log.WithError(errRun).Error("scheduled usage reset failed")
				}
			}
		}
	}()
}
