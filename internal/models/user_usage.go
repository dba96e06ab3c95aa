package models

import "time"

// Subscription status values that mark a record as billable.
const (
	SubscriptionActive    = "active"
	SubscriptionSucceeded = "succeeded"
	SubscriptionInactive  = "inactive"
)

// Payment status values that mark a record as paid.
const (
	PaymentPaid      = "paid"
	PaymentSucceeded = "succeeded"
	PaymentUnpaid    = "unpaid"
)

// Billing cycle values set by billing events.
const (
	BillingCycleMonthly      = "monthly"
	BillingCycleYearly       = "yearly"
	BillingCycleSubscription = "subscription"
	BillingCycleLifetime     = "lifetime"
	BillingCycleNone         = "none"
	BillingCycleDefault      = "default"
)

// UserUsage holds per-user consumption counters and quota ceilings for the
// current billing period. Exactly one row exists per user identity.
type UserUsage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:text;not null;uniqueIndex"` // External identity key.

	TokenUsage    int64 `gorm:"not null;default:0"` // LLM tokens consumed this period.
	MaxTokenUsage int64 `gorm:"not null;default:0"` // Token ceiling for this period.

	AudioTranscriptionMinutes    int64 `gorm:"not null;default:0"` // Transcription minutes consumed, rounded up per request.
	MaxAudioTranscriptionMinutes int64 `gorm:"not null;default:0"` // Transcription minute ceiling.

	SubscriptionStatus string `gorm:"type:text;not null;default:'inactive';index"` // Drives reset eligibility.
	PaymentStatus      string `gorm:"type:text;not null;default:'unpaid'"`         // Last payment outcome.
	BillingCycle       string `gorm:"type:text;not null;default:'default'"`        // Recurrence pattern.

	CurrentProduct string `gorm:"type:text"` // Product label set by billing events.
	CurrentPlan    string `gorm:"type:text"` // Plan label set by billing events.

	LastPayment *time.Time // Advisory only.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsBillable reports whether the record counts as active and paid.
func (u *UserUsage) IsBillable() bool {
	subscribed := u.SubscriptionStatus == SubscriptionActive || u.SubscriptionStatus == SubscriptionSucceeded
	paid := u.PaymentStatus == PaymentPaid || u.PaymentStatus == PaymentSucceeded
	return subscribed && paid
}

// IsRecurring reports whether the billing cycle resets at period boundaries.
func (u *UserUsage) IsRecurring() bool {
	switch u.BillingCycle {
	case BillingCycleMonthly, BillingCycleYearly, BillingCycleSubscription, BillingCycleDefault:
		return true
	default:
		return false
	}
}
