// Package usage implements the quota-gated metering core: idempotent user
// record creation, quota checks, and atomic consumption accounting.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/organote/organote/internal/analytics"
	"github.com/organote/organote/internal/models"
)

// dbTimeout bounds every store round trip issued by the service.
const dbTimeout = 5 * time.Second

// CheckResult reports the remaining balance for a resource.
type CheckResult struct {
	Remaining  int64 // Remaining balance, clamped at zero.
	UsageError bool  // True when the store could not be read.
}

// IncrementResult reports the outcome of a consumption accumulation.
type IncrementResult struct {
	Remaining    int64 // Remaining balance after accumulation, clamped at zero.
	UsageError   bool  // True when bookkeeping failed; the request itself still succeeds.
	NeedsUpgrade bool  // True when the account has no balance left to continue.
}

// Service performs all reads and writes against user usage records.
type Service struct {
	db        *gorm.DB
	analytics *analytics.Client
	enforce   bool
}

// NewService constructs a usage service. When enforce is false every check
// passes and every accumulation is a no-op, which supports self-hosted
// deployments without billing.
func NewService(db *gorm.DB, ac *analytics.Client, enforce bool) *Service {
	return &Service{db: db, analytics: ac, enforce: enforce}
}

// Enforced reports whether quota enforcement is active.
func (s *Service) Enforced() bool { return s.enforce }

// EnsureUser guarantees a usage record exists for the identity, creating one
// with zeroed counters and the legacy default ceilings on first sight. The
// insert is an ON CONFLICT DO NOTHING upsert so concurrent first requests for
// the same new user cannot race into a duplicate-key failure.
func (s *Service) EnsureUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("usage: empty user id")
	}
	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := models.UserUsage{
		UserID:                       userID,
		TokenUsage:                   0,
		MaxTokenUsage:                DefaultMaxTokenUsage,
		AudioTranscriptionMinutes:    0,
		MaxAudioTranscriptionMinutes: DefaultMaxAudioMinutes,
		SubscriptionStatus:           models.SubscriptionInactive,
		PaymentStatus:                models.PaymentUnpaid,
		BillingCycle:                 models.BillingCycleDefault,
		CurrentPlan:                  LegacyPlanName,
	}
	if errCreate := s.db.WithContext(dbCtx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error; errCreate != nil {
		return fmt.Errorf("usage: ensure user %s: %w", userID, errCreate)
	}
	return nil
}

// Get returns the usage record for an identity.
func (s *Service) Get(ctx context.Context, userID string) (*models.UserUsage, error) {
	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var row models.UserUsage
	if errFind := s.db.WithContext(dbCtx).
		Where("user_id = ?", userID).
		First(&row).Error; errFind != nil {
		return nil, errFind
	}
	return &row, nil
}

// CheckTokens reads the remaining token balance. A store failure is reported
// through UsageError and never treated as available balance.
func (s *Service) CheckTokens(ctx context.Context, userID string) CheckResult {
	if !s.enforce {
		return CheckResult{Remaining: 0}
	}
	row, errGet := s.Get(ctx, userID)
	if errGet != nil {
		if !errors.Is(errGet, gorm.ErrRecordNotFound) {
			log.WithError(errGet).WithField("user", userID).Error("token usage check failed")
		}
		return CheckResult{UsageError: true}
	}
	return CheckResult{Remaining: clampNonNegative(row.MaxTokenUsage - row.TokenUsage)}
}

// CheckAudioMinutes reads the remaining transcription minute balance.
func (s *Service) CheckAudioMinutes(ctx context.Context, userID string) CheckResult {
	if !s.enforce {
		return CheckResult{Remaining: 0}
	}
	row, errGet := s.Get(ctx, userID)
	if errGet != nil {
		if !errors.Is(errGet, gorm.ErrRecordNotFound) {
			log.WithError(errGet).WithField("user", userID).Error("audio usage check failed")
		}
		return CheckResult{UsageError: true}
	}
	return CheckResult{Remaining: clampNonNegative(row.MaxAudioTranscriptionMinutes - row.AudioTranscriptionMinutes)}
}

// NeedsUpgrade reports the account-level upgrade flag: the account is not in
// the active+paid set and its token allotment is spent, so no billing event
// will ever replenish it.
func (s *Service) NeedsUpgrade(ctx context.Context, userID string) (bool, error) {
	row, errGet := s.Get(ctx, userID)
	if errGet != nil {
		if errors.Is(errGet, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errGet
	}
	return !row.IsBillable() && row.TokenUsage >= row.MaxTokenUsage, nil
}

// IncrementTokens atomically adds the amount to the token counter and returns
// the new remaining balance. The increment is a single SQL expression so
// concurrent requests from the same user cannot lose updates.
func (s *Service) IncrementTokens(ctx context.Context, userID string, amount int64) CheckResult {
	return s.increment(ctx, userID, "token_usage", amount, func(row *models.UserUsage) int64 {
		return row.MaxTokenUsage - row.TokenUsage
	})
}

// IncrementAudioMinutes atomically adds the amount to the transcription
// minute counter and returns the new remaining balance.
func (s *Service) IncrementAudioMinutes(ctx context.Context, userID string, amount int64) CheckResult {
	return s.increment(ctx, userID, "audio_transcription_minutes", amount, func(row *models.UserUsage) int64 {
		return row.MaxAudioTranscriptionMinutes - row.AudioTranscriptionMinutes
	})
}

func (s *Service) increment(ctx context.Context, userID, column string, amount int64, remaining func(*models.UserUsage) int64) CheckResult {
	amount = sanitizeAmount(amount)

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if errUpdate := s.db.WithContext(dbCtx).
		Model(&models.UserUsage{}).
		Where("user_id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", amount)).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("user", userID).Error("usage increment failed")
		return CheckResult{UsageError: true}
	}

	row, errGet := s.Get(ctx, userID)
	if errGet != nil {
		log.WithError(errGet).WithField("user", userID).Error("usage read-back failed")
		return CheckResult{UsageError: true}
	}
	return CheckResult{Remaining: clampNonNegative(remaining(row))}
}

// IncrementAndLogTokens is the accumulator entry point for token-metered
// routes: it sanitizes the amount, re-checks the balance, applies the atomic
// increment, and emits best-effort bookkeeping. Bookkeeping failures are
// reported through UsageError but must not fail the caller's request; the
// downstream work product already exists.
func (s *Service) IncrementAndLogTokens(ctx context.Context, userID string, tokens int64, route string) IncrementResult {
	if !s.enforce {
		return IncrementResult{}
	}
	tokens = sanitizeAmount(tokens)

	check := s.CheckTokens(ctx, userID)
	if check.UsageError {
		return IncrementResult{UsageError: true}
	}
	needsUpgrade, errUpgrade := s.NeedsUpgrade(ctx, userID)
	if errUpgrade != nil {
		return IncrementResult{UsageError: true}
	}
	if check.Remaining <= 0 || needsUpgrade {
		return IncrementResult{NeedsUpgrade: true}
	}

	result := s.IncrementTokens(ctx, userID, tokens)
	if result.UsageError {
		return IncrementResult{UsageError: true}
	}

	s.logEvent(userID, route, models.ResourceTokens, tokens, result.Remaining)
	s.analytics.CaptureTokenUsage(userID, tokens, result.Remaining)

	return IncrementResult{
		Remaining:    result.Remaining,
		NeedsUpgrade: result.Remaining == 0,
	}
}

// IncrementAndLogAudioMinutes is the accumulator entry point for
// transcription routes. The quota gate has already run before the
// transcription call, so this only accumulates and reports.
func (s *Service) IncrementAndLogAudioMinutes(ctx context.Context, userID string, minutes int64, route string) IncrementResult {
	if !s.enforce {
		return IncrementResult{}
	}
	minutes = sanitizeAmount(minutes)

	result := s.IncrementAudioMinutes(ctx, userID, minutes)
	if result.UsageError {
		return IncrementResult{UsageError: true}
	}

	s.logEvent(userID, route, models.ResourceAudioMinutes, minutes, result.Remaining)
	s.analytics.CaptureAudioUsage(userID, minutes, result.Remaining)

	return IncrementResult{
		Remaining:    result.Remaining,
		NeedsUpgrade: result.Remaining == 0,
	}
}

// logEvent appends a metering row. Failures are swallowed after logging.
func (s *Service) logEvent(userID, route, resource string, amount, remaining int64) {
	dbCtx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	row := models.UsageEvent{
		EventID:     uuid.NewString(),
		UserID:      userID,
		Route:       route,
		Resource:    resource,
		Amount:      amount,
		Remaining:   remaining,
		RequestedAt: time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("user", userID).Warn("usage event write failed")
	}
}

// LogFailedEvent appends a metering row for a request whose downstream
// operation failed, with structured error detail attached.
func (s *Service) LogFailedEvent(userID, route, resource string, detail any) {
	dbCtx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	var payload datatypes.JSON
	if detail != nil {
		if raw, errMarshal := json.Marshal(detail); errMarshal == nil {
			payload = datatypes.JSON(raw)
		}
	}
	row := models.UsageEvent{
		EventID:     uuid.NewString(),
		UserID:      userID,
		Route:       route,
		Resource:    resource,
		Failed:      true,
		ErrorDetail: payload,
		RequestedAt: time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("user", userID).Warn("failed usage event write failed")
	}
}

// sanitizeAmount floors negative consumption to zero; a negative amount must
// never increase remaining balance.
func sanitizeAmount(amount int64) int64 {
	if amount < 0 {
		return 0
	}
	return amount
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
