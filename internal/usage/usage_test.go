package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/organote/organote/internal/models"
)

func setupUsageDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:usage_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("raw db: %v", errDB)
	}
	// Serialize writes through a single connection; SQLite is not the
	// production store and concurrent writers would hit lock errors.
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := conn.AutoMigrate(&models.UserUsage{}, &models.UsageEvent{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func TestEnsureUserCreatesDefaults(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-a"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}

	row, errGet := svc.Get(context.Background(), "user-a")
	if errGet != nil {
		t.Fatalf("get user: %v", errGet)
	}
	if row.TokenUsage != 0 {
		t.Fatalf("expected zero token usage, got %d", row.TokenUsage)
	}
	if row.MaxTokenUsage != DefaultMaxTokenUsage {
		t.Fatalf("expected legacy ceiling %d, got %d", DefaultMaxTokenUsage, row.MaxTokenUsage)
	}
	if row.SubscriptionStatus != models.SubscriptionInactive {
		t.Fatalf("expected inactive subscription, got %s", row.SubscriptionStatus)
	}
}

func TestEnsureUserConcurrentCreatesOneRecord(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.EnsureUser(context.Background(), "new-user")
		}()
	}
	wg.Wait()
	close(errs)
	for errEnsure := range errs {
		if errEnsure != nil {
			t.Fatalf("concurrent ensure: %v", errEnsure)
		}
	}

	var count int64
	if errCount := conn.Model(&models.UserUsage{}).Where("user_id = ?", "new-user").Count(&count).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record, got %d", count)
	}
}

func TestEnsureUserDoesNotResetExisting(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-b"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}
	if errUpdate := conn.Model(&models.UserUsage{}).Where("user_id = ?", "user-b").
		Update("token_usage", 500).Error; errUpdate != nil {
		t.Fatalf("seed usage: %v", errUpdate)
	}

	if errEnsure := svc.EnsureUser(context.Background(), "user-b"); errEnsure != nil {
		t.Fatalf("re-ensure user: %v", errEnsure)
	}
	row, errGet := svc.Get(context.Background(), "user-b")
	if errGet != nil {
		t.Fatalf("get user: %v", errGet)
	}
	if row.TokenUsage != 500 {
		t.Fatalf("ensure must not reset counters, got %d", row.TokenUsage)
	}
}

func TestConcurrentIncrementsLoseNoUpdates(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "busy-user"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}

	const k = 50
	const amount = 10_000
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := svc.IncrementTokens(context.Background(), "busy-user", amount)
			if result.UsageError {
				t.Error("increment reported usage error")
			}
		}()
	}
	wg.Wait()

	row, errGet := svc.Get(context.Background(), "busy-user")
	if errGet != nil {
		t.Fatalf("get user: %v", errGet)
	}
	if row.TokenUsage != k*amount {
		t.Fatalf("expected %d tokens, got %d", k*amount, row.TokenUsage)
	}
}

func TestNegativeAmountsAreFloored(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-c"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}

	result := svc.IncrementTokens(context.Background(), "user-c", -50)
	if result.UsageError {
		t.Fatalf("increment reported usage error")
	}
	if result.Remaining != DefaultMaxTokenUsage {
		t.Fatalf("negative amount must not change remaining, got %d", result.Remaining)
	}

	row, errGet := svc.Get(context.Background(), "user-c")
	if errGet != nil {
		t.Fatalf("get user: %v", errGet)
	}
	if row.TokenUsage != 0 {
		t.Fatalf("counter must stay at zero, got %d", row.TokenUsage)
	}
}

func TestIncrementAndLogTokensNearCeiling(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-d"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}
	if errUpdate := conn.Model(&models.UserUsage{}).Where("user_id = ?", "user-d").
		Update("token_usage", DefaultMaxTokenUsage-1).Error; errUpdate != nil {
		t.Fatalf("seed usage: %v", errUpdate)
	}

	// One token remains, so the request proceeds; the overage is settled
	// after the fact and the caller is told to upgrade.
	result := svc.IncrementAndLogTokens(context.Background(), "user-d", 50, "classify")
	if result.UsageError {
		t.Fatalf("unexpected usage error")
	}
	if result.Remaining != 0 {
		t.Fatalf("expected zero remaining, got %d", result.Remaining)
	}
	if !result.NeedsUpgrade {
		t.Fatalf("expected needs-upgrade flag")
	}

	row, errGet := svc.Get(context.Background(), "user-d")
	if errGet != nil {
		t.Fatalf("get user: %v", errGet)
	}
	if row.TokenUsage != DefaultMaxTokenUsage+49 {
		t.Fatalf("expected counter %d, got %d", DefaultMaxTokenUsage+49, row.TokenUsage)
	}
}

func TestIncrementAndLogTokensExhausted(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-e"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}
	if errUpdate := conn.Model(&models.UserUsage{}).Where("user_id = ?", "user-e").
		Update("token_usage", DefaultMaxTokenUsage).Error; errUpdate != nil {
		t.Fatalf("seed usage: %v", errUpdate)
	}

	result := svc.IncrementAndLogTokens(context.Background(), "user-e", 50, "classify")
	if !result.NeedsUpgrade {
		t.Fatalf("expected needs-upgrade flag")
	}
	if result.Remaining != 0 {
		t.Fatalf("expected zero remaining, got %d", result.Remaining)
	}

	row, errGet := svc.Get(context.Background(), "user-e")
	if errGet != nil {
		t.Fatalf("get user: %v", errGet)
	}
	if row.TokenUsage != DefaultMaxTokenUsage {
		t.Fatalf("exhausted account must not accumulate, got %d", row.TokenUsage)
	}
}

func TestIncrementAndLogTokensWritesEvent(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-f"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}

	result := svc.IncrementAndLogTokens(context.Background(), "user-f", 150, "format")
	if result.UsageError {
		t.Fatalf("unexpected usage error")
	}
	if result.Remaining != DefaultMaxTokenUsage-150 {
		t.Fatalf("expected remaining %d, got %d", DefaultMaxTokenUsage-150, result.Remaining)
	}

	var event models.UsageEvent
	if errFind := conn.Where("user_id = ?", "user-f").First(&event).Error; errFind != nil {
		t.Fatalf("find event: %v", errFind)
	}
	if event.Route != "format" || event.Resource != models.ResourceTokens {
		t.Fatalf("unexpected event %s/%s", event.Route, event.Resource)
	}
	if event.Amount != 150 {
		t.Fatalf("expected amount 150, got %d", event.Amount)
	}
}

func TestDisabledServiceSkipsStore(t *testing.T) {
	svc := NewService(nil, nil, false)

	result := svc.IncrementAndLogTokens(context.Background(), "anyone", 150, "classify")
	if result.UsageError || result.NeedsUpgrade || result.Remaining != 0 {
		t.Fatalf("disabled service must no-op, got %+v", result)
	}
	check := svc.CheckTokens(context.Background(), "anyone")
	if check.UsageError {
		t.Fatalf("disabled check must not error")
	}
}

func TestCheckAudioMinutes(t *testing.T) {
	conn := setupUsageDB(t)
	svc := NewService(conn, nil, true)

	if errEnsure := svc.EnsureUser(context.Background(), "user-g"); errEnsure != nil {
		t.Fatalf("ensure user: %v", errEnsure)
	}
	if errUpdate := conn.Model(&models.UserUsage{}).Where("user_id = ?", "user-g").
		Updates(map[string]any{
			"audio_transcription_minutes":     50,
			"max_audio_transcription_minutes": 100,
		}).Error; errUpdate != nil {
		t.Fatalf("seed usage: %v", errUpdate)
	}

	check := svc.CheckAudioMinutes(context.Background(), "user-g")
	if check.UsageError {
		t.Fatalf("unexpected usage error")
	}
	if check.Remaining != 50 {
		t.Fatalf("expected 50 minutes remaining, got %d", check.Remaining)
	}

	result := svc.IncrementAndLogAudioMinutes(context.Background(), "user-g", 10, "transcribe")
	if result.UsageError {
		t.Fatalf("unexpected usage error")
	}
	if result.Remaining != 40 {
		t.Fatalf("expected 40 minutes remaining, got %d", result.Remaining)
	}
}
