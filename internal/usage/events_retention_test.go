package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/organote/organote/internal/models"
)

func TestEventsRetentionCleanerDeletesOldRows(t *testing.T) {
	conn := setupUsageDB(t)

	old := models.UsageEvent{
		EventID:     uuid.NewString(),
		UserID:      "user-a",
		Route:       "classify",
		Resource:    models.ResourceTokens,
		Amount:      100,
		RequestedAt: time.Now().UTC().AddDate(0, 0, -120),
	}
	recent := models.UsageEvent{
		EventID:     uuid.NewString(),
		UserID:      "user-a",
		Route:       "classify",
		Resource:    models.ResourceTokens,
		Amount:      100,
		RequestedAt: time.Now().UTC(),
	}
	for _, row := range []models.UsageEvent{old, recent} {
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			t.Fatalf("seed event: %v", errCreate)
		}
	}

	cleaner := NewEventsRetentionCleaner(conn, 90)
	if cleaner == nil {
		t.Fatalf("cleaner must be constructed for positive retention")
	}
	cleaner.cleanupOnce(context.Background())

	var remaining []models.UsageEvent
	if errFind := conn.Find(&remaining).Error; errFind != nil {
		t.Fatalf("find events: %v", errFind)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected one surviving row, got %d", len(remaining))
	}
	if remaining[0].EventID != recent.EventID {
		t.Fatalf("wrong row survived: %s", remaining[0].EventID)
	}
}

func TestEventsRetentionCleanerDisabled(t *testing.T) {
	conn := setupUsageDB(t)
	if cleaner := NewEventsRetentionCleaner(conn, -1); cleaner != nil {
		t.Fatalf("negative retention must disable the cleaner")
	}
	if cleaner := NewEventsRetentionCleaner(nil, 90); cleaner != nil {
		t.Fatalf("nil store must disable the cleaner")
	}
}
