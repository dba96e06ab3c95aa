package usage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultEventsRetentionInterval = 6 * time.Hour
	defaultEventsDeleteBatchSize   = 5000
	maxDeleteBatchesPerRun         = 2000
)

// EventsRetentionCleaner periodically deletes old rows from the usage_events
// table. Metering rows only back support and billing disputes; they have no
// value past the retention window.
type EventsRetentionCleaner struct {
	db            *gorm.DB
	retentionDays int
	interval      time.Duration
	batchSize     int
}

// NewEventsRetentionCleaner constructs a cleaner. A non-positive retention
// disables cleanup entirely.
func NewEventsRetentionCleaner(db *gorm.DB, retentionDays int) *EventsRetentionCleaner {
	if db == nil || retentionDays <= 0 {
		return nil
	}
	return &EventsRetentionCleaner{
		db:            db,
		retentionDays: retentionDays,
		interval:      defaultEventsRetentionInterval,
		batchSize:     defaultEventsDeleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *EventsRetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go c.run(ctx)
	log.Infof("usage events retention cleaner started (interval=%s retention_days=%d)", c.interval, c.retentionDays)
}

func (c *EventsRetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.cleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (c *EventsRetentionCleaner) cleanupOnce(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return
		}
		n, errDelete := c.deleteBatch(ctx, cutoff)
		if errDelete != nil {
			log.WithError(errDelete).Warn("usage events retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}

	if deletedTotal > 0 {
		log.Infof("usage events retention cleaner: deleted %d rows (cutoff=%s)", deletedTotal, cutoff.Format(time.RFC3339))
	}
}

func (c *EventsRetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	// Use a limited subquery to avoid long-running transactions and table locks.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM usage_events
		WHERE id IN (
			SELECT id FROM usage_events
			WHERE requested_at < ?
			ORDER BY requested_at ASC
			LIMIT ?
		)
	`, cutoff, c.batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
