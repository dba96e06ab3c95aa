package models

import (
	"time"

	"gorm.io/datatypes"
)

// Metered resource kinds.
const (
	ResourceTokens       = "tokens"
	ResourceAudioMinutes = "audio_minutes"
)

// UsageEvent records metering data for a single request. Rows are append-only
// and written best-effort after the downstream operation completes.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID string `gorm:"type:text;not null;uniqueIndex"` // Random event identifier.
	UserID  string `gorm:"type:text;not null;index"`       // Related user identity.

	Route    string `gorm:"type:text;not null;index"` // API route that consumed the resource.
	Resource string `gorm:"type:text;not null"`       // Resource kind: tokens or audio_minutes.

	Amount    int64 `gorm:"not null;default:0"` // Amount consumed.
	Remaining int64 `gorm:"not null;default:0"` // Remaining balance after accumulation.

	Failed      bool           `gorm:"not null;default:false"` // Bookkeeping failure flag.
	ErrorDetail datatypes.JSON `gorm:"type:jsonb"`             // Structured error detail JSON.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
