package account

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type QualityTier string

const (
	QualityStandard QualityTier = "standard"
	QualityElevated QualityTier = "elevated"
)

// Account is the per-user ledger row. Balance is owned by the credit service,
// the entitlement columns by the reconciler and LastSeenAt by the impression
// recorder; every writer updates only its own columns.
type Account struct {
	UserID            string      `gorm:"column:user_id;primaryKey;size:64" json:"user_id"`
	Balance           int64       `gorm:"column:balance;not null;default:0;check:balance >= 0" json:"balance"`
	EntitlementActive bool        `gorm:"column:entitlement_active;not null;default:false" json:"entitlement_active"`
	QualityTier       QualityTier `gorm:"column:quality_tier;size:16;not null;default:'standard'" json:"quality_tier"`
	WatermarkDisabled bool        `gorm:"column:watermark_disabled;not null;default:false" json:"watermark_disabled"`
	LastSeenAt        *time.Time  `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt         time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// TierFor derives the quality tier from the entitlement flag.
func TierFor(active bool) QualityTier {
	if active {
		return QualityElevated
	}
	return QualityStandard
}

// ApplyEntitlement sets the entitlement flag together with its derived fields.
func (a *Account) ApplyEntitlement(active bool) {
	a.EntitlementActive = active
	a.QualityTier = TierFor(active)
	a.WatermarkDisabled = active
}

// EntitlementColumns lists the columns the reconciler is allowed to write.
var EntitlementColumns = []string{"entitlement_active", "quality_tier", "watermark_disabled", "updated_at"}

// EntitlementUpdates is the partial update map for an entitlement change.
func EntitlementUpdates(active bool, now time.Time) map[string]any {
	return map[string]any{
		"entitlement_active": active,
		"quality_tier":       TierFor(active),
		"watermark_disabled": active,
		"updated_at":         now,
	}
}

// Find returns the account for userID or nil when the row has not been
// created yet.
func Find(ctx context.Context, db *gorm.DB, userID string) (*Account, error) {
	var acc Account
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
