package impression

import (
	"time"

	"gorm.io/datatypes"
)

// OfferImpression records that an offer was shown to a user. Write-only.
type OfferImpression struct {
	ID          string         `gorm:"column:id;primaryKey;size:32" json:"id"`
	UserID      string         `gorm:"column:user_id;size:64;not null;index:idx_offer_impressions_user_created,priority:1" json:"user_id"`
	OfferKey    string         `gorm:"column:offer_key;size:128;not null;index" json:"offer_key"`
	Surface     string         `gorm:"column:surface;size:128;not null" json:"surface"`
	ActionTaken *string        `gorm:"column:action_taken;size:64" json:"action_taken,omitempty"`
	Context     datatypes.JSON `gorm:"column:context" json:"context,omitempty"`
	Channel     string         `gorm:"column:channel;size:16" json:"channel"`
	CreatedAt   time.Time      `gorm:"column:created_at;index:idx_offer_impressions_user_created,priority:2" json:"created_at"`
}

func (OfferImpression) TableName() string { return "offer_impressions" }

type RecordParams struct {
	OfferKey    string
	Surface     string
	ActionTaken string
	Context     []byte
	Channel     string
}
