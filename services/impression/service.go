package impression

import (
	"context"
	"errors"
	"strings"
	"time"

	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/repository"
	"looks-ledger/services/account"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrMissingField = errors.New("offer_key and surface are required")

var recorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offer_impressions_total",
	Help: "Recorded offer impressions by client channel.",
}, []string{"channel"})

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	impressions repository.Repository[OfferImpression]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		impressions: repository.ProvideStore[OfferImpression](p.DB),
	}
}

// Record appends the impression and touches the account's last_seen_at in
// one transaction. A user without an account row only gets the impression.
func (s *Service) Record(ctx context.Context, userID string, p RecordParams) error {
	zapLog := logger.FromContext(ctx).With(zap.String("user_id", userID), zap.String("operation", "record_impression"))

	p.OfferKey = strings.TrimSpace(p.OfferKey)
	p.Surface = strings.TrimSpace(p.Surface)
	if userID == "" || p.OfferKey == "" || p.Surface == "" {
		return errutil.BadRequest(ErrMissingField.Error(), ErrMissingField)
	}

	now := s.now().UTC()
	imp := &OfferImpression{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		OfferKey:  p.OfferKey,
		Surface:   p.Surface,
		Channel:   p.Channel,
		CreatedAt: now,
	}
	if p.ActionTaken != "" {
		action := p.ActionTaken
		imp.ActionTaken = &action
	}
	if len(p.Context) > 0 && string(p.Context) != "null" {
		imp.Context = datatypes.JSON(p.Context)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.impressions.WithTrx(tx).Create(ctx, imp); err != nil {
			return err
		}

		return tx.Model(&account.Account{}).
			Where("user_id = ?", userID).
			UpdateColumn("last_seen_at", now).Error
	})
	if err != nil {
		zapLog.Error("failed to record impression", zap.String("offer_key", p.OfferKey), zap.Error(err))
		return errutil.Internal("failed to record impression", err)
	}

	recorded.WithLabelValues(channelLabel(p.Channel)).Inc()
	return nil
}

// channelLabel keeps the metric label set fixed; surfaces and offer keys are
// client supplied and stay in the table only.
func channelLabel(channel string) string {
	switch channel {
	case "ios", "android", "web", "api":
		return channel
	case "":
		return "api"
	default:
		return "other"
	}
}
