package featureflags

import (
	"context"
	"errors"

	"looks-ledger/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v3"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// ErrDisabled is returned by every lookup when no Flagsmith key is configured.
var ErrDisabled = errors.New("feature flags disabled")

type FeatureFlag interface {
	Flags(ctx context.Context, identifier string, traits ...*flagsmith.Trait) (flagsmith.Flags, error)
	// Value returns the value of an enabled feature for identifier. ok is
	// false when the feature is disabled for that identity.
	Value(ctx context.Context, identifier, feature string) (value any, ok bool, err error)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	// base url first, the analytics processor captures it
	var opts []flagsmith.Option
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}
	opts = append(opts, flagsmith.WithAnalytics(context.Background()))

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Flags(ctx context.Context, identifier string, traits ...*flagsmith.Trait) (flagsmith.Flags, error) {
	if s.client == nil {
		return flagsmith.Flags{}, ErrDisabled
	}

	var traitSlice []*flagsmith.Trait
	if len(traits) > 0 {
		traitSlice = traits
	}

	return s.client.GetIdentityFlags(ctx, identifier, traitSlice)
}

func (s *featureflag) Value(ctx context.Context, identifier, feature string) (any, bool, error) {
	flags, err := s.Flags(ctx, identifier)
	if err != nil {
		return nil, false, err
	}

	flag, err := flags.GetFlag(feature)
	if err != nil {
		return nil, false, err
	}
	if !flag.Enabled {
		return nil, false, nil
	}

	return flag.Value, true, nil
}
