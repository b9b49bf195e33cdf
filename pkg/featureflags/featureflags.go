package featureflags

import (
	"context"

	"engagement-core/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

const (
	// PowerUp gates content power-up activation per owner.
	PowerUp = "content_power_up"
)

type FeatureFlag interface {
	// Enabled reports whether feature is on for identifier. Unknown
	// features and a missing client count as enabled.
	Enabled(ctx context.Context, identifier, feature string) (bool, error)
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
		zap.L().Info("[FeatureFlag] no api key, every feature is enabled")
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, identifier, feature string) (bool, error) {
	if s.client == nil {
		return true, nil
	}

	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		return false, err
	}

	for _, f := range flags.AllFlags() {
		if f.FeatureName == feature {
			return f.Enabled, nil
		}
	}
	return true, nil
}
