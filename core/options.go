package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.Environment) != "" {
		layer["environment"] = cfg.Environment
	}
	if includeZero || strings.TrimSpace(cfg.RecipientID) != "" {
		layer["recipient_id"] = cfg.RecipientID
	}

	webhook := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Webhook.VerifyToken) != "" {
		webhook["verify_token"] = cfg.Webhook.VerifyToken
	}
	if includeZero || strings.TrimSpace(cfg.Webhook.AppSecret) != "" {
		webhook["app_secret"] = cfg.Webhook.AppSecret
	}
	if includeZero || cfg.Webhook.MaxBodyBytes > 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	if includeZero || cfg.Webhook.ChallengeCacheTTL > 0 {
		webhook["challenge_cache_ttl"] = cfg.Webhook.ChallengeCacheTTL
	}
	if includeZero || cfg.Webhook.AllowUnsigned {
		webhook["allow_unsigned"] = cfg.Webhook.AllowUnsigned
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	ingress := map[string]any{}
	if includeZero || cfg.Ingress.Requests > 0 {
		ingress["requests"] = cfg.Ingress.Requests
	}
	if includeZero || cfg.Ingress.Window > 0 {
		ingress["window"] = cfg.Ingress.Window
	}
	if len(ingress) > 0 {
		layer["ingress"] = ingress
	}

	routing := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Routing.Mode) != "" {
		routing["mode"] = cfg.Routing.Mode
	}
	if includeZero || cfg.Routing.SampleRate > 0 {
		routing["sample_rate"] = cfg.Routing.SampleRate
	}
	if includeZero || strings.TrimSpace(cfg.Routing.DefaultService) != "" {
		routing["default_service"] = cfg.Routing.DefaultService
	}
	if includeZero || len(cfg.Routing.DisabledServices) > 0 {
		routing["disabled_services"] = append([]string(nil), cfg.Routing.DisabledServices...)
	}
	if len(routing) > 0 {
		layer["routing"] = routing
	}

	dispatch := map[string]any{}
	if includeZero || cfg.Dispatch.HandlerTimeout > 0 {
		dispatch["handler_timeout"] = cfg.Dispatch.HandlerTimeout
	}
	if includeZero || cfg.Dispatch.ClaimTTL > 0 {
		dispatch["claim_ttl"] = cfg.Dispatch.ClaimTTL
	}
	if includeZero || cfg.Dispatch.SweepMinInterval > 0 {
		dispatch["sweep_min_interval"] = cfg.Dispatch.SweepMinInterval
	}
	if len(dispatch) > 0 {
		layer["dispatch"] = dispatch
	}

	delivery := map[string]any{}
	if includeZero || cfg.Delivery.BatchLimit > 0 {
		delivery["batch_limit"] = cfg.Delivery.BatchLimit
	}
	if includeZero || cfg.Delivery.MaxRetries > 0 {
		delivery["max_retries"] = cfg.Delivery.MaxRetries
	}
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}

	return layer
}
