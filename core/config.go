package core

import (
	"fmt"
	"strings"
	"time"
)

// WebhookConfig governs admission of inbound provider requests.
type WebhookConfig struct {
	VerifyToken       string        `koanf:"verify_token" mapstructure:"verify_token"`
	AppSecret         string        `koanf:"app_secret" mapstructure:"app_secret"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	ChallengeCacheTTL time.Duration `koanf:"challenge_cache_ttl" mapstructure:"challenge_cache_ttl"`
	// AllowUnsigned enables the operational-testing signature bypass. It is
	// ignored when Environment is "production".
	AllowUnsigned    bool     `koanf:"allow_unsigned" mapstructure:"allow_unsigned"`
	UnsignedToken    string   `koanf:"unsigned_token" mapstructure:"unsigned_token"`
	UnsignedAllowIPs []string `koanf:"unsigned_allow_ips" mapstructure:"unsigned_allow_ips"`
}

// IngressRateConfig is the fixed-window request ceiling per client identity.
type IngressRateConfig struct {
	Requests int           `koanf:"requests" mapstructure:"requests"`
	Window   time.Duration `koanf:"window" mapstructure:"window"`
}

// RouteConfig is one keyword-scored routing target.
type RouteConfig struct {
	Service  string   `koanf:"service" mapstructure:"service"`
	Keywords []string `koanf:"keywords" mapstructure:"keywords"`
	Priority int      `koanf:"priority" mapstructure:"priority"`
}

// RoutingConfig is read-only after process start.
type RoutingConfig struct {
	Mode             string        `koanf:"mode" mapstructure:"mode"`
	SampleRate       float64       `koanf:"sample_rate" mapstructure:"sample_rate"`
	DefaultService   string        `koanf:"default_service" mapstructure:"default_service"`
	DisabledServices []string      `koanf:"disabled_services" mapstructure:"disabled_services"`
	Routes           []RouteConfig `koanf:"routes" mapstructure:"routes"`
	ForwardTimeout   time.Duration `koanf:"forward_timeout" mapstructure:"forward_timeout"`
	BaseURL          string        `koanf:"base_url" mapstructure:"base_url"`
}

// DispatchConfig bounds in-process handling and claim retention.
type DispatchConfig struct {
	HandlerTimeout   time.Duration `koanf:"handler_timeout" mapstructure:"handler_timeout"`
	ClaimTTL         time.Duration `koanf:"claim_ttl" mapstructure:"claim_ttl"`
	SweepMinInterval time.Duration `koanf:"sweep_min_interval" mapstructure:"sweep_min_interval"`
}

// DeliveryConfig tunes the outbound engine: batch sizing, retry ceilings,
// backoff bases/caps, the sending-claim lease, the soft per-recipient send
// window, and the default quiet-hours window applied to lazily created
// preferences.
type DeliveryConfig struct {
	BatchLimit            int           `koanf:"batch_limit" mapstructure:"batch_limit"`
	MaxRetries            int           `koanf:"max_retries" mapstructure:"max_retries"`
	RetryBaseBackoff      time.Duration `koanf:"retry_base_backoff" mapstructure:"retry_base_backoff"`
	RetryMaxBackoff       time.Duration `koanf:"retry_max_backoff" mapstructure:"retry_max_backoff"`
	RateLimitBaseBackoff  time.Duration `koanf:"rate_limit_base_backoff" mapstructure:"rate_limit_base_backoff"`
	RateLimitMaxBackoff   time.Duration `koanf:"rate_limit_max_backoff" mapstructure:"rate_limit_max_backoff"`
	SendingStaleAfter     time.Duration `koanf:"sending_stale_after" mapstructure:"sending_stale_after"`
	SoftLimitCount        int           `koanf:"soft_limit_count" mapstructure:"soft_limit_count"`
	SoftLimitWindow       time.Duration `koanf:"soft_limit_window" mapstructure:"soft_limit_window"`
	DefaultQuietStart     string        `koanf:"default_quiet_start" mapstructure:"default_quiet_start"`
	DefaultQuietEnd       string        `koanf:"default_quiet_end" mapstructure:"default_quiet_end"`
	DefaultTimezone       string        `koanf:"default_timezone" mapstructure:"default_timezone"`
}

// ProviderConfig points at the chat provider's send API.
type ProviderConfig struct {
	BaseURL       string        `koanf:"base_url" mapstructure:"base_url"`
	PhoneNumberID string        `koanf:"phone_number_id" mapstructure:"phone_number_id"`
	AccessToken   string        `koanf:"access_token" mapstructure:"access_token"`
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Environment string            `koanf:"environment" mapstructure:"environment"`
	RecipientID string            `koanf:"recipient_id" mapstructure:"recipient_id"`
	Webhook     WebhookConfig     `koanf:"webhook" mapstructure:"webhook"`
	Ingress     IngressRateConfig `koanf:"ingress" mapstructure:"ingress"`
	Routing     RoutingConfig     `koanf:"routing" mapstructure:"routing"`
	Dispatch    DispatchConfig    `koanf:"dispatch" mapstructure:"dispatch"`
	Delivery    DeliveryConfig    `koanf:"delivery" mapstructure:"delivery"`
	Provider    ProviderConfig    `koanf:"provider" mapstructure:"provider"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "chat-gateway",
		Environment: "development",
		Webhook: WebhookConfig{
			MaxBodyBytes:      512 * 1024,
			ChallengeCacheTTL: 60 * time.Second,
		},
		Ingress: IngressRateConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Routing: RoutingConfig{
			Mode:           string(RoutingModeDisabled),
			SampleRate:     1.0,
			ForwardTimeout: 4 * time.Second,
		},
		Dispatch: DispatchConfig{
			HandlerTimeout:   25 * time.Second,
			ClaimTTL:         30 * 24 * time.Hour,
			SweepMinInterval: 10 * time.Minute,
		},
		Delivery: DeliveryConfig{
			BatchLimit:           25,
			MaxRetries:           5,
			RetryBaseBackoff:     30 * time.Second,
			RetryMaxBackoff:      900 * time.Second,
			RateLimitBaseBackoff: 300 * time.Second,
			RateLimitMaxBackoff:  3600 * time.Second,
			SendingStaleAfter:    10 * time.Minute,
			SoftLimitCount:       20,
			SoftLimitWindow:      time.Hour,
			DefaultQuietStart:    "21:00",
			DefaultQuietEnd:      "07:00",
			DefaultTimezone:      "UTC",
		},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must be positive")
	}
	if c.Ingress.Requests <= 0 || c.Ingress.Window <= 0 {
		return fmt.Errorf("core: ingress rate window requires positive requests and window")
	}
	if _, err := ParseRoutingMode(c.Routing.Mode); err != nil {
		return err
	}
	if c.Routing.SampleRate < 0 || c.Routing.SampleRate > 1 {
		return fmt.Errorf("core: routing.sample_rate must be within [0, 1]")
	}
	if c.Dispatch.HandlerTimeout <= 0 {
		return fmt.Errorf("core: dispatch.handler_timeout must be positive")
	}
	if c.Dispatch.ClaimTTL <= 0 {
		return fmt.Errorf("core: dispatch.claim_ttl must be positive")
	}
	if c.Delivery.BatchLimit <= 0 {
		return fmt.Errorf("core: delivery.batch_limit must be positive")
	}
	if c.Delivery.RetryBaseBackoff <= 0 || c.Delivery.RetryMaxBackoff < c.Delivery.RetryBaseBackoff {
		return fmt.Errorf("core: delivery retry backoff bounds are inverted")
	}
	if c.Delivery.RateLimitBaseBackoff <= 0 || c.Delivery.RateLimitMaxBackoff < c.Delivery.RateLimitBaseBackoff {
		return fmt.Errorf("core: delivery rate-limit backoff bounds are inverted")
	}
	if c.Delivery.SendingStaleAfter <= 0 {
		return fmt.Errorf("core: delivery.sending_stale_after must be positive")
	}
	if strings.TrimSpace(c.Delivery.DefaultQuietStart) != "" {
		if _, err := parseClockMinutes(c.Delivery.DefaultQuietStart); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Delivery.DefaultQuietEnd) != "" {
		if _, err := parseClockMinutes(c.Delivery.DefaultQuietEnd); err != nil {
			return err
		}
	}
	return nil
}

// RoutingModeValue parses the configured routing mode; invalid values were
// already rejected by Validate, so parse failures degrade to disabled.
func (c Config) RoutingModeValue() RoutingMode {
	mode, err := ParseRoutingMode(c.Routing.Mode)
	if err != nil {
		return RoutingModeDisabled
	}
	return mode
}

// SignatureBypassAllowed reports whether the unsigned-request bypass may be
// honored at all. Production always refuses.
func (c Config) SignatureBypassAllowed() bool {
	if !c.Webhook.AllowUnsigned {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// DefaultPreference builds the lazily created contact preference row.
func (c Config) DefaultPreference(contactID string, now time.Time) ContactPreference {
	return ContactPreference{
		ContactID:       strings.TrimSpace(contactID),
		OptedOut:        false,
		QuietHoursStart: c.Delivery.DefaultQuietStart,
		QuietHoursEnd:   c.Delivery.DefaultQuietEnd,
		Timezone:        c.Delivery.DefaultTimezone,
		UpdatedAt:       now,
	}
}
