package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

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

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// EnvRawConfigLoader maps PREFIX_SECTION__KEY variables into nested config
// keys, e.g. EVENTHOOKS_DIGEST__DAILY_HOUR=9 sets digest.daily_hour.
type EnvRawConfigLoader struct {
	Prefix  string
	Environ func() []string
}

func (l EnvRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := strings.ToUpper(strings.TrimSpace(l.Prefix))
	if prefix == "" {
		prefix = "EVENTHOOKS"
	}
	prefix += "_"
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}

	out := map[string]any{}
	for _, entry := range environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix)), "__")
		setNested(out, path, parseEnvValue(value))
	}
	return out, nil
}

func setNested(target map[string]any, path []string, value any) {
	if len(path) == 0 || strings.TrimSpace(path[0]) == "" {
		return
	}
	if len(path) == 1 {
		target[path[0]] = value
		return
	}
	child, ok := target[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		target[path[0]] = child
	}
	setNested(child, path[1:], value)
}

func parseEnvValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if parsed, err := strconv.ParseBool(raw); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
		return parsed
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		return parsed
	}
	return raw
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
		loader = StaticRawConfigLoader{}
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

// GoOptionsResolver layers defaults, loaded config and runtime overrides,
// in that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
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

// ResolveConfig loads config through provider and merges the runtime
// overrides on top.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type layerBuilder struct {
	values      map[string]any
	includeZero bool
}

func (b layerBuilder) str(key, value string) {
	if b.includeZero || strings.TrimSpace(value) != "" {
		b.values[key] = value
	}
}

func (b layerBuilder) num(key string, value int64) {
	if b.includeZero || value != 0 {
		b.values[key] = value
	}
}

func (b layerBuilder) float(key string, value float64) {
	if b.includeZero || value != 0 {
		b.values[key] = value
	}
}

func (b layerBuilder) dur(key string, value time.Duration) {
	if b.includeZero || value != 0 {
		b.values[key] = value
	}
}

func (b layerBuilder) boolean(key string, value bool) {
	if b.includeZero || value {
		b.values[key] = value
	}
}

func (b layerBuilder) section(key string, fill func(layerBuilder)) {
	child := layerBuilder{values: map[string]any{}, includeZero: b.includeZero}
	fill(child)
	if len(child.values) > 0 {
		b.values[key] = child.values
	}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	root := layerBuilder{values: map[string]any{}, includeZero: includeZero}
	root.str("service_name", cfg.ServiceName)

	root.section("logging", func(b layerBuilder) {
		b.str("level", cfg.Logging.Level)
		b.str("environment", cfg.Logging.Environment)
	})

	root.section("http", func(b layerBuilder) {
		b.str("addr", cfg.HTTP.Addr)
		b.str("cors_origins", cfg.HTTP.CORSOrigins)
		b.str("metrics_path", cfg.HTTP.MetricsPath)
	})

	root.section("database", func(b layerBuilder) {
		b.str("driver", cfg.Database.Driver)
		b.str("dsn", cfg.Database.DSN)
		b.boolean("auto_migrate", cfg.Database.AutoMigrate)
		b.str("secret_key", cfg.Database.SecretKey)
		b.str("secret_key_id", cfg.Database.SecretKeyID)
		b.str("previous_secret_key", cfg.Database.PreviousSecretKey)
		b.str("previous_secret_key_id", cfg.Database.PreviousSecretKeyID)
	})

	root.section("redis", func(b layerBuilder) {
		b.str("addr", cfg.Redis.Addr)
		b.str("password", cfg.Redis.Password)
		b.num("db", int64(cfg.Redis.DB))
		b.str("key_prefix", cfg.Redis.KeyPrefix)
	})

	root.section("dispatcher", func(b layerBuilder) {
		d := cfg.Dispatcher
		b.num("default_max_in_flight", int64(d.DefaultMaxInFlight))
		if includeZero || len(d.TenantMaxInFlight) > 0 {
			limits := make(map[string]any, len(d.TenantMaxInFlight))
			for tenant, limit := range d.TenantMaxInFlight {
				limits[tenant] = limit
			}
			b.values["tenant_max_in_flight"] = limits
		}
		b.num("queue_capacity", int64(d.QueueCapacity))
		b.dur("request_timeout", d.RequestTimeout)
		b.num("max_attempts", int64(d.MaxAttempts))
		b.dur("backoff_base", d.BackoffBase)
		b.float("backoff_factor", d.BackoffFactor)
		b.dur("backoff_max", d.BackoffMax)
		b.float("backoff_jitter", d.BackoffJitter)
		b.num("failure_threshold", int64(d.FailureThreshold))
		b.dur("disable_cooldown", d.DisableCooldown)
		b.dur("recovery_interval", d.RecoveryInterval)
		b.dur("recovery_stale_after", d.RecoveryStaleAfter)
		b.num("recovery_batch_size", int64(d.RecoveryBatchSize))
		b.str("user_agent", d.UserAgent)
		b.num("max_response_body_bytes", d.MaxResponseBodyBytes)
	})

	root.section("inbound", func(b layerBuilder) {
		b.num("max_body_bytes", cfg.Inbound.MaxBodyBytes)
		if includeZero || len(cfg.Inbound.Providers) > 0 {
			providers := make(map[string]any, len(cfg.Inbound.Providers))
			for id, provider := range cfg.Inbound.Providers {
				tenants := make(map[string]any, len(provider.Tenants))
				for account, tenant := range provider.Tenants {
					tenants[account] = tenant
				}
				providers[id] = map[string]any{
					"enabled":          provider.Enabled,
					"secret":           provider.Secret,
					"signature_header": provider.SignatureHeader,
					"algorithm":        provider.Algorithm,
					"encoding":         provider.Encoding,
					"tenants":          tenants,
					"default_tenant":   provider.DefaultTenant,
				}
			}
			b.values["providers"] = providers
		}
	})

	root.section("notifications", func(b layerBuilder) {
		n := cfg.Notifications
		b.str("default_mode", n.DefaultMode)
		b.str("default_channel", n.DefaultChannel)
		b.str("default_timezone", n.DefaultTimezone)
		b.dur("retry_delay", n.RetryDelay)
		b.num("due_batch_size", int64(n.DueBatchSize))
		b.dur("preference_ttl", n.PreferenceTTL)
		b.str("recipients_file", n.RecipientsFile)
		b.section("email", func(e layerBuilder) {
			e.str("host", n.Email.Host)
			e.num("port", int64(n.Email.Port))
			e.str("username", n.Email.Username)
			e.str("password", n.Email.Password)
			e.str("from", n.Email.From)
			e.str("from_name", n.Email.FromName)
			e.boolean("implicit_tls", n.Email.ImplicitTLS)
		})
	})

	root.section("digest", func(b layerBuilder) {
		g := cfg.Digest
		b.boolean("disabled", g.Disabled)
		b.dur("tick_interval", g.TickInterval)
		b.num("daily_hour", int64(g.DailyHour))
		b.str("weekly_day", g.WeeklyDay)
		b.num("workers", int64(g.Workers))
		b.dur("lock_ttl", g.LockTTL)
	})
	return root.values
}
