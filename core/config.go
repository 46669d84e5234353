package core

import (
	"fmt"
	"strings"
	"time"
)

type DispatcherConfig struct {
	DefaultMaxInFlight   int            `koanf:"default_max_in_flight" mapstructure:"default_max_in_flight"`
	TenantMaxInFlight    map[string]int `koanf:"tenant_max_in_flight" mapstructure:"tenant_max_in_flight"`
	QueueCapacity        int            `koanf:"queue_capacity" mapstructure:"queue_capacity"`
	RequestTimeout       time.Duration  `koanf:"request_timeout" mapstructure:"request_timeout"`
	MaxAttempts          int            `koanf:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase          time.Duration  `koanf:"backoff_base" mapstructure:"backoff_base"`
	BackoffFactor        float64        `koanf:"backoff_factor" mapstructure:"backoff_factor"`
	BackoffMax           time.Duration  `koanf:"backoff_max" mapstructure:"backoff_max"`
	BackoffJitter        float64        `koanf:"backoff_jitter" mapstructure:"backoff_jitter"`
	FailureThreshold     int            `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	DisableCooldown      time.Duration  `koanf:"disable_cooldown" mapstructure:"disable_cooldown"`
	RecoveryInterval     time.Duration  `koanf:"recovery_interval" mapstructure:"recovery_interval"`
	RecoveryStaleAfter   time.Duration  `koanf:"recovery_stale_after" mapstructure:"recovery_stale_after"`
	RecoveryBatchSize    int            `koanf:"recovery_batch_size" mapstructure:"recovery_batch_size"`
	UserAgent            string         `koanf:"user_agent" mapstructure:"user_agent"`
	MaxResponseBodyBytes int64          `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
}

type InboundProviderConfig struct {
	Enabled         bool              `koanf:"enabled" mapstructure:"enabled"`
	Secret          string            `koanf:"secret" mapstructure:"secret"`
	SignatureHeader string            `koanf:"signature_header" mapstructure:"signature_header"`
	Algorithm       string            `koanf:"algorithm" mapstructure:"algorithm"`
	Encoding        string            `koanf:"encoding" mapstructure:"encoding"`
	Tenants         map[string]string `koanf:"tenants" mapstructure:"tenants"`
	DefaultTenant   string            `koanf:"default_tenant" mapstructure:"default_tenant"`
}

type InboundConfig struct {
	MaxBodyBytes int64                            `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	Providers    map[string]InboundProviderConfig `koanf:"providers" mapstructure:"providers"`
}

type EmailConfig struct {
	Host        string `koanf:"host" mapstructure:"host"`
	Port        int    `koanf:"port" mapstructure:"port"`
	Username    string `koanf:"username" mapstructure:"username"`
	Password    string `koanf:"password" mapstructure:"password"`
	From        string `koanf:"from" mapstructure:"from"`
	FromName    string `koanf:"from_name" mapstructure:"from_name"`
	ImplicitTLS bool   `koanf:"implicit_tls" mapstructure:"implicit_tls"`
}

type NotificationsConfig struct {
	DefaultMode     string        `koanf:"default_mode" mapstructure:"default_mode"`
	DefaultChannel  string        `koanf:"default_channel" mapstructure:"default_channel"`
	DefaultTimezone string        `koanf:"default_timezone" mapstructure:"default_timezone"`
	RetryDelay      time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	DueBatchSize    int           `koanf:"due_batch_size" mapstructure:"due_batch_size"`
	PreferenceTTL   time.Duration `koanf:"preference_ttl" mapstructure:"preference_ttl"`
	RecipientsFile  string        `koanf:"recipients_file" mapstructure:"recipients_file"`
	Email           EmailConfig   `koanf:"email" mapstructure:"email"`
}

type DigestConfig struct {
	Disabled     bool          `koanf:"disabled" mapstructure:"disabled"`
	TickInterval time.Duration `koanf:"tick_interval" mapstructure:"tick_interval"`
	DailyHour    int           `koanf:"daily_hour" mapstructure:"daily_hour"`
	WeeklyDay    string        `koanf:"weekly_day" mapstructure:"weekly_day"`
	Workers      int           `koanf:"workers" mapstructure:"workers"`
	LockTTL      time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
}

const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

// DatabaseConfig seals endpoint secrets at rest when SecretKey is set.
// PreviousSecretKey, named PreviousSecretKeyID, only opens older values.
type DatabaseConfig struct {
	Driver              string `koanf:"driver" mapstructure:"driver"`
	DSN                 string `koanf:"dsn" mapstructure:"dsn"`
	AutoMigrate         bool   `koanf:"auto_migrate" mapstructure:"auto_migrate"`
	SecretKey           string `koanf:"secret_key" mapstructure:"secret_key"`
	SecretKeyID         string `koanf:"secret_key_id" mapstructure:"secret_key_id"`
	PreviousSecretKey   string `koanf:"previous_secret_key" mapstructure:"previous_secret_key"`
	PreviousSecretKeyID string `koanf:"previous_secret_key_id" mapstructure:"previous_secret_key_id"`
}

// RedisConfig enables the shared digest coordinator lock when Addr is set.
type RedisConfig struct {
	Addr      string `koanf:"addr" mapstructure:"addr"`
	Password  string `koanf:"password" mapstructure:"password"`
	DB        int    `koanf:"db" mapstructure:"db"`
	KeyPrefix string `koanf:"key_prefix" mapstructure:"key_prefix"`
}

// HTTPConfig drives the HTTP surface. CORSOrigins is a comma separated list.
type HTTPConfig struct {
	Addr        string `koanf:"addr" mapstructure:"addr"`
	CORSOrigins string `koanf:"cors_origins" mapstructure:"cors_origins"`
	MetricsPath string `koanf:"metrics_path" mapstructure:"metrics_path"`
}

// LoggingConfig selects the zap encoder. Environment "production" logs JSON,
// anything else logs console lines.
type LoggingConfig struct {
	Level       string `koanf:"level" mapstructure:"level"`
	Environment string `koanf:"environment" mapstructure:"environment"`
}

type Config struct {
	ServiceName   string              `koanf:"service_name" mapstructure:"service_name"`
	Logging       LoggingConfig       `koanf:"logging" mapstructure:"logging"`
	HTTP          HTTPConfig          `koanf:"http" mapstructure:"http"`
	Database      DatabaseConfig      `koanf:"database" mapstructure:"database"`
	Redis         RedisConfig         `koanf:"redis" mapstructure:"redis"`
	Dispatcher    DispatcherConfig    `koanf:"dispatcher" mapstructure:"dispatcher"`
	Inbound       InboundConfig       `koanf:"inbound" mapstructure:"inbound"`
	Notifications NotificationsConfig `koanf:"notifications" mapstructure:"notifications"`
	Digest        DigestConfig        `koanf:"digest" mapstructure:"digest"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "eventhooks",
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			CORSOrigins: "*",
			MetricsPath: "/metrics",
		},
		Database: DatabaseConfig{
			Driver:      DatabaseDriverSQLite,
			DSN:         "file:eventhooks.db?cache=shared&_fk=1",
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "eventhooks",
		},
		Dispatcher: DispatcherConfig{
			DefaultMaxInFlight:   1,
			QueueCapacity:        1024,
			RequestTimeout:       10 * time.Second,
			MaxAttempts:          8,
			BackoffBase:          30 * time.Second,
			BackoffFactor:        2,
			BackoffMax:           time.Hour,
			BackoffJitter:        0.2,
			FailureThreshold:     5,
			DisableCooldown:      time.Hour,
			RecoveryInterval:     time.Minute,
			RecoveryStaleAfter:   30 * time.Second,
			RecoveryBatchSize:    500,
			UserAgent:            "eventhooks/1.0",
			MaxResponseBodyBytes: 64 * 1024,
		},
		Inbound: InboundConfig{
			MaxBodyBytes: 1 << 20,
		},
		Notifications: NotificationsConfig{
			DefaultMode:     string(DeliveryModeImmediate),
			DefaultChannel:  string(ChannelEmail),
			DefaultTimezone: "UTC",
			RetryDelay:      5 * time.Minute,
			DueBatchSize:    200,
			PreferenceTTL:   time.Minute,
			Email: EmailConfig{
				Port: 587,
			},
		},
		Digest: DigestConfig{
			TickInterval: time.Minute,
			DailyHour:    8,
			WeeklyDay:    "monday",
			Workers:      4,
			LockTTL:      5 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("core: database.driver %q is invalid", c.Database.Driver)
	}
	d := c.Dispatcher
	if d.MaxAttempts < 1 {
		return fmt.Errorf("core: dispatcher.max_attempts must be at least 1")
	}
	if d.BackoffBase <= 0 || d.BackoffMax < d.BackoffBase {
		return fmt.Errorf("core: dispatcher backoff base must be positive and not exceed backoff_max")
	}
	if d.BackoffFactor <= 1 {
		return fmt.Errorf("core: dispatcher.backoff_factor must be greater than 1")
	}
	if d.BackoffJitter < 0 || d.BackoffJitter >= 0.5 {
		return fmt.Errorf("core: dispatcher.backoff_jitter must be in [0, 0.5)")
	}
	if d.FailureThreshold < 1 {
		return fmt.Errorf("core: dispatcher.failure_threshold must be at least 1")
	}
	if d.RequestTimeout <= 0 {
		return fmt.Errorf("core: dispatcher.request_timeout must be positive")
	}
	if d.DefaultMaxInFlight < 1 {
		return fmt.Errorf("core: dispatcher.default_max_in_flight must be at least 1")
	}
	for tenant, limit := range d.TenantMaxInFlight {
		if limit < 1 {
			return fmt.Errorf("core: dispatcher.tenant_max_in_flight[%s] must be at least 1", tenant)
		}
	}

	n := c.Notifications
	if !DeliveryMode(n.DefaultMode).Valid() {
		return fmt.Errorf("core: notifications.default_mode %q is invalid", n.DefaultMode)
	}
	if !Channel(n.DefaultChannel).Valid() {
		return fmt.Errorf("core: notifications.default_channel %q is invalid", n.DefaultChannel)
	}
	if _, err := time.LoadLocation(n.DefaultTimezone); err != nil {
		return fmt.Errorf("core: notifications.default_timezone is invalid: %w", err)
	}

	g := c.Digest
	if g.TickInterval <= 0 || g.TickInterval > time.Minute {
		return fmt.Errorf("core: digest.tick_interval must be in (0, 1m]")
	}
	if g.DailyHour < 0 || g.DailyHour > 23 {
		return fmt.Errorf("core: digest.daily_hour must be between 0 and 23")
	}
	if _, err := ParseWeekday(g.WeeklyDay); err != nil {
		return err
	}
	return nil
}

// WeeklyWeekday returns the configured digest weekday, defaulting to Monday.
func (c DigestConfig) WeeklyWeekday() time.Weekday {
	day, err := ParseWeekday(c.WeeklyDay)
	if err != nil {
		return time.Monday
	}
	return day
}

func ParseWeekday(value string) (time.Weekday, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return time.Monday, nil
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		name := strings.ToLower(day.String())
		if value == name || value == name[:3] {
			return day, nil
		}
	}
	return time.Monday, fmt.Errorf("core: weekday %q is invalid", value)
}

// MaxInFlightFor resolves the endpoint concurrency cap: endpoint value,
// tenant override, then the dispatcher default.
func (d DispatcherConfig) MaxInFlightFor(endpoint WebhookEndpoint) int {
	if endpoint.MaxInFlight > 0 {
		return endpoint.MaxInFlight
	}
	if limit, ok := d.TenantMaxInFlight[endpoint.TenantID]; ok && limit > 0 {
		return limit
	}
	if d.DefaultMaxInFlight > 0 {
		return d.DefaultMaxInFlight
	}
	return 1
}
