package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-eventhooks/core"
)

const (
	HeaderTenantID = "X-Tenant-Id"

	defaultMaxBodyBytes = 1 << 20
	loggedBodyLimit     = 512
)

// Request is one raw provider delivery.
type Request struct {
	Provider   string
	Body       []byte
	Headers    map[string]string
	ReceivedAt time.Time
}

// Mapped is what a provider mapper extracts from a verified request.
type Mapped struct {
	ProviderEventID string
	Type            string
	AccountID       string
	OccurredAt      time.Time
	Payload         map[string]any
}

type Mapper interface {
	Map(ctx context.Context, req Request) (Mapped, error)
}

type MapperFunc func(ctx context.Context, req Request) (Mapped, error)

func (f MapperFunc) Map(ctx context.Context, req Request) (Mapped, error) {
	return f(ctx, req)
}

// Provider binds a verifier and a mapper under a provider id. Tenants maps
// provider account ids to tenant ids.
type Provider struct {
	ID            string
	Verifier      Verifier
	Mapper        Mapper
	Tenants       map[string]string
	DefaultTenant string
}

type Option func(*Normalizer)

func WithLogger(logger core.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(n *Normalizer) {
		n.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxBodyBytes = limit
		}
	}
}

func WithProvider(provider Provider) Option {
	return func(n *Normalizer) {
		n.pending = append(n.pending, provider)
	}
}

type Normalizer struct {
	maxBodyBytes int64
	logger       core.Logger
	metrics      core.MetricsRecorder
	obs          core.Observer
	now          func() time.Time
	pending      []Provider

	mu        sync.RWMutex
	providers map[string]Provider
}

func NewNormalizer(opts ...Option) (*Normalizer, error) {
	n := &Normalizer{
		maxBodyBytes: defaultMaxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
		providers:    map[string]Provider{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.obs = core.NewObserver("eventhooks", n.logger, n.metrics)
	for _, provider := range n.pending {
		if err := n.Register(provider); err != nil {
			return nil, err
		}
	}
	n.pending = nil
	return n, nil
}

// NewFromConfig registers the built-in providers enabled in cfg.
func NewFromConfig(cfg core.InboundConfig, opts ...Option) (*Normalizer, error) {
	opts = append([]Option{WithMaxBodyBytes(cfg.MaxBodyBytes)}, opts...)
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		providerCfg := cfg.Providers[name]
		if !providerCfg.Enabled {
			continue
		}
		provider, err := BuiltinProvider(name, providerCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithProvider(provider))
	}
	return NewNormalizer(opts...)
}

// BuiltinProvider builds one of the shipped providers from its config.
func BuiltinProvider(name string, cfg core.InboundProviderConfig) (Provider, error) {
	switch normalizeProviderID(name) {
	case ProviderCallRail:
		return NewCallRailProvider(cfg), nil
	case ProviderWufoo:
		return NewWufooProvider(cfg), nil
	case ProviderForms:
		return NewFormsProvider(cfg), nil
	}
	return Provider{}, inboundBadInput(
		fmt.Sprintf("inbound: unknown provider %q", name),
		map[string]any{"provider": name},
	)
}

func (n *Normalizer) Register(provider Provider) error {
	if n == nil {
		return inboundInternal("inbound: normalizer is nil", nil)
	}
	provider.ID = normalizeProviderID(provider.ID)
	if provider.ID == "" {
		return inboundBadInput("inbound: provider id is required", nil)
	}
	if provider.Verifier == nil || provider.Mapper == nil {
		return inboundBadInput("inbound: provider verifier and mapper are required", map[string]any{
			"provider": provider.ID,
		})
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.providers[provider.ID]; exists {
		return inboundError(
			fmt.Sprintf("inbound: provider %q already registered", provider.ID),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.ErrorVersionConflict,
			map[string]any{"provider": provider.ID},
		)
	}
	n.providers[provider.ID] = provider
	return nil
}

func (n *Normalizer) Providers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.providers))
	for id := range n.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Ingest verifies and maps a provider delivery into an event. It does not
// persist anything.
func (n *Normalizer) Ingest(
	ctx context.Context,
	providerID string,
	body []byte,
	headers map[string]string,
) (event core.Event, err error) {
	if n == nil {
		return core.Event{}, inboundInternal("inbound: normalizer is nil", nil)
	}
	startedAt := time.Now()
	providerID = normalizeProviderID(providerID)
	fields := map[string]any{"provider": providerID, "body_bytes": len(body)}
	defer func() {
		if err == nil {
			fields["event_id"] = event.ID
			fields["tenant_id"] = event.TenantID
		}
		n.obs.Observe(ctx, startedAt, "inbound.ingest", err, fields)
	}()

	n.mu.RLock()
	provider, ok := n.providers[providerID]
	n.mu.RUnlock()
	if !ok {
		err := core.UnsupportedPayloadError(providerID, "unknown provider")
		n.warnUnsupported(ctx, providerID, body, err)
		return core.Event{}, err
	}
	if int64(len(body)) > n.maxBodyBytes {
		err := core.UnsupportedPayloadError(providerID, "body exceeds size limit")
		n.warnUnsupported(ctx, providerID, body, err)
		return core.Event{}, err
	}

	req := Request{
		Provider:   providerID,
		Body:       body,
		Headers:    headers,
		ReceivedAt: n.now(),
	}
	if err := provider.Verifier.Verify(ctx, req); err != nil {
		n.obs.Warn(ctx, "inbound signature rejected", map[string]any{
			"provider": providerID,
			"reason":   err.Error(),
		})
		return core.Event{}, core.InvalidSignatureError(providerID, err.Error())
	}

	mapped, err := provider.Mapper.Map(ctx, req)
	if err != nil {
		err = unsupported(providerID, err)
		n.warnUnsupported(ctx, providerID, body, err)
		return core.Event{}, err
	}
	if strings.TrimSpace(mapped.ProviderEventID) == "" || strings.TrimSpace(mapped.Type) == "" {
		err := core.UnsupportedPayloadError(providerID, "provider event id or type missing")
		n.warnUnsupported(ctx, providerID, body, err)
		return core.Event{}, err
	}

	tenantID := resolveTenant(provider, mapped.AccountID, headers)
	if tenantID == "" {
		err := core.UnsupportedPayloadError(providerID, "tenant could not be resolved")
		n.warnUnsupported(ctx, providerID, body, err)
		return core.Event{}, err
	}

	payload := mapped.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payload["provider"] = providerID
	payload["provider_event_id"] = mapped.ProviderEventID
	raw, err := json.Marshal(payload)
	if err != nil {
		return core.Event{}, inboundInternal("inbound: encode payload: "+err.Error(), map[string]any{
			"provider": providerID,
		})
	}

	occurredAt := mapped.OccurredAt.UTC()
	if mapped.OccurredAt.IsZero() {
		occurredAt = req.ReceivedAt
	}
	return core.Event{
		ID:         core.InboundEventID(providerID, mapped.ProviderEventID),
		Type:       mapped.Type,
		TenantID:   tenantID,
		Payload:    raw,
		OccurredAt: occurredAt,
		Source:     core.InboundSource(providerID),
	}, nil
}

func (n *Normalizer) warnUnsupported(ctx context.Context, provider string, body []byte, err error) {
	n.obs.Warn(ctx, "inbound payload not supported", map[string]any{
		"provider": provider,
		"reason":   err.Error(),
		"body":     truncateBody(body, loggedBodyLimit),
	})
}

// resolveTenant maps the provider account id through configuration, then
// falls back to the tenant header and the provider default.
func resolveTenant(provider Provider, accountID string, headers map[string]string) string {
	if accountID = strings.TrimSpace(accountID); accountID != "" {
		if tenantID := strings.TrimSpace(provider.Tenants[accountID]); tenantID != "" {
			return tenantID
		}
	}
	if tenantID := headerValue(headers, HeaderTenantID); tenantID != "" {
		return tenantID
	}
	return strings.TrimSpace(provider.DefaultTenant)
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func truncateBody(body []byte, limit int) string {
	if len(body) <= limit {
		return core.TruncateText(string(body), 0)
	}
	return core.TruncateText(string(body), limit) + "...(truncated)"
}
