package eventhooks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/inbound"
)

// InboundPack registers extra inbound providers under one name.
type InboundPack struct {
	Name      string
	Providers []inbound.Provider
}

// SenderPack registers extra notification channels under one name.
type SenderPack struct {
	Name    string
	Senders []core.NotificationSender
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks collects what a downstream application adds to the
// engine. Pass it to NewEngine with WithExtensions.
type ExtensionHooks struct {
	mu sync.RWMutex

	inboundPacks map[string]InboundPack
	senderPacks  map[string]SenderPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		inboundPacks: map[string]InboundPack{},
		senderPacks:  map[string]SenderPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterInboundPack(pack InboundPack) error {
	if h == nil {
		return fmt.Errorf("eventhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("eventhooks: inbound pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("eventhooks: inbound pack %q has no providers", name)
	}
	for _, provider := range pack.Providers {
		if strings.TrimSpace(provider.ID) == "" || provider.Verifier == nil || provider.Mapper == nil {
			return fmt.Errorf("eventhooks: inbound pack %q has an incomplete provider", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.inboundPacks[name]; exists {
		return fmt.Errorf("eventhooks: inbound pack %q already registered", name)
	}
	h.inboundPacks[name] = InboundPack{
		Name:      name,
		Providers: append([]inbound.Provider(nil), pack.Providers...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterSenderPack(pack SenderPack) error {
	if h == nil {
		return fmt.Errorf("eventhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("eventhooks: sender pack name is required")
	}
	if len(pack.Senders) == 0 {
		return fmt.Errorf("eventhooks: sender pack %q has no senders", name)
	}
	for _, sender := range pack.Senders {
		if sender == nil {
			return fmt.Errorf("eventhooks: sender pack %q contains nil sender", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.senderPacks[name]; exists {
		return fmt.Errorf("eventhooks: sender pack %q already registered", name)
	}
	h.senderPacks[name] = SenderPack{
		Name:    name,
		Senders: append([]core.NotificationSender(nil), pack.Senders...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("eventhooks: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("eventhooks: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("eventhooks: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("eventhooks: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// BuildCommandQueryBundles runs every bundle factory in name order.
func (h *ExtensionHooks) BuildCommandQueryBundles(service CommandQueryService) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("eventhooks: command/query service is required")
	}

	names := h.BundleNames()
	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, fmt.Errorf("eventhooks: build bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) InboundPacks() []InboundPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]InboundPack, 0, len(h.inboundPacks))
	for _, name := range sortedKeys(h.inboundPacks) {
		pack := h.inboundPacks[name]
		out = append(out, InboundPack{
			Name:      pack.Name,
			Providers: append([]inbound.Provider(nil), pack.Providers...),
		})
	}
	return out
}

func (h *ExtensionHooks) SenderPacks() []SenderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SenderPack, 0, len(h.senderPacks))
	for _, name := range sortedKeys(h.senderPacks) {
		pack := h.senderPacks[name]
		out = append(out, SenderPack{
			Name:    pack.Name,
			Senders: append([]core.NotificationSender(nil), pack.Senders...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

// WithExtensions adds every registered inbound provider and sender to the
// engine.
func WithExtensions(hooks *ExtensionHooks) Option {
	return func(o *engineOptions) {
		for _, pack := range hooks.InboundPacks() {
			o.providers = append(o.providers, pack.Providers...)
		}
		for _, pack := range hooks.SenderPacks() {
			o.senders = append(o.senders, pack.Senders...)
		}
	}
}

func sortedKeys[V any](items map[string]V) []string {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
