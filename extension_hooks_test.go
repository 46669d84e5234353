package eventhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-eventhooks/core"
	"github.com/goliatone/go-eventhooks/inbound"
)

func extensionProvider(id string) inbound.Provider {
	return inbound.Provider{
		ID:       id,
		Verifier: inbound.VerifierFunc(func(context.Context, inbound.Request) error { return nil }),
		Mapper: inbound.MapperFunc(func(context.Context, inbound.Request) (inbound.Mapped, error) {
			return inbound.Mapped{Type: core.EventTypeLeadCreated}, nil
		}),
		DefaultTenant: "tenant-1",
	}
}

type extensionSender struct{}

func (extensionSender) Channel() core.Channel { return core.ChannelInApp }

func (extensionSender) Send(context.Context, core.Message) error { return nil }

func TestExtensionHooks_InboundAndSenderPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := InboundPack{Name: "crm", Providers: []inbound.Provider{extensionProvider("hubspot")}}
	if err := hooks.RegisterInboundPack(pack); err != nil {
		t.Fatalf("register inbound pack: %v", err)
	}
	if err := hooks.RegisterInboundPack(pack); err == nil {
		t.Fatalf("expected duplicate inbound pack error")
	}
	if err := hooks.RegisterInboundPack(InboundPack{Name: "broken", Providers: []inbound.Provider{{ID: "x"}}}); err == nil {
		t.Fatalf("expected incomplete provider error")
	}
	if err := hooks.RegisterSenderPack(SenderPack{Name: "chat", Senders: []core.NotificationSender{extensionSender{}}}); err != nil {
		t.Fatalf("register sender pack: %v", err)
	}
	if err := hooks.RegisterSenderPack(SenderPack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty sender pack error")
	}

	options := &engineOptions{}
	WithExtensions(hooks)(options)
	if len(options.providers) != 1 || options.providers[0].ID != "hubspot" {
		t.Fatalf("expected extension provider applied, got %+v", options.providers)
	}
	if len(options.senders) != 1 || options.senders[0].Channel() != core.ChannelInApp {
		t.Fatalf("expected extension sender applied, got %+v", options.senders)
	}

	WithExtensions(nil)(&engineOptions{})
}

func TestExtensionHooks_CommandQueryBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterCommandQueryBundle("zeta", func(service CommandQueryService) (any, error) {
		return service.DisableEndpoint, nil
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("alpha", func(CommandQueryService) (any, error) { return "alpha", nil }); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("alpha", func(CommandQueryService) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}
	if names := hooks.BundleNames(); len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted bundle names, got %v", names)
	}

	bundles, err := hooks.BuildCommandQueryBundles(&stubFacadeService{})
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if len(bundles) != 2 || bundles["alpha"] != "alpha" {
		t.Fatalf("unexpected bundles %v", bundles)
	}
	if _, err := hooks.BuildCommandQueryBundles(nil); err == nil {
		t.Fatalf("expected service required error")
	}

	failing := NewExtensionHooks()
	_ = failing.RegisterCommandQueryBundle("bad", func(CommandQueryService) (any, error) { return nil, errors.New("boom") })
	if _, err := failing.BuildCommandQueryBundles(&stubFacadeService{}); err == nil {
		t.Fatalf("expected factory error to surface")
	}
}
