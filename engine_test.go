package eventhooks_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-eventhooks"
	"github.com/goliatone/go-eventhooks/core"
	eventmigrations "github.com/goliatone/go-eventhooks/migrations"
	"github.com/goliatone/go-eventhooks/notify"
	sqlstore "github.com/goliatone/go-eventhooks/store/sql"
	"github.com/goliatone/go-eventhooks/webhooks"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	testTenant      = "tenant_1"
	testFormsSecret = "forms-secret"
)

type testPersistenceConfig struct {
	server string
}

func (c testPersistenceConfig) GetDebug() bool                { return false }
func (c testPersistenceConfig) GetDriver() string             { return "sqlite3" }
func (c testPersistenceConfig) GetServer() string             { return c.server }
func (c testPersistenceConfig) GetPingTimeout() time.Duration { return time.Second }
func (c testPersistenceConfig) GetOtelIdentifier() string     { return "go-eventhooks-engine-tests" }

type receivedDelivery struct {
	body    []byte
	headers http.Header
}

type receiver struct {
	server     *httptest.Server
	status     atomic.Int32
	deliveries chan receivedDelivery
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	r := &receiver{deliveries: make(chan receivedDelivery, 32)}
	r.status.Store(http.StatusOK)
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.deliveries <- receivedDelivery{body: body, headers: req.Header.Clone()}
		w.WriteHeader(int(r.status.Load()))
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *receiver) next(t *testing.T) receivedDelivery {
	t.Helper()
	select {
	case delivery := <-r.deliveries:
		return delivery
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for webhook delivery")
	}
	return receivedDelivery{}
}

type recordingSender struct {
	mu       sync.Mutex
	messages []core.Message
}

func (s *recordingSender) Channel() core.Channel { return core.ChannelEmail }

func (s *recordingSender) Send(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) sent() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Message(nil), s.messages...)
}

type testHarness struct {
	engine *eventhooks.Engine
	sender *recordingSender
}

func newTestEngine(t *testing.T, extra ...core.Recipient) *testHarness {
	t.Helper()
	return newTestEngineWith(t, nil, extra...)
}

func newTestEngineWith(t *testing.T, opts []eventhooks.Option, extra ...core.Recipient) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:eventhooks-engine-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	client, err := persistence.New(testPersistenceConfig{server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := eventmigrations.Apply(context.Background(), client, eventmigrations.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("repository factory: %v", err)
	}
	sqlStores := factory.Stores()

	cfg := eventhooks.DefaultConfig()
	cfg.Dispatcher.MaxAttempts = 2
	cfg.Dispatcher.BackoffBase = 10 * time.Millisecond
	cfg.Dispatcher.BackoffMax = 50 * time.Millisecond
	cfg.Dispatcher.BackoffJitter = 0
	cfg.Dispatcher.RecoveryInterval = time.Hour
	cfg.Digest.Disabled = true
	cfg.Inbound.Providers = map[string]core.InboundProviderConfig{
		"forms": {Enabled: true, Secret: testFormsSecret, DefaultTenant: testTenant},
	}

	directory := notify.NewStaticDirectory()
	directory.Add(core.Recipient{UserID: "user_1", Email: "user_1@example.com", Name: "Ada"}, testTenant)
	for _, recipient := range extra {
		directory.Add(recipient, testTenant)
	}
	sender := &recordingSender{}

	engine, err := eventhooks.NewEngine(cfg, eventhooks.Stores{
		Events:        sqlStores.Events,
		Endpoints:     sqlStores.Endpoints,
		Attempts:      sqlStores.Attempts,
		Preferences:   sqlStores.Preferences,
		Notifications: sqlStores.Notifications,
		Digests:       sqlStores.Digests,
	},
		append([]eventhooks.Option{
			eventhooks.WithRecipients(directory),
			eventhooks.WithDirectory(directory),
			eventhooks.WithSender(sender),
		}, opts...)...,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		engine.Stop()
	})
	return &testHarness{engine: engine, sender: sender}
}

func (h *testHarness) createEndpoint(t *testing.T, url string, eventTypes ...string) core.WebhookEndpoint {
	t.Helper()
	endpoint, err := h.engine.CreateEndpoint(context.Background(), core.CreateEndpointRequest{
		TenantID:   testTenant,
		URL:        url,
		EventTypes: eventTypes,
	})
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	return endpoint
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func attemptsWithStatus(t *testing.T, engine *eventhooks.Engine, eventID string, status core.AttemptStatus) int {
	t.Helper()
	page, err := engine.ListDeliveryAttempts(context.Background(), core.DeliveryAttemptFilter{
		EventID: eventID,
		Status:  status,
	})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	return len(page.Items)
}

func TestRaiseDeliversSignedWebhookAndNotifies(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	endpoint := h.createEndpoint(t, rcv.server.URL, core.EventTypeLeadCreated)
	if !strings.HasPrefix(endpoint.Secret, "whsec_") {
		t.Fatalf("expected generated secret, got %q", endpoint.Secret)
	}

	event, err := h.engine.Raise(context.Background(), core.EventTypeLeadCreated, testTenant, map[string]any{
		"lead_id": "L-1",
		"name":    "Jane Doe",
	})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if event.ID == "" || event.Source != core.SourceInternal {
		t.Fatalf("unexpected event: %+v", event)
	}

	delivery := rcv.next(t)
	if got := delivery.headers.Get(webhooks.HeaderEventID); got != event.ID {
		t.Fatalf("expected event id header %q, got %q", event.ID, got)
	}
	if !webhooks.VerifySignature(endpoint.Secret, delivery.body, delivery.headers.Get(webhooks.HeaderSignature)) {
		t.Fatalf("delivery signature does not verify")
	}
	if !strings.Contains(string(delivery.body), `"lead_id":"L-1"`) {
		t.Fatalf("expected payload in body, got %s", delivery.body)
	}
	waitFor(t, "successful attempt", func() bool {
		return attemptsWithStatus(t, h.engine, event.ID, core.AttemptStatusSuccess) == 1
	})

	page, err := h.engine.ListNotifications(context.Background(), core.NotificationFilter{UserID: "user_1"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].EventID != event.ID {
		t.Fatalf("expected one notification for the event, got %+v", page.Items)
	}
	sent := h.sender.sent()
	if len(sent) != 1 || sent[0].To.Email != "user_1@example.com" {
		t.Fatalf("expected one immediate email, got %+v", sent)
	}
	unread, err := h.engine.CountUnread(context.Background(), "user_1")
	if err != nil || unread != 1 {
		t.Fatalf("expected one unread notification, got %d err=%v", unread, err)
	}
}

func TestRaiseSkipsUnsubscribedEndpoints(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	h.createEndpoint(t, rcv.server.URL, "invoice.paid")

	event, err := h.engine.Raise(context.Background(), core.EventTypeLeadCreated, testTenant, nil)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if string(event.Payload) != `{}` {
		t.Fatalf("expected empty object payload, got %s", event.Payload)
	}
	page, err := h.engine.ListDeliveryAttempts(context.Background(), core.DeliveryAttemptFilter{EventID: event.ID})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected no attempts for unsubscribed endpoint, got %d", page.Total)
	}
}

func TestRaiseSucceedsWhenEndpointFails(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	rcv.status.Store(http.StatusInternalServerError)
	h.createEndpoint(t, rcv.server.URL, core.Wildcard)

	event, err := h.engine.Raise(context.Background(), core.EventTypeCallReceived, testTenant, map[string]any{"call_id": "C-1"})
	if err != nil {
		t.Fatalf("raise should not report delivery failures: %v", err)
	}
	first := rcv.next(t)
	second := rcv.next(t)
	if first.headers.Get(webhooks.HeaderAttempt) != "1" || second.headers.Get(webhooks.HeaderAttempt) != "2" {
		t.Fatalf("expected attempts 1 and 2, got %q and %q",
			first.headers.Get(webhooks.HeaderAttempt), second.headers.Get(webhooks.HeaderAttempt))
	}
	waitFor(t, "failed attempts", func() bool {
		return attemptsWithStatus(t, h.engine, event.ID, core.AttemptStatusFailed) == 2
	})
}

func TestRaiseRejectsInvalidInput(t *testing.T) {
	h := newTestEngine(t)
	cases := []struct {
		name      string
		eventType string
		tenantID  string
		payload   any
	}{
		{name: "missing type", tenantID: testTenant},
		{name: "missing tenant", eventType: core.EventTypeLeadCreated},
		{name: "invalid raw json", eventType: core.EventTypeLeadCreated, tenantID: testTenant, payload: []byte("{nope")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Raise(context.Background(), tc.eventType, tc.tenantID, tc.payload)
			if !core.IsKind(err, core.ErrorBadInput) {
				t.Fatalf("expected bad input, got %v", err)
			}
		})
	}
}

func TestIngestDeduplicatesProviderRedelivery(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	h.createEndpoint(t, rcv.server.URL, core.EventTypeLeadCreated)

	body := []byte(`{"id":"sub-1","form":"Contact","account":"acct-1",` +
		`"fields":{"email":"jane.doe@example.com","message":"Call me"}}`)
	headers := map[string]string{"X-Form-Signature": webhooks.Sign(testFormsSecret, body)}

	first, err := h.engine.Ingest(context.Background(), "forms", body, headers)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if first.Duplicate || first.Event.TenantID != testTenant || first.Event.Source != core.InboundSource("forms") {
		t.Fatalf("unexpected first ingest: %+v", first)
	}
	rcv.next(t)

	second, err := h.engine.Ingest(context.Background(), "forms", body, headers)
	if err != nil {
		t.Fatalf("ingest redelivery: %v", err)
	}
	if !second.Duplicate || second.Event.ID != first.Event.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Event.ID, second)
	}
	waitFor(t, "single successful attempt", func() bool {
		return attemptsWithStatus(t, h.engine, first.Event.ID, core.AttemptStatusSuccess) == 1
	})
	page, err := h.engine.ListDeliveryAttempts(context.Background(), core.DeliveryAttemptFilter{EventID: first.Event.ID})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected redelivery to add no attempts, got %d", page.Total)
	}
}

type flakyRecipients struct {
	failures atomic.Int32
	next     core.RecipientResolver
}

func (r *flakyRecipients) Recipients(ctx context.Context, event core.Event) ([]core.Recipient, error) {
	if r.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("directory unavailable")
	}
	return r.next.Recipients(ctx, event)
}

func TestIngestRedeliveryRepairsMissingNotifications(t *testing.T) {
	directory := notify.NewStaticDirectory()
	directory.Add(core.Recipient{UserID: "user_1", Email: "user_1@example.com", Name: "Ada"}, testTenant)
	recipients := &flakyRecipients{next: directory}
	recipients.failures.Store(1)
	h := newTestEngineWith(t, []eventhooks.Option{eventhooks.WithRecipients(recipients)})
	ctx := context.Background()

	body := []byte(`{"id":"sub-9","form":"Contact","account":"acct-1",` +
		`"fields":{"email":"lin@example.com","message":"Hello"}}`)
	headers := map[string]string{"X-Form-Signature": webhooks.Sign(testFormsSecret, body)}

	first, err := h.engine.Ingest(ctx, "forms", body, headers)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	page, err := h.engine.ListNotifications(ctx, core.NotificationFilter{UserID: "user_1"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected the failed pass to leave no notifications, got %+v", page.Items)
	}

	second, err := h.engine.Ingest(ctx, "forms", body, headers)
	if err != nil {
		t.Fatalf("ingest redelivery: %v", err)
	}
	if !second.Duplicate || second.Event.ID != first.Event.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Event.ID, second)
	}
	page, err = h.engine.ListNotifications(ctx, core.NotificationFilter{UserID: "user_1"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].EventID != first.Event.ID {
		t.Fatalf("expected redelivery to create the missing notification, got %+v", page.Items)
	}

	if _, err := h.engine.Ingest(ctx, "forms", body, headers); err != nil {
		t.Fatalf("third ingest: %v", err)
	}
	if got := len(h.sender.sent()); got != 1 {
		t.Fatalf("expected a single email across redeliveries, got %d", got)
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	h := newTestEngine(t)
	body := []byte(`{"id":"sub-2","fields":{"email":"a@example.com"}}`)
	_, err := h.engine.Ingest(context.Background(), "forms", body, map[string]string{
		"X-Form-Signature": webhooks.Sign("wrong-secret", body),
	})
	if !core.IsKind(err, core.ErrorInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	_, err = h.engine.Ingest(context.Background(), "nope", body, nil)
	if !core.IsKind(err, core.ErrorUnsupportedPayload) {
		t.Fatalf("expected unsupported payload for unknown provider, got %v", err)
	}
}

func TestEndpointLifecycle(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()
	endpoint := h.createEndpoint(t, "https://hooks.example.test/a", "lead.created", " lead.created ", "")
	if len(endpoint.EventTypes) != 1 || !endpoint.Active {
		t.Fatalf("unexpected created endpoint: %+v", endpoint)
	}

	url := "https://hooks.example.test/b"
	types := []string{core.Wildcard}
	updated, err := h.engine.UpdateEndpoint(ctx, core.UpdateEndpointRequest{ID: endpoint.ID, URL: &url, EventTypes: &types})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.URL != url || updated.EventTypes[0] != core.Wildcard || updated.Version <= endpoint.Version {
		t.Fatalf("unexpected updated endpoint: %+v", updated)
	}

	disabled, err := h.engine.DisableEndpoint(ctx, endpoint.ID)
	if err != nil || disabled.Active {
		t.Fatalf("expected inactive endpoint, got %+v err=%v", disabled, err)
	}
	enabled, err := h.engine.EnableEndpoint(ctx, endpoint.ID)
	if err != nil || !enabled.Active || enabled.ConsecutiveFailures != 0 || enabled.DisabledUntil != nil {
		t.Fatalf("expected active healthy endpoint, got %+v err=%v", enabled, err)
	}

	listed, err := h.engine.ListEndpoints(ctx, testTenant)
	if err != nil || len(listed) != 1 || listed[0].URL != url {
		t.Fatalf("unexpected endpoint list %+v err=%v", listed, err)
	}
	if _, err := h.engine.GetEndpoint(ctx, "missing"); !core.IsKind(err, core.ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.engine.ListEndpoints(ctx, " "); !core.IsKind(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for blank tenant, got %v", err)
	}
}

func TestDisabledEndpointReceivesNothing(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	endpoint := h.createEndpoint(t, rcv.server.URL, core.Wildcard)
	if _, err := h.engine.DisableEndpoint(context.Background(), endpoint.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	event, err := h.engine.Raise(context.Background(), core.EventTypeLeadCreated, testTenant, nil)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	select {
	case delivery := <-rcv.deliveries:
		t.Fatalf("inactive endpoint received %s", delivery.body)
	case <-time.After(100 * time.Millisecond):
	}
	if n := attemptsWithStatus(t, h.engine, event.ID, core.AttemptStatusSuccess); n != 0 {
		t.Fatalf("expected no successful attempts, got %d", n)
	}
}

func TestRefireOpensNewAttemptChain(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	h.createEndpoint(t, rcv.server.URL, core.Wildcard)

	event, err := h.engine.Raise(context.Background(), core.EventTypeLeadCreated, testTenant, map[string]any{"lead_id": "L-9"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	rcv.next(t)
	waitFor(t, "first delivery", func() bool {
		return attemptsWithStatus(t, h.engine, event.ID, core.AttemptStatusSuccess) == 1
	})

	result, err := h.engine.RefireEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("refire: %v", err)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].AttemptNumber != 1 {
		t.Fatalf("expected a fresh attempt chain, got %+v", result.Attempts)
	}
	refired := rcv.next(t)
	if refired.headers.Get(webhooks.HeaderEventID) != event.ID {
		t.Fatalf("expected refire of %s, got %q", event.ID, refired.headers.Get(webhooks.HeaderEventID))
	}
	waitFor(t, "refired delivery", func() bool {
		return attemptsWithStatus(t, h.engine, event.ID, core.AttemptStatusSuccess) == 2
	})

	if _, err := h.engine.RefireEvent(context.Background(), "evt_missing"); !core.IsKind(err, core.ErrorNotFound) {
		t.Fatalf("expected not found for unknown event, got %v", err)
	}
}

func TestTestEndpointPingsWithoutPersisting(t *testing.T) {
	h := newTestEngine(t)
	rcv := newReceiver(t)
	endpoint := h.createEndpoint(t, rcv.server.URL, core.Wildcard)

	result, err := h.engine.TestEndpoint(context.Background(), endpoint.ID)
	if err != nil {
		t.Fatalf("test endpoint: %v", err)
	}
	if !result.Success || result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected test result %+v", result)
	}
	ping := rcv.next(t)
	if ping.headers.Get(webhooks.HeaderEventType) != "webhook.test" {
		t.Fatalf("expected webhook.test ping, got %q", ping.headers.Get(webhooks.HeaderEventType))
	}
	page, err := h.engine.ListDeliveryAttempts(context.Background(), core.DeliveryAttemptFilter{EndpointID: endpoint.ID})
	if err != nil || page.Total != 0 {
		t.Fatalf("expected no stored attempts, got %d err=%v", page.Total, err)
	}
}

func TestListDeliveryAttemptsRejectsUnknownStatus(t *testing.T) {
	h := newTestEngine(t)
	_, err := h.engine.ListDeliveryAttempts(context.Background(), core.DeliveryAttemptFilter{Status: "bogus"})
	if !core.IsKind(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestRaiseSplitsImmediateAndDailyRecipients(t *testing.T) {
	h := newTestEngine(t, core.Recipient{UserID: "user_2", Email: "user_2@example.com", Name: "Grace"})
	ctx := context.Background()
	if _, err := h.engine.SetPreference(ctx, core.NotificationPreference{
		UserID:    "user_2",
		EventType: core.EventTypeContentPublished,
		Mode:      core.DeliveryModeDaily,
		Channel:   core.ChannelEmail,
	}); err != nil {
		t.Fatalf("set preference: %v", err)
	}

	event, err := h.engine.Raise(ctx, core.EventTypeContentPublished, testTenant, map[string]any{"title": "Launch post"})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	sent := h.sender.sent()
	if len(sent) != 1 || sent[0].To.UserID != "user_1" {
		t.Fatalf("expected one immediate send to user_1, got %+v", sent)
	}
	pending, err := h.engine.ListNotifications(ctx, core.NotificationFilter{UserID: "user_2"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(pending.Items) != 1 || pending.Items[0].DeliveredAt != nil || pending.Items[0].DigestBatchID != "" {
		t.Fatalf("expected one undelivered daily notification, got %+v", pending.Items)
	}

	created := pending.Items[0].CreatedAt.UTC()
	boundary := time.Date(created.Year(), created.Month(), created.Day(), 8, 0, 0, 0, time.UTC)
	if !boundary.After(created) {
		boundary = boundary.Add(24 * time.Hour)
	}
	result, err := h.engine.Scheduler().Tick(ctx, boundary.Add(time.Minute))
	if err != nil {
		t.Fatalf("digest tick: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("expected one digest send, got %+v", result)
	}
	sent = h.sender.sent()
	if len(sent) != 2 || sent[1].To.UserID != "user_2" {
		t.Fatalf("expected digest to user_2, got %+v", sent)
	}
	swept, err := h.engine.ListNotifications(ctx, core.NotificationFilter{UserID: "user_2"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(swept.Items) != 1 || swept.Items[0].EventID != event.ID || swept.Items[0].DigestBatchID == "" {
		t.Fatalf("expected notification tagged with the digest batch, got %+v", swept.Items)
	}
}

func TestDailyDigestFollowsTypeSpecificTimezone(t *testing.T) {
	h := newTestEngine(t, core.Recipient{UserID: "user_2", Email: "user_2@example.com", Name: "Grace"})
	ctx := context.Background()
	if _, err := h.engine.SetPreference(ctx, core.NotificationPreference{
		UserID:    "user_2",
		EventType: core.EventTypeLeadCreated,
		Mode:      core.DeliveryModeDaily,
		Channel:   core.ChannelEmail,
		Timezone:  "Asia/Tokyo",
	}); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if _, err := h.engine.Raise(ctx, core.EventTypeLeadCreated, testTenant, map[string]any{"name": "Lin"}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	pending, err := h.engine.ListNotifications(ctx, core.NotificationFilter{UserID: "user_2"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(pending.Items) != 1 || pending.Items[0].DigestBatchID != "" {
		t.Fatalf("expected one pending daily notification, got %+v", pending.Items)
	}

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	created := pending.Items[0].CreatedAt.In(tokyo)
	boundary := time.Date(created.Year(), created.Month(), created.Day(), 8, 0, 0, 0, tokyo)
	if !boundary.After(created) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	result, err := h.engine.Scheduler().Tick(ctx, boundary.Add(time.Minute).UTC())
	if err != nil {
		t.Fatalf("digest tick: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("expected the digest at 08:00 Tokyo time, got %+v", result)
	}
	swept, err := h.engine.ListNotifications(ctx, core.NotificationFilter{UserID: "user_2"})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(swept.Items) != 1 || swept.Items[0].DigestBatchID == "" {
		t.Fatalf("expected notification tagged with the digest batch, got %+v", swept.Items)
	}
}
