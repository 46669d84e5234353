package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-eventhooks/core"
	eventmigrations "github.com/goliatone/go-eventhooks/migrations"
	"github.com/goliatone/go-eventhooks/security"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-eventhooks-tests"
}

func TestEventStore_AppendIsIdempotentOnEventID(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	event := core.Event{
		ID:         "evt_append_1",
		Type:       core.EventTypeLeadCreated,
		TenantID:   "tenant_1",
		Payload:    json.RawMessage(`{"lead_id":"L-1"}`),
		OccurredAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	attempts := []core.DeliveryAttempt{{
		EndpointID:    endpoint.ID,
		TenantID:      "tenant_1",
		AttemptNumber: 1,
		Status:        core.AttemptStatusPending,
	}}

	first, err := stores.Events.Append(ctx, event, attempts)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !first.Created || len(first.Attempts) != 1 {
		t.Fatalf("expected created event with one attempt, got %+v", first)
	}
	if first.Attempts[0].EventID != event.ID {
		t.Fatalf("expected attempt bound to event, got %q", first.Attempts[0].EventID)
	}
	if first.Event.Source != core.SourceInternal {
		t.Fatalf("expected default internal source, got %q", first.Event.Source)
	}

	second, err := stores.Events.Append(ctx, event, attempts)
	if err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if second.Created || len(second.Attempts) != 0 {
		t.Fatalf("expected duplicate append to insert nothing, got %+v", second)
	}
	if second.Event.ID != event.ID || second.Event.Type != event.Type {
		t.Fatalf("expected stored event, got %+v", second.Event)
	}

	page, err := stores.Attempts.List(ctx, core.DeliveryAttemptFilter{EventID: event.ID})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected exactly one attempt row, got %d", page.Total)
	}

	var decoded map[string]string
	if err := second.Event.Decode(&decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["lead_id"] != "L-1" {
		t.Fatalf("unexpected payload %v", decoded)
	}
}

func TestEventStore_GetMissingReturnsNotFound(t *testing.T) {
	stores, cleanup := newTestStores(t)
	defer cleanup()

	_, err := stores.Events.Get(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeliveryAttemptStore_ResolveSchedulesNextAndRejectsReplays(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	appended := mustAppendEvent(t, stores, "evt_resolve", endpoint)
	pending := appended.Attempts[0]

	nextAt := time.Now().UTC().Add(30 * time.Second)
	next, err := stores.Attempts.Resolve(ctx, pending.ID, core.AttemptOutcome{
		Status:      core.AttemptStatusFailed,
		HTTPStatus:  503,
		Error:       "service unavailable",
		ErrorCode:   core.ErrorDeliveryHTTP,
		AttemptedAt: time.Now().UTC(),
	}, &core.DeliveryAttempt{
		EventID:       pending.EventID,
		EndpointID:    pending.EndpointID,
		TenantID:      pending.TenantID,
		AttemptNumber: 2,
		Status:        core.AttemptStatusPending,
		NextAttemptAt: &nextAt,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next == nil || next.AttemptNumber != 2 || next.Status != core.AttemptStatusPending {
		t.Fatalf("expected pending follow-up attempt, got %+v", next)
	}

	resolved, err := stores.Attempts.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get resolved: %v", err)
	}
	if resolved.Status != core.AttemptStatusFailed || resolved.HTTPStatus != 503 {
		t.Fatalf("unexpected resolved attempt %+v", resolved)
	}
	if resolved.AttemptedAt == nil {
		t.Fatalf("expected attempted_at to be stamped")
	}

	_, err = stores.Attempts.Resolve(ctx, pending.ID, core.AttemptOutcome{
		Status: core.AttemptStatusSuccess,
	}, nil)
	if !errors.Is(err, core.ErrAttemptNotPending) {
		t.Fatalf("expected ErrAttemptNotPending, got %v", err)
	}

	_, err = stores.Attempts.Resolve(ctx, next.ID, core.AttemptOutcome{
		Status: core.AttemptStatusPending,
	}, nil)
	if err == nil {
		t.Fatalf("expected non-terminal outcome to be rejected")
	}
}

func TestDeliveryAttemptStore_DuplicateAttemptNumberRollsBackResolve(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	appended := mustAppendEvent(t, stores, "evt_chain", endpoint)
	pending := appended.Attempts[0]

	_, err := stores.Attempts.Resolve(ctx, pending.ID, core.AttemptOutcome{
		Status: core.AttemptStatusFailed,
	}, &core.DeliveryAttempt{
		EventID:       pending.EventID,
		EndpointID:    pending.EndpointID,
		TenantID:      pending.TenantID,
		AttemptNumber: 1,
	})
	if err == nil {
		t.Fatalf("expected duplicate attempt number to fail")
	}

	reloaded, err := stores.Attempts.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != core.AttemptStatusPending {
		t.Fatalf("expected resolve to roll back, got status %q", reloaded.Status)
	}
}

func TestDeliveryAttemptStore_ResolveStoresValidUTF8Error(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	appended := mustAppendEvent(t, stores, "evt_binary_error", endpoint)
	pending := appended.Attempts[0]

	_, err := stores.Attempts.Resolve(ctx, pending.ID, core.AttemptOutcome{
		Status:      core.AttemptStatusAbandoned,
		HTTPStatus:  500,
		Error:       "transport: unexpected status 500: \xff\xfe" + strings.Repeat("é", 1500),
		ErrorCode:   core.ErrorDeliveryHTTP,
		AttemptedAt: time.Now().UTC(),
	}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	resolved, err := stores.Attempts.Get(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resolved.Status != core.AttemptStatusAbandoned {
		t.Fatalf("expected abandoned attempt, got %q", resolved.Status)
	}
	if !utf8.ValidString(resolved.Error) || len(resolved.Error) > 2000 {
		t.Fatalf("expected bounded valid utf-8 error, got %d bytes valid=%v", len(resolved.Error), utf8.ValidString(resolved.Error))
	}
}

func TestDeliveryAttemptStore_ListPendingOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	first := mustAppendEvent(t, stores, "evt_pending_1", endpoint)
	second := mustAppendEvent(t, stores, "evt_pending_2", endpoint)

	pending, err := stores.Attempts.ListPending(ctx, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected two pending attempts, got %d", len(pending))
	}
	if pending[0].ID != first.Attempts[0].ID || pending[1].ID != second.Attempts[0].ID {
		t.Fatalf("expected creation order, got %s then %s", pending[0].ID, pending[1].ID)
	}

	stale, err := stores.Attempts.ListPending(ctx, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no attempts older than an hour, got %d", len(stale))
	}
}

func TestEndpointStore_UpdateAndHealthUseOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	if endpoint.Version != 1 {
		t.Fatalf("expected version 1, got %d", endpoint.Version)
	}

	until := time.Now().UTC().Add(time.Hour)
	swapped, err := stores.Endpoints.CompareAndSwapHealth(ctx, endpoint.ID, endpoint.Version, 5, &until)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !swapped {
		t.Fatalf("expected first swap to succeed")
	}
	swapped, err = stores.Endpoints.CompareAndSwapHealth(ctx, endpoint.ID, endpoint.Version, 0, nil)
	if err != nil {
		t.Fatalf("stale cas: %v", err)
	}
	if swapped {
		t.Fatalf("expected stale version swap to be rejected")
	}

	current, err := stores.Endpoints.Get(ctx, endpoint.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.ConsecutiveFailures != 5 || current.DisabledUntil == nil || current.Version != 2 {
		t.Fatalf("unexpected endpoint health %+v", current)
	}

	endpoint.Description = "stale edit"
	if _, err := stores.Endpoints.Update(ctx, endpoint); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	current.Description = "fresh edit"
	current.EventTypes = []string{core.EventTypeCallReceived, core.EventTypeCallReceived, " "}
	updated, err := stores.Endpoints.Update(ctx, current)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != "fresh edit" || updated.Version != 3 {
		t.Fatalf("unexpected updated endpoint %+v", updated)
	}
	if len(updated.EventTypes) != 1 || updated.EventTypes[0] != core.EventTypeCallReceived {
		t.Fatalf("expected normalized event types, got %v", updated.EventTypes)
	}

	missing := current
	missing.ID = uuid.NewString()
	if _, err := stores.Endpoints.Update(ctx, missing); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown endpoint, got %v", err)
	}
}

func TestEndpointStore_ListActiveSkipsInactive(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	active := mustCreateEndpoint(t, stores, "tenant_1")
	if _, err := stores.Endpoints.Create(ctx, core.WebhookEndpoint{
		TenantID: "tenant_1",
		URL:      "https://inactive.example.test/hook",
		Secret:   "secret",
		Active:   false,
	}); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	endpoints, err := stores.Endpoints.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0].ID != active.ID {
		t.Fatalf("expected only the active endpoint, got %+v", endpoints)
	}

	byTenant, err := stores.Endpoints.ListByTenant(ctx, "tenant_1")
	if err != nil {
		t.Fatalf("list by tenant: %v", err)
	}
	if len(byTenant) != 2 {
		t.Fatalf("expected both endpoints for tenant, got %d", len(byTenant))
	}
}

func TestNotificationStore_OnePerUserAndEvent(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	mustAppendEvent(t, stores, "evt_notify", endpoint)

	notification := core.Notification{
		UserID:    "user_1",
		TenantID:  "tenant_1",
		EventID:   "evt_notify",
		EventType: core.EventTypeLeadCreated,
		Title:     "New lead",
		Channel:   core.ChannelInApp,
		Mode:      core.DeliveryModeImmediate,
	}
	first, created, err := stores.Notifications.Create(ctx, notification)
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	second, created, err := stores.Notifications.Create(ctx, notification)
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing notification %s, got %s created=%v", first.ID, second.ID, created)
	}

	unread, err := stores.Notifications.CountUnread(ctx, "user_1")
	if err != nil || unread != 1 {
		t.Fatalf("expected one unread notification, got %d err=%v", unread, err)
	}
	readAt := time.Now().UTC()
	if err := stores.Notifications.MarkRead(ctx, "user_1", first.ID, readAt); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := stores.Notifications.MarkRead(ctx, "user_1", first.ID, readAt.Add(time.Minute)); err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if err := stores.Notifications.MarkRead(ctx, "user_2", first.ID, readAt); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected other user to get ErrNotFound, got %v", err)
	}
	unread, err = stores.Notifications.CountUnread(ctx, "user_1")
	if err != nil || unread != 0 {
		t.Fatalf("expected zero unread notifications, got %d err=%v", unread, err)
	}

	page, err := stores.Notifications.List(ctx, core.NotificationFilter{UserID: "user_1", UnreadOnly: true})
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected no unread items, got %d", len(page.Items))
	}
}

func TestNotificationStore_DeferredNotificationsBecomeDue(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	mustAppendEvent(t, stores, "evt_due", endpoint)

	stored, _, err := stores.Notifications.Create(ctx, core.Notification{
		UserID:    "user_1",
		TenantID:  "tenant_1",
		EventID:   "evt_due",
		EventType: core.EventTypeLeadCreated,
		Channel:   core.ChannelEmail,
		Mode:      core.DeliveryModeImmediate,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	if err := stores.Notifications.Defer(ctx, stored.ID, now.Add(time.Hour), "quiet hours"); err != nil {
		t.Fatalf("defer: %v", err)
	}
	due, err := stores.Notifications.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	due, err = stores.Notifications.ListDue(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list due later: %v", err)
	}
	if len(due) != 1 || due[0].LastError != "quiet hours" {
		t.Fatalf("expected deferred notification to be due, got %+v", due)
	}

	if err := stores.Notifications.MarkDelivered(ctx, stored.ID, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	due, err = stores.Notifications.ListDue(ctx, now.Add(3*time.Hour), 10)
	if err != nil {
		t.Fatalf("list due after delivery: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected delivered notification to leave the due list, got %d", len(due))
	}
}

func TestDigestStore_CloseTagsOnceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	var ids []string
	for i := range 3 {
		eventID := fmt.Sprintf("evt_digest_%d", i)
		mustAppendEvent(t, stores, eventID, endpoint)
		stored, _, err := stores.Notifications.Create(ctx, core.Notification{
			UserID:    "user_1",
			TenantID:  "tenant_1",
			EventID:   eventID,
			EventType: core.EventTypeContentPublished,
			Channel:   core.ChannelEmail,
			Mode:      core.DeliveryModeDaily,
			CreatedAt: time.Date(2026, 10, 18, 10+i, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("create notification %d: %v", i, err)
		}
		ids = append(ids, stored.ID)
	}

	users, err := stores.Notifications.ListDigestUsers(ctx, core.DeliveryModeDaily)
	if err != nil {
		t.Fatalf("list digest users: %v", err)
	}
	if len(users) != 1 || users[0] != "user_1" {
		t.Fatalf("expected user_1 to be pending a digest, got %v", users)
	}

	windowEnd := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-24 * time.Hour)
	candidates, err := stores.Notifications.ListDigestCandidates(ctx, "user_1", core.DeliveryModeDaily, windowEnd)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected three candidates, got %d", len(candidates))
	}

	batch, err := stores.Digests.FindOrOpen(ctx, "user_1", core.DigestPeriodDaily, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("open batch: %v", err)
	}
	again, err := stores.Digests.FindOrOpen(ctx, "user_1", core.DigestPeriodDaily, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("reopen batch: %v", err)
	}
	if again.ID != batch.ID {
		t.Fatalf("expected the same batch for the same window, got %s and %s", batch.ID, again.ID)
	}

	sentAt := windowEnd.Add(time.Minute)
	if err := stores.Digests.Close(ctx, batch.ID, ids, sentAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stores.Digests.Close(ctx, batch.ID, ids, sentAt.Add(time.Minute)); err != nil {
		t.Fatalf("close again: %v", err)
	}

	last, err := stores.Digests.LastSent(ctx, "user_1", core.DigestPeriodDaily)
	if err != nil {
		t.Fatalf("last sent: %v", err)
	}
	if last == nil || last.ID != batch.ID {
		t.Fatalf("expected last sent batch %s, got %+v", batch.ID, last)
	}
	if last.NotificationCount != 3 {
		t.Fatalf("expected notification count 3, got %d", last.NotificationCount)
	}
	if last.SentAt == nil || !last.SentAt.Equal(sentAt) {
		t.Fatalf("expected first sent_at to stick, got %v", last.SentAt)
	}

	remaining, err := stores.Notifications.ListDigestCandidates(ctx, "user_1", core.DeliveryModeDaily, windowEnd.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected every notification to be tagged, got %d untagged", len(remaining))
	}
}

func TestDigestStore_LastSentEmpty(t *testing.T) {
	stores, cleanup := newTestStores(t)
	defer cleanup()

	last, err := stores.Digests.LastSent(context.Background(), "nobody", core.DigestPeriodWeekly)
	if err != nil {
		t.Fatalf("last sent: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no batch, got %+v", last)
	}
}

func TestPreferenceStore_UpsertReplacesExistingRow(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	hour := 9
	first, err := stores.Preferences.Upsert(ctx, core.NotificationPreference{
		UserID:     "user_1",
		EventType:  core.EventTypeLeadCreated,
		Mode:       core.DeliveryModeDaily,
		Channel:    core.ChannelEmail,
		DigestHour: &hour,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := stores.Preferences.Upsert(ctx, core.NotificationPreference{
		UserID:    "user_1",
		EventType: core.EventTypeLeadCreated,
		Mode:      core.DeliveryModeImmediate,
		Channel:   core.ChannelInApp,
	})
	if err != nil {
		t.Fatalf("upsert replace: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert to keep row id %s, got %s", first.ID, second.ID)
	}

	pref, found, err := stores.Preferences.Get(ctx, "user_1", core.EventTypeLeadCreated)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if pref.Mode != core.DeliveryModeImmediate || pref.Channel != core.ChannelInApp || pref.DigestHour != nil {
		t.Fatalf("unexpected preference %+v", pref)
	}

	_, found, err = stores.Preferences.Get(ctx, "user_1", core.Wildcard)
	if err != nil || found {
		t.Fatalf("expected wildcard miss, found=%v err=%v", found, err)
	}

	list, err := stores.Preferences.ListByUser(ctx, "user_1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one preference, got %d err=%v", len(list), err)
	}
}

func TestCachedPreferenceStore_InvalidatesOnUpsert(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	base, err := NewPreferenceStore(client.DB())
	if err != nil {
		t.Fatalf("new preference store: %v", err)
	}
	cacheService, err := NewPreferenceCacheService(time.Minute)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	cached, err := NewCachedPreferenceStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	if _, found, err := cached.Get(ctx, "user_1", core.Wildcard); err != nil || found {
		t.Fatalf("expected cached miss, found=%v err=%v", found, err)
	}

	if _, err := cached.Upsert(ctx, core.NotificationPreference{
		UserID:    "user_1",
		EventType: core.Wildcard,
		Mode:      core.DeliveryModeWeekly,
		Channel:   core.ChannelEmail,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	pref, found, err := cached.Get(ctx, "user_1", core.Wildcard)
	if err != nil || !found {
		t.Fatalf("expected upsert to invalidate cached miss, found=%v err=%v", found, err)
	}
	if pref.Mode != core.DeliveryModeWeekly {
		t.Fatalf("unexpected cached preference %+v", pref)
	}
}

func TestPreferenceCacheKey_EscapesSegments(t *testing.T) {
	key := PreferenceCacheKey(" user/1 ", "lead.created")
	if key != "go-eventhooks::preference::v1::user%2F1::lead.created" {
		t.Fatalf("unexpected cache key %q", key)
	}
}

func TestRepositoryFactory_BuildsCachedPreferences(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := NewRepositoryFactoryFromPersistence(client, WithPreferenceCache(time.Minute))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	stores := factory.Stores()
	if stores == nil || stores.Events == nil || stores.Digests == nil {
		t.Fatalf("expected stores to be built")
	}
	if _, ok := stores.Preferences.(*CachedPreferenceStore); !ok {
		t.Fatalf("expected cached preference store, got %T", stores.Preferences)
	}
	if factory.DB() != client.DB() {
		t.Fatalf("expected factory to reuse the persistence db")
	}

	if _, err := NewRepositoryFactory().BuildStores("not a db"); err == nil {
		t.Fatalf("expected unsupported client type to fail")
	}
}

func TestEndpointStore_SealsSecretsAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	cipher, err := security.NewAppKeyCipherFromString("test-app-key", security.WithKeyID("k1"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	factory, err := NewRepositoryFactoryFromPersistence(client, WithSecretCipher(cipher))
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	stores := factory.Stores()
	endpoint := mustCreateEndpoint(t, stores, "tenant_1")
	if endpoint.Secret != "whsec_test" {
		t.Fatalf("expected plaintext secret from create, got %q", endpoint.Secret)
	}

	var stored string
	if err := factory.DB().NewSelect().
		Table("eventhooks_webhook_endpoints").
		Column("secret").
		Where("id = ?", endpoint.ID).
		Scan(ctx, &stored); err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	if !security.IsSealed([]byte(stored)) {
		t.Fatalf("expected sealed secret column, got %q", stored)
	}

	endpoint.URL = "https://hooks.example.test/rotated"
	updated, err := stores.Endpoints.Update(ctx, endpoint)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Secret != "whsec_test" {
		t.Fatalf("expected secret to survive update, got %q", updated.Secret)
	}
	active, err := stores.Endpoints.ListActive(ctx)
	if err != nil || len(active) != 1 || active[0].Secret != "whsec_test" {
		t.Fatalf("expected opened secret in list, got %+v %v", active, err)
	}
}

func newTestStores(t *testing.T) (*Stores, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("repository factory: %v", err)
	}
	return factory.Stores(), cleanup
}

func mustCreateEndpoint(t *testing.T, stores *Stores, tenantID string) core.WebhookEndpoint {
	t.Helper()
	endpoint, err := stores.Endpoints.Create(context.Background(), core.WebhookEndpoint{
		TenantID:   tenantID,
		URL:        "https://hooks.example.test/" + tenantID,
		Secret:     "whsec_test",
		EventTypes: []string{core.Wildcard},
		Active:     true,
	})
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	return endpoint
}

func mustAppendEvent(t *testing.T, stores *Stores, eventID string, endpoint core.WebhookEndpoint) core.AppendResult {
	t.Helper()
	result, err := stores.Events.Append(context.Background(), core.Event{
		ID:         eventID,
		Type:       core.EventTypeLeadCreated,
		TenantID:   endpoint.TenantID,
		Payload:    json.RawMessage(`{}`),
		OccurredAt: time.Now().UTC(),
	}, []core.DeliveryAttempt{{
		EndpointID:    endpoint.ID,
		TenantID:      endpoint.TenantID,
		AttemptNumber: 1,
	}})
	if err != nil {
		t.Fatalf("append event %s: %v", eventID, err)
	}
	return result
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:eventhooks-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	if err := eventmigrations.Apply(context.Background(), client, eventmigrations.DialectSQLite); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
