package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-eventhooks/core"
)

type stubReader struct {
	endpoints   []core.WebhookEndpoint
	attempts    core.DeliveryAttemptPage
	lastFilter  core.DeliveryAttemptFilter
	unread      int
	preferences []core.NotificationPreference
}

func (s *stubReader) ListEndpoints(_ context.Context, tenantID string) ([]core.WebhookEndpoint, error) {
	out := []core.WebhookEndpoint{}
	for _, endpoint := range s.endpoints {
		if endpoint.TenantID == tenantID {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

func (s *stubReader) GetEndpoint(_ context.Context, id string) (core.WebhookEndpoint, error) {
	for _, endpoint := range s.endpoints {
		if endpoint.ID == id {
			return endpoint, nil
		}
	}
	return core.WebhookEndpoint{}, core.NotFoundError("endpoint", id)
}

func (s *stubReader) ListDeliveryAttempts(_ context.Context, filter core.DeliveryAttemptFilter) (core.DeliveryAttemptPage, error) {
	s.lastFilter = filter
	return s.attempts, nil
}

func (s *stubReader) ListNotifications(_ context.Context, filter core.NotificationFilter) (core.NotificationPage, error) {
	return core.NotificationPage{Items: []core.Notification{{ID: "n1", UserID: filter.UserID}}, Total: 1}, nil
}

func (s *stubReader) CountUnread(context.Context, string) (int, error) {
	return s.unread, nil
}

func (s *stubReader) ListPreferences(context.Context, string) ([]core.NotificationPreference, error) {
	return s.preferences, nil
}

func TestEndpointQueries_Delegate(t *testing.T) {
	reader := &stubReader{endpoints: []core.WebhookEndpoint{
		{ID: "ep_1", TenantID: "tenant_1"},
		{ID: "ep_2", TenantID: "tenant_2"},
	}}
	ctx := context.Background()

	endpoints, err := NewListEndpointsQuery(reader).Query(ctx, ListEndpointsMessage{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("list endpoints: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0].ID != "ep_1" {
		t.Fatalf("unexpected endpoints: %#v", endpoints)
	}

	_, err = NewGetEndpointQuery(reader).Query(ctx, GetEndpointMessage{EndpointID: "missing"})
	if !core.IsKind(err, core.ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListDeliveryAttemptsQuery_PassesFilter(t *testing.T) {
	reader := &stubReader{attempts: core.DeliveryAttemptPage{Total: 3}}
	page, err := NewListDeliveryAttemptsQuery(reader).Query(context.Background(), ListDeliveryAttemptsMessage{
		Filter: core.DeliveryAttemptFilter{EndpointID: "ep_1", Status: core.AttemptStatusFailed, Page: core.Page{Limit: 10}},
	})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if page.Total != 3 || reader.lastFilter.EndpointID != "ep_1" || reader.lastFilter.Status != core.AttemptStatusFailed {
		t.Fatalf("unexpected delegation: %#v %#v", page, reader.lastFilter)
	}

	_, err = NewListDeliveryAttemptsQuery(reader).Query(context.Background(), ListDeliveryAttemptsMessage{
		Filter: core.DeliveryAttemptFilter{Page: core.Page{Offset: -1}},
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNotificationQueries_Delegate(t *testing.T) {
	reader := &stubReader{unread: 4, preferences: []core.NotificationPreference{{UserID: "u1", EventType: "*"}}}
	ctx := context.Background()

	page, err := NewListNotificationsQuery(reader).Query(ctx, ListNotificationsMessage{Filter: core.NotificationFilter{UserID: "u1"}})
	if err != nil || page.Total != 1 || page.Items[0].UserID != "u1" {
		t.Fatalf("unexpected notifications: %#v %v", page, err)
	}
	count, err := NewCountUnreadQuery(reader).Query(ctx, CountUnreadMessage{UserID: "u1"})
	if err != nil || count != 4 {
		t.Fatalf("unexpected unread count: %d %v", count, err)
	}
	prefs, err := NewListPreferencesQuery(reader).Query(ctx, ListPreferencesMessage{UserID: "u1"})
	if err != nil || len(prefs) != 1 {
		t.Fatalf("unexpected preferences: %#v %v", prefs, err)
	}
	if _, err := NewCountUnreadQuery(reader).Query(ctx, CountUnreadMessage{}); err == nil {
		t.Fatalf("expected missing user to be rejected")
	}
}

func TestQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *ListEndpointsQuery
	_, err := qry.Query(context.Background(), ListEndpointsMessage{TenantID: "tenant_1"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
}
