package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestTaxonomyErrors_CarryTextCodes(t *testing.T) {
	cases := []struct {
		err      *goerrors.Error
		textCode string
		status   int
	}{
		{InvalidSignatureError("callrail", "mismatch"), ErrorInvalidSignature, http.StatusUnauthorized},
		{UnsupportedPayloadError("wufoo", "missing EntryId"), ErrorUnsupportedPayload, http.StatusUnprocessableEntity},
		{DeliveryTimeoutError("ep-1", context.DeadlineExceeded), ErrorDeliveryTimeout, http.StatusGatewayTimeout},
		{DeliveryHTTPError("ep-1", 500, nil), ErrorDeliveryHTTP, http.StatusBadGateway},
		{EndpointDisabledError("ep-1"), ErrorEndpointDisabled, http.StatusConflict},
		{RetryExhaustedError("ep-1", 8), ErrorRetryExhausted, http.StatusConflict},
	}
	for _, tc := range cases {
		if tc.err.TextCode != tc.textCode {
			t.Fatalf("expected text code %q, got %q", tc.textCode, tc.err.TextCode)
		}
		if tc.err.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.textCode, tc.status, tc.err.Code)
		}
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !IsKind(wrapped, tc.textCode) {
			t.Fatalf("expected IsKind to see through wrapping for %s", tc.textCode)
		}
	}
}

func TestMapError_Sentinels(t *testing.T) {
	if got := MapError(fmt.Errorf("lookup: %w", ErrNotFound)); got.TextCode != ErrorNotFound || got.Code != http.StatusNotFound {
		t.Fatalf("unexpected not found mapping: %+v", got)
	}
	if got := MapError(ErrVersionConflict); got.TextCode != ErrorVersionConflict || got.Code != http.StatusConflict {
		t.Fatalf("unexpected conflict mapping: %+v", got)
	}
	if got := MapError(errors.New("tenant_id is required")); got.TextCode != ErrorBadInput {
		t.Fatalf("unexpected bad input mapping: %+v", got)
	}
	if got := MapError(errors.New("boom")); got.TextCode == "" || got.Code == 0 {
		t.Fatalf("expected envelope defaults, got %+v", got)
	}
	if MapError(nil) != nil {
		t.Fatalf("expected nil mapping for nil error")
	}
}
