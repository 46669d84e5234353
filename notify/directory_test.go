package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-eventhooks/core"
)

func TestLoadDirectoryBuildsTenantMembership(t *testing.T) {
	directory, err := LoadDirectory(strings.NewReader(`[
		{"user_id": "user_1", "email": "one@example.com", "name": "One", "tenants": ["tenant_1", "tenant_2"]},
		{"user_id": "user_2", "email": "two@example.com", "tenants": ["tenant_1"]}
	]`))
	if err != nil {
		t.Fatalf("load directory: %v", err)
	}
	ctx := context.Background()

	members, err := directory.Recipients(ctx, core.Event{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(members) != 2 || members[0].UserID != "user_1" || members[1].UserID != "user_2" {
		t.Fatalf("unexpected tenant_1 members %+v", members)
	}
	recipient, err := directory.Lookup(ctx, "user_1")
	if err != nil || recipient.Email != "one@example.com" {
		t.Fatalf("unexpected lookup %+v %v", recipient, err)
	}
	if _, err := directory.Lookup(ctx, "user_3"); !core.IsKind(err, core.ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadDirectoryRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing user id": `[{"email": "x@example.com"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadDirectory(strings.NewReader(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
