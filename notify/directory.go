package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-eventhooks/core"
)

type RecipientResolverFunc func(ctx context.Context, event core.Event) ([]core.Recipient, error)

func (fn RecipientResolverFunc) Recipients(ctx context.Context, event core.Event) ([]core.Recipient, error) {
	return fn(ctx, event)
}

// StaticDirectory is an in-memory user directory with tenant membership.
// It serves as both the recipient resolver (tenant members) and the lookup
// used when deferred and digest notifications are sent later.
type StaticDirectory struct {
	mu      sync.RWMutex
	users   map[string]core.Recipient
	members map[string][]string
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		users:   map[string]core.Recipient{},
		members: map[string][]string{},
	}
}

// Add registers a recipient as a member of the given tenants.
func (d *StaticDirectory) Add(recipient core.Recipient, tenantIDs ...string) {
	recipient.UserID = strings.TrimSpace(recipient.UserID)
	if recipient.UserID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[recipient.UserID] = recipient
	for _, tenantID := range tenantIDs {
		tenantID = strings.TrimSpace(tenantID)
		if tenantID == "" || containsString(d.members[tenantID], recipient.UserID) {
			continue
		}
		d.members[tenantID] = append(d.members[tenantID], recipient.UserID)
		sort.Strings(d.members[tenantID])
	}
}

func (d *StaticDirectory) Lookup(_ context.Context, userID string) (core.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	recipient, ok := d.users[strings.TrimSpace(userID)]
	if !ok {
		return core.Recipient{}, core.NotFoundError("recipient", userID)
	}
	return recipient, nil
}

func (d *StaticDirectory) Recipients(_ context.Context, event core.Event) ([]core.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	userIDs := d.members[strings.TrimSpace(event.TenantID)]
	out := make([]core.Recipient, 0, len(userIDs))
	for _, userID := range userIDs {
		out = append(out, d.users[userID])
	}
	return out, nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

type directoryEntry struct {
	UserID  string   `json:"user_id"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Tenants []string `json:"tenants"`
}

// LoadDirectory reads a JSON array of {user_id, email, name, tenants}
// entries into a StaticDirectory.
func LoadDirectory(r io.Reader) (*StaticDirectory, error) {
	var entries []directoryEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("notify: decode recipients: %w", err)
	}
	directory := NewStaticDirectory()
	for i, entry := range entries {
		if strings.TrimSpace(entry.UserID) == "" {
			return nil, core.BadInputError(fmt.Sprintf("notify: recipient %d has no user_id", i))
		}
		directory.Add(core.Recipient{
			UserID: entry.UserID,
			Email:  strings.TrimSpace(entry.Email),
			Name:   strings.TrimSpace(entry.Name),
		}, entry.Tenants...)
	}
	return directory, nil
}
