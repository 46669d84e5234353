package inbound

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

const (
	ProviderWufoo = "wufoo"

	wufooHandshakeField = "HandshakeKey"
	wufooDateLayout     = "2006-01-02 15:04:05"
)

type wufooField struct {
	ID        string          `json:"ID"`
	Title     string          `json:"Title"`
	Type      string          `json:"Type"`
	SubFields []wufooSubField `json:"SubFields"`
}

type wufooSubField struct {
	ID    string `json:"ID"`
	Label string `json:"Label"`
}

type wufooFieldStructure struct {
	Fields []wufooField `json:"Fields"`
}

type wufooFormStructure struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	URL  string `json:"Url"`
}

// NewWufooProvider verifies the form-posted HandshakeKey against the
// configured secret.
func NewWufooProvider(cfg core.InboundProviderConfig) Provider {
	return Provider{
		ID: ProviderWufoo,
		Verifier: FormFieldTokenVerifier{
			Field:  wufooHandshakeField,
			Secret: cfg.Secret,
		},
		Mapper:        MapperFunc(mapWufoo),
		Tenants:       cfg.Tenants,
		DefaultTenant: cfg.DefaultTenant,
	}
}

func mapWufoo(_ context.Context, req Request) (Mapped, error) {
	values, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return Mapped{}, core.UnsupportedPayloadError(ProviderWufoo, "body is not form encoded")
	}
	entryID := strings.TrimSpace(values.Get("EntryId"))
	if entryID == "" {
		return Mapped{}, core.UnsupportedPayloadError(ProviderWufoo, "EntryId is missing")
	}

	form := wufooFormStructure{}
	if raw := strings.TrimSpace(values.Get("FormStructure")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &form); err != nil {
			return Mapped{}, core.UnsupportedPayloadError(ProviderWufoo, "FormStructure is not valid JSON")
		}
	}
	formHash := firstNonEmpty(form.Hash, values.Get("FormHash"))
	if formHash == "" {
		return Mapped{}, core.UnsupportedPayloadError(ProviderWufoo, "form hash is missing")
	}

	definitions := map[string]wufooField{}
	if raw := strings.TrimSpace(values.Get("FieldStructure")); raw != "" {
		structure := wufooFieldStructure{}
		if err := json.Unmarshal([]byte(raw), &structure); err != nil {
			return Mapped{}, core.UnsupportedPayloadError(ProviderWufoo, "FieldStructure is not valid JSON")
		}
		for _, field := range structure.Fields {
			definitions[field.ID] = field
			for _, sub := range field.SubFields {
				definitions[sub.ID] = wufooField{
					ID:    sub.ID,
					Title: strings.TrimSpace(field.Title + " " + sub.Label),
					Type:  field.Type,
				}
			}
		}
	}

	contact := newLead()
	for _, key := range wufooFieldKeys(values) {
		definition, ok := definitions[key]
		title := definition.Title
		if !ok || title == "" {
			title = key
		}
		contact.assign(title, definition.Type, values.Get(key))
	}
	contact.finish()

	payload := contact.payload()
	payload["source"] = ProviderWufoo
	payload["source_detail"] = firstNonEmpty(form.Name, formHash)
	payload["entry_id"] = entryID
	payload["form_hash"] = formHash

	mapped := Mapped{
		ProviderEventID: formHash + ":" + entryID,
		Type:            core.EventTypeLeadCreated,
		AccountID:       formHash,
		Payload:         payload,
	}
	if created := strings.TrimSpace(values.Get("DateCreated")); created != "" {
		if parsed, err := time.ParseInLocation(wufooDateLayout, created, time.UTC); err == nil {
			mapped.OccurredAt = parsed
		}
	}
	return mapped, nil
}

// wufooFieldKeys returns the FieldN keys in numeric order so split name
// fields are joined first name first.
func wufooFieldKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if _, ok := wufooFieldNumber(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		left, _ := wufooFieldNumber(keys[i])
		right, _ := wufooFieldNumber(keys[j])
		return left < right
	})
	return keys
}

func wufooFieldNumber(key string) (int, bool) {
	suffix, ok := strings.CutPrefix(key, "Field")
	if !ok || suffix == "" {
		return 0, false
	}
	number, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return number, true
}
