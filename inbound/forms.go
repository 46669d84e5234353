package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

const ProviderForms = "forms"

type formSubmission struct {
	ID          string         `json:"id"`
	Form        string         `json:"form"`
	Account     string         `json:"account"`
	Fields      map[string]any `json:"fields"`
	SubmittedAt string         `json:"submitted_at"`
}

// NewFormsProvider handles the generic JSON form webhook signed with a hex
// HMAC-SHA256 in X-Form-Signature.
func NewFormsProvider(cfg core.InboundProviderConfig) Provider {
	return Provider{
		ID: ProviderForms,
		Verifier: HeaderHMACVerifier{
			Header:    firstNonEmpty(cfg.SignatureHeader, "X-Form-Signature"),
			Secret:    cfg.Secret,
			Algorithm: firstNonEmpty(cfg.Algorithm, "sha256"),
			Encoding:  firstNonEmpty(cfg.Encoding, "hex"),
		},
		Mapper:        MapperFunc(mapFormSubmission),
		Tenants:       cfg.Tenants,
		DefaultTenant: cfg.DefaultTenant,
	}
}

func mapFormSubmission(_ context.Context, req Request) (Mapped, error) {
	submission := formSubmission{}
	if err := json.Unmarshal(req.Body, &submission); err != nil {
		return Mapped{}, core.UnsupportedPayloadError(ProviderForms, "body is not a form submission object")
	}
	submission.ID = strings.TrimSpace(submission.ID)
	if submission.ID == "" {
		return Mapped{}, core.UnsupportedPayloadError(ProviderForms, "submission id is missing")
	}
	if len(submission.Fields) == 0 {
		return Mapped{}, core.UnsupportedPayloadError(ProviderForms, "submission has no fields")
	}

	keys := make([]string, 0, len(submission.Fields))
	for key := range submission.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	contact := newLead()
	for _, key := range keys {
		contact.assign(key, "text", formValue(submission.Fields[key]))
	}
	contact.finish()

	payload := contact.payload()
	payload["source"] = ProviderForms
	payload["source_detail"] = submission.Form
	payload["submission_id"] = submission.ID

	mapped := Mapped{
		ProviderEventID: submission.ID,
		Type:            core.EventTypeLeadCreated,
		AccountID:       submission.Account,
		Payload:         payload,
	}
	if submission.SubmittedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, submission.SubmittedAt); err == nil {
			mapped.OccurredAt = parsed.UTC()
		}
	}
	return mapped, nil
}

func formValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, formValue(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(value)
}
