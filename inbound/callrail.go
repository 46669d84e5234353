package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

const (
	ProviderCallRail = "callrail"

	transcriptPreviewLength = 150
)

// NewCallRailProvider verifies the base64 HMAC-SHA1 "Signature" header by
// default; header, algorithm and encoding can be overridden in config.
func NewCallRailProvider(cfg core.InboundProviderConfig) Provider {
	return Provider{
		ID: ProviderCallRail,
		Verifier: HeaderHMACVerifier{
			Header:    firstNonEmpty(cfg.SignatureHeader, "Signature"),
			Secret:    cfg.Secret,
			Algorithm: firstNonEmpty(cfg.Algorithm, "sha1"),
			Encoding:  firstNonEmpty(cfg.Encoding, "base64"),
		},
		Mapper:        MapperFunc(mapCallRail),
		Tenants:       cfg.Tenants,
		DefaultTenant: cfg.DefaultTenant,
	}
}

func mapCallRail(_ context.Context, req Request) (Mapped, error) {
	call := map[string]any{}
	decoder := json.NewDecoder(bytes.NewReader(req.Body))
	decoder.UseNumber()
	if err := decoder.Decode(&call); err != nil {
		return Mapped{}, core.UnsupportedPayloadError(ProviderCallRail, "body is not a JSON object")
	}

	callID := firstNonEmpty(stringField(call, "resource_id"), stringField(call, "id"))
	if callID == "" {
		return Mapped{}, core.UnsupportedPayloadError(ProviderCallRail, "resource_id is missing")
	}

	duration := intField(call, "duration")
	answered := boolField(call, "answered")
	payload := map[string]any{
		"call_id":            callID,
		"company_id":         stringField(call, "company_id"),
		"caller_name":        firstNonEmpty(stringField(call, "customer_name"), stringField(call, "caller_name"), "Unknown"),
		"caller_number":      formatPhone(firstNonEmpty(stringField(call, "customer_phone_number"), stringField(call, "caller_number"))),
		"tracking_number":    formatPhone(stringField(call, "tracking_phone_number")),
		"duration":           duration,
		"duration_display":   FormatDuration(duration),
		"answered":           answered,
		"voicemail":          boolField(call, "voicemail"),
		"first_call":         boolField(call, "first_call"),
		"source":             firstNonEmpty(stringField(call, "source"), "Direct"),
		"recording_url":      stringField(call, "recording"),
		"transcript_preview": transcriptPreview(call),
		"lead_quality":       LeadQuality(answered, duration),
	}

	mapped := Mapped{
		ProviderEventID: callID,
		Type:            core.EventTypeCallReceived,
		AccountID:       stringField(call, "company_id"),
		Payload:         payload,
	}
	if startedAt := stringField(call, "start_time"); startedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, startedAt); err == nil {
			mapped.OccurredAt = parsed.UTC()
			payload["started_at"] = parsed.UTC().Format(time.RFC3339)
		}
	}
	return mapped, nil
}

// LeadQuality scores a call: unanswered calls are missed, answered calls
// over three minutes are hot, over one minute warm, otherwise cold.
func LeadQuality(answered bool, durationSeconds int) string {
	switch {
	case !answered:
		return "missed"
	case durationSeconds > 180:
		return "hot"
	case durationSeconds > 60:
		return "warm"
	default:
		return "cold"
	}
}

// FormatDuration renders seconds as M:SS.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "0:00"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func formatPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("(%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	}
	return phone
}

func transcriptPreview(call map[string]any) string {
	transcript := strings.TrimSpace(firstNonEmpty(
		stringField(call, "conversational_transcript"),
		stringField(call, "transcription"),
	))
	if len(transcript) > transcriptPreviewLength {
		return transcript[:transcriptPreviewLength] + "..."
	}
	return transcript
}

func stringField(values map[string]any, key string) string {
	switch typed := values[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	}
	return ""
}

func intField(values map[string]any, key string) int {
	switch typed := values[key].(type) {
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return int(parsed)
		}
		if parsed, err := typed.Float64(); err == nil {
			return int(parsed)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			return parsed
		}
	}
	return 0
}

func boolField(values map[string]any, key string) bool {
	switch typed := values[key].(type) {
	case bool:
		return typed
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(typed))
		return parsed
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
