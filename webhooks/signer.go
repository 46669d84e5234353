package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Webhook-Event-Id"
	HeaderEventType = "X-Webhook-Event-Type"
	HeaderAttempt   = "X-Webhook-Attempt"
)

type canonicalEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt string          `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// CanonicalBody renders the bytes POSTed to endpoints. The payload is
// re-encoded with sorted keys so the body, and its signature, do not depend
// on how the store normalized the JSON column.
func CanonicalBody(event core.Event) ([]byte, error) {
	payload, err := canonicalPayload(event.Payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(canonicalEvent{
		ID:         event.ID,
		Type:       event.Type,
		TenantID:   event.TenantID,
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func canonicalPayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	var decoded any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(decoded); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Sign returns hex(hmac_sha256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is the receiver-side check, exposed for tests and for
// tenants embedding this package.
func VerifySignature(secret string, body []byte, signature string) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, body))
	return subtle.ConstantTimeCompare(decoded, expected) == 1
}

func deliveryHeaders(event core.Event, attemptNumber int, signature string) map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		HeaderSignature: signature,
		HeaderEventID:   event.ID,
		HeaderEventType: event.Type,
	}
	if attemptNumber > 0 {
		headers[HeaderAttempt] = strconv.Itoa(attemptNumber)
	}
	return headers
}
