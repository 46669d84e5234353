package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// CreateEndpointRequest registers a tenant webhook endpoint. An empty secret
// is replaced with a generated one.
type CreateEndpointRequest struct {
	TenantID    string   `json:"tenant_id"`
	URL         string   `json:"url"`
	Secret      string   `json:"secret,omitempty"`
	EventTypes  []string `json:"event_types"`
	MaxInFlight int      `json:"max_in_flight,omitempty"`
	Description string   `json:"description,omitempty"`
	Inactive    bool     `json:"inactive,omitempty"`
}

func (r CreateEndpointRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return BadInputError("endpoint tenant_id is required")
	}
	if err := ValidateEndpointURL(r.URL); err != nil {
		return err
	}
	if r.MaxInFlight < 0 {
		return BadInputError("endpoint max_in_flight must be >= 0")
	}
	return nil
}

// UpdateEndpointRequest patches an endpoint. Nil fields are left unchanged;
// EventTypes replaces the subscription set when non-nil.
type UpdateEndpointRequest struct {
	ID          string    `json:"id"`
	URL         *string   `json:"url,omitempty"`
	Secret      *string   `json:"secret,omitempty"`
	EventTypes  *[]string `json:"event_types,omitempty"`
	Active      *bool     `json:"active,omitempty"`
	MaxInFlight *int      `json:"max_in_flight,omitempty"`
	Description *string   `json:"description,omitempty"`
}

func (r UpdateEndpointRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return BadInputError("endpoint id is required")
	}
	if r.URL != nil {
		if err := ValidateEndpointURL(*r.URL); err != nil {
			return err
		}
	}
	if r.Secret != nil && strings.TrimSpace(*r.Secret) == "" {
		return BadInputError("endpoint secret must not be empty")
	}
	if r.MaxInFlight != nil && *r.MaxInFlight < 0 {
		return BadInputError("endpoint max_in_flight must be >= 0")
	}
	return nil
}

// Apply writes the patch onto endpoint and returns the result.
func (r UpdateEndpointRequest) Apply(endpoint WebhookEndpoint) WebhookEndpoint {
	if r.URL != nil {
		endpoint.URL = strings.TrimSpace(*r.URL)
	}
	if r.Secret != nil {
		endpoint.Secret = *r.Secret
	}
	if r.EventTypes != nil {
		endpoint.EventTypes = NormalizeEventTypes(*r.EventTypes)
	}
	if r.Active != nil {
		endpoint.Active = *r.Active
	}
	if r.MaxInFlight != nil {
		endpoint.MaxInFlight = *r.MaxInFlight
	}
	if r.Description != nil {
		endpoint.Description = strings.TrimSpace(*r.Description)
	}
	return endpoint
}

func ValidateEndpointURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return BadInputError("endpoint url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return BadInputError(fmt.Sprintf("endpoint url is invalid: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return BadInputError("endpoint url must use http or https")
	}
	if parsed.Host == "" {
		return BadInputError("endpoint url host is required")
	}
	return nil
}

// NormalizeEventTypes trims, drops blanks and removes duplicates while
// keeping order.
func NormalizeEventTypes(types []string) []string {
	out := make([]string, 0, len(types))
	seen := make(map[string]struct{}, len(types))
	for _, eventType := range types {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			continue
		}
		if _, ok := seen[eventType]; ok {
			continue
		}
		seen[eventType] = struct{}{}
		out = append(out, eventType)
	}
	return out
}

func GenerateEndpointSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: generate endpoint secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
