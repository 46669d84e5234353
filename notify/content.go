package notify

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-eventhooks/core"
)

// Compose renders the title and body stored on a notification.
func Compose(event core.Event) (string, string) {
	payload := map[string]any{}
	_ = event.Decode(&payload)

	switch event.Type {
	case core.EventTypeContentApproved:
		title := firstText(payload, "title", "content_title")
		return "Content approved", joinText(
			quoted(title, "Your content")+" was approved",
			clientSuffix(payload),
		)
	case core.EventTypeContentPublished:
		title := firstText(payload, "title", "content_title", "post_title")
		body := quoted(title, "Your content") + " was published"
		if url := firstText(payload, "url", "post_url"); url != "" {
			body += ": " + url
		}
		return "Content published", joinText(body, clientSuffix(payload))
	case core.EventTypeLeadCreated:
		name := firstText(payload, "name")
		if name == "" {
			name = "Form Submission"
		}
		details := compact(
			firstText(payload, "email"),
			firstText(payload, "phone"),
			firstText(payload, "service_requested"),
		)
		body := "New lead " + name
		if details != "" {
			body += " (" + details + ")"
		}
		if source := firstText(payload, "source_detail", "source"); source != "" {
			body += " via " + source
		}
		return "New lead: " + name, body
	case core.EventTypeCallReceived:
		caller := firstText(payload, "caller_name")
		if caller == "" {
			caller = "Unknown"
		}
		body := compact(
			firstText(payload, "caller_number"),
			firstText(payload, "duration_display"),
			qualityText(firstText(payload, "lead_quality")),
			firstText(payload, "source"),
		)
		return "New call from " + caller, body
	case core.EventTypeFormSubmitted:
		form := firstText(payload, "form", "form_name")
		return "Form submitted", quoted(form, "A form") + " received a new submission"
	}
	return humanize(event.Type), fmt.Sprintf("%s event %s", event.Type, event.ID)
}

func firstText(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(value))
		if text != "" {
			return text
		}
	}
	return ""
}

func clientSuffix(payload map[string]any) string {
	if client := firstText(payload, "client_name", "client"); client != "" {
		return "for " + client
	}
	return ""
}

func quoted(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return fmt.Sprintf("%q", value)
}

func qualityText(quality string) string {
	if quality == "" {
		return ""
	}
	return quality + " lead"
}

func compact(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, ", ")
}

func joinText(values ...string) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}

func humanize(eventType string) string {
	words := strings.FieldsFunc(eventType, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(words) == 0 {
		return "Notification"
	}
	text := strings.Join(words, " ")
	return strings.ToUpper(text[:1]) + text[1:]
}
