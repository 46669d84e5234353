package inbound

import (
	"strings"
	"unicode"
)

// lead collects the contact fields shared by form providers.
type lead struct {
	Name             string
	Email            string
	Phone            string
	Message          string
	ServiceRequested string
	Fields           map[string]string
}

func newLead() *lead {
	return &lead{Fields: map[string]string{}}
}

// assign routes one submitted value by field type first, then by keywords
// in the field title.
func (l *lead) assign(title string, fieldType string, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if title == "" {
		title = "field"
	}
	l.Fields[title] = value

	lowerTitle := strings.ToLower(strings.TrimSpace(title))
	fieldType = strings.ToLower(strings.TrimSpace(fieldType))
	switch {
	case fieldType == "email" || strings.Contains(lowerTitle, "email"):
		l.Email = value
	case fieldType == "phone" || strings.Contains(lowerTitle, "phone") || strings.Contains(lowerTitle, "number"):
		l.Phone = value
	case strings.Contains(lowerTitle, "name"):
		switch {
		case strings.Contains(lowerTitle, "first") || strings.Contains(lowerTitle, "full") || lowerTitle == "name":
			if l.Name == "" {
				l.Name = value
			} else {
				l.Name = l.Name + " " + value
			}
		case strings.Contains(lowerTitle, "last"):
			l.Name = strings.TrimSpace(l.Name + " " + value)
		default:
			if l.Name == "" {
				l.Name = value
			}
		}
	case strings.Contains(lowerTitle, "service") || strings.Contains(lowerTitle, "interest") || strings.Contains(lowerTitle, "type"):
		l.ServiceRequested = value
	case (fieldType == "textarea" || fieldType == "text") && containsAny(lowerTitle, "message", "comment", "note", "detail"):
		l.Message = value
	case fieldType == "textarea" && l.Message == "":
		l.Message = value
	}
}

// finish applies the name fallback: the email local part in title case,
// else a generic label.
func (l *lead) finish() {
	if strings.TrimSpace(l.Name) != "" {
		return
	}
	if local, _, ok := strings.Cut(l.Email, "@"); ok && local != "" {
		l.Name = titleCase(strings.ReplaceAll(local, ".", " "))
		return
	}
	l.Name = "Form Submission"
}

func (l *lead) payload() map[string]any {
	fields := make(map[string]any, len(l.Fields))
	for key, value := range l.Fields {
		fields[key] = value
	}
	return map[string]any{
		"name":              l.Name,
		"email":             l.Email,
		"phone":             l.Phone,
		"message":           l.Message,
		"service_requested": l.ServiceRequested,
		"fields":            fields,
	}
}

func containsAny(value string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}

func titleCase(value string) string {
	words := strings.Fields(value)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
