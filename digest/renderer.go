package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

type Group struct {
	EventType     string
	Label         string
	Notifications []core.Notification
}

func (g Group) Count() int {
	return len(g.Notifications)
}

type view struct {
	Recipient core.Recipient
	Period    core.DigestPeriod
	Window    Window
	Total     int
	Groups    []Group
}

// Renderer builds the single summary message for a batch, grouped by event
// type with counts.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		html: htmltemplate.Must(htmltemplate.New("digest.html").Funcs(htmltemplate.FuncMap{
			"date": formatDate,
		}).Parse(htmlTemplate)),
		text: texttemplate.Must(texttemplate.New("digest.txt").Funcs(texttemplate.FuncMap{
			"date": formatDate,
		}).Parse(textTemplate)),
	}
}

func (r *Renderer) Render(
	to core.Recipient,
	period core.DigestPeriod,
	window Window,
	notifications []core.Notification,
) (core.Message, error) {
	data := view{
		Recipient: to,
		Period:    period,
		Window:    window,
		Total:     len(notifications),
		Groups:    groupByType(notifications),
	}
	var html bytes.Buffer
	if err := r.html.Execute(&html, data); err != nil {
		return core.Message{}, fmt.Errorf("digest: render html: %w", err)
	}
	var text bytes.Buffer
	if err := r.text.Execute(&text, data); err != nil {
		return core.Message{}, fmt.Errorf("digest: render text: %w", err)
	}
	return core.Message{
		To:            to,
		Subject:       subject(period, len(notifications)),
		Text:          text.String(),
		HTML:          html.String(),
		Notifications: notifications,
	}, nil
}

func subject(period core.DigestPeriod, total int) string {
	noun := "updates"
	if total == 1 {
		noun = "update"
	}
	if period == core.DigestPeriodWeekly {
		return fmt.Sprintf("Your weekly summary: %d %s", total, noun)
	}
	return fmt.Sprintf("Your daily summary: %d %s", total, noun)
}

func groupByType(notifications []core.Notification) []Group {
	index := map[string]int{}
	groups := []Group{}
	for _, notification := range notifications {
		position, ok := index[notification.EventType]
		if !ok {
			position = len(groups)
			index[notification.EventType] = position
			groups = append(groups, Group{
				EventType: notification.EventType,
				Label:     groupLabel(notification.EventType),
			})
		}
		groups[position].Notifications = append(groups[position].Notifications, notification)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count() != groups[j].Count() {
			return groups[i].Count() > groups[j].Count()
		}
		return groups[i].EventType < groups[j].EventType
	})
	return groups
}

func groupLabel(eventType string) string {
	switch eventType {
	case core.EventTypeLeadCreated:
		return "New leads"
	case core.EventTypeCallReceived:
		return "Calls"
	case core.EventTypeContentApproved:
		return "Content approved"
	case core.EventTypeContentPublished:
		return "Content published"
	case core.EventTypeFormSubmitted:
		return "Form submissions"
	}
	label := strings.NewReplacer(".", " ", "_", " ").Replace(eventType)
	if label == "" {
		return "Other"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func formatDate(value time.Time) string {
	return value.UTC().Format("Jan 2, 2006 15:04 MST")
}

const htmlTemplate = `<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #111;">{{if eq .Period "weekly"}}Weekly{{else}}Daily{{end}} summary</h2>
<p style="color: #666;">{{.Total}} notifications between {{date .Window.Start}} and {{date .Window.End}}</p>
{{range .Groups}}<h3 style="color: #333;">{{.Label}} ({{.Count}})</h3>
{{range .Notifications}}<div style="padding: 12px; margin: 8px 0; border-left: 3px solid #f59e0b; background: #fafafa;">
<strong>{{.Title}}</strong><br>
<span style="color: #666; font-size: 14px;">{{.Body}}</span>
</div>
{{end}}{{end}}</body>
</html>
`

const textTemplate = `{{if eq .Period "weekly"}}Weekly{{else}}Daily{{end}} summary: {{.Total}} notifications
{{range .Groups}}
{{.Label}} ({{.Count}})
{{range .Notifications}}- {{.Title}}{{if .Body}}: {{.Body}}{{end}}
{{end}}{{end}}`
