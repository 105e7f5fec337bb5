// Package template renders message content from workflow templates and the
// per-job data a dispatch carries.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/herald/pkg/models"
)

// Data is the variable scope a message template renders against.
type Data struct {
	Payload    map[string]any
	Subscriber *models.Subscriber
	Tenant     map[string]any
	Actor      *models.Subscriber
	// Step carries digest aggregation when the step follows a digest:
	// events, eventCount, totalCount.
	Step map[string]any
}

// Render executes one template string against data. Syntax and execution
// errors are returned to the caller, which records them on the audit trail.
func Render(templateStr string, data Data) (string, error) {
	if templateStr == "" {
		return "", nil
	}

	tmpl, err := template.
		New("message").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"title": func(s string) string {
				if s == "" {
					return s
				}

				return strings.ToUpper(s[:1]) + s[1:]
			},
		}).
		Option("missingkey=zero").
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, scope(data))
	if err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	// missingkey=zero prints "<no value>" for nil map values.
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func scope(data Data) map[string]any {
	values := map[string]any{
		"payload": data.Payload,
		"tenant":  data.Tenant,
		"step":    data.Step,
	}

	if data.Subscriber != nil {
		values["subscriber"] = subscriberScope(data.Subscriber)
	}

	if data.Actor != nil {
		values["actor"] = subscriberScope(data.Actor)
	}

	return values
}

func subscriberScope(subscriber *models.Subscriber) map[string]any {
	return map[string]any{
		"subscriberId": subscriber.SubscriberID,
		"firstName":    subscriber.FirstName,
		"lastName":     subscriber.LastName,
		"email":        subscriber.Email,
		"phone":        subscriber.Phone,
		"avatar":       subscriber.Avatar,
		"locale":       subscriber.Locale,
		"data":         subscriber.Data,
	}
}
