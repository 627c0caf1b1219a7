package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"carinspect/internal/domain"
	"carinspect/internal/models"
)

const (
	KindBooked      = "booked"
	KindConfirmed   = "confirmed"
	KindCompleted   = "completed"
	KindRescheduled = "rescheduled"
	KindCancelled   = "cancelled"
	KindReminder    = "reminder"
)

// emailData is everything a template may print.
type emailData struct {
	RecipientName string
	CustomerName  string
	CarTitle      string
	Ref           string
	Date          string
	StartTime     string
	EndTime       string
	Period        string
	Condition     string
	Reason        string
	Link          string
	ForOwner      bool
}

type content struct {
	Heading string
	Lead    string
	Footer  string
}

var layout = template.Must(template.New("email").Parse(`<html>
  <body style="font-family: Arial, sans-serif;">
    <h2>{{.Content.Heading}}</h2>
    <p>Hello {{.Data.RecipientName}},</p>
    <p>{{.Content.Lead}}</p>
    <ul>
      <li><strong>Reference:</strong> {{.Data.Ref}}</li>
      <li><strong>Car:</strong> {{.Data.CarTitle}}</li>
      <li><strong>Date:</strong> {{.Data.Date}}</li>
      <li><strong>Time:</strong> {{.Data.StartTime}} - {{.Data.EndTime}} ({{.Data.Period}})</li>
      {{- if .Data.Condition}}
      <li><strong>Overall condition:</strong> {{.Data.Condition}}</li>
      {{- end}}
      {{- if .Data.Reason}}
      <li><strong>Reason:</strong> {{.Data.Reason}}</li>
      {{- end}}
    </ul>
    {{- if .Content.Footer}}
    <p>{{.Content.Footer}}</p>
    {{- end}}
    {{- if .Data.Link}}
    <p><a href="{{.Data.Link}}">View inspection</a></p>
    {{- end}}
  </body>
</html>`))

func subjectFor(kind string, d emailData) string {
	switch kind {
	case KindBooked:
		if d.ForOwner {
			return fmt.Sprintf("Inspection booked for your car %s", d.Ref)
		}
		return fmt.Sprintf("New inspection booking %s", d.Ref)
	case KindConfirmed:
		return fmt.Sprintf("Inspection confirmed %s", d.Ref)
	case KindCompleted:
		return fmt.Sprintf("Inspection completed %s", d.Ref)
	case KindRescheduled:
		return fmt.Sprintf("Inspection rescheduled %s", d.Ref)
	case KindCancelled:
		return fmt.Sprintf("Inspection cancelled %s", d.Ref)
	case KindReminder:
		return fmt.Sprintf("Reminder: inspection tomorrow %s", d.Ref)
	}
	return d.Ref
}

func contentFor(kind string, d emailData) content {
	switch kind {
	case KindBooked:
		if d.ForOwner {
			return content{
				Heading: "Inspection Booked",
				Lead:    fmt.Sprintf("%s booked an inspection of your car.", d.CustomerName),
			}
		}
		return content{
			Heading: "New Inspection Booking",
			Lead:    fmt.Sprintf("%s booked a new inspection.", d.CustomerName),
			Footer:  "Please confirm the inspection and assign an inspector.",
		}
	case KindConfirmed:
		return content{
			Heading: "Inspection Confirmed",
			Lead:    "Your inspection has been confirmed.",
			Footer:  "Please arrive on time with the vehicle documents.",
		}
	case KindCompleted:
		return content{
			Heading: "Inspection Completed",
			Lead:    "The inspection has been completed.",
			Footer:  "The detailed report is available in your dashboard.",
		}
	case KindRescheduled:
		return content{
			Heading: "Inspection Rescheduled",
			Lead:    "The inspection has been moved to a new time.",
		}
	case KindCancelled:
		return content{
			Heading: "Inspection Cancelled",
			Lead:    fmt.Sprintf("The inspection booked by %s has been cancelled.", d.CustomerName),
		}
	case KindReminder:
		return content{
			Heading: "Inspection Tomorrow",
			Lead:    "This is a reminder about your inspection tomorrow.",
		}
	}
	return content{Heading: "Inspection Update"}
}

// render builds the email for one recipient.
func render(kind string, to *models.User, d emailData) (domain.EmailMessage, error) {
	d.RecipientName = to.Name
	c := contentFor(kind, d)

	var html bytes.Buffer
	if err := layout.Execute(&html, struct {
		Content content
		Data    emailData
	}{c, d}); err != nil {
		return domain.EmailMessage{}, fmt.Errorf("render %s email: %w", kind, err)
	}

	return domain.EmailMessage{
		ToName:    to.Name,
		ToAddress: to.Email,
		Subject:   subjectFor(kind, d),
		PlainText: plainText(c, d),
		HTML:      html.String(),
	}, nil
}

func plainText(c content, d emailData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n%s\n\n", d.RecipientName, c.Lead)
	fmt.Fprintf(&b, "Reference: %s\n", d.Ref)
	fmt.Fprintf(&b, "Car: %s\n", d.CarTitle)
	fmt.Fprintf(&b, "Date: %s\n", d.Date)
	fmt.Fprintf(&b, "Time: %s - %s (%s)\n", d.StartTime, d.EndTime, d.Period)
	if d.Condition != "" {
		fmt.Fprintf(&b, "Overall condition: %s\n", d.Condition)
	}
	if d.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", d.Reason)
	}
	if c.Footer != "" {
		fmt.Fprintf(&b, "\n%s\n", c.Footer)
	}
	if d.Link != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Link)
	}
	return b.String()
}
