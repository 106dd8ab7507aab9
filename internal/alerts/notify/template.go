package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Cold chain alert - {{.EventLabel}}]
Cold cell: {{.ColdCell}}
Alert: {{.AlertType}}
Observed: {{.ObservedValue}}
Threshold: {{.Threshold}}
Triggered: {{.TriggeredAt}}
Escalation layer: {{.Layer}}
Status: {{.Status}}{{ if .Acknowledged }} (acknowledged){{ end }}
Suggestion: {{.Suggestion}}
{{ if .DashboardURL }}
Open: {{.DashboardURL}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlertID       string
	ColdCell      string
	ColdCellID    string
	AlertType     string
	ObservedValue string
	Threshold     string
	TriggeredAt   string
	Layer         int
	Status        string
	Acknowledged  bool
	Suggestion    string
	DashboardURL  string
	EventLabel    string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
