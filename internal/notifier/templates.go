package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	AlertName     string
	Description   string
	Severity      string
	SeverityColor string
	Message       string
	Timestamp     string
	InstanceID    string
	JobID         string
	ServerName    string
	Context       map[string]any
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	htmlTmpl, err := htmltemplate.New("alert.html").
		Funcs(htmltemplate.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{html: htmlTmpl, plain: plainTmpl}, nil
}

// RenderHTML renders the HTML email body. Values are escaped.
func (t *Templates) RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f"
	case models.SeverityHigh:
		return "#f57c00"
	case models.SeverityMedium:
		return "#fbc02d"
	case models.SeverityLow:
		return "#388e3c"
	default:
		return "#757575"
	}
}

// MessageToTemplateData converts a message to template data.
func MessageToTemplateData(msg *Message) TemplateData {
	return TemplateData{
		AlertName:     msg.AlertName,
		Description:   msg.Description,
		Severity:      string(msg.Severity),
		SeverityColor: severityColor(msg.Severity),
		Message:       msg.Text,
		Timestamp:     msg.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
		InstanceID:    msg.InstanceID,
		JobID:         msg.JobID,
		ServerName:    msg.ServerName,
		Context:       msg.Context,
	}
}
