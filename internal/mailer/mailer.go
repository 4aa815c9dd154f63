// Package mailer sends the best-effort sales notification email required
// by spec.md §4.6 (C8 SMTP mailer). Grounded on the teacher's
// tools.Service.sendSMTP/smtpHeloDomain/supportsAuth (SMTP dial, PLAIN
// AUTH if offered, manual DATA write) and on
// original_source/.../nodes/notify_sales.py's status->template mapping
// and template context.
package mailer

import (
	"bytes"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"text/template"
)

// Config carries the subset of config.Config needed to dial SMTP.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer renders a status-keyed template and sends it over SMTP.
// SendNotification never returns a fatal error to the caller: per
// notify_sales.py, a send failure becomes a warning on the run, not a
// failed step.
type Mailer struct {
	Config    Config
	Templates map[string]*template.Template
}

// New compiles the fixed set of notification templates once, mirroring
// the teacher's LoadSchema compile-once-reuse-many pattern.
func New(cfg Config) (*Mailer, error) {
	m := &Mailer{Config: cfg, Templates: map[string]*template.Template{}}
	for name, body := range templateSources {
		tmpl, err := template.New(name).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		m.Templates[name] = tmpl
	}
	return m, nil
}

// Context is the data passed to a notification template.
type Context struct {
	MessageID      string
	Errors         []string
	Warnings       []string
	Reason         string
	SalesOrderNo   string
	OrderURL       string
	CustomerName   string
}

// TemplateForStatus selects the template keyed by final status, defaulting
// to order_failed.j2's content for any status not in the map — an exact
// port of notify_sales.py's dict.get(status, "order_failed.j2").
func TemplateForStatus(status string) string {
	if name, ok := statusTemplate[status]; ok {
		return name
	}
	return "order_failed"
}

var statusTemplate = map[string]string{
	"SUCCESS":                "order_success",
	"ERP_ORDER_FAILED":       "order_failed",
	"CONTRACT_PARSE_FAILED":  "order_failed",
	"MANUAL_REVIEW":          "manual_review",
	"UNKNOWN_CONTACT":        "manual_review",
}

var templateSources = map[string]string{
	"order_success": `Order created successfully.
Message: {{.MessageID}}
Customer: {{.CustomerName}}
Sales order: {{.SalesOrderNo}}
Order URL: {{.OrderURL}}
`,
	"order_failed": `Order processing failed.
Message: {{.MessageID}}
Reason: {{.Reason}}
{{if .Errors}}Errors:
{{range .Errors}}- {{.}}
{{end}}{{end}}`,
	"manual_review": `This message requires manual review.
Message: {{.MessageID}}
Reason: {{.Reason}}
{{if .Warnings}}Warnings:
{{range .Warnings}}- {{.}}
{{end}}{{end}}`,
}

// Render executes the named template against ctx.
func (m *Mailer) Render(templateName string, ctx Context) (string, error) {
	tmpl, ok := m.Templates[templateName]
	if !ok {
		return "", fmt.Errorf("unknown template %q", templateName)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendNotification renders TemplateForStatus(status) and emails it to
// the message's sender. The returned error is advisory: callers should
// record it as a run warning, never fail the step over it.
func (m *Mailer) SendNotification(to, status string, ctx Context) error {
	body, err := m.Render(TemplateForStatus(status), ctx)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Order processing result - %s", status)
	return m.send(to, subject, body)
}

func (m *Mailer) send(to, subject, body string) error {
	from := m.Config.From
	host := m.Config.Host
	if host == "" {
		host = "localhost"
	}
	addr := fmt.Sprintf("%s:%d", host, m.Config.Port)
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	helo := heloDomain(from)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Quit()

	if err := client.Hello(helo); err != nil {
		return err
	}
	if (m.Config.Username != "" || m.Config.Password != "") && supportsAuth(client) {
		auth := smtp.PlainAuth("", m.Config.Username, m.Config.Password, host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func heloDomain(addr string) string {
	parts := strings.Split(addr, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return "local.mcs-orchestrator"
}

func supportsAuth(client *smtp.Client) bool {
	ok, _ := client.Extension("AUTH")
	return ok
}
