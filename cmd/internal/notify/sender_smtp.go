package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

// SMTPSender sends plain-text emails over SMTP with STARTTLS when offered.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer net.Dialer
}

// NewSMTPSender constructs an SMTPSender. Port defaults to 587.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("notify: smtp host and from address are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, dialer: net.Dialer{Timeout: 10 * time.Second}}, nil
}

var (
	ticketTmpl = template.Must(template.New("ticket").Parse(`Hi {{.Name}},

Your payment was confirmed and your tickets are ready.

Reference: {{.Reference}}
{{- if .OrderNumber}}
Order: {{.OrderNumber}}
{{- end}}
Amount: {{.Amount.StringFixed 2}} {{.Currency}}
{{- range .Items}}
  - {{.Quantity}} x {{.Name}}
{{- end}}

Present this email at the entrance.
`))

	welcomeTmpl = template.Must(template.New("welcome").Parse(`Hi {{.Name}},

Welcome aboard. Your attendee profile has been created:

{{.ProfileURL}}
`))
)

func (s *SMTPSender) SendTicketConfirmation(ctx context.Context, tc TicketConfirmation) error {
	body, err := render(ticketTmpl, tc)
	if err != nil {
		return err
	}
	return s.send(ctx, tc.To, "Your tickets are confirmed", body)
}

func (s *SMTPSender) SendWelcome(ctx context.Context, w Welcome) error {
	body, err := render(welcomeTmpl, w)
	if err != nil {
		return err
	}
	return s.send(ctx, w.To, "Welcome", body)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// buildMessage assembles an RFC 5322 message with CRLF line endings.
func buildMessage(from, to, subject, body string, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func (s *SMTPSender) send(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if strings.ContainsAny(to, "\r\n") || !strings.Contains(to, "@") {
		return fmt.Errorf("%w: invalid recipient", ErrInvalidMessage)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: smtp dial: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("notify: smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("notify: smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("notify: smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("notify: smtp rcpt: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify: smtp data: %w", err)
	}
	if _, err := wc.Write(buildMessage(s.cfg.From, to, subject, body, time.Now())); err != nil {
		_ = wc.Close()
		return fmt.Errorf("notify: smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("notify: smtp data close: %w", err)
	}
	return c.Quit()
}
