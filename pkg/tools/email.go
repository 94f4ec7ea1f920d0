package tools

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentcore/pkg/capability"
)

// SendEmailName is the registry name of the email capability.
const SendEmailName = "send_email"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// MailMessage is a plain-text email ready for delivery.
type MailMessage struct {
	From      string
	To        string
	Subject   string
	Body      string
	MessageID string
	Date      time.Time
}

// MailSender delivers a message.
type MailSender interface {
	Send(ctx context.Context, msg MailMessage) error
}

// ErrMailRejected marks a permanent refusal by the mail server.
var ErrMailRejected = errors.New("message rejected")

// SMTPSettings configures SMTPSender.
type SMTPSettings struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMTPSender delivers mail over SMTP, upgrading with STARTTLS when offered.
type SMTPSender struct {
	settings SMTPSettings
}

// NewSMTPSender validates settings and returns a sender.
func NewSMTPSender(settings SMTPSettings) (*SMTPSender, error) {
	if settings.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if settings.Port == 0 {
		settings.Port = 587
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	return &SMTPSender{settings: settings}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg MailMessage) error {
	addr := net.JoinHostPort(s.settings.Host, strconv.Itoa(s.settings.Port))

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.settings.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.settings.Host}); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if s.settings.Username != "" {
		auth := smtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host)
		if err := client.Auth(auth); err != nil {
			return classifySMTP(err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return classifySMTP(err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return classifySMTP(err)
	}

	w, err := client.Data()
	if err != nil {
		return classifySMTP(err)
	}
	if _, err := w.Write(composeMessage(msg)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return classifySMTP(err)
	}

	return client.Quit()
}

// classifySMTP wraps permanent (5xx) replies with ErrMailRejected.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return fmt.Errorf("%w: %d %s", ErrMailRejected, tpErr.Code, tpErr.Msg)
	}
	return err
}

func composeMessage(msg MailMessage) []byte {
	var buf bytes.Buffer

	headers := []struct{ key, value string }{
		{"From", msg.From},
		{"To", msg.To},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", msg.Date.Format(time.RFC1123Z)},
		{"Message-ID", msg.MessageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(msg.Body))
	_ = qp.Close()

	return buf.Bytes()
}

// NewSendEmail returns the email capability. defaultFrom is used when the
// model does not supply from_email.
func NewSendEmail(sender MailSender, defaultFrom string) (capability.Descriptor, error) {
	if sender == nil {
		return capability.Descriptor{}, fmt.Errorf("mail sender is required")
	}
	if defaultFrom == "" {
		defaultFrom = "noreply@example.com"
	}

	return capability.Descriptor{
		Name:        SendEmailName,
		Description: "Send a plain-text email to a recipient.",
		Parameters: []capability.Parameter{
			{Name: "to", Type: "string", Description: "Recipient email address", Required: true},
			{Name: "subject", Type: "string", Description: "Email subject line", Required: true},
			{Name: "body", Type: "string", Description: "Email body content (plain text)", Required: true},
			{Name: "from_email", Type: "string", Description: "Sender email address", Default: defaultFrom},
		},
		Handler: func(ctx context.Context, in capability.Input) (string, error) {
			return sendEmail(ctx, sender, in.String("to"), in.String("subject"), in.String("body"), in.String("from_email"))
		},
	}, nil
}

func sendEmail(ctx context.Context, sender MailSender, to, subject, body, from string) (string, error) {
	if !emailPattern.MatchString(to) {
		return "", capability.Failuref("Error: Invalid recipient email address: %s", to)
	}
	if !emailPattern.MatchString(from) {
		return "", capability.Failuref("Error: Invalid sender email address: %s", from)
	}
	if strings.TrimSpace(subject) == "" {
		return "", capability.Failuref("Error: Email subject cannot be empty")
	}
	if strings.TrimSpace(body) == "" {
		return "", capability.Failuref("Error: Email body cannot be empty")
	}

	msg := MailMessage{
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		MessageID: fmt.Sprintf("<%s@%s>", uuid.NewString(), from[strings.LastIndex(from, "@")+1:]),
		Date:      time.Now(),
	}

	if err := sender.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrMailRejected) {
			return "", capability.Failuref("Email rejected: %v", err)
		}
		return "", capability.Failuref("Error sending email: %v", err)
	}

	return fmt.Sprintf("Email sent successfully!\nTo: %s\nSubject: %s\nMessage ID: %s", to, subject, msg.MessageID), nil
}
