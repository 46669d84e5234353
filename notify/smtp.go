package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-eventhooks/core"
)

const smtpDialTimeout = 15 * time.Second

// SMTPSender sends multipart text and HTML mail. Port 465 or ImplicitTLS
// dials TLS directly; other ports upgrade with STARTTLS when the server
// offers it.
type SMTPSender struct {
	cfg core.EmailConfig
	now func() time.Time
}

func NewSMTPSender(cfg core.EmailConfig) (*SMTPSender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.From == "" {
		cfg.From = strings.TrimSpace(cfg.Username)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("notify: smtp from address %q is invalid: %w", cfg.From, err)
	}
	return &SMTPSender{cfg: cfg, now: time.Now}, nil
}

func (s *SMTPSender) Channel() core.Channel {
	return core.ChannelEmail
}

func (s *SMTPSender) Send(ctx context.Context, msg core.Message) error {
	to := strings.TrimSpace(msg.To.Email)
	if to == "" {
		return core.BadInputError("recipient email is required")
	}
	body, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if username := strings.TrimSpace(s.cfg.Username); username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("notify: smtp auth: %w", err)
			}
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("notify: smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("notify: smtp rcpt: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: smtp data: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return fmt.Errorf("notify: smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("notify: smtp close data: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if s.cfg.ImplicitTLS || s.cfg.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("notify: smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: smtp handshake: %w", err)
	}
	if _, isTLS := conn.(*tls.Conn); !isTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("notify: smtp starttls: %w", err)
			}
		}
	}
	return client, nil
}

func (s *SMTPSender) buildMessage(msg core.Message) ([]byte, error) {
	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.From}
	to := mail.Address{Name: msg.To.Name, Address: strings.TrimSpace(msg.To.Email)}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	headers := []string{
		"From: " + from.String(),
		"To: " + to.String(),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + s.now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + writer.Boundary(),
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")

	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	if err := writePart(writer, "text/plain; charset=utf-8", text); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.HTML) != "" {
		if err := writePart(writer, "text/html; charset=utf-8", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

func writePart(writer *multipart.Writer, contentType string, body string) error {
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return err
	}
	_, err = part.Write([]byte(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n")))
	return err
}
