package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/digest"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// SMTP mails the digest as multipart/alternative (plain text and HTML).
// The connection is upgraded with STARTTLS when the server offers it, and
// PLAIN auth is used when a username is set.
type SMTP struct {
	opts SMTPOptions
	log  logx.Logger
	now  func() time.Time
	// dial is swapped in tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewSMTP(opts SMTPOptions, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(opts.From) == "" || len(opts.To) == 0 {
		return nil, errors.New("smtp from and to are required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &SMTP{opts: opts, log: log.With(logx.String("channel", "smtp")), now: time.Now}
	s.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: s.opts.Timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return s, nil
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, msg digest.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	body, err := s.build(msg)
	if err != nil {
		return failed(s.Name(), err)
	}
	if err := s.deliver(ctx, body); err != nil {
		return failed(s.Name(), err)
	}
	s.log.Info("digest mailed", logx.Int("recipients", len(s.opts.To)), logx.Int("bytes", len(body)))
	return nil
}

func (s *SMTP) deliver(ctx context.Context, body []byte) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	c, err := smtp.NewClient(conn, s.opts.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.opts.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.opts.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(s.opts.From); err != nil {
		return err
	}
	for _, rcpt := range s.opts.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// build renders the RFC 5322 message.
func (s *SMTP) build(msg digest.Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := []string{
		"From: " + s.opts.From,
		"To: " + strings.Join(s.opts.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + s.now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + mw.Boundary(),
	}
	var out bytes.Buffer
	out.WriteString(strings.Join(hdr, "\r\n"))
	out.WriteString("\r\n\r\n")

	parts := []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", msg.Text()},
		{"text/html; charset=utf-8", "<html><body><pre style=\"font-family: inherit; white-space: pre-wrap\">" + msg.HTML() + "</pre></body></html>"},
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", p.ctype)
		h.Set("Content-Transfer-Encoding", "8bit")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(strings.ReplaceAll(p.body, "\n", "\r\n"))); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}
