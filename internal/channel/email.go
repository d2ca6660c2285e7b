package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/dkim"
	"github.com/usncompetitions/notifier/internal/email"
	"github.com/usncompetitions/notifier/internal/models"
)

const mailer = "USN Competitions Notifier"

// EmailChannel delivers broadcast messages over SMTP submission
type EmailChannel struct {
	cfg    config.EmailConfig
	signer *dkim.Signer
	logger *slog.Logger
	tls    *tls.Config
}

// NewEmailChannel creates an email channel. signer may be nil.
func NewEmailChannel(cfg config.EmailConfig, signer *dkim.Signer, logger *slog.Logger) *EmailChannel {
	return &EmailChannel{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("channel", models.ChannelEmail),
		tls: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}
}

// Name returns the channel identifier
func (c *EmailChannel) Name() string {
	return models.ChannelEmail
}

// ValidateRecipient reports whether r has a usable email address
func (c *EmailChannel) ValidateRecipient(r models.Recipient) bool {
	return email.IsValidAddress(r.Email)
}

// ValidateConfiguration reports whether SMTP settings and the sender address are usable
func (c *EmailChannel) ValidateConfiguration() bool {
	if !c.cfg.IsConfigured() {
		c.logger.Warn("SMTP settings are incomplete",
			"host_set", c.cfg.Host != "",
			"username_set", c.cfg.Username != "",
			"password_set", c.cfg.Password != "",
			"support_email_set", c.cfg.SupportEmail != "",
		)
		return false
	}
	if !email.IsValidAddress(c.cfg.Sender()) {
		c.logger.Warn("invalid from address", "from", c.cfg.Sender())
		return false
	}
	return true
}

// TestConnection connects and authenticates without sending
func (c *EmailChannel) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := c.connect(ctx)
	if err != nil {
		c.logger.Warn("SMTP connection test failed", "host", c.cfg.Host, "error", err)
		return false
	}
	defer client.Close()

	client.Quit()
	return true
}

// Send submits one message, DKIM-signed when a signer is configured
func (c *EmailChannel) Send(ctx context.Context, r models.Recipient, subject, body string) *DeliveryResult {
	if !c.ValidateRecipient(r) {
		return failure(models.DeliveryBlocked, "invalid or missing email address")
	}

	to := strings.TrimSpace(r.Email)
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), email.ExtractDomain(c.cfg.Sender()))
	data := c.buildMessage(to, r.FullName(), subject, body, messageID)

	if c.signer != nil {
		signed, err := c.signer.Sign(data)
		if err != nil {
			c.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", c.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	// The SMTP exchange blocks; run it aside so cancellation is honoured
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.deliver(ctx, to, data)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = fmt.Errorf("timeout: %w", ctx.Err())
	}

	if err != nil {
		c.logger.Warn("email send failed",
			"user_id", r.UserID,
			"email", to,
			"error", err,
		)
		return failure(models.DeliveryFailed, err.Error())
	}

	return sent(messageID)
}

func (c *EmailChannel) deliver(ctx context.Context, to string, data []byte) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SendMail(c.cfg.Sender(), []string{to}, bytes.NewReader(data)); err != nil {
		return categorizeSMTPError(err, "send")
	}

	client.Quit()
	return nil
}

// connect dials, greets, upgrades to TLS and authenticates
func (c *EmailChannel) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed to %s: %w", addr, err)
	}

	// go-smtp manages its own per-command deadlines; the caller's context
	// bounds the whole exchange
	context.AfterFunc(ctx, func() { conn.Close() })

	var client *smtp.Client
	if c.cfg.TLSEnabled() {
		// the upgrade resets the session, so the configured name is
		// announced in the EHLO that follows it
		client, err = smtp.NewClientStartTLS(conn, c.tls)
		if err != nil {
			return nil, categorizeSMTPError(err, "STARTTLS")
		}
	} else {
		client = smtp.NewClient(conn)
	}
	if c.cfg.Timeout > 0 {
		client.CommandTimeout = c.cfg.Timeout
	}

	if err := client.Hello(c.cfg.HeloName); err != nil {
		client.Close()
		return nil, categorizeSMTPError(err, "EHLO")
	}

	if c.cfg.Username != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, categorizeSMTPError(err, "AUTH")
		}
	}

	return client, nil
}

// buildMessage renders an RFC 5322 message with a single text part
func (c *EmailChannel) buildMessage(to, toName, subject, body, messageID string) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", email.FormatAddress(c.cfg.FromName, c.cfg.Sender())))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.FormatAddress(toName, to)))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	buf.WriteString(fmt.Sprintf("X-Mailer: %s\r\n", mailer))
	buf.WriteString("MIME-Version: 1.0\r\n")
	if IsHTML(body) {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	}
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	qp.Write([]byte(body))
	qp.Close()

	return buf.Bytes()
}

// IsHTML reports whether body looks like HTML markup
func IsHTML(body string) bool {
	return strings.Contains(body, "<html") || strings.Contains(body, "<p>") || strings.Contains(body, "<b>")
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeSMTPError prefixes err with the SMTP stage and marks it
// permanent (5xx) or temporary (4xx and transport errors)
func categorizeSMTPError(err error, stage string) error {
	var smtpErr *smtp.SMTPError
	code := 0
	if errors.As(err, &smtpErr) {
		code = smtpErr.Code
	} else if m := smtpCodePattern.FindStringSubmatch(err.Error()); len(m) > 1 {
		code, _ = strconv.Atoi(m[1])
	}

	kind := "temporary"
	if code >= 500 {
		kind = "permanent"
	}
	return fmt.Errorf("%s failed (%s): %w", stage, kind, err)
}
