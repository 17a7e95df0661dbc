package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/domodwyer/mailyak/v3"
)

// defaultSendTimeout bounds a send when the caller's context has no deadline.
const defaultSendTimeout = 30 * time.Second

// Mailer sends codes over SMTP. mailyak builds the MIME body; the SMTP
// exchange runs on a connection that is closed when ctx ends, so a stalled
// relay never outlives the call.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	dialer   net.Dialer
}

// NewMailer creates a Mailer. Auth is skipped when username is empty.
func NewMailer(host string, port int, username, password, from, fromName string) *Mailer {
	return &Mailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
	}
}

func (m *Mailer) addr() string { return net.JoinHostPort(m.host, strconv.Itoa(m.port)) }

func (m *Mailer) auth() smtp.Auth {
	if m.username == "" {
		return nil
	}
	return smtp.PlainAuth("", m.username, m.password, m.host)
}

func (m *Mailer) compose(msg Message) *mailyak.MailYak {
	mail := mailyak.New(m.addr(), m.auth())
	mail.To(msg.To)
	mail.From(m.from)
	if m.fromName != "" {
		mail.FromName(m.fromName)
	}

	subject, lead := "Your login code", "Use this code to sign in"
	if msg.Purpose == PurposeRegister {
		subject, lead = "Verify your email", "Use this code to finish creating your account"
	}
	mail.Subject(subject)
	mail.Plain().Set(fmt.Sprintf("%s: %s\n", lead, msg.Code))
	mail.HTML().Set(fmt.Sprintf(`<p>%s:</p><h2>%s</h2><p>If you did not ask for this code you can ignore this email.</p>`, lead, msg.Code))
	return mail
}

// Dispatch sends msg, giving up when ctx is done.
func (m *Mailer) Dispatch(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	body, err := m.compose(msg).MimeBuf()
	if err != nil {
		return fmt.Errorf("build code email: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSendTimeout)
		defer cancel()
	}
	if err := m.send(ctx, msg.To, body.Bytes()); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("send code email: %w", ctx.Err())
		}
		return fmt.Errorf("send code email: %w", err)
	}
	return nil
}

func (m *Mailer) send(ctx context.Context, to string, body []byte) error {
	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr())
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if a := m.auth(); a != nil {
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(m.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
