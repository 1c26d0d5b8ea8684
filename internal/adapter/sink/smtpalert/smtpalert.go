// Package smtpalert implements the email alert output endpoint (spec §4.6):
// it emails a formatted message for every accepted object, or, when
// match_regex is set, only for those whose text matches it. net/smtp covers
// this completely — a plain RCPT/DATA exchange with optional STARTTLS — so
// there is no third-party mail library to reach for here.
package smtpalert

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"regexp"
	"strings"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// Sink emails a message for every accepted object whose stringified form
// matches matchRegex (or every accepted object, if matchRegex is nil).
type Sink struct {
	host       string
	port       int
	from       string
	to         []string
	username   string
	password   string
	useTLS     bool
	matchRegex *regexp.Regexp
	logger     *slog.Logger
	module.KindSet
}

// New constructs an smtp_alert sink. Configuration:
// host, port, from, to (all required; to is a list of recipient addresses).
// username, password (optional) - SMTP AUTH credentials.
// use_tls (optional, default true) - wrap the connection with STARTTLS.
// match_regex (optional) - only email objects whose String() matches this pattern.
func New(kw map[string]any) (module.Sink, error) {
	host, err := kwargs.RequiredString(kw, "host")
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	port, err := kwargs.Int(kw, "port", 587)
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	from, err := kwargs.RequiredString(kw, "from")
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	to, err := kwargs.StringSlice(kw, "to", nil)
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("op=smtpalert.New: to must name at least one recipient")
	}
	username, err := kwargs.String(kw, "username", "")
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	password, err := kwargs.String(kw, "password", "")
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	useTLS, err := kwargs.Bool(kw, "use_tls", true)
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	matchRegexSrc, err := kwargs.String(kw, "match_regex", "")
	if err != nil {
		return nil, fmt.Errorf("op=smtpalert.New: %w", err)
	}
	var matchRegex *regexp.Regexp
	if matchRegexSrc != "" {
		matchRegex, err = regexp.Compile(matchRegexSrc)
		if err != nil {
			return nil, fmt.Errorf("op=smtpalert.New: match_regex: %w", err)
		}
	}

	return &Sink{
		host:       host,
		port:       port,
		from:       from,
		to:         to,
		username:   username,
		password:   password,
		useTLS:     useTLS,
		matchRegex: matchRegex,
		logger:     slog.Default(),
		KindSet:    module.NewKindSet(object.KindLogEntry, object.KindDeathLog),
	}, nil
}

func init() {
	if err := registry.RegisterSink("smtp_alert", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Handle emails in's string representation to every configured recipient,
// unless match_regex is set and does not match it.
func (s *Sink) Handle(_ context.Context, in object.Object) {
	if s.matchRegex != nil && !s.matchRegex.MatchString(in.String()) {
		return
	}
	msg := s.buildMessage(in)
	if err := s.send(msg); err != nil {
		s.logger.Error("failed to send alert email", "error", err)
	}
}

func (s *Sink) buildMessage(in object.Object) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: recursid alert\r\n\r\n")
	b.WriteString(in.String())
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (s *Sink) send(msg []byte) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	if !s.useTLS {
		return smtp.SendMail(addr, auth, s.from, s.to, msg)
	}
	return sendWithSTARTTLS(addr, s.host, auth, s.from, s.to, msg)
}

// sendWithSTARTTLS mirrors smtp.SendMail but upgrades the connection with
// STARTTLS before authenticating, matching the submission-port convention
// (587) most SMTP relays expect.
func sendWithSTARTTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, recipient := range to {
		if err := c.Rcpt(recipient); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
