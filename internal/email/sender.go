package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

type Sender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds a single dial-and-send; zero means no limit.
	Timeout time.Duration
}

func (s *Sender) message(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	return m
}

func (s *Sender) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: s.Host}
}

// Send delivers one message. The timeout and ctx are enforced as a deadline
// on the connection, so an expired send is torn down rather than left running.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	m := s.message(to, subject, body)

	var deadline time.Time
	if s.Timeout > 0 {
		deadline = time.Now().Add(s.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
	if err != nil {
		return fmt.Errorf("smtp send error: %w", err)
	}
	defer conn.Close()

	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("smtp send error: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	// gomail.Send flattens errors, keep the session's own.
	var sessionErr error
	err = gomail.Send(gomail.SendFunc(func(from string, rcpt []string, msg io.WriterTo) error {
		sessionErr = s.session(conn, from, rcpt, msg)
		return sessionErr
	}), m)

	switch {
	case sessionErr != nil && ctx.Err() != nil:
		return fmt.Errorf("smtp send error: %w", ctx.Err())
	case sessionErr != nil:
		return fmt.Errorf("smtp send error: %w", sessionErr)
	case err != nil:
		return fmt.Errorf("smtp send error: %w", err)
	}
	return nil
}

func (s *Sender) session(conn net.Conn, from string, to []string, msg io.WriterTo) error {
	implicitTLS := s.Port == 465
	if implicitTLS {
		conn = tls.Client(conn, s.tlsConfig())
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok && !implicitTLS {
		if err := c.StartTLS(s.tlsConfig()); err != nil {
			return err
		}
	}

	if s.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	// The server has accepted the message; a failed QUIT must not trigger a resend.
	_ = c.Quit()
	return nil
}
