package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/internal/domain"
)

// Email sends alerts over SMTP with plain authentication.
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewEmail creates an email channel. to must name at least one recipient.
func NewEmail(host string, port int, username, password, from string, to []string) (*Email, error) {
	if host == "" || from == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	if len(to) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}, nil
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) Send(ctx context.Context, candidate domain.AlertCandidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] %s %s", candidate.Priority.Title(), candidate.Symbol, candidate.Category)

	var msg strings.Builder
	msg.WriteString("From: " + e.from + "\r\n")
	msg.WriteString("To: " + strings.Join(e.to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(candidate.Message)
	msg.WriteString("\r\n")

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := smtp.SendMail(addr, auth, e.from, e.to, []byte(msg.String())); err != nil {
		return errors.Wrap(err, "send email")
	}
	return nil
}
