package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/soochol/deskflow/internal/deskflow"
)

// SMTPSender sends messages via SMTP email.
type SMTPSender struct {
	// SendMail defaults to smtp.SendMail.
	SendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *SMTPSender) Type() deskflow.ConnectionType { return deskflow.ConnTypeSMTP }

func (s *SMTPSender) Send(ctx context.Context, conn *deskflow.Connection, address string, payload deskflow.NotificationPayload) error {
	to := address
	if to == "" {
		to = conn.ExtraString("to")
	}
	if to == "" {
		return fmt.Errorf("smtp connection %q missing 'to' in extras", conn.ID)
	}

	from := conn.Login
	if from == "" {
		return fmt.Errorf("smtp connection %q missing login (from address)", conn.ID)
	}

	subject := payload.Subject
	if subject == "" {
		subject = conn.ExtraString("subject")
	}
	if subject == "" {
		subject = "Deskflow notification"
	}

	host := conn.Host
	port := conn.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, subject, render(payload))

	var auth smtp.Auth
	if conn.Password != "" {
		auth = smtp.PlainAuth("", from, conn.Password, host)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	send := s.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
