// Package mail is the boundary to the email delivery provider. The server
// only ever hands it a recipient and a verification URL.
package mail

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
)

type Mailer interface {
	SendMagicLink(ctx context.Context, to, verifyURL string) error
}

type SMTPMailer struct {
	addr string
	from string
	log  *log.Logger
}

func NewSMTPMailer(addr, from string, logger *log.Logger) *SMTPMailer {
	return &SMTPMailer{
		addr: addr,
		from: from,
		log:  logger,
	}
}

func (m *SMTPMailer) SendMagicLink(ctx context.Context, to, verifyURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Your Chat Genius login link\r\n\r\n"+
			"Click the following link to log in to Chat Genius:\r\n\r\n%s\r\n\r\n"+
			"This link expires in 15 minutes. If you didn't request it, you can ignore this email.\r\n",
		m.from,
		to,
		verifyURL,
	)

	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(body)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	m.log.Printf("sent magic link email to %q", to)
	return nil
}
