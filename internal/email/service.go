package email

import (
	"fmt"
	"net/smtp"

	"github.com/cockroachdb/errors"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	host     string
	port     string
	from     string
	sendMail sendFunc
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host:     host,
		port:     port,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(to string, c OrderConfirmation) error {
	subject := fmt.Sprintf("Order confirmation (order %s)", shortID(c.OrderID))
	return s.send(to, subject, BuildOrderConfirmationBody(c))
}

// SendStatusUpdate tells the customer their order moved to a new status
func (s *Service) SendStatusUpdate(to string, u StatusUpdate) error {
	subject := fmt.Sprintf("Your order %s is now %s", shortID(u.OrderID), u.NewStatus)
	return s.send(to, subject, BuildStatusUpdateBody(u))
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.sendMail(addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return errors.Wrapf(err, "smtp send to %s", to)
	}
	return nil
}

// shortID keeps the random tail of an identity short enough for a subject line.
func shortID(orderID string) string {
	if len(orderID) > 8 {
		return orderID[len(orderID)-8:]
	}
	return orderID
}
