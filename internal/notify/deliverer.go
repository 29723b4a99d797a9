// Package notify delivers verification codes over SMS (Twilio) or email
// (SendGrid or SES).
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-slot-booking/internal/bookings"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

const defaultFromName = "MedSpa Bookings"

// CodeDeliverer routes a verification code to the contact's phone when it
// has one and to email otherwise.
type CodeDeliverer struct {
	sms     SMSSender
	email   EmailSender
	codeTTL time.Duration
	brand   string
	logger  *logging.Logger
}

// DelivererConfig shapes the message text.
type DelivererConfig struct {
	CodeTTL time.Duration
	Brand   string
}

// NewCodeDeliverer creates a deliverer. Either sender may be nil; contacts
// that need a missing channel fail delivery.
func NewCodeDeliverer(sms SMSSender, email EmailSender, cfg DelivererConfig, logger *logging.Logger) *CodeDeliverer {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.Brand == "" {
		cfg.Brand = defaultFromName
	}
	return &CodeDeliverer{sms: sms, email: email, codeTTL: cfg.CodeTTL, brand: cfg.Brand, logger: logger}
}

// Deliver sends code to contact. The code appears only in the outbound message.
func (d *CodeDeliverer) Deliver(ctx context.Context, contact bookings.Contact, code string) error {
	text := d.message(code)
	if phone := strings.TrimSpace(contact.Phone); phone != "" {
		if isNil(d.sms) {
			return errors.New("notify: sms channel not configured")
		}
		return d.sms.SendSMS(ctx, phone, text)
	}
	if email := strings.TrimSpace(contact.Email); email != "" {
		if isNil(d.email) {
			return errors.New("notify: email channel not configured")
		}
		return d.email.Send(ctx, EmailMessage{
			To:      email,
			ToName:  contact.Name,
			Subject: fmt.Sprintf("%s verification code", d.brand),
			Body:    text,
		})
	}
	return errors.New("notify: contact has no phone or email")
}

func (d *CodeDeliverer) message(code string) string {
	minutes := int(d.codeTTL.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%s: your verification code is %s. It expires in %d minutes. Do not share it.", d.brand, code, minutes)
}

// isNil catches typed-nil senders returned by constructors when a channel is
// not configured.
func isNil(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case *TwilioSender:
		return s == nil
	case *SendGridSender:
		return s == nil
	case *SESSender:
		return s == nil
	}
	return false
}
