package bootstrap

import (
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/medspa-slot-booking/internal/config"
	"github.com/wolfman30/medspa-slot-booking/internal/notify"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// BuildCodeDeliverer picks the SMS and email channels for verification codes.
// Twilio carries SMS; email prefers SendGrid and falls back to SES. Outside
// production a missing channel is replaced by a logging stub.
func BuildCodeDeliverer(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) (*notify.CodeDeliverer, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var sms notify.SMSSender
	if twilio := notify.NewTwilioSender(notify.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFromNumber,
	}, logger); twilio != nil {
		sms = twilio
	}

	var email notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		email = sg
	} else if strings.TrimSpace(cfg.SESFromEmail) != "" && ses != nil {
		email = notify.NewSESSender(ses, notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: cfg.SendGridFromName}, logger)
	}

	if sms == nil && email == nil && cfg.IsProduction() {
		return nil, errors.New("bootstrap: no verification code channel configured")
	}
	if sms == nil && !cfg.IsProduction() {
		logger.Warn("twilio not configured; sms codes are logged, not sent")
		sms = notify.NewStubSMSSender(logger)
	}
	if email == nil && !cfg.IsProduction() {
		logger.Warn("email provider not configured; email codes are logged, not sent")
		email = notify.NewStubEmailSender(logger)
	}

	return notify.NewCodeDeliverer(sms, email, notify.DelivererConfig{
		CodeTTL: cfg.OTPTTL,
		Brand:   cfg.SendGridFromName,
	}, logger), nil
}
