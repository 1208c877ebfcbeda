package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/notify"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// BuildEmailSender prefers SendGrid, then SES, then a stub that only logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.SendGridAPIKey) != "" {
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		return sender, "sendgrid"
	}
	if strings.TrimSpace(cfg.SESFromEmail) != "" && awsCfg != nil {
		sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		return sender, "ses"
	}
	logger.Warn("no email provider configured; booking emails are logged only")
	return notify.NewStubEmailSender(logger), "stub"
}
