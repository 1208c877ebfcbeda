package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// BuildCalendarQueue picks the sync-job transport. memoryQueue is non-nil
// only for the in-process queue, whose consumer must run inside the API.
func BuildCalendarQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (queue calendar.Queue, memoryQueue *calendar.MemoryQueue) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue || cfg.CalendarSyncQueueURL == "" {
		memoryQueue = calendar.NewMemoryQueue(256)
		logger.Info("using in-memory calendar sync queue")
		return memoryQueue, memoryQueue
	}
	logger.Info("using SQS calendar sync queue", "queue_url", cfg.CalendarSyncQueueURL)
	return calendar.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.CalendarSyncQueueURL), nil
}

// BuildCalendarOAuth returns the OAuth flow; without a Google client
// registration it runs in mock mode.
func BuildCalendarOAuth(cfg *appconfig.Config, creds calendar.CredentialStore, logger *logging.Logger) *calendar.OAuth {
	return calendar.NewOAuth(calendar.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
	}, creds, logger)
}
