package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/notify"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

func TestBuildModelRequiresConfig(t *testing.T) {
	_, _, err := BuildModel(context.Background(), nil, logging.Discard())
	assert.Error(t, err)
}

func TestBuildModelWithoutKeyReturnsNil(t *testing.T) {
	model, closeFn, err := BuildModel(context.Background(), &appconfig.Config{}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, model)
	closeFn()
}

func TestBuildCalendarQueueMemory(t *testing.T) {
	queue, mem := BuildCalendarQueue(&appconfig.Config{UseMemoryQueue: true}, aws.Config{}, logging.Discard())
	require.NotNil(t, mem)
	assert.Same(t, mem, queue.(*calendar.MemoryQueue))

	// An SQS queue without a URL falls back to memory.
	_, mem = BuildCalendarQueue(&appconfig.Config{}, aws.Config{}, logging.Discard())
	assert.NotNil(t, mem)
}

func TestBuildCalendarQueueSQS(t *testing.T) {
	cfg := &appconfig.Config{CalendarSyncQueueURL: "http://localhost:4566/000000000000/calendar-sync"}
	queue, mem := BuildCalendarQueue(cfg, aws.Config{Region: "us-east-1"}, logging.Discard())
	assert.Nil(t, mem)
	assert.IsType(t, &calendar.SQSQueue{}, queue)
}

func TestBuildEmailSenderSelection(t *testing.T) {
	sender, provider := BuildEmailSender(&appconfig.Config{}, nil, logging.Discard())
	assert.Equal(t, "stub", provider)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	sender, provider = BuildEmailSender(&appconfig.Config{SendGridAPIKey: "SG.test", SendGridFromEmail: "care@example.com"}, nil, logging.Discard())
	assert.Equal(t, "sendgrid", provider)
	assert.IsType(t, &notify.SendGridSender{}, sender)

	// SES needs AWS config.
	_, provider = BuildEmailSender(&appconfig.Config{SESFromEmail: "care@example.com"}, nil, logging.Discard())
	assert.Equal(t, "stub", provider)

	sender, provider = BuildEmailSender(&appconfig.Config{SESFromEmail: "care@example.com"}, &aws.Config{Region: "us-east-1"}, logging.Discard())
	assert.Equal(t, "ses", provider)
	assert.IsType(t, &notify.SESSender{}, sender)
}

func TestBuildCalendarOAuthMockMode(t *testing.T) {
	oauth := BuildCalendarOAuth(&appconfig.Config{}, calendar.NewMemoryCredentialStore(), logging.Discard())
	require.NotNil(t, oauth)
	assert.True(t, oauth.Mock())
	url, err := oauth.AuthURL(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}
