package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received *sqs.ReceiveMessageInput
	deleted  []string
	messages []types.Message
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueStandardSend(t *testing.T) {
	client := &fakeSQS{}
	q := NewSQSQueue(client, "https://sqs.local/000/calendar-sync")

	require.NoError(t, NewPublisher(q).EnqueueSync(context.Background(), "appt-1", "u1"))
	require.Len(t, client.sent, 1)
	assert.Nil(t, client.sent[0].MessageGroupId)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.sent[0].MessageBody)), &job))
	assert.Equal(t, "appt-1", job.AppointmentID)
	assert.Equal(t, "u1", job.UserID)
}

func TestSQSQueueFIFOGroupsByUser(t *testing.T) {
	client := &fakeSQS{}
	q := NewSQSQueue(client, "https://sqs.local/000/calendar-sync.fifo")

	require.NoError(t, NewPublisher(q).EnqueueSync(context.Background(), "appt-2", "u7"))
	in := client.sent[0]
	assert.Equal(t, "u7", aws.ToString(in.MessageGroupId))
	assert.NotEmpty(t, aws.ToString(in.MessageDeduplicationId))

	assert.Error(t, q.Send(context.Background(), "not json"))
}

func TestSQSQueueReceiveAndDelete(t *testing.T) {
	client := &fakeSQS{messages: []types.Message{
		{MessageId: aws.String("a"), Body: aws.String("{}"), ReceiptHandle: aws.String("r-a")},
		{MessageId: aws.String("b"), Body: aws.String("{}"), ReceiptHandle: aws.String("r-b")},
	}}
	q := NewSQSQueue(client, "https://sqs.local/000/calendar-sync")

	msgs, err := q.Receive(context.Background(), 25, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "r-b", msgs[1].ReceiptHandle)
	assert.Equal(t, int32(10), client.received.MaxNumberOfMessages)
	assert.Equal(t, int32(20), client.received.WaitTimeSeconds)

	require.NoError(t, q.Delete(context.Background(), ""))
	require.NoError(t, q.Delete(context.Background(), "r-a"))
	assert.Equal(t, []string{"r-a"}, client.deleted)

	client.err = errors.New("throttled")
	_, err = q.Receive(context.Background(), 1, 0)
	assert.Error(t, err)
}
