package llm

import "context"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Blob is inline binary input such as an image or an audio recording.
type Blob struct {
	MIMEType string
	Data     []byte
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Request struct {
	System      []string
	Messages    []Message
	Blobs       []Blob
	MaxTokens   int32
	Temperature float32
	// JSON asks the model for an application/json response body.
	JSON bool
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client completes a request against a language model.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
