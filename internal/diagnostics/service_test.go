package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/llm"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = body
	m.types[*in.Key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), ContentType: aws.String(m.types[*in.Key])}, nil
}

func (m *mockS3Client) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

type fakeModel struct {
	text string
	err  error
	last llm.Request
}

func (f *fakeModel) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.last = req
	return llm.Response{Text: f.text}, f.err
}

type fakePolly struct {
	last *polly.SynthesizeSpeechInput
	err  error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader("ID3speech"))}, nil
}

func TestDiagnoseSpeaksAnalysisAndKeepsRecording(t *testing.T) {
	ctx := context.Background()
	repo := records.NewRepository(docstore.NewMemoryStore(), logging.Discard())
	s3mock := newMockS3()
	store := NewStore(s3mock, "diag-bucket", logging.Discard())
	store.now = func() time.Time { return time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC) }
	model := &fakeModel{text: `{"transcription":"I have a rash on my arm","analysis":"This looks like contact dermatitis. A dermatologist can confirm."}`}
	tts := &fakePolly{}
	svc := NewService(model, repo, store, func(key string) string { return "/api/diagnostics/audio/" + key }, logging.Discard(),
		WithSpeaker(NewPollySpeaker(tts, "")))

	res, err := svc.Diagnose(ctx, Input{
		UserID:    "u1",
		Image:     []byte{0xff, 0xd8},
		ImageMIME: "image/jpeg",
		Audio:     []byte("ID3audio"),
		AudioMIME: "audio/webm",
	})
	require.NoError(t, err)
	assert.Equal(t, "I have a rash on my arm", res.Transcription)

	require.NotNil(t, tts.last)
	assert.Equal(t, res.Analysis, aws.ToString(tts.last.Text))
	assert.Equal(t, pollytypes.OutputFormatMp3, tts.last.OutputFormat)
	assert.Equal(t, pollytypes.VoiceId("Joanna"), tts.last.VoiceId)

	const prefix = "/api/diagnostics/audio/diagnostics/v1/u1/2025/07/04/"
	assert.True(t, strings.HasPrefix(res.AudioURL, prefix+"speech-"))
	assert.True(t, strings.HasSuffix(res.AudioURL, ".mp3"))
	assert.True(t, strings.HasPrefix(res.RecordingURL, prefix))
	assert.True(t, strings.HasSuffix(res.RecordingURL, ".webm"))

	require.Len(t, model.last.Blobs, 2)
	assert.Equal(t, "image/jpeg", model.last.Blobs[0].MIMEType)
	assert.Equal(t, "audio/webm", model.last.Blobs[1].MIMEType)

	history, err := repo.Diagnostics(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "I have a rash on my arm", history[0].UserQuery)
	assert.Equal(t, "image/jpeg", history[0].FileType)
	assert.Equal(t, "This looks like contact dermatitis. A dermatologist can conf...", history[0].Summary)
	assert.Equal(t, res.AudioURL, history[0].AudioURL)
	assert.Equal(t, res.RecordingURL, history[0].RecordingURL)

	assert.Len(t, s3mock.keys("diagnostics/v1/u1/"), 3, "recording, speech and transcript")

	open := func(url string) (string, string) {
		body, contentType, err := store.Open(ctx, strings.TrimPrefix(url, "/api/diagnostics/audio/"))
		require.NoError(t, err)
		defer body.Close()
		raw, _ := io.ReadAll(body)
		return string(raw), contentType
	}
	speech, contentType := open(res.AudioURL)
	assert.Equal(t, "ID3speech", speech)
	assert.Equal(t, "audio/mpeg", contentType)
	upload, contentType := open(res.RecordingURL)
	assert.Equal(t, "ID3audio", upload)
	assert.Equal(t, "audio/webm", contentType)
}

func TestDiagnoseSpeechFailureKeepsAnalysis(t *testing.T) {
	ctx := context.Background()
	repo := records.NewRepository(docstore.NewMemoryStore(), logging.Discard())
	store := NewStore(newMockS3(), "diag-bucket", logging.Discard())
	svc := NewService(&fakeModel{text: "Plain paragraph answer."}, repo, store, nil, logging.Discard(),
		WithSpeaker(NewPollySpeaker(&fakePolly{err: errors.New("throttled")}, "Matthew")))

	res, err := svc.Diagnose(ctx, Input{UserID: "u1", Image: []byte{0xff}, ImageMIME: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "Plain paragraph answer.", res.Analysis)
	assert.Empty(t, res.AudioURL)
	assert.Empty(t, res.RecordingURL)
}

func TestPollySpeakerTruncatesLongText(t *testing.T) {
	tts := &fakePolly{}
	_, err := NewPollySpeaker(tts, "Matthew").Synthesize(context.Background(), strings.Repeat("é", maxSpeechChars+50))
	require.NoError(t, err)
	assert.Equal(t, maxSpeechChars, utf8.RuneCountInString(aws.ToString(tts.last.Text)))
	assert.Equal(t, pollytypes.VoiceId("Matthew"), tts.last.VoiceId)

	_, err = NewPollySpeaker(tts, "").Synthesize(context.Background(), "   ")
	assert.Error(t, err)
}

func TestDiagnoseImageOnlyWithoutBucket(t *testing.T) {
	ctx := context.Background()
	repo := records.NewRepository(docstore.NewMemoryStore(), logging.Discard())
	model := &fakeModel{text: "Plain paragraph answer."}
	svc := NewService(model, repo, NewStore(nil, "", logging.Discard()), nil, logging.Discard())

	res, err := svc.Diagnose(ctx, Input{Image: []byte("%PDF"), ImageMIME: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, defaultQuery, res.Transcription)
	assert.Equal(t, "Plain paragraph answer.", res.Analysis)
	assert.Empty(t, res.AudioURL)

	history, err := repo.Diagnostics(ctx, "guest_user")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "application/pdf", history[0].FileType)
}

func TestDiagnoseModelFailureLeavesNoHistory(t *testing.T) {
	ctx := context.Background()
	repo := records.NewRepository(docstore.NewMemoryStore(), logging.Discard())
	svc := NewService(&fakeModel{err: errors.New("deadline")}, repo, nil, nil, logging.Discard())

	res, err := svc.Diagnose(ctx, Input{UserID: "u1", Audio: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "Analysis error: deadline", res.Analysis)

	history, err := repo.Diagnostics(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = svc.Diagnose(ctx, Input{UserID: "u1"})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestStoreOpenRejectsForeignKeys(t *testing.T) {
	store := NewStore(newMockS3(), "b", logging.Discard())
	_, _, err := store.Open(context.Background(), "other/secret.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, _, err = store.Open(context.Background(), "diagnostics/v1/../x")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, _, err = store.Open(context.Background(), "diagnostics/v1/u1/missing.mp3")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
