package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// ErrObjectNotFound is returned by Open for keys outside the store or
// missing objects.
var ErrObjectNotFound = errors.New("diagnostics: object not found")

const keyPrefix = "diagnostics/v1/"

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store keeps uploaded recordings and analysis transcripts in S3. With no
// bucket configured every operation is a no-op.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled reports whether uploads go anywhere.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// PutRecording stores an audio upload and returns its object key.
func (s *Store) PutRecording(ctx context.Context, uid, contentType string, data []byte) (string, error) {
	if !s.Enabled() || len(data) == 0 {
		return "", nil
	}
	key := s.key(uid, uuid.NewString()+extension(contentType))
	if err := s.put(ctx, key, contentType, data); err != nil {
		return "", err
	}
	s.logger.Info("stored diagnostic recording", "user_id", uid, "s3_key", key, "bytes", len(data))
	return key, nil
}

// PutSpeech stores the spoken rendition of an analysis and returns its key.
func (s *Store) PutSpeech(ctx context.Context, uid string, data []byte) (string, error) {
	if !s.Enabled() || len(data) == 0 {
		return "", nil
	}
	key := s.key(uid, "speech-"+uuid.NewString()+".mp3")
	if err := s.put(ctx, key, "audio/mpeg", data); err != nil {
		return "", err
	}
	return key, nil
}

// Transcript is the archived form of one diagnosis.
type Transcript struct {
	UserID       string    `json:"user_id"`
	UserQuery    string    `json:"user_query"`
	Analysis     string    `json:"analysis"`
	FileType     string    `json:"file_type"`
	RecordingKey string    `json:"recording_key,omitempty"`
	SpeechKey    string    `json:"speech_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PutTranscript archives the analysis next to the recording.
func (s *Store) PutTranscript(ctx context.Context, t Transcript) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("diagnostics: marshal transcript: %w", err)
	}
	return s.put(ctx, s.key(t.UserID, uuid.NewString()+".json"), "application/json", data)
}

// Open streams an object previously written by this store.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !s.Enabled() || !strings.HasPrefix(key, keyPrefix) || strings.Contains(key, "..") {
		return nil, "", ErrObjectNotFound
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrObjectNotFound, key, err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// OwnedBy reports whether key was written for uid.
func OwnedBy(key, uid string) bool {
	return uid != "" && !strings.Contains(key, "..") && strings.HasPrefix(key, keyPrefix+uid+"/")
}

func (s *Store) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("diagnostics: s3 put %s: %w", key, err)
	}
	return nil
}

func (s *Store) key(uid, name string) string {
	now := s.now().UTC()
	return path.Join(keyPrefix, uid, fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day()), name)
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
