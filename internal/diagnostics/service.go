package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mediguard/mediguard-platform/internal/llm"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

var ErrNoInput = errors.New("diagnostics: an image or a voice recording is required")

const (
	defaultQuery = "The user provided a document for analysis."

	systemPrompt = `You are a professional AI Diagnostic Assistant. Analyze the image or document provided. ` +
		`Provide a differential analysis and suggest specialists. Use one compassionate paragraph. No markdown.`

	instructions = `If a voice recording is attached, first transcribe it verbatim; it is the user's question. ` +
		`Respond in JSON: {"transcription": "<what the user said, or empty>", "analysis": "<your paragraph>"}.`
)

// Input is one /api/diagnose submission.
type Input struct {
	UserID    string
	Image     []byte
	ImageMIME string
	Audio     []byte
	AudioMIME string
}

// Result mirrors the /api/diagnose response body.
type Result struct {
	Transcription string `json:"transcription"`
	Analysis      string `json:"analysis"`
	// AudioURL serves the spoken analysis; RecordingURL the user's upload.
	AudioURL     string `json:"audio_url,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

// HistoryWriter persists diagnostic records.
type HistoryWriter interface {
	AddDiagnostic(ctx context.Context, rec records.DiagnosticRecord) (*records.DiagnosticRecord, error)
}

// Service answers /api/diagnose.
type Service struct {
	model   llm.Client
	history HistoryWriter
	store   *Store
	speaker Speaker
	// audioURL maps a stored object key to a client-facing URL.
	audioURL func(key string) string
	logger   *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSpeaker reads each analysis aloud; without one no audio_url is set.
func WithSpeaker(sp Speaker) Option {
	return func(s *Service) { s.speaker = sp }
}

func NewService(model llm.Client, history HistoryWriter, store *Store, audioURL func(string) string, logger *logging.Logger, opts ...Option) *Service {
	if history == nil {
		panic("diagnostics: history writer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if audioURL == nil {
		audioURL = func(key string) string { return key }
	}
	s := &Service{model: model, history: history, store: store, audioURL: audioURL, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diagnose analyzes the submission. Model failures are reported in the
// analysis text and leave no history record.
func (s *Service) Diagnose(ctx context.Context, in Input) (*Result, error) {
	if len(in.Image) == 0 && len(in.Audio) == 0 {
		return nil, ErrNoInput
	}
	if in.UserID == "" {
		in.UserID = "guest_user"
	}
	log := s.logger.ForUser(in.UserID)

	transcription, analysis, err := s.analyze(ctx, in)
	if err != nil {
		log.Error("diagnosis failed", "error", err)
		return &Result{Transcription: defaultQuery, Analysis: "Analysis error: " + err.Error()}, nil
	}
	userQuery := defaultQuery
	if transcription != "" {
		userQuery = transcription
	}

	var recordingURL string
	key, err := s.store.PutRecording(ctx, in.UserID, in.AudioMIME, in.Audio)
	if err != nil {
		log.Warn("failed to store recording", "error", err)
	} else if key != "" {
		recordingURL = s.audioURL(key)
	}
	speechKey := s.speak(ctx, in.UserID, analysis)
	var audioURL string
	if speechKey != "" {
		audioURL = s.audioURL(speechKey)
	}

	fileType := in.ImageMIME
	if len(in.Image) == 0 {
		fileType = in.AudioMIME
	}
	if _, err := s.history.AddDiagnostic(ctx, records.DiagnosticRecord{
		UserID:       in.UserID,
		UserQuery:    userQuery,
		AIAnalysis:   analysis,
		AudioURL:     audioURL,
		RecordingURL: recordingURL,
		FileType:     fileType,
	}); err != nil {
		return nil, fmt.Errorf("diagnostics: save history: %w", err)
	}
	if err := s.store.PutTranscript(ctx, Transcript{
		UserID:       in.UserID,
		UserQuery:    userQuery,
		Analysis:     analysis,
		FileType:     fileType,
		RecordingKey: key,
		SpeechKey:    speechKey,
	}); err != nil {
		log.Warn("failed to archive transcript", "error", err)
	}

	return &Result{Transcription: userQuery, Analysis: analysis, AudioURL: audioURL, RecordingURL: recordingURL}, nil
}

// speak stores a spoken rendition of the analysis. Failures only cost the
// audio link.
func (s *Service) speak(ctx context.Context, uid, analysis string) string {
	if s.speaker == nil || !s.store.Enabled() {
		return ""
	}
	log := s.logger.ForUser(uid)
	audio, err := s.speaker.Synthesize(ctx, analysis)
	if err != nil {
		log.Warn("speech synthesis failed", "error", err)
		return ""
	}
	key, err := s.store.PutSpeech(ctx, uid, audio)
	if err != nil {
		log.Warn("failed to store speech", "error", err)
		return ""
	}
	return key
}

func (s *Service) analyze(ctx context.Context, in Input) (string, string, error) {
	if s.model == nil {
		return "", "", errors.New("no diagnostic model configured")
	}
	var blobs []llm.Blob
	if len(in.Image) > 0 {
		blobs = append(blobs, llm.Blob{MIMEType: mimeOr(in.ImageMIME, "image/jpeg"), Data: in.Image})
	}
	if len(in.Audio) > 0 {
		blobs = append(blobs, llm.Blob{MIMEType: mimeOr(in.AudioMIME, "audio/mpeg"), Data: in.Audio})
	}
	resp, err := s.model.Complete(ctx, llm.Request{
		System:      []string{systemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: defaultQuery + "\n\n" + instructions}},
		Blobs:       blobs,
		Temperature: 0.3,
		MaxTokens:   600,
		JSON:        true,
	})
	if err != nil {
		return "", "", err
	}
	var out struct {
		Transcription string `json:"transcription"`
		Analysis      string `json:"analysis"`
	}
	text := strings.TrimSpace(resp.Text)
	if err := json.Unmarshal([]byte(text), &out); err != nil || strings.TrimSpace(out.Analysis) == "" {
		if text == "" {
			return "", "", errors.New("empty model response")
		}
		// Plain-text answers are still usable as the analysis.
		return "", text, nil
	}
	return strings.TrimSpace(out.Transcription), strings.TrimSpace(out.Analysis), nil
}

func mimeOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
