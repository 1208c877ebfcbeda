package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

const (
	defaultVoice = "Joanna"
	// Polly rejects plain-text input above 3000 billed characters.
	maxSpeechChars = 3000
)

// Speaker turns analysis text into spoken audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// PollyAPI is the subset of the Polly client used by PollySpeaker.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySpeaker reads analyses aloud as MP3 with Amazon Polly.
type PollySpeaker struct {
	client PollyAPI
	voice  string
}

func NewPollySpeaker(client PollyAPI, voice string) *PollySpeaker {
	if strings.TrimSpace(voice) == "" {
		voice = defaultVoice
	}
	return &PollySpeaker{client: client, voice: voice}
}

func (p *PollySpeaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = truncateRunes(strings.TrimSpace(text), maxSpeechChars)
	if text == "" {
		return nil, errors.New("diagnostics: nothing to speak")
	}
	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: types.OutputFormatMp3,
		VoiceId:      types.VoiceId(p.voice),
		Engine:       types.EngineNeural,
	})
	if err != nil {
		return nil, fmt.Errorf("diagnostics: polly synthesize: %w", err)
	}
	if out.AudioStream == nil {
		return nil, errors.New("diagnostics: polly returned no audio")
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: read polly audio: %w", err)
	}
	return data, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
