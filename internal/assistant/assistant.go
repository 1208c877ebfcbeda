package assistant

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

const (
	historyWindow = 10

	// FallbackReply is sent when the model cannot answer.
	FallbackReply = "I'm having a little brain fog! Can we try that again? ✨"
	emptyReply    = "I'm here for you! Please check with your doctor about those symptoms, but I'm sending you positive vibes! ✨"
)

var ErrEmptyQuery = errors.New("assistant: query is empty")

const systemPromptTemplate = `You are MediBuddy, a compassionate and knowledgeable health companion.
USER MEDICATIONS: %s.
%s
TONE: Warm and supportive. Use emojis occasionally.

GUIDELINES:
1. Answer the user's specific questions directly using their clinical context.
2. If they ask about their meds, list them and explain their general purpose simply.
3. Do not repeat the "consult a doctor" disclaimer in every message.
4. Only suggest a doctor or 988 if the user describes severe pain (chest pain, breathing issues), suicidal thoughts or self-harm, or dangerous medication side effects.
5. Keep responses concise (2-4 sentences).

FORMAT: Respond in JSON with a "response_text" field.`

// ChatStore is the slice of the records repository the assistant needs.
type ChatStore interface {
	AppendChat(ctx context.Context, uid, role, text string) (*records.ChatMessage, error)
	RecentChat(ctx context.Context, uid string, n int) ([]records.ChatMessage, error)
}

// Request is one user turn.
type Request struct {
	UserID      string           `json:"user_id"`
	Query       string           `json:"query"`
	MedHistory  []string         `json:"med_history"`
	UserProfile *records.Profile `json:"user_profile,omitempty"`
}

// Reply is the model's answer.
type Reply struct {
	Text string `json:"text"`
	Role string `json:"role"`
}

// Service answers /api/chat. Both turns are written to the user's chat
// collection so live subscribers see them.
type Service struct {
	chats  ChatStore
	model  llm.Client
	logger *logging.Logger
}

func NewService(chats ChatStore, model llm.Client, logger *logging.Logger) *Service {
	if chats == nil {
		panic("assistant: chat store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{chats: chats, model: model, logger: logger}
}

func (s *Service) Reply(ctx context.Context, req Request) (*Reply, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id", records.ErrMissingField)
	}
	log := s.logger.ForUser(req.UserID)

	if _, err := s.chats.AppendChat(ctx, req.UserID, records.RoleUser, query); err != nil {
		return nil, fmt.Errorf("assistant: store user message: %w", err)
	}
	history, err := s.chats.RecentChat(ctx, req.UserID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("assistant: load history: %w", err)
	}

	text := s.complete(ctx, log, req, history)
	if _, err := s.chats.AppendChat(ctx, req.UserID, records.RoleModel, text); err != nil {
		return nil, fmt.Errorf("assistant: store reply: %w", err)
	}
	return &Reply{Text: text, Role: records.RoleModel}, nil
}

func (s *Service) complete(ctx context.Context, log *logging.Logger, req Request, history []records.ChatMessage) string {
	if s.model == nil {
		return FallbackReply
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == records.RoleModel || m.Role == "assistant" {
			role = llm.RoleModel
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != llm.RoleUser {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Query})
	}

	resp, err := s.model.Complete(ctx, llm.Request{
		System:      []string{SystemPrompt(req.MedHistory, req.UserProfile)},
		Messages:    msgs,
		Temperature: 0.8,
		JSON:        true,
	})
	if err != nil {
		log.Warn("assistant completion failed", "error", err)
		return FallbackReply
	}
	return parseReply(resp.Text)
}

// SystemPrompt renders the companion persona with the user's context.
func SystemPrompt(meds []string, profile *records.Profile) string {
	medContext := "No medications listed"
	if len(meds) > 0 {
		medContext = strings.Join(meds, ", ")
	}
	return fmt.Sprintf(systemPromptTemplate, medContext, profileContext(profile))
}

func profileContext(p *records.Profile) string {
	if p == nil {
		return ""
	}
	var parts []string
	for _, kv := range [][2]string{{"Age", p.Age}, {"Gender", p.Gender}, {"Height", p.Height}, {"Weight", p.Weight}} {
		if strings.TrimSpace(kv[1]) != "" {
			parts = append(parts, kv[0]+": "+kv[1])
		}
	}
	if len(p.Conditions) > 0 {
		parts = append(parts, "Conditions: "+strings.Join(p.Conditions, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return "USER PROFILE: " + strings.Join(parts, "; ") + ".\n"
}

func parseReply(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyReply
	}
	var body struct {
		ResponseText string `json:"response_text"`
	}
	if err := json.Unmarshal([]byte(text), &body); err == nil && strings.TrimSpace(body.ResponseText) != "" {
		return body.ResponseText
	}
	return text
}
