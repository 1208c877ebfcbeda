package bootstrap

import (
	"context"
	"fmt"
	"strings"

	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/llm"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// BuildModel wires the Gemini client, wrapped in a fallback when a second
// model is configured. With no API key it returns a nil client and the
// services answer from their built-in rules and canned replies.
func BuildModel(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (llm.Client, func(), error) {
	if cfg == nil {
		return nil, func() {}, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		logger.Warn("no Gemini API key configured; AI features use rule-based fallbacks")
		return nil, func() {}, nil
	}

	primary, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		return nil, func() {}, fmt.Errorf("bootstrap: %w", err)
	}
	closeFn := func() { _ = primary.Close() }

	fallbackID := strings.TrimSpace(cfg.GeminiFallbackModelID)
	if fallbackID == "" || fallbackID == cfg.GeminiModelID {
		logger.Info("gemini model ready", "model", cfg.GeminiModelID)
		return primary, closeFn, nil
	}
	logger.Info("gemini model ready", "model", cfg.GeminiModelID, "fallback", fallbackID)
	return llm.NewFallbackClient(primary, primary.WithModel(fallbackID), logger), closeFn, nil
}
