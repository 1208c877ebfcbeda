package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// Outbound AI/calendar API used by the app shell.
	APIBaseURL string
	APITimeout time.Duration

	// Document store backend: memory, redis, postgres or firestore.
	DocStoreBackend    string
	DatabaseURL        string
	FirestoreProjectID string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool

	SessionJWTSecret string
	SessionTTL       time.Duration
	AdminEmails      []string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	GeminiAPIKey          string
	GeminiModelID         string
	GeminiFallbackModelID string

	CalendarTimeZone string

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	DiagnosticBucket     string
	TTSVoiceID           string
	CalendarSyncQueueURL string
	UseMemoryQueue       bool
	WorkerCount          int

	// Booking confirmation email
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	CORSAllowedOrigins []string

	FeatureDiagnostic   bool
	FeatureChatbot      bool
	FeatureAppointments bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		APIBaseURL: strings.TrimRight(getEnv("MEDIGUARD_API_URL", "http://localhost:8000"), "/"),
		APITimeout: getEnvAsDuration("API_TIMEOUT", 30*time.Second),

		DocStoreBackend:    strings.ToLower(strings.TrimSpace(getEnv("DOCSTORE_BACKEND", "memory"))),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		FirestoreProjectID: getEnv("FIRESTORE_PROJECT_ID", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),

		SessionJWTSecret: getEnv("SESSION_JWT_SECRET", ""),
		SessionTTL:       getEnvAsDuration("SESSION_TTL", 18*time.Hour),
		AdminEmails:      getEnvAsList("ADMIN_EMAILS"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:5173"),

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:         getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GeminiFallbackModelID: getEnv("GEMINI_FALLBACK_MODEL_ID", ""),

		CalendarTimeZone: getEnv("CALENDAR_TIME_ZONE", "Asia/Kolkata"),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DiagnosticBucket:     getEnv("DIAGNOSTIC_BUCKET", ""),
		TTSVoiceID:           getEnv("TTS_VOICE_ID", "Joanna"),
		CalendarSyncQueueURL: getEnv("CALENDAR_SYNC_QUEUE_URL", ""),
		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MediBuddy"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		FeatureDiagnostic:   getEnvAsBool("FEATURE_DIAGNOSTIC", true),
		FeatureChatbot:      getEnvAsBool("FEATURE_CHATBOT", true),
		FeatureAppointments: getEnvAsBool("FEATURE_APPOINTMENTS", true),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
