package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port   string
	APIKey string

	// Infrastructure
	RedisURL    string
	DatabaseURL string
	TempDir     string
	WorkerCount int

	// Source limits
	MaxSourceMB int

	// Google Drive
	DriveClientID     string
	DriveClientSecret string
	DriveRefreshToken string
	DriveFolderID     string

	// AI providers
	GeminiAPIKey     string
	GeminiModel      string
	DeepInfraAPIKey  string
	DeepInfraBaseURL string
	WhisperModel     string

	// Rendering
	CaptionFontFile     string
	CaptionBoldFontFile string

	// CORS
	CORSAllowedOrigins string
}

// Load reads configuration from the environment, with .env support for
// local development. Missing required keys fail startup.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8000"),
		APIKey:              os.Getenv("API_KEY"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		TempDir:             getEnv("TEMP_DIR", os.TempDir()),
		WorkerCount:         getEnvInt("WORKER_COUNT", 2),
		MaxSourceMB:         getEnvInt("MAX_SOURCE_MB", 2000),
		DriveClientID:       os.Getenv("DRIVE_CLIENT_ID"),
		DriveClientSecret:   os.Getenv("DRIVE_CLIENT_SECRET"),
		DriveRefreshToken:   os.Getenv("DRIVE_REFRESH_TOKEN"),
		DriveFolderID:       os.Getenv("DRIVE_FOLDER_ID"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		DeepInfraAPIKey:     os.Getenv("DEEPINFRA_API_KEY"),
		DeepInfraBaseURL:    getEnv("DEEPINFRA_BASE_URL", "https://api.deepinfra.com/v1/openai"),
		WhisperModel:        getEnv("WHISPER_MODEL", "openai/whisper-large-v3"),
		CaptionFontFile:     os.Getenv("CAPTION_FONT_FILE"),
		CaptionBoldFontFile: os.Getenv("CAPTION_BOLD_FONT_FILE"),
		CORSAllowedOrigins:  os.Getenv("CORS_ALLOWED_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"API_KEY":             c.APIKey,
		"GEMINI_API_KEY":      c.GeminiAPIKey,
		"DRIVE_CLIENT_ID":     c.DriveClientID,
		"DRIVE_CLIENT_SECRET": c.DriveClientSecret,
		"DRIVE_REFRESH_TOKEN": c.DriveRefreshToken,
	}
	for key, val := range required {
		if val == "" {
			return fmt.Errorf("required environment variable %s is not set", key)
		}
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] Invalid integer for %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
