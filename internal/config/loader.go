package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// DefaultPath is used when the NITYA_CONFIG env var is unset.
const DefaultPath = "nitya.json"

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// Path resolves the config file location: NITYA_CONFIG wins, else DefaultPath.
func Path() string {
	if p := os.Getenv("NITYA_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadEnv loads .env files best effort so ANTHROPIC_API_KEY and friends can
// live next to the binary instead of the shell profile. Missing files are
// fine; real env vars always win over file values.
func LoadEnv() {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".nitya.env"))
	}
}

// Env returns the value of key or fallback when unset/empty.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// WriteDefault writes a default Config to path (e.g. nitya.json). Directories
// named by the config are not created here; see cmd init.
func WriteDefault(path string) error {
	cfg := &domain.Config{
		Gateway: domain.GatewayConfig{
			Port:           8080,
			Auth:           domain.AuthConfig{Mode: "none"},
			AllowedOrigins: []string{"http://localhost:5173"},
			StaticDir:      "static",
		},
		Prospects: domain.ProspectsConfig{
			Root:        "prospects",
			DefaultID:   "default",
			MaxUploadMB: 10,
		},
		Model: domain.ModelConfig{
			Model:            "claude-sonnet-4-20250514",
			MaxTokens:        4096,
			MaxHistoryTokens: 6000,
			PromptDir:        "brain",
		},
		Audit: domain.AuditConfig{
			Database:      "nitya-audit.db",
			RetentionDays: 90,
			SweepSchedule: "0 4 * * *",
		},
		Infra: domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 500,
			MaxBackoff:     30000,
			Multiplier:     2,
		},
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path (e.g. nitya.json), unmarshals into domain.Config, and cleans
// all path fields to mitigate path traversal. Returns error if file is missing or invalid JSON.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c domain.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	applyDefaults(&c)
	CleanPaths(&c)
	return &c, nil
}

// applyDefaults backfills fields a hand-edited config commonly omits.
func applyDefaults(cfg *domain.Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	if cfg.Prospects.Root == "" {
		cfg.Prospects.Root = "prospects"
	}
	if cfg.Prospects.DefaultID == "" {
		cfg.Prospects.DefaultID = "default"
	}
	if cfg.Prospects.MaxUploadMB <= 0 {
		cfg.Prospects.MaxUploadMB = 10
	}
	if cfg.Model.Model == "" {
		cfg.Model.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = 4096
	}
	if cfg.Model.MaxHistoryTokens <= 0 {
		cfg.Model.MaxHistoryTokens = 6000
	}
	if cfg.Audit.RetentionDays <= 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Infra.LogFormat == "" {
		cfg.Infra.LogFormat = "text"
	}
	if cfg.Infra.LogLevel == "" {
		cfg.Infra.LogLevel = "info"
	}
}

// CleanPaths applies filepath.Clean to all path fields in cfg to prevent path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	cfg.Prospects.Root = filepath.Clean(cfg.Prospects.Root)
	if cfg.Gateway.StaticDir != "" {
		cfg.Gateway.StaticDir = filepath.Clean(cfg.Gateway.StaticDir)
	}
	if cfg.Model.PromptDir != "" {
		cfg.Model.PromptDir = filepath.Clean(cfg.Model.PromptDir)
	}
}

// Save writes cfg to path as JSON.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
