package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

const (
	// APIKeyEnv holds one key, or several separated by commas for rotation.
	APIKeyEnv = "ANTHROPIC_API_KEY"
	// BaseURLEnv overrides the Messages API endpoint, for proxies and tests.
	BaseURLEnv = "ANTHROPIC_BASE_URL"
)

// SecretGetter returns a secret by name (e.g. "ANTHROPIC_API_KEY"). Used to resolve API keys.
type SecretGetter func(name string) (string, error)

// EnvSecrets resolves secrets from the process environment. godotenv has
// already folded .env files into the environment by the time this runs.
func EnvSecrets(name string) (string, error) {
	return os.Getenv(name), nil
}

// NewClient builds the CompletionClient for the configured model.
// When the secret contains comma-separated keys, a PooledClient is created with
// round-robin rotation and 429-cooldown support.
func NewClient(model *domain.ModelConfig, getSecret SecretGetter) (domain.CompletionClient, error) {
	if model == nil {
		return nil, fmt.Errorf("llm: model config is required")
	}
	if getSecret == nil {
		getSecret = EnvSecrets
	}

	raw, err := getSecret(APIKeyEnv)
	if err != nil {
		return nil, err
	}
	keys := splitKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("anthropic client: API key not set (export %s or add it to .env)", APIKeyEnv)
	}

	baseURL, _ := getSecret(BaseURLEnv)
	if len(keys) == 1 {
		return newClientForKey(keys[0], model, baseURL), nil
	}

	// Multiple keys: create a PooledClient
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("anthropic key pool: %w", err)
	}
	clients := make([]domain.CompletionClient, len(keys))
	for i, k := range keys {
		clients[i] = newClientForKey(k, model, baseURL)
	}
	return NewPooledClient(pool, clients)
}

func newClientForKey(key string, model *domain.ModelConfig, baseURL string) *AnthropicClient {
	c := NewAnthropicClient(key, model.Model, model.MaxTokens)
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// splitKeys splits a raw secret value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool
