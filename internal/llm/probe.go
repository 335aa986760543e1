package llm

import (
	"context"
	"fmt"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/retry"
)

// probePrompt keeps the connectivity check cheap.
const probePrompt = "ping"

// Probe sends a minimal completion to verify the upstream is reachable and
// the key is accepted. Transient failures are retried per cfg. This is the
// only place retries wrap a completion; the chat path calls the bare client.
func Probe(ctx context.Context, client domain.CompletionClient, cfg retry.Config) error {
	if client == nil {
		return fmt.Errorf("llm: probe requires a client")
	}
	rc := retry.NewRetryableClient(client, cfg)
	msgs := []domain.Message{domain.NewTextMessage(domain.RoleUser, probePrompt)}
	if _, err := rc.Complete(ctx, msgs, "", nil); err != nil {
		return fmt.Errorf("upstream probe: %w", err)
	}
	return nil
}
