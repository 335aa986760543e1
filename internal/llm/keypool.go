package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// KeyPool manages a pool of API keys with round-robin rotation and cooldown support.
// When a key receives a rate-limit (429) error, it can be marked as "cooldown" and
// subsequent calls to Next will skip it until the cooldown period expires.
// KeyPool is safe for concurrent use.
type KeyPool struct {
	keys        []string
	mu          sync.Mutex
	nextIdx     int
	cooldowns   []time.Time   // parallel to keys — zero value means no cooldown
	cooldownDur time.Duration // how long a key stays in cooldown
	nowFunc     func() time.Time
}

// NewKeyPool creates a KeyPool from the given keys with the specified cooldown duration.
// Returns an error if keys is empty or nil.
func NewKeyPool(keys []string, cooldownDur time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keypool: at least one key is required")
	}
	return &KeyPool{
		keys:        keys,
		cooldowns:   make([]time.Time, len(keys)),
		cooldownDur: cooldownDur,
		nowFunc:     time.Now,
	}, nil
}

// Next returns the next available key using round-robin, skipping keys in cooldown.
// Returns the key, its index, and an error if all keys are in cooldown.
func (kp *KeyPool) Next() (string, int, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.nowFunc()
	n := len(kp.keys)

	// Try each key starting from nextIdx, wrapping around
	for i := 0; i < n; i++ {
		idx := (kp.nextIdx + i) % n
		if kp.cooldowns[idx].IsZero() || now.After(kp.cooldowns[idx]) {
			// This key is available
			kp.nextIdx = (idx + 1) % n
			return kp.keys[idx], idx, nil
		}
	}

	return "", -1, fmt.Errorf("keypool: all %d keys are in cooldown", n)
}

// MarkCooldown puts the key at the given index into cooldown for the configured duration.
// Out-of-range indices are silently ignored.
func (kp *KeyPool) MarkCooldown(idx int) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if idx < 0 || idx >= len(kp.keys) {
		return
	}
	kp.cooldowns[idx] = kp.nowFunc().Add(kp.cooldownDur)
}

// Len returns the total number of keys in the pool.
func (kp *KeyPool) Len() int {
	return len(kp.keys)
}

// Available returns the number of keys not currently in cooldown.
func (kp *KeyPool) Available() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.nowFunc()
	count := 0
	for _, cd := range kp.cooldowns {
		if cd.IsZero() || now.After(cd) {
			count++
		}
	}
	return count
}

// =============================================================================
// Rate-limit detection
// =============================================================================

// isRateLimitError returns true when the error indicates a 429 / rate-limit response.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.IsRateLimit()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// =============================================================================
// PooledClient (CompletionClient decorator)
// =============================================================================

// PooledClient wraps multiple CompletionClients (one per API key) and rotates
// between them using a KeyPool. On a 429 the current key is marked as cooldown
// and the error propagates unchanged; a Complete call never issues a second
// upstream request. The next call naturally lands on a healthy key.
type PooledClient struct {
	pool    *KeyPool
	clients []domain.CompletionClient
}

// NewPooledClient creates a PooledClient. The pool and clients must have matching lengths.
func NewPooledClient(pool *KeyPool, clients []domain.CompletionClient) (*PooledClient, error) {
	if pool == nil {
		return nil, fmt.Errorf("keypool client: pool must not be nil")
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("keypool client: at least one client is required")
	}
	if pool.Len() != len(clients) {
		return nil, fmt.Errorf("keypool client: pool size (%d) must match clients count (%d)", pool.Len(), len(clients))
	}
	return &PooledClient{
		pool:    pool,
		clients: clients,
	}, nil
}

// Complete implements domain.CompletionClient. It selects the next available
// key/client via round-robin and forwards the call. Rate-limited keys go into
// cooldown before the error is returned.
func (pc *PooledClient) Complete(ctx context.Context, messages []domain.Message, system string, tools []domain.ToolDefinition) (*domain.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, idx, err := pc.pool.Next()
	if err != nil {
		return nil, err
	}

	resp, callErr := pc.clients[idx].Complete(ctx, messages, system, tools)
	if callErr == nil {
		return resp, nil
	}

	if isRateLimitError(callErr) {
		pc.pool.MarkCooldown(idx)
	}
	return nil, callErr
}

// Compile-time check that PooledClient implements CompletionClient.
var _ domain.CompletionClient = (*PooledClient)(nil)
