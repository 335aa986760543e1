package brain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// maxToolIterations caps the completion calls within a single turn. When the
// model still asks for tools on the final call, the turn ends with that reply
// returned as-is rather than an error.
const maxToolIterations = 5

// Option is a functional option for configuring Brain.
type Option func(*Brain)

// WithLogger sets a structured logger for the Brain. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithHistoryWindow sets the token-budget window applied to inbound history
// before the first completion call. If hw is nil it is ignored (the full
// history is sent unfitted).
func WithHistoryWindow(hw domain.HistoryWindow) Option {
	return func(b *Brain) {
		if hw != nil {
			b.window = hw
		}
	}
}

// WithMaxIterations overrides the completion-call cap for a turn. Values
// below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(b *Brain) {
		if n >= 1 {
			b.maxIterations = n
		}
	}
}

// Brain runs one chat turn: it completes against the model, executes any
// requested tools, feeds results back, and repeats until the model stops
// asking or the iteration cap is reached. Callers are unaware of the
// underlying client (live, pooled, scripted).
type Brain struct {
	client        domain.CompletionClient
	dispatcher    *Dispatcher
	prompts       domain.PromptProvider // optional; nil sends an empty system prompt
	window        domain.HistoryWindow  // optional; nil sends the full history
	logger        *slog.Logger          // optional; nil uses slog.Default()
	maxIterations int
}

// NewBrain returns a Brain using the given client and dispatcher. Both must be
// non-nil. Options (e.g. WithHistoryWindow, WithLogger) configure optional
// behaviour.
func NewBrain(client domain.CompletionClient, dispatcher *Dispatcher, prompts domain.PromptProvider, opts ...Option) *Brain {
	if client == nil {
		panic("brain: client must not be nil")
	}
	if dispatcher == nil {
		panic("brain: dispatcher must not be nil")
	}
	b := &Brain{
		client:        client,
		dispatcher:    dispatcher,
		prompts:       prompts,
		maxIterations: maxToolIterations,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TurnResult is the outcome of one orchestrated turn.
type TurnResult struct {
	// Response is the final completion. It is never appended to the
	// transcript; the caller decides what to persist.
	Response *domain.CompletionResponse

	// Appended holds the messages created during the tool loop, in order:
	// one assistant message per tool-requesting reply followed by one user
	// message carrying that batch's tool results.
	Appended []domain.Message

	// CompletionCalls counts upstream requests made during the turn.
	CompletionCalls int

	// ToolCalls counts individual tool executions across all batches.
	ToolCalls int

	// LimitHit is true when the turn ended because the iteration cap was
	// reached while the model was still requesting tools.
	LimitHit bool
}

// log returns the Brain's logger, falling back to the default slog logger.
func (b *Brain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// RunTurn sends the conversation to the model and resolves tool use until the
// model answers or the iteration cap is reached. The inbound messages slice is
// never mutated. A completion failure aborts the turn with the client's error;
// a failing tool does not (its error travels back to the model as an is_error
// result block).
func (b *Brain) RunTurn(ctx context.Context, prospectID string, messages []domain.Message) (*TurnResult, error) {
	system := ""
	if b.prompts != nil {
		sp, err := b.prompts.SystemPrompt(prospectID)
		if err != nil {
			return nil, fmt.Errorf("brain: system prompt: %w", err)
		}
		system = sp
	}

	window := slices.Clone(messages)
	if b.window != nil && len(window) > 0 {
		fitted, err := b.window.FitToWindow(window, system)
		if err != nil {
			return nil, fmt.Errorf("brain: history fitting: %w", err)
		}
		window = fitted
	}

	tools := b.dispatcher.Definitions()
	result := &TurnResult{}

	for call := 1; ; call++ {
		resp, err := b.client.Complete(ctx, window, system, tools)
		if err != nil {
			return nil, fmt.Errorf("brain: completion call %d: %w", call, err)
		}
		result.Response = resp
		result.CompletionCalls = call

		if resp.StopReason != domain.StopToolUse {
			return result, nil
		}
		if call >= b.maxIterations {
			result.LimitHit = true
			b.log().Warn("tool iteration limit reached, returning last reply",
				"prospect", prospectID,
				"completion_calls", call,
			)
			return result, nil
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			b.log().Warn("tool_use stop reason carried no tool_use blocks",
				"prospect", prospectID,
			)
			return result, nil
		}

		// The model's reply goes back verbatim as one assistant message,
		// then one user message carries every result of the batch.
		assistant := resp.AssistantMessage()
		window = append(window, assistant)
		result.Appended = append(result.Appended, assistant)

		batch := b.dispatcher.RunBatch(ctx, uses)
		result.ToolCalls += len(uses)

		blocks := make([]domain.ContentBlock, len(batch))
		for i, rb := range batch {
			blocks[i] = rb
		}
		toolMsg := domain.NewBlockMessage(domain.RoleUser, blocks...)
		window = append(window, toolMsg)
		result.Appended = append(result.Appended, toolMsg)
	}
}
