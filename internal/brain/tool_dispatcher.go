package brain

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/tooling"
)

// maxParallelTools bounds concurrent tool executions within one batch.
const maxParallelTools = 4

// Dispatcher connects the Brain to the tool registry. It formats tool
// definitions for the completion request and turns a batch of tool_use blocks
// into tool_result blocks, preserving request order.
type Dispatcher struct {
	registry *tooling.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher backed by the given registry.
// Panics if registry is nil. A nil logger falls back to slog.Default().
func NewDispatcher(registry *tooling.Registry, logger *slog.Logger) *Dispatcher {
	if registry == nil {
		panic("dispatcher: registry must not be nil")
	}
	return &Dispatcher{registry: registry, logger: logger}
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

// Definitions returns the registered tool definitions ready to be serialised
// into the completion request's tools array.
func (d *Dispatcher) Definitions() []domain.ToolDefinition {
	return d.registry.Definitions()
}

// RunBatch executes the requested tool uses concurrently and returns one
// result block per use, in request order. A failing tool yields an is_error
// block carrying {"success":false,"error":...}; it never aborts the other
// tools in the batch.
func (d *Dispatcher) RunBatch(ctx context.Context, uses []domain.ToolUseBlock) []domain.ToolResultBlock {
	results := make([]domain.ToolResultBlock, len(uses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTools)
	for i, use := range uses {
		g.Go(func() error {
			results[i] = d.runOne(gctx, use)
			return nil
		})
	}
	// Workers only write their own slot and never return errors, so Wait
	// cannot fail; it just joins the batch.
	_ = g.Wait()

	return results
}

// runOne executes a single tool use. Validation happens inside the registry,
// before any tool code runs.
func (d *Dispatcher) runOne(ctx context.Context, use domain.ToolUseBlock) domain.ToolResultBlock {
	out, err := d.registry.Execute(ctx, use.Name, use.Input)
	if err != nil {
		d.log().Warn("tool call failed",
			"tool", use.Name,
			"tool_use_id", use.ToolUseID,
			"error", err,
		)
		return errorResult(use.ToolUseID, err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		d.log().Warn("tool result marshal failed",
			"tool", use.Name,
			"tool_use_id", use.ToolUseID,
			"error", err,
		)
		return errorResult(use.ToolUseID, err)
	}

	return domain.ToolResultBlock{ToolUseID: use.ToolUseID, Content: string(payload)}
}

// errorResult wraps a tool failure as an is_error result block so the model
// can react to it.
func errorResult(toolUseID string, err error) domain.ToolResultBlock {
	payload, merr := json.Marshal(map[string]any{"success": false, "error": err.Error()})
	if merr != nil {
		payload = []byte(`{"success":false,"error":"tool execution failed"}`)
	}
	return domain.ToolResultBlock{ToolUseID: toolUseID, Content: string(payload), IsError: true}
}
