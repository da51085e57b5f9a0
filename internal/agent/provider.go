package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/agentforge/core/pkg/models"
)

// Headroom names a reserved fraction of the context window left unused as
// safety margin when computing a provider's token budget.
type Headroom float64

const (
	HeadroomLight        Headroom = 0.05
	HeadroomStandard     Headroom = 0.08
	HeadroomConservative Headroom = 0.15
)

// CompletionRequest bundles a conversation and sampling options for a
// provider call.
type CompletionRequest struct {
	Model      string
	Messages   []models.Message
	Options    models.CompletionOptions
	ToolChoice *models.ToolChoice
}

// Provider is the wire boundary between the agent controller and a
// specific LLM backend. Implementations must be safe for concurrent use.
type Provider interface {
	// Complete blocks until the model produces a full response.
	Complete(ctx context.Context, req *CompletionRequest) (*models.Completion, error)

	// StreamComplete delivers chunks to onChunk in provider order, then
	// returns the final accumulated completion once the stream terminates.
	// onChunk is called sequentially; it must not be invoked concurrently.
	StreamComplete(ctx context.Context, req *CompletionRequest, onChunk func(models.StreamedChunk)) (*models.Completion, error)

	// ContextWindow returns the model's total token window.
	ContextWindow() int

	// ReserveCompletion returns the token count reserved for the model's
	// own response, subtracted from the context window before budgeting.
	ReserveCompletion() int

	// Budget returns the usable prompt token budget for the given
	// headroom: context_window - reserve_completion - ceil(context_window * headroom).
	Budget(headroom Headroom) int

	// Validate reports a ConfigurationError if the provider is misconfigured
	// (missing credentials, unreachable endpoint metadata, and so on).
	Validate() error

	// Close releases transport resources. Idempotent.
	Close() error
}

// BudgetFor computes the standard budget formula shared by every Provider
// implementation, so adapters do not each reimplement the rounding rule.
func BudgetFor(contextWindow, reserveCompletion int, headroom Headroom) int {
	reserved := int(math.Ceil(float64(contextWindow) * float64(headroom)))
	budget := contextWindow - reserveCompletion - reserved
	if budget < 0 {
		return 0
	}
	return budget
}

// ValidationError reports why a provider failed Validate().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}
