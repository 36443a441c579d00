// Package llmgateway is the stateless call layer: prompt + schema
// description + max attempts in, a schema-satisfying value out, or
// ErrSchemaFailure after exhausting retries. It carries no planning or
// auditing business logic of its own — Planner and Auditor each supply
// their own schema validator and interpret a terminal failure according to
// their own policy (Planner recovers to a fallback plan, Auditor recovers
// to an optimistic finalize).
package llmgateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/coriolislabs/mcs/internal/platform/resilience"
)

// ErrSchemaFailure is returned when every attempt's output failed validation.
var ErrSchemaFailure = errors.New("llmgateway: schema validation failed after exhausting attempts")

// Client is the provider seam; NewAnthropicClient is the concrete
// implementation, grounded on the anthropic-sdk-go retrieved in the pack.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Gateway wraps a Client with the retry/validate loop and a circuit
// breaker so a flapping provider fails fast instead of hanging every call.
type Gateway struct {
	client  Client
	breaker *resilience.CircuitBreaker
}

// NewGateway constructs a Gateway. breaker may be nil to disable breaking.
func NewGateway(client Client, breaker *resilience.CircuitBreaker) *Gateway {
	return &Gateway{client: client, breaker: breaker}
}

// Generate runs the attempt loop: call the provider, validate the raw
// output, and on failure re-prompt with the validation error appended.
// validate should return a descriptive error naming what was wrong with
// raw so the next attempt's user prompt can include it.
func (g *Gateway) Generate(ctx context.Context, systemPrompt, userPrompt string, maxAttempts int, validate func(raw string) error) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	prompt := userPrompt
	var lastValidationErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if g.breaker != nil && !g.breaker.Allow() {
			return "", fmt.Errorf("llmgateway: circuit open: %w", ErrSchemaFailure)
		}
		raw, err := g.client.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			if g.breaker != nil {
				g.breaker.RecordResult(false)
			}
			lastValidationErr = err
			continue
		}
		if verr := validate(raw); verr != nil {
			if g.breaker != nil {
				g.breaker.RecordResult(false)
			}
			lastValidationErr = verr
			prompt = fmt.Sprintf("%s\n\nYour previous response was invalid: %v\nRespond again, correcting the error.", userPrompt, verr)
			continue
		}
		if g.breaker != nil {
			g.breaker.RecordResult(true)
		}
		return raw, nil
	}
	return "", fmt.Errorf("%w: last error: %v", ErrSchemaFailure, lastValidationErr)
}
