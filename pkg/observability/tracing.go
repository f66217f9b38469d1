// Package observability exposes the otel tracer used around provider
// calls. The process wires a real provider; by default spans are no-ops.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanLLMRequest = "llm.request"
	SpanRoute      = "router.route"
)

// Attribute keys.
const (
	AttrLLMModel        = "llm.model"
	AttrLLMProvider     = "llm.provider"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrLLMCostUSD      = "llm.cost_usd"
)

// GetTracer returns a tracer scoped to the given component name.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
