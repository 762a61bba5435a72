package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerScope = "StableLedger"

// Tracer returns the component tracer from the global provider. Spans are
// no-ops until a provider SDK is installed by the binary.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(tracerScope + "/" + component)
}
