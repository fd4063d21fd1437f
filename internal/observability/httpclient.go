package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Instrument wraps base's transport with an otelhttp span-producing
// round tripper, so every outbound call made through the returned client
// shows up in traces without the caller touching the span API directly.
// The REST/scrape adapters, the extractor, the embedding tiers and the LLM
// providers build their own clients and do not pass them through here.
func Instrument(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt)
	return base
}
