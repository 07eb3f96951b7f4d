// Package backend tracks the runtime state of every upstream instance
// and selects the instance that serves each request.
//
// The Registry is built once from an immutable service table. Route
// handlers call Pick to choose an upstream, then BeginHTTP, BeginSSE or
// BeginWebSocket to obtain a single-use handle that reports the outcome
// back into the registry:
//
//	url, ok := registry.Pick("users")
//	if !ok {
//	    // unknown service
//	}
//	rc := registry.BeginHTTP("users", url)
//	defer rc.Finish(status, latency)
//
// Selection prefers the least loaded upstream (in-flight requests
// weighted over latency) among those whose circuit is closed. A circuit
// opens for a fixed period after repeated failures inside a sliding
// window and closes again on the first success.
package backend
