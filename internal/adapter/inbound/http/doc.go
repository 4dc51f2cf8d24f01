// Package http provides the streaming HTTP transport for agentrelay.
//
// This package implements the inbound HTTP channel: request envelopes on
// POST, a server-push SSE stream on GET, and session termination on
// DELETE, with session affinity carried in the Mcp-Session-Id header.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	transport := http.NewTransport(dispatcher, sessions, registry,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /mcp    - Send a request envelope, receive a response envelope
//	GET /mcp     - Open the SSE stream bound to an existing session
//	DELETE /mcp  - Terminate the session and close its bindings
//	OPTIONS /mcp - CORS preflight handling
//	GET /healthz - Process status, uptime, and store reachability
//	GET /metrics - Prometheus scrape endpoint
//
// # Request Headers
//
//	Mcp-Session-Id: <session-id>   - Session identifier for stateful requests
//	Content-Type: application/json - Required for POST requests
//	X-Request-ID: <id>             - Optional correlation id, generated if absent
//
// An initialize request without a session header creates a session; its id
// comes back in the Mcp-Session-Id response header. Any other request
// naming an unknown or expired session is refused - a stale id is never
// replaced with a fresh session behind the caller's back.
//
// # Status Mapping
//
// Malformed envelopes answer 400, unresolvable sessions 404, store and
// internal failures 500. Handler-level JSON-RPC errors ride a 200; the
// envelope in the body is authoritative either way. Notifications answer
// 202 with no body.
//
// # Server-Push Stream
//
// GET opens an SSE stream bound to the session under the stream channel
// kind. At most one stream per session exists: a second GET evicts and
// closes the first. Disconnects unbind synchronously.
//
// # Security Features
//
//   - TLS 1.2 minimum when HTTPS is enabled via WithTLS
//   - DNS rebinding protection: Origin header validation via WithAllowedOrigins
//   - Real IP extraction from X-Forwarded-For/X-Real-IP
package http
