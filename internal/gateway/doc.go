// Package gateway serves the conversation service to remote callers.
//
// # Overview
//
// Gateway owns the long-lived pieces: the session store, the agent engine,
// the conversation.Service and its record broadcaster, the metrics collector,
// an HTTP server for the API and a gRPC server for health checks.
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// # HTTP API
//
// Every /api route is scoped to the caller's user ID (see package auth).
//
//	POST /api/sessions                 create a session
//	GET  /api/sessions                 list the caller's sessions, newest first
//	GET  /api/sessions/{id}            session with full state
//	GET  /api/sessions/{id}/history    interaction records
//	POST /api/sessions/{id}/turns      {"text": "..."} -> {agent_name, text, html, responded}
//	GET  /api/sessions/{id}/events     SSE stream of newly written records
//
// A turn that produced no answer is still a 200 with "responded": false.
// A turn sent with an Idempotency-Key header runs at most once per session
// and key within server.idempotency_ttl; a failed turn frees its key.
// Errors are JSON bodies {"error": "..."}:
//
//	400  invalid JSON, blank text or an over-long Idempotency-Key
//	401  missing or invalid identity
//	404  session not found
//	409  Idempotency-Key already used for this session
//	502  the agent engine failed
//	504  server.turn_timeout elapsed
//
// # Health
//
//	GET /health     liveness
//	GET /ready      store ping
//	GET /metrics    Prometheus (metrics.enabled)
//
// The gRPC listener serves grpc.health.v1, reporting SERVING for "" and
// HealthService while the gateway runs.
package gateway
