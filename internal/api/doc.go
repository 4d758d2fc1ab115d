// Package api implements the HTTP REST API and WebSocket server for the
// Ariston bridge.
//
// This package provides:
//   - REST endpoints for reading the parameter cache and submitting sets
//   - Set history queries backed by the history store
//   - WebSocket hub streaming parameter.changed events
//   - Role-based JWT authorisation (viewer, operator, admin)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// With security.jwt.secret unset every endpoint is open. With a secret,
// POST /parameters needs a role granting ariston:write, GET /history needs
// ariston:history and POST /tokens needs ariston:admin. Parameter reads,
// health and the WebSocket stream stay open.
//
// # Graceful Degradation
//
// The server works without a history store; /history then answers 503.
package api
