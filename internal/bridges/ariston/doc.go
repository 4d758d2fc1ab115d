// Package ariston keeps a local, always-readable copy of an Ariston boiler's
// state in sync with the vendor's remotethermo cloud service.
//
// # Architecture
//
//	┌─────────────────┐   MQTT   ┌─────────────────┐   HTTPS   ┌──────────────┐
//	│  Home automation│◄────────►│  Bridge/Engine  │◄─────────►│ remotethermo │
//	└─────────────────┘          └─────────────────┘           └──────────────┘
//
// The Engine owns every moving part:
//
//   - Client talks to the remote API (cookie session, per-request timeout,
//     HTTP status classified into the error taxonomy in errors.go)
//   - Catalog maps parameter names to remote item ids, expanding zoned
//     parameters once per heating zone
//   - Cache holds the last known Entry per key, guarded by a single RWMutex
//   - the poll loop refreshes the main dataset every period and the
//     secondary datasets (errors, schedules, energy) on slower cadences
//   - Set writes parameters with an optimistic cache update, compare-and-set
//     payloads, bounded retry of transport failures and a refresh after a
//     stale write
//
// Bridge exposes an Engine over MQTT and HealthReporter publishes a retained
// health message.
//
// # Topics
//
//	ariston/command/{bridge}/set        commands in
//	ariston/ack/{bridge}/{command_id}   per-command acknowledgment
//	ariston/state/{bridge}/{key}        retained state per parameter
//	ariston/health/{bridge}             retained health
//
// # Thread Safety
//
// Engine, Cache, Catalog and Bridge are safe for concurrent use. Writes to the
// same parameter are serialised; writes to different parameters run in
// parallel.
package ariston
