// Package history keeps an audit trail of set requests in SQLite.
//
// Every parameter of every set request produces one Record with the old and
// new value, terminal status, attempt count and source surface. Records are
// written asynchronously by a Recorder registered as an engine set observer,
// and pruned by age. The history is never read back into the state cache.
package history
