// Package progress turns rip status notifications into batched events and
// fans them out to sinks (logs, Prometheus, the progress store, Pub/Sub and
// the blob mirror).
package progress
