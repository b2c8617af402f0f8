// Package sinks implements concrete terminal-event consumers: Prometheus
// collectors, audit-store persistence, Pub/Sub notification, structured
// logging, and the credit biller adapter. Each sink satisfies the events.Sink
// interface and is safe for repeated Consume/Close cycles.
package sinks
