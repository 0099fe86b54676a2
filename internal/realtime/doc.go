// Package realtime keeps a client's view of drivers, passengers, replies and
// notifications in sync with the relay over an unreliable connection.
//
// A Manager owns the single channel to the relay and its state machine. A
// Router fans inbound events out to any number of consumers. The Cache holds
// the latest location per entity. Outbound events go through Queue.Send, which
// falls back to a degraded transport and finally to a durable outbox that is
// flushed on every reconnect. A Guard remembers ids the user deleted so that
// replayed events cannot bring them back.
package realtime
