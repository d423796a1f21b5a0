// Package dispatch turns diffed change sets into durable state and
// delivered notifications. The Dispatcher applies a ChangeSet to the
// record store, then pushes the resulting undelivered events through
// the configured sink with at-least-once semantics: an event is
// marked delivered only after the sink accepts it. The Sweeper
// periodically retries events left undelivered by crashes or sink
// outages.
package dispatch
