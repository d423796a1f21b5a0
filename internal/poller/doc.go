// Package poller drives the observe-diff-dispatch cycle. On every
// tick it fetches each configured seller's catalog with bounded
// concurrency, diffs it against stored state and hands the resulting
// change set to the dispatcher. A seller is never observed by two
// overlapping cycles, failed fetches skip the seller rather than
// diffing an empty catalog, and sellers whose stored state conflicts
// with an apply are quarantined until an operator clears them.
package poller
