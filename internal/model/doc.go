// Package model defines the shared domain types for the seller catalog
// monitor: raw fetch results, persisted product records, price history,
// change events, and the ChangeSet produced by the diff engine.
//
// Types here carry no behavior beyond small derivations (percent change,
// payload encoding). All persistence and diff logic lives in the store
// and diff packages.
package model
