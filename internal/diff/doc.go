// Package diff implements the Diff Engine: a pure function from
// (previous active records, new observation) to a ChangeSet.
//
// The engine never touches storage. It returns a descriptive ChangeSet
// that only the dispatcher applies, keeping diff computation
// side-effect-free and deterministic for identical inputs.
package diff
