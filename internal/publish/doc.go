// Package publish mirrors detected catalog changes to the Eldorado
// offers API. New products become create calls, price moves and edits
// become partial updates, removals become deletes. Publishing is best
// effort; the dispatcher logs failures and never blocks notification
// delivery on them.
package publish
