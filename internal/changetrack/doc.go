// Package changetrack records local task mutations as a dirty flag plus a
// strictly increasing revision, and provides the compare-and-clear used by
// sync passes so an edit made while a push is in flight is never lost.
//
// All transitions on one task's dirty/revision pair are serialized through a
// per-task lock; unrelated tasks never contend.
package changetrack
