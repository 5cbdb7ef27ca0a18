// Package reconcile runs one bidirectional sync pass for a bound list:
// pull remote changes, resolve them against local state, push local
// changes and pending deletions, then commit the new change marker.
//
// A pass is a state machine:
//
//	Idle → PullStarted → PullApplied → PushStarted → PushApplied → Committed
//
// with Failed reachable from every non-terminal state. The list marker and
// remote snapshot are committed only at the end, so an aborted pass leaves
// the store valid and the next pass simply starts over from the old marker.
package reconcile
