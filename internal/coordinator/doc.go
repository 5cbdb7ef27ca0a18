// Package coordinator schedules sync passes. It enforces at most one
// in-flight pass per list, coalesces triggers that arrive during a pass into
// a single follow-up, retries passes that failed because the provider was
// unavailable, and pauses lists whose credentials expired until they are
// re-authorized.
package coordinator
