// Package googletasks implements the provider adapter for Google Tasks.
//
// The Tasks API has no change feed, so every pull enumerates the list and
// diffs it against the last committed snapshot. Per-item version markers
// are the RFC 3339 "updated" timestamps; the list marker is the task list
// etag.
package googletasks
