// Package caldav implements the provider adapter for CalDAV task lists.
//
// Items are VTODO resources addressed by href. The list-level change marker
// is the collection sync-token (RFC 6578) and per-item version markers are
// ETags, which carry no order.
package caldav
