package caldav

import (
	"context"
	"errors"
)

// ErrInvalidSyncToken is returned when the server no longer accepts a
// sync-token and the collection must be enumerated again.
var ErrInvalidSyncToken = errors.New("sync token rejected by server")

// Object is one calendar resource.
type Object struct {
	Href string
	ETag string
	Data []byte
}

// SyncResult is the response to a sync-collection report.
type SyncResult struct {
	Token   string
	Updated []Object
	Deleted []string
}

// Client is the WebDAV surface the adapter needs. Errors are classified
// into the provider taxonomy.
type Client interface {
	// SyncCollection reports changes since token; an empty token
	// enumerates the whole collection.
	SyncCollection(ctx context.Context, collection, token string) (*SyncResult, error)

	// Get fetches one resource.
	Get(ctx context.Context, href string) (*Object, error)

	// Put writes a resource and returns its new ETag. A non-empty ifMatch
	// requires the current ETag to match; ifNoneMatch requires the
	// resource not to exist.
	Put(ctx context.Context, href string, data []byte, ifMatch string, ifNoneMatch bool) (string, error)

	// Delete removes a resource, guarded by ifMatch when non-empty.
	Delete(ctx context.Context, href, ifMatch string) error
}
