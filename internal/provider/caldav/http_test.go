package caldav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multistatusBody = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/tasks/</d:href>
    <d:propstat><d:prop><d:getetag>"coll"</d:getetag></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/tasks/a.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"e1"</d:getetag>
        <c:calendar-data>BEGIN:VCALENDAR
BEGIN:VTODO
UID:a
SUMMARY:First
END:VTODO
END:VCALENDAR
</c:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>https://dav.example.com/dav/tasks/gone.ics</d:href>
    <d:status>HTTP/1.1 404 Not Found</d:status>
  </d:response>
  <d:sync-token>http://example.com/sync/7</d:sync-token>
</d:multistatus>`

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(srv.URL, "alice", "secret", srv.Client())
	require.NoError(t, err)
	return client
}

func TestSyncCollectionParsesMultistatus(t *testing.T) {
	var gotBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "REPORT", r.Method)
		assert.Equal(t, "/dav/tasks/", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(multistatusBody))
	})

	res, err := client.SyncCollection(context.Background(), "/dav/tasks/", "http://example.com/sync/6")
	require.NoError(t, err)

	assert.Contains(t, gotBody, "sync-collection")
	assert.Contains(t, gotBody, "http://example.com/sync/6")
	assert.Equal(t, "http://example.com/sync/7", res.Token)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, "/dav/tasks/a.ics", res.Updated[0].Href)
	assert.Equal(t, `"e1"`, res.Updated[0].ETag)
	assert.Contains(t, string(res.Updated[0].Data), "SUMMARY:First")
	assert.Equal(t, []string{"/dav/tasks/gone.ics"}, res.Deleted)
}

func TestSyncCollectionInvalidToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<d:error xmlns:d="DAV:"><d:valid-sync-token/></d:error>`))
	})

	_, err := client.SyncCollection(context.Background(), "/dav/tasks/", "old")
	assert.ErrorIs(t, err, ErrInvalidSyncToken)
}

func TestPutSendsPreconditions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Header.Get("If-None-Match") == "*":
			assert.Equal(t, "text/calendar; charset=utf-8", r.Header.Get("Content-Type"))
			w.Header().Set("ETag", `"new"`)
			w.WriteHeader(http.StatusCreated)
		case r.Header.Get("If-Match") == `"stale"`:
			w.WriteHeader(http.StatusPreconditionFailed)
		default:
			t.Errorf("unexpected request headers %v", r.Header)
		}
	})

	etag, err := client.Put(context.Background(), "/dav/tasks/x.ics", []byte("BEGIN:VCALENDAR"), "", true)
	require.NoError(t, err)
	assert.Equal(t, `"new"`, etag)

	_, err = client.Put(context.Background(), "/dav/tasks/x.ics", []byte("BEGIN:VCALENDAR"), `"stale"`, false)
	assert.ErrorIs(t, err, provider.ErrConflict)
}

func TestPutWithoutETagFetchesIt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("ETag", `"fetched"`)
		_, _ = w.Write([]byte("BEGIN:VCALENDAR"))
	})

	etag, err := client.Put(context.Background(), "/dav/tasks/x.ics", []byte("x"), `"old"`, false)
	require.NoError(t, err)
	assert.Equal(t, `"fetched"`, etag)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, "", provider.ErrAuthExpired},
		{http.StatusForbidden, "", provider.ErrAuthExpired},
		{http.StatusNotFound, "", provider.ErrNotFound},
		{http.StatusPreconditionFailed, "", provider.ErrConflict},
		{http.StatusBadRequest, "", provider.ErrMalformed},
		{http.StatusUnsupportedMediaType, "", provider.ErrMalformed},
		{http.StatusTooManyRequests, "", provider.ErrProviderUnavailable},
		{http.StatusBadGateway, "", provider.ErrProviderUnavailable},
		{http.StatusGone, "valid-sync-token", ErrInvalidSyncToken},
	}
	for _, tt := range tests {
		err := statusError("GET", "/x", tt.status, []byte(tt.body))
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestDeleteAndGetNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.ics") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, `"e1"`, r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Delete(context.Background(), "/dav/tasks/a.ics", `"e1"`))
	assert.ErrorIs(t, client.Delete(context.Background(), "/dav/tasks/missing.ics", ""), provider.ErrNotFound)
	_, err := client.Get(context.Background(), "/dav/tasks/missing.ics")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewHTTPClient(url, "", "", nil)
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "/dav/tasks/a.ics")
	assert.ErrorIs(t, err, provider.ErrProviderUnavailable)
}

func TestNewHTTPClientRejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPClient("/just/a/path", "", "", nil)
	assert.Error(t, err)
}
