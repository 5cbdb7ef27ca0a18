package googletasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/tasksync/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"
)

func TestMapError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: 401}, provider.ErrAuthExpired},
		{"forbidden", &googleapi.Error{Code: 403}, provider.ErrAuthExpired},
		{"rate limited 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, provider.ErrProviderUnavailable},
		{"not found", &googleapi.Error{Code: 404}, provider.ErrNotFound},
		{"precondition", &googleapi.Error{Code: 412}, provider.ErrConflict},
		{"conflict", &googleapi.Error{Code: 409}, provider.ErrConflict},
		{"bad request", &googleapi.Error{Code: 400}, provider.ErrMalformed},
		{"too many requests", &googleapi.Error{Code: 429}, provider.ErrProviderUnavailable},
		{"server error", &googleapi.Error{Code: 503}, provider.ErrProviderUnavailable},
		{"transport", errors.New("connection reset"), provider.ErrProviderUnavailable},
		{"cancelled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}
}

func newServerClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewAPIClient(context.Background(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}),
		rate.NewLimiter(rate.Inf, 1),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return client
}

func TestListTasksFollowsPages(t *testing.T) {
	var pages []string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/lists/L1/tasks"), r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("showCompleted"))
		token := r.URL.Query().Get("pageToken")
		pages = append(pages, token)

		w.Header().Set("Content-Type", "application/json")
		if token == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items":         []map[string]any{{"id": "a", "title": "A", "updated": "2026-01-01T00:00:00.000Z"}},
				"nextPageToken": "p2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "b", "title": "B", "updated": "2026-01-02T00:00:00.000Z"}},
		})
	})

	items, err := client.ListTasks(context.Background(), "L1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Id)
	assert.Equal(t, "b", items[1].Id)
	assert.Equal(t, []string{"", "p2"}, pages)
}

func TestUpdateTaskSendsIfMatch(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Match") != `"e1"` {
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = w.Write([]byte(`{"error":{"code":412,"message":"precondition failed"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"a","title":"A2","updated":"2026-01-03T00:00:00.000Z"}`))
	})

	body := &tasks.Task{Id: "a", Title: "A2"}
	updated, err := client.UpdateTask(context.Background(), "L1", body, `"e1"`)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-03T00:00:00.000Z", updated.Updated)

	_, err = client.UpdateTask(context.Background(), "L1", body, `"stale"`)
	assert.ErrorIs(t, err, provider.ErrConflict)
}

func TestDeleteTaskNotFound(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	})

	err := client.DeleteTask(context.Background(), "L1", "zzz")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}
