package googletasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/tasksync/internal/provider"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"
)

const pageSize = 100

// Client is the part of the Tasks API the adapter uses. Errors are
// classified into the provider taxonomy.
type Client interface {
	ListTasks(ctx context.Context, listID string) ([]*tasks.Task, error)
	GetTask(ctx context.Context, listID, taskID string) (*tasks.Task, error)
	InsertTask(ctx context.Context, listID string, task *tasks.Task) (*tasks.Task, error)
	// UpdateTask replaces a task; a non-empty etag is sent as If-Match.
	UpdateTask(ctx context.Context, listID string, task *tasks.Task, etag string) (*tasks.Task, error)
	DeleteTask(ctx context.Context, listID, taskID string) error
	ListEtag(ctx context.Context, listID string) (string, error)
}

type apiClient struct {
	svc     *tasks.Service
	limiter *rate.Limiter
}

// NewAPIClient creates a Client over the Tasks API. Every request first
// waits on limiter.
func NewAPIClient(ctx context.Context, ts oauth2.TokenSource, limiter *rate.Limiter, opts ...option.ClientOption) (Client, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &apiClient{svc: svc, limiter: limiter}, nil
}

func (c *apiClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return provider.Classify(err)
	}
	return nil
}

func (c *apiClient) ListTasks(ctx context.Context, listID string) ([]*tasks.Task, error) {
	var (
		out   []*tasks.Task
		token string
	)
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		call := c.svc.Tasks.List(listID).
			ShowCompleted(true).
			ShowHidden(true).
			MaxResults(pageSize).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		page, err := call.Do()
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, page.Items...)
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

func (c *apiClient) GetTask(ctx context.Context, listID, taskID string) (*tasks.Task, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	t, err := c.svc.Tasks.Get(listID, taskID).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (c *apiClient) InsertTask(ctx context.Context, listID string, task *tasks.Task) (*tasks.Task, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	t, err := c.svc.Tasks.Insert(listID, task).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (c *apiClient) UpdateTask(ctx context.Context, listID string, task *tasks.Task, etag string) (*tasks.Task, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	call := c.svc.Tasks.Update(listID, task.Id, task).Context(ctx)
	if etag != "" {
		call.Header().Set("If-Match", etag)
	}
	t, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (c *apiClient) DeleteTask(ctx context.Context, listID, taskID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.svc.Tasks.Delete(listID, taskID).Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *apiClient) ListEtag(ctx context.Context, listID string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	l, err := c.svc.Tasklists.Get(listID).Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	return l.Etag, nil
}

// mapError classifies Tasks API errors.
func mapError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return provider.Classify(err)
	}

	var kind error
	switch {
	case gerr.Code == http.StatusForbidden && rateLimited(gerr):
		kind = provider.ErrProviderUnavailable
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		kind = provider.ErrAuthExpired
	case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
		kind = provider.ErrNotFound
	case gerr.Code == http.StatusConflict || gerr.Code == http.StatusPreconditionFailed:
		kind = provider.ErrConflict
	case gerr.Code == http.StatusBadRequest:
		kind = provider.ErrMalformed
	default:
		kind = provider.ErrProviderUnavailable
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
