package caldav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/phrazzld/tasksync/internal/provider"
)

const maxResponseBytes = 16 << 20

type syncCollectionRequest struct {
	XMLName   xml.Name   `xml:"DAV: sync-collection"`
	SyncToken string     `xml:"DAV: sync-token"`
	SyncLevel string     `xml:"DAV: sync-level"`
	Prop      reportProp `xml:"DAV: prop"`
}

type reportProp struct {
	GetETag      *struct{} `xml:"DAV: getetag"`
	CalendarData *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
}

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
	SyncToken string     `xml:"DAV: sync-token"`
}

type response struct {
	Href     string     `xml:"DAV: href"`
	Status   string     `xml:"DAV: status"`
	Propstat []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Status string `xml:"DAV: status"`
	Prop   struct {
		ETag         string `xml:"DAV: getetag"`
		CalendarData string `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	} `xml:"DAV: prop"`
}

type httpClient struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
}

// NewHTTPClient creates a Client talking to the CalDAV server at baseURL
// with basic authentication.
func NewHTTPClient(baseURL, username, password string, hc *http.Client) (Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid CalDAV base URL %q", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &httpClient{base: base, username: username, password: password, http: hc}, nil
}

func (c *httpClient) SyncCollection(ctx context.Context, collection, token string) (*SyncResult, error) {
	body, err := xml.Marshal(syncCollectionRequest{
		SyncToken: token,
		SyncLevel: "1",
		Prop:      reportProp{GetETag: &struct{}{}, CalendarData: &struct{}{}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync-collection report: %w", err)
	}

	resp, data, err := c.do(ctx, "REPORT", collection, append([]byte(xml.Header), body...), map[string]string{
		"Content-Type": "application/xml; charset=utf-8",
		"Depth":        "1",
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, statusError("REPORT", collection, resp.StatusCode, data)
	}

	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("%w: sync-collection response: %v", provider.ErrMalformed, err)
	}

	self := c.resolve(collection).Path
	res := &SyncResult{Token: ms.SyncToken}
	for _, r := range ms.Responses {
		href := r.Href
		if u, err := url.Parse(href); err == nil {
			href = u.Path
		}
		if strings.TrimSuffix(href, "/") == strings.TrimSuffix(self, "/") {
			continue
		}
		if statusCode(r.Status) == http.StatusNotFound {
			res.Deleted = append(res.Deleted, href)
			continue
		}
		for _, ps := range r.Propstat {
			if statusCode(ps.Status) != http.StatusOK || ps.Prop.CalendarData == "" {
				continue
			}
			res.Updated = append(res.Updated, Object{
				Href: href,
				ETag: ps.Prop.ETag,
				Data: []byte(ps.Prop.CalendarData),
			})
		}
	}
	return res, nil
}

func (c *httpClient) Get(ctx context.Context, href string) (*Object, error) {
	resp, data, err := c.do(ctx, http.MethodGet, href, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(http.MethodGet, href, resp.StatusCode, data)
	}
	return &Object{Href: href, ETag: resp.Header.Get("ETag"), Data: data}, nil
}

func (c *httpClient) Put(ctx context.Context, href string, data []byte, ifMatch string, ifNoneMatch bool) (string, error) {
	headers := map[string]string{"Content-Type": "text/calendar; charset=utf-8"}
	if ifMatch != "" {
		headers["If-Match"] = ifMatch
	}
	if ifNoneMatch {
		headers["If-None-Match"] = "*"
	}

	resp, body, err := c.do(ctx, http.MethodPut, href, data, headers)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		return "", statusError(http.MethodPut, href, resp.StatusCode, body)
	}

	if etag := resp.Header.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
		return etag, nil
	}
	// Servers that rewrite the object return no strong ETag.
	obj, err := c.Get(ctx, href)
	if err != nil {
		return "", err
	}
	return obj.ETag, nil
}

func (c *httpClient) Delete(ctx context.Context, href, ifMatch string) error {
	var headers map[string]string
	if ifMatch != "" {
		headers = map[string]string{"If-Match": ifMatch}
	}
	resp, body, err := c.do(ctx, http.MethodDelete, href, nil, headers)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusAccepted:
		return nil
	default:
		return statusError(http.MethodDelete, href, resp.StatusCode, body)
	}
}

func (c *httpClient) resolve(href string) *url.URL {
	ref, err := url.Parse(href)
	if err != nil {
		ref = &url.URL{Path: href}
	}
	return c.base.ResolveReference(ref)
}

func (c *httpClient) do(ctx context.Context, method, href string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(href).String(), reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, provider.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, provider.Classify(err)
	}
	return resp, data, nil
}

// statusError maps an unexpected HTTP status onto the provider taxonomy.
func statusError(method, href string, status int, body []byte) error {
	var kind error
	switch {
	case (status == http.StatusForbidden || status == http.StatusConflict || status == http.StatusGone) &&
		bytes.Contains(body, []byte("valid-sync-token")):
		kind = ErrInvalidSyncToken
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = provider.ErrAuthExpired
	case status == http.StatusNotFound || status == http.StatusGone:
		kind = provider.ErrNotFound
	case status == http.StatusPreconditionFailed || status == http.StatusConflict:
		kind = provider.ErrConflict
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType ||
		status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		kind = provider.ErrMalformed
	default:
		kind = provider.ErrProviderUnavailable
	}
	return fmt.Errorf("%w: %s %s: HTTP %d", kind, method, href, status)
}

// statusCode extracts the code of a "HTTP/1.1 200 OK" status line.
func statusCode(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	var code int
	_, _ = fmt.Sscanf(fields[1], "%d", &code)
	return code
}
