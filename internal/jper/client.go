package jper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultPageSize = 100

// ClientError is returned for any transport or protocol failure while talking
// to the JPER API. The deposit engine treats these differently from deposit
// failures: the account's cursor is saved and the error is propagated to the
// run driver.
type ClientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("jper %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("jper %s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Config holds the connection parameters for the JPER API.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Content links whose URL starts with one of RewriteHosts are fetched
	// from InternalHost instead. Disabled when InternalHost is empty.
	RewriteHosts []string
	InternalHost string
}

// Client talks to the JPER notifications API on behalf of one account.
type Client struct {
	baseURL      string
	apiKey       string
	rewriteHosts []string
	internalHost string
	httpClient   *http.Client
	logger       *zap.Logger
}

// New creates a JPER client authenticating with the given account API key.
func New(cfg Config, apiKey string, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       apiKey,
		rewriteHosts: cfg.RewriteHosts,
		internalHost: cfg.InternalHost,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// RewriteURL applies the configured host substitution to a content URL so the
// payload is fetched from the internal mirror.
func (c *Client) RewriteURL(u string) string {
	if c.internalHost == "" {
		return u
	}
	for _, host := range c.rewriteHosts {
		if strings.HasPrefix(u, host) {
			return c.internalHost + strings.TrimPrefix(u, host)
		}
	}
	return u
}

// IterateNotifications returns an iterator over the notifications routed to
// the given repository since the given date, in the order the API returns
// them. Pages are fetched lazily.
func (c *Client) IterateNotifications(ctx context.Context, since time.Time, repositoryID string) *NotificationIterator {
	return &NotificationIterator{
		client:       c,
		ctx:          ctx,
		since:        since,
		repositoryID: repositoryID,
		page:         1,
	}
}

// GetNotification fetches a single notification by id. Returns (nil, nil)
// when the notification does not exist.
func (c *Client) GetNotification(ctx context.Context, id string) (*Notification, error) {
	u := fmt.Sprintf("%s/notification/%s?api_key=%s", c.baseURL, url.PathEscape(id), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ClientError{Op: "get notification", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ClientError{Op: "get notification", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{Op: "get notification", StatusCode: resp.StatusCode}
	}

	var note Notification
	if err := json.NewDecoder(resp.Body).Decode(&note); err != nil {
		return nil, &ClientError{Op: "get notification", Err: err}
	}

	return &note, nil
}

// GetContent streams the content behind a notification link, applying the
// configured host rewrite first. The caller owns the returned body.
func (c *Client) GetContent(ctx context.Context, contentURL string) (io.ReadCloser, http.Header, error) {
	u := c.RewriteURL(contentURL)
	if strings.Contains(u, "?") {
		u += "&api_key=" + url.QueryEscape(c.apiKey)
	} else {
		u += "?api_key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, &ClientError{Op: "get content", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &ClientError{Op: "get content", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, &ClientError{Op: "get content", StatusCode: resp.StatusCode}
	}

	return resp.Body, resp.Header, nil
}

func (c *Client) listPage(ctx context.Context, since time.Time, repositoryID string, page int) (*notificationList, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(defaultPageSize))

	u := fmt.Sprintf("%s/routed/%s?%s", c.baseURL, url.PathEscape(repositoryID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ClientError{Op: "list notifications", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ClientError{Op: "list notifications", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{Op: "list notifications", StatusCode: resp.StatusCode}
	}

	var list notificationList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &ClientError{Op: "list notifications", Err: err}
	}

	return &list, nil
}

// NotificationIterator walks the paged notification listing. Use like
// bufio.Scanner: call Next until it returns false, then check Err.
type NotificationIterator struct {
	client       *Client
	ctx          context.Context
	since        time.Time
	repositoryID string

	page    int
	buf     []Notification
	idx     int
	seen    int
	total   int
	started bool
	done    bool
	err     error
	current *Notification
}

// Next advances to the next notification, fetching the next page when the
// current one is exhausted.
func (it *NotificationIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	if it.idx >= len(it.buf) {
		if it.started && it.seen >= it.total {
			it.done = true
			return false
		}

		list, err := it.client.listPage(it.ctx, it.since, it.repositoryID, it.page)
		if err != nil {
			it.err = err
			return false
		}

		it.started = true
		it.total = list.Total
		it.buf = list.Notifications
		it.idx = 0
		it.page++

		if len(it.buf) == 0 {
			it.done = true
			return false
		}
	}

	it.current = &it.buf[it.idx]
	it.idx++
	it.seen++
	return true
}

// Notification returns the notification advanced to by the last Next call.
func (it *NotificationIterator) Notification() *Notification {
	return it.current
}

// Err returns the first transport error encountered during iteration.
func (it *NotificationIterator) Err() error {
	return it.err
}
