// Package api is the HTTP client for the Driftwood server: topic lists,
// topic views, post batches, and the initial tracking-state bootstrap.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftwood-forum/driftwood/internal/logging"
	"github.com/driftwood-forum/driftwood/internal/models"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Error is a failed API call with the HTTP status the server returned.
type Error struct {
	Status int
	Path   string
	Body   string
}

func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("api: %s: status %d: %s", e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("api: %s: status %d", e.Path, e.Status)
}

// IsForbidden reports whether the error is an HTTP 403. Forbidden topics
// are rendered without a retry affordance.
func IsForbidden(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden
}

// IsNotFound reports whether the error is an HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. https://forum.example.com.
	BaseURL string
	// APIKey and APIUsername authenticate requests when set.
	APIKey      string
	APIUsername string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Log         zerolog.Logger
}

// Client talks to the Driftwood server. It satisfies stream.Loader.
type Client struct {
	base *url.URL
	http *http.Client
	key  string
	user string
	log  zerolog.Logger
}

// NewClient builds a client for the given server.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q missing scheme or host", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base: base,
		http: hc,
		key:  cfg.APIKey,
		user: cfg.APIUsername,
		log:  cfg.Log,
	}, nil
}

// ViewOpts select the window and filters for a topic view request.
type ViewOpts struct {
	// NearPost centers the window on this post number.
	NearPost int
	// UsernameFilters restricts the stream to the given participants.
	UsernameFilters []string
	// ReplyFilterPostID restricts the stream to replies to the post.
	ReplyFilterPostID int
	// UpwardFilterPostID restricts the stream to the reply chain above
	// the post.
	UpwardFilterPostID int
}

// TrackingStates fetches the initial tracking-state payload for the current
// user: every new or unread topic the server knows about.
func (c *Client) TrackingStates(ctx context.Context) ([]models.TopicState, error) {
	var out struct {
		Data []models.TopicState `json:"data"`
	}
	if err := c.getJSON(ctx, "/topic-tracking-states.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PMTrackingStates fetches the private-message tracking-state payload.
func (c *Client) PMTrackingStates(ctx context.Context) ([]models.TopicState, error) {
	var out struct {
		Data []models.TopicState `json:"data"`
	}
	if err := c.getJSON(ctx, "/pm-tracking-states.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// TopicList fetches a topic list by filter name, e.g. "latest", "new",
// "unread". Params beyond the filter pass through to the server.
func (c *Client) TopicList(ctx context.Context, filter string, params map[string]string) (models.TopicList, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	var out struct {
		TopicList models.TopicList `json:"topic_list"`
	}
	if err := c.getJSON(ctx, "/"+filter+".json", q, &out); err != nil {
		return models.TopicList{}, err
	}
	return out.TopicList, nil
}

// TopicView fetches the topic header, the full post id stream and a window
// of posts near the requested position.
func (c *Client) TopicView(ctx context.Context, topicID int, opts ViewOpts) (models.TopicView, error) {
	path := fmt.Sprintf("/t/%d.json", topicID)
	if opts.NearPost > 0 {
		path = fmt.Sprintf("/t/%d/%d.json", topicID, opts.NearPost)
	}
	q := url.Values{}
	if len(opts.UsernameFilters) > 0 {
		q.Set("username_filters", strings.Join(opts.UsernameFilters, ","))
	}
	if opts.ReplyFilterPostID > 0 {
		q.Set("replies_to_post_id", strconv.Itoa(opts.ReplyFilterPostID))
	}
	if opts.UpwardFilterPostID > 0 {
		q.Set("filter_upwards_post_id", strconv.Itoa(opts.UpwardFilterPostID))
	}
	var out models.TopicView
	if err := c.getJSON(ctx, path, q, &out); err != nil {
		return models.TopicView{}, err
	}
	return out, nil
}

// PostsByIDs fetches a batch of posts by id within a topic.
func (c *Client) PostsByIDs(ctx context.Context, topicID int, ids []int) ([]models.Post, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("post_ids[]", strconv.Itoa(id))
	}
	var out struct {
		Posts []models.Post `json:"posts"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/t/%d/posts.json", topicID), q, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// Categories fetches the category metadata used for subcategory-aware
// counting.
func (c *Client) Categories(ctx context.Context) ([]models.Category, error) {
	var out struct {
		CategoryList struct {
			Categories []models.Category `json:"categories"`
		} `json:"category_list"`
	}
	if err := c.getJSON(ctx, "/categories.json", nil, &out); err != nil {
		return nil, err
	}
	return out.CategoryList.Categories, nil
}

// CurrentUser fetches the logged-in user with the mute rules and group
// memberships the tracking core consults.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var out struct {
		CurrentUser models.User `json:"current_user"`
	}
	if err := c.getJSON(ctx, "/session/current.json", nil, &out); err != nil {
		return nil, err
	}
	return &out.CurrentUser, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.key != "" {
		req.Header.Set("Api-Key", c.key)
		req.Header.Set("Api-Username", c.user)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("api request")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		// Error bodies end up in logs and terminal output; servers have
		// been seen echoing credentials back in them.
		excerpt := logging.Redact(strings.TrimSpace(string(body)))
		return &Error{Status: resp.StatusCode, Path: path, Body: excerpt}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
