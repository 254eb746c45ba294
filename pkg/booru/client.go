package booru

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
)

// DefaultBaseURL is the public safebooru endpoint.
const DefaultBaseURL = "https://safebooru.org/index.php"

// ErrSourceFormat reports a payload that is not the expected JSON array
// of posts.
var ErrSourceFormat = errors.New("unexpected source payload format")

// Post is one image post as returned by the source API.
type Post struct {
	ID           int64  `json:"id"`
	PreviewURL   string `json:"preview_url"`
	SampleURL    string `json:"sample_url"`
	Tags         string `json:"tags"`
	Score        int    `json:"score"`
	CommentCount int    `json:"comment_count"`
	Rating       string `json:"rating"`
}

// TagList splits the space-separated tag string into individual tags,
// keeping source order and duplicates. A blank string yields no tags.
func (p Post) TagList() []string {
	return strings.Fields(p.Tags)
}

// Client fetches paginated post metadata from a booru-style API.
type Client struct {
	client   *http.Client
	baseURL  string
	pageSize int
}

// NewClient creates a client for the given endpoint. pageSize controls
// the per-page post limit.
func NewClient(baseURL string, pageSize int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		pageSize: pageSize,
	}
}

// FetchPage returns one page of posts ordered by descending score.
// An empty slice signals the end of upstream content.
func (c *Client) FetchPage(ctx context.Context, page int) ([]Post, error) {
	q := url.Values{}
	q.Set("page", "dapi")
	q.Set("s", "post")
	q.Set("q", "index")
	q.Set("json", "1")
	q.Set("tags", "sort:score:desc")
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("pid", strconv.Itoa(page))

	reqURL := c.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create booru request: %w", err)
	}
	req.Header.Set("User-Agent", "thisorthat/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch booru page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("booru page %d status %d", page, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read booru page %d: %w", page, err)
	}

	// The API answers an empty page with an empty body instead of "[]".
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var posts []Post
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, fmt.Errorf("decode booru page %d: %w", page, ErrSourceFormat)
	}
	return posts, nil
}
