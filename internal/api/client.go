package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tanmoy/chatdump/pkg/models"
)

const (
	defaultBaseURL = "https://api.moescape.ai"
	defaultTimeout = 60 * time.Second

	// Empirically chosen politeness values, not derived from any documented
	// rate limit.
	retryBase   = 2 * time.Second
	retryCap    = 15 * time.Second
	maxAttempts = 6
)

type Config struct {
	BaseURL    string
	Token      string
	TimeoutSec int
	Logger     *slog.Logger
}

// Client talks to the chat API. All endpoints require the user's session, so
// the token is attached to every request. 429 and 5xx responses are retried
// with exponential backoff; any other 4xx except 404 fails immediately.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) ListChats(ctx context.Context, limit, offset int) ([]models.ChatSummary, error) {
	body, err := c.get(ctx, "/v1/chats", pageQuery(limit, offset))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var resp chatListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse chat list: %w", err)
	}

	chats := make([]models.ChatSummary, 0, len(resp.Chats))
	for _, wc := range resp.Chats {
		chats = append(chats, wc.toModel())
	}
	return chats, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages"
	body, err := c.get(ctx, path, pageQuery(limit, offset))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var resp messageListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	msgs := make([]models.Message, 0, len(resp.Messages))
	for _, wm := range resp.Messages {
		msgs = append(msgs, wm.toModel())
	}
	return msgs, nil
}

// Character fetches the character record used for export greetings. A 404
// comes back as empty values, not an error: deleted characters are normal.
func (c *Client) Character(ctx context.Context, characterID string) (name, greeting string, err error) {
	body, err := c.get(ctx, "/v1/characters/"+url.PathEscape(characterID), nil)
	if err != nil {
		return "", "", err
	}
	if len(body) == 0 {
		return "", "", nil
	}

	var resp characterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("failed to parse character: %w", err)
	}
	return resp.CharName, resp.CharGreeting, nil
}

// Download retrieves a binary resource (image file) without retry: download
// failures are counted by the caller, not resolved here.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	backoff := retry.WithCappedDuration(retryCap, retry.NewExponential(retryBase))
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		body, attemptErr = c.doOnce(ctx, u)
		return attemptErr
	})
	if err != nil {
		c.logger.Error("request failed", "url", u, "error", err)
		return nil, fmt.Errorf("%w: GET %s: %v", models.ErrFetchFailed, path, err)
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors are worth another try.
		return nil, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(err)
	}

	c.logger.Debug("request", "url", u, "status", resp.StatusCode, "bytes", len(body))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		// Valid "not found", not an error.
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retry.RetryableError(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
}
