package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/biaslens/internal/adapters/config"
	"github.com/selivandex/biaslens/pkg/logger"
	"github.com/selivandex/biaslens/pkg/models"
)

const (
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL  = "https://oauth.reddit.com"

	maxRetries     = 4
	baseDelay      = 500 * time.Millisecond
	maxDelay       = 8 * time.Second
	maxCommentCap  = 20
	threadListCap  = 50
	threadDepthCap = 1
)

// Client fetches subreddit post listings and discussion threads from
// the Reddit OAuth API.
type Client struct {
	cfg    *config.RedditConfig
	http   *http.Client
	tokens *tokenManager
	apiURL string

	// injectable for tests
	sleep     func(time.Duration)
	randFloat func() float64
}

// NewClient creates new Reddit client
func NewClient(cfg *config.RedditConfig) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &Client{
		cfg:       cfg,
		http:      httpClient,
		tokens:    newTokenManager(cfg, httpClient, defaultAuthURL),
		apiURL:    defaultAPIURL,
		sleep:     time.Sleep,
		randFloat: rand.Float64,
	}
}

// GetTopPosts fetches the ranked post listing for a subreddit.
// Errors here are fatal to the run.
func (c *Client) GetTopPosts(ctx context.Context, subreddit string, limit int, window string) ([]models.Post, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with reddit: %w", err)
	}

	apiURL := fmt.Sprintf("%s/r/%s/top.json?limit=%d&t=%s", c.apiURL, subreddit, limit, window)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subreddit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("subreddit request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data struct {
			Children []struct {
				Data struct {
					Title       string `json:"title"`
					URL         string `json:"url"`
					Permalink   string `json:"permalink"`
					Author      string `json:"author"`
					Score       int    `json:"score"`
					NumComments int    `json:"num_comments"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode subreddit response: %w", err)
	}

	posts := make([]models.Post, 0, len(result.Data.Children))
	for _, child := range result.Data.Children {
		d := child.Data
		posts = append(posts, models.Post{
			Title:       d.Title,
			URL:         d.URL,
			Permalink:   d.Permalink,
			Author:      d.Author,
			Score:       d.Score,
			NumComments: d.NumComments,
		})
	}

	logger.Debug("fetched subreddit posts",
		zap.String("subreddit", subreddit),
		zap.Int("count", len(posts)),
	)

	return posts, nil
}

// GetThreadComments fetches up to 20 top-level comment bodies for one
// post, retrying with exponential backoff and rate-limit awareness.
// Returns nil on any unrecoverable failure: a missing thread degrades
// the item, it never aborts the run.
func (c *Client) GetThreadComments(ctx context.Context, permalink string, timeout time.Duration) []string {
	apiURL := fmt.Sprintf("%s%s.json?limit=%d&depth=%d", c.apiURL, permalink, threadListCap, threadDepthCap)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		raw, status, headers, err := c.fetchOnce(ctx, apiURL, timeout)
		if err != nil {
			if attempt < maxRetries {
				c.sleep(c.jitter(backoff(attempt)))
				continue
			}
			return nil
		}

		if status == http.StatusOK {
			return extractCommentBodies(raw)
		}

		remaining := headerNum(headers, "x-ratelimit-remaining")
		resetSec := headerNum(headers, "x-ratelimit-reset")
		rateLimited := status == http.StatusTooManyRequests || (remaining != nil && *remaining <= 1)

		if rateLimited && attempt < maxRetries {
			wait := backoff(attempt)
			if resetSec != nil && *resetSec > 0 {
				// Provider reset hint beats exponential backoff
				wait = time.Duration(*resetSec * float64(time.Second))
			}
			wait = c.jitter(wait)
			logger.Warn("reddit thread fetch rate limited, backing off",
				zap.String("permalink", permalink),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1),
			)
			c.sleep(wait)
			continue
		}

		if status >= 500 && attempt < maxRetries {
			c.sleep(c.jitter(backoff(attempt)))
			continue
		}

		return nil
	}

	return nil
}

// fetchOnce performs a single bounded attempt against the thread endpoint
func (c *Client) fetchOnce(ctx context.Context, apiURL string, timeout time.Duration) ([]byte, int, http.Header, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}

	return body, resp.StatusCode, resp.Header, nil
}

// extractCommentBodies pulls top-level comment bodies out of a thread
// listing. The thread JSON is a two-element array: the post listing
// followed by the comment listing.
func extractCommentBodies(raw []byte) []string {
	var listings []struct {
		Data struct {
			Children []struct {
				Kind string `json:"kind"`
				Data struct {
					Body string `json:"body"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &listings); err != nil || len(listings) < 2 {
		return nil
	}

	bodies := make([]string, 0, maxCommentCap)
	for _, child := range listings[1].Data.Children {
		if child.Kind != "t1" || child.Data.Body == "" {
			continue
		}
		bodies = append(bodies, child.Data.Body)
		if len(bodies) >= maxCommentCap {
			break
		}
	}
	return bodies
}

func backoff(attempt int) time.Duration {
	d := baseDelay << uint(attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// jitter randomizes a delay by a multiplicative factor in [0.85, 1.15]
func (c *Client) jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.85 + c.randFloat()*0.3))
}

func headerNum(h http.Header, key string) *float64 {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &n
}
