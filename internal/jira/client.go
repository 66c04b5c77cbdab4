package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/config"
	"github.com/satyaki-up/trendboard/internal/issues"
)

// MaxPageSize is the largest page the tracker serves for a search.
const MaxPageSize = 200

const issueFields = "summary,status,assignee,labels,created,updated,project,issuetype,issuelinks,comment"

// APIError is a non-2xx answer from the tracker.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira api status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == issues.ErrNotFound && e.StatusCode == http.StatusNotFound
}

type SearchPage struct {
	StartAt int
	Total   int
	Issues  []issues.Issue
}

type Client struct {
	baseURL    string
	token      string
	user       string
	pass       string
	apiVer     string
	http       *http.Client
	log        zerolog.Logger
	attempts   int
	retryDelay time.Duration
}

func NewClient(cfg config.JiraConfig, log zerolog.Logger) *Client {
	ver := cfg.APIVersion
	if ver == "" {
		ver = "2"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.PAT,
		user:       cfg.User,
		pass:       cfg.APIToken,
		apiVer:     ver,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        log,
		attempts:   3,
		retryDelay: 300 * time.Millisecond,
	}
}

// Search runs a JQL query and returns one page of normalized issues.
func (c *Client) Search(ctx context.Context, jql string, startAt, max int) (*SearchPage, error) {
	if strings.TrimSpace(jql) == "" {
		return nil, fmt.Errorf("%w: empty jql", issues.ErrInvalidInput)
	}
	if max <= 0 || max > MaxPageSize {
		max = MaxPageSize
	}

	var raw rawSearch
	if c.apiVer == "3" {
		body := map[string]any{
			"jql":        jql,
			"startAt":    startAt,
			"maxResults": max,
			"fields":     strings.Split(issueFields, ","),
		}
		if err := c.doJSON(ctx, http.MethodPost, c.apiURL("/rest/api/3/search", nil), body, &raw); err != nil {
			return nil, err
		}
	} else {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("startAt", fmt.Sprint(startAt))
		q.Set("maxResults", fmt.Sprint(max))
		q.Set("fields", issueFields)
		if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/search", q), nil, &raw); err != nil {
			return nil, err
		}
	}

	page := &SearchPage{StartAt: raw.StartAt, Total: raw.Total, Issues: make([]issues.Issue, 0, len(raw.Issues))}
	for _, ri := range raw.Issues {
		page.Issues = append(page.Issues, ri.toIssue(false))
	}
	return page, nil
}

// Issue fetches one issue with its links. With expandChangelog the returned
// issue carries a non-nil Changelog, possibly empty.
func (c *Client) Issue(ctx context.Context, key string, expandChangelog bool) (*issues.Issue, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty issue key", issues.ErrInvalidInput)
	}
	q := url.Values{}
	q.Set("fields", issueFields)
	if expandChangelog {
		q.Set("expand", "changelog")
	}
	var raw rawIssue
	path := "/rest/api/" + c.apiVer + "/issue/" + url.PathEscape(key)
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL(path, q), nil, &raw); err != nil {
		return nil, err
	}
	is := raw.toIssue(expandChangelog)
	return &is, nil
}

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

func (c *Client) doJSON(ctx context.Context, method, u string, body any, out any) error {
	if c.baseURL == "" {
		return errors.New("jira: empty base url")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		retry, err := c.once(ctx, method, u, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}
		c.log.Debug().Err(err).Str("url", u).Int("attempt", attempt+1).Msg("jira: retrying")
	}
	return lastErr
}

// once performs a single request. retry reports whether the failure is worth
// another attempt (transport errors, 429, 5xx).
func (c *Client) once(ctx context.Context, method, u string, payload []byte, out any) (retry bool, err error) {
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" && c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, apiErr
	}
	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("jira: decode %s: %w", u, err)
	}
	return false, nil
}
