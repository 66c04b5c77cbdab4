package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/config"
	"github.com/satyaki-up/trendboard/internal/issues"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.JiraConfig{
		BaseURL:  srv.URL,
		User:     "bot",
		APIToken: "secret",
		Timeout:  5 * time.Second,
	}, zerolog.Nop())
	c.retryDelay = time.Millisecond
	return c
}

const searchBody = `{
  "startAt": 0, "maxResults": 200, "total": 1,
  "issues": [{
    "id": "10001", "key": "TH-1",
    "fields": {
      "summary": "Payments theme",
      "status": {"name": "In Progress"},
      "labels": ["theme"],
      "created": "2024-01-02T10:00:00.000+0000",
      "project": {"key": "TH"},
      "assignee": {"displayName": "Ana", "avatarUrls": {"48x48": "https://a/48.png"}},
      "issuelinks": [
        {"type": {"name": "Relates"}, "outwardIssue": {"key": "MS-1"}},
        {"type": {"name": "Cloners"}, "inwardIssue": {"key": "TH-9"}}
      ]
    }
  }]
}`

func TestSearchNormalizesIssues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("jql"); got != "labels = theme" {
			t.Errorf("jql = %q", got)
		}
		if got := r.URL.Query().Get("maxResults"); got != "200" {
			t.Errorf("maxResults = %q", got)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "bot" || p != "secret" {
			t.Errorf("missing basic auth")
		}
		fmt.Fprint(w, searchBody)
	})

	page, err := c.Search(context.Background(), "labels = theme", 0, 500)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 1 || len(page.Issues) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	is := page.Issues[0]
	if is.Key != "TH-1" || is.ID != "10001" || is.Status != "In Progress" || is.ProjectKey != "TH" {
		t.Fatalf("unexpected issue: %+v", is)
	}
	if is.Assignee == nil || is.Assignee.Name != "Ana" || is.Assignee.Avatar != "https://a/48.png" {
		t.Fatalf("unexpected assignee: %+v", is.Assignee)
	}
	if len(is.Links) != 2 || is.Links[0].Direction != issues.DirectionOutward || is.Links[1].Direction != issues.DirectionInward {
		t.Fatalf("unexpected links: %+v", is.Links)
	}
	if is.Changelog != nil {
		t.Fatalf("search results must not carry a changelog")
	}
	if got := issues.LinkedKeys(is, false); len(got) != 1 || got[0] != "MS-1" {
		t.Fatalf("expected only MS-1 as structural child, got %v", got)
	}
}

func TestSearchRejectsEmptyJQL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	_, err := c.Search(context.Background(), "  ", 0, 10)
	if !errors.Is(err, issues.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIssueChangelogOnlyWhenRequested(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("expand") != "changelog" {
			fmt.Fprint(w, `{"id":"1","key":"EP-1","fields":{"status":{"name":"Done"}}}`)
			return
		}
		fmt.Fprint(w, `{"id":"1","key":"EP-1","fields":{"status":{"name":"Done"}},
		  "changelog":{"histories":[
		    {"created":"2024-03-05T09:00:00.000+0000","items":[{"field":"status","fromString":"In Progress","toString":"Done"}]},
		    {"created":"2024-03-01T09:00:00.000+0000","items":[
		      {"field":"status","fromString":"Open","toString":"In Progress"},
		      {"field":"priority","fromString":"Low","toString":"High"},
		      {"field":"assignee","fromString":null,"toString":"Ana"}
		    ]}
		  ]}}`)
	})

	plain, err := c.Issue(context.Background(), "EP-1", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if plain.Changelog != nil {
		t.Fatalf("expected nil changelog when not requested")
	}

	full, err := c.Issue(context.Background(), "EP-1", true)
	if err != nil {
		t.Fatalf("issue with changelog: %v", err)
	}
	if full.Changelog == nil || len(full.Changelog.Entries) != 3 {
		t.Fatalf("unexpected changelog: %+v", full.Changelog)
	}
	first := full.Changelog.Entries[0]
	if first.Field != issues.FieldStatus || first.To != "In Progress" {
		t.Fatalf("entries not sorted oldest first: %+v", full.Changelog.Entries)
	}
	if last := full.Changelog.Entries[2]; last.To != "Done" {
		t.Fatalf("unexpected last entry: %+v", last)
	}
}

func TestIssueNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessages":["Issue does not exist"]}`, http.StatusNotFound)
	})
	_, err := c.Issue(context.Background(), "EP-404", true)
	if !errors.Is(err, issues.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected APIError 404, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":"1","key":"EP-1","fields":{}}`)
	})
	if _, err := c.Issue(context.Background(), "EP-1", false); err != nil {
		t.Fatalf("issue after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	if _, err := c.Search(context.Background(), "bad jql", 0, 10); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestBearerTokenWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer pat-1" {
			t.Errorf("authorization = %q", got)
		}
		fmt.Fprint(w, `{"id":"1","key":"EP-1","fields":{}}`)
	}))
	defer srv.Close()
	c := NewClient(config.JiraConfig{BaseURL: srv.URL, User: "bot", APIToken: "x", PAT: "pat-1"}, zerolog.Nop())
	if _, err := c.Issue(context.Background(), "EP-1", false); err != nil {
		t.Fatalf("issue: %v", err)
	}
}
