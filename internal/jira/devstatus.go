package jira

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/satyaki-up/trendboard/internal/issues"
)

var (
	devStatusVersions = []string{"1.0", "latest"}
	devStatusApps     = []string{"stash", "bitbucket", "github"}
)

type rawDevSummary struct {
	Summary struct {
		PullRequest *rawDevSection `json:"pullrequest"`
		Repository  *rawDevSection `json:"repository"`
		Commit      *rawDevSection `json:"commit"`
	} `json:"summary"`
}

type rawDevSection struct {
	Overall struct {
		Count       flexInt  `json:"count"`
		LastUpdated flexTime `json:"lastUpdated"`
		Details     *struct {
			OpenCount   flexInt `json:"openCount"`
			MergedCount flexInt `json:"mergedCount"`
		} `json:"details"`
	} `json:"overall"`
}

type rawDevDetail struct {
	Detail []struct {
		Repositories []struct {
			Name    string `json:"name"`
			Commits []struct {
				AuthorTimestamp flexTime `json:"authorTimestamp"`
			} `json:"commits"`
		} `json:"repositories"`
	} `json:"detail"`
}

// DevActivity looks up linked development activity for an issue by numeric
// id. The summary endpoint is asked first; when it reports nothing, the
// per-repository detail endpoint is probed for each known hosting backend.
// A nil record with a nil error means the tracker knows of no activity.
func (c *Client) DevActivity(ctx context.Context, issueID string) (*issues.Activity, error) {
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return nil, nil
	}

	var lastErr error
	answered := false

	for _, ver := range devStatusVersions {
		a, err := c.devSummary(ctx, ver, issueID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		answered = true
		if a != nil {
			return a, nil
		}
		break
	}

	for _, ver := range devStatusVersions {
		for _, app := range devStatusApps {
			a, err := c.devDetail(ctx, ver, app, issueID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if !errors.Is(err, issues.ErrNotFound) {
					lastErr = err
				}
				continue
			}
			answered = true
			if a != nil {
				return a, nil
			}
		}
	}

	if !answered && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func (c *Client) devSummary(ctx context.Context, ver, issueID string) (*issues.Activity, error) {
	q := url.Values{}
	q.Set("issueId", issueID)
	var raw rawDevSummary
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/dev-status/"+ver+"/issue/summary", q), nil, &raw); err != nil {
		return nil, err
	}

	var a issues.Activity
	var last time.Time
	if pr := raw.Summary.PullRequest; pr != nil {
		a.PRCount = int(pr.Overall.Count)
		if d := pr.Overall.Details; d != nil {
			a.PROpen = int(d.OpenCount)
			a.PRMerged = int(d.MergedCount)
		}
		last = later(last, pr.Overall.LastUpdated.Time)
	}
	if repo := raw.Summary.Repository; repo != nil {
		a.RepoCount = int(repo.Overall.Count)
		last = later(last, repo.Overall.LastUpdated.Time)
	}
	if cm := raw.Summary.Commit; cm != nil {
		a.CommitCount = int(cm.Overall.Count)
		last = later(last, cm.Overall.LastUpdated.Time)
	}
	if a.PRCount+a.CommitCount+a.RepoCount == 0 {
		return nil, nil
	}
	a.LastActivity = isoDate(last)
	return &a, nil
}

func (c *Client) devDetail(ctx context.Context, ver, app, issueID string) (*issues.Activity, error) {
	q := url.Values{}
	q.Set("issueId", issueID)
	q.Set("applicationType", app)
	q.Set("dataType", "repository")
	var raw rawDevDetail
	if err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/dev-status/"+ver+"/issue/detail", q), nil, &raw); err != nil {
		return nil, err
	}

	var a issues.Activity
	var last time.Time
	for _, d := range raw.Detail {
		for _, repo := range d.Repositories {
			a.RepoCount++
			a.CommitCount += len(repo.Commits)
			for _, cm := range repo.Commits {
				last = later(last, cm.AuthorTimestamp.Time)
			}
		}
	}
	if a.RepoCount == 0 {
		return nil, nil
	}
	a.LastActivity = isoDate(last)
	return &a, nil
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func isoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
