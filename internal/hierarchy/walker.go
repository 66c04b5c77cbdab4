// Package hierarchy derives the Theme → Milestone → Epic → Task tree from
// labels and issue links on the tracker.
package hierarchy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/jira"
)

const defaultOrder = "ORDER BY updated DESC"

var orderByRe = regexp.MustCompile(`(?is)^(.*?)\s*(ORDER\s+BY\s+.*)$`)

// Tracker is the slice of the tracker API the walker needs.
type Tracker interface {
	Search(ctx context.Context, jql string, startAt, max int) (*jira.SearchPage, error)
	Issue(ctx context.Context, key string, expandChangelog bool) (*issues.Issue, error)
}

type Walker struct {
	tr       Tracker
	pageSize int
}

func NewWalker(tr Tracker) *Walker {
	return &Walker{tr: tr, pageSize: jira.MaxPageSize}
}

// ThemeQuery ANDs a caller fragment with the theme label filter, keeping a
// trailing ORDER BY from the fragment.
func ThemeQuery(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	base := "labels = " + string(issues.LevelTheme)
	if fragment == "" {
		return base + " " + defaultOrder
	}
	cond, order := fragment, defaultOrder
	if m := orderByRe.FindStringSubmatch(fragment); m != nil {
		cond, order = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if cond == "" {
		return base + " " + order
	}
	return fmt.Sprintf("%s AND (%s) %s", base, cond, order)
}

// ChildQuery selects keys restricted to the label filter of level.
func ChildQuery(keys []string, level issues.Level) string {
	var filter string
	switch level {
	case issues.LevelMilestone:
		filter = "labels = " + string(issues.LevelMilestone)
	case issues.LevelTheme:
		filter = "labels = " + string(issues.LevelTheme)
	default:
		filter = fmt.Sprintf("(labels is EMPTY OR labels not in (%s, %s))", issues.LevelTheme, issues.LevelMilestone)
	}
	return fmt.Sprintf("key in (%s) AND %s %s", strings.Join(keys, ","), filter, defaultOrder)
}

// Themes lists every theme matching fragment.
func (w *Walker) Themes(ctx context.Context, fragment string) ([]issues.Issue, error) {
	return w.searchAll(ctx, ThemeQuery(fragment))
}

// Issue fetches the full record of key including its changelog.
func (w *Walker) Issue(ctx context.Context, key string) (*issues.Issue, error) {
	return w.tr.Issue(ctx, key, true)
}

// Children returns the linked issues of parent that belong to the level
// below it. All candidates are resolved with one batched query; a parent
// without structural links has no children.
func (w *Walker) Children(ctx context.Context, parent issues.Issue, level issues.Level) ([]issues.Issue, error) {
	child, outwardOnly, ok := issues.ChildLevel(level)
	if !ok {
		return nil, nil
	}
	keys := issues.LinkedKeys(parent, outwardOnly)
	if len(keys) == 0 {
		return nil, nil
	}
	return w.searchAll(ctx, ChildQuery(keys, child))
}

func (w *Walker) searchAll(ctx context.Context, jql string) ([]issues.Issue, error) {
	out := make([]issues.Issue, 0)
	startAt := 0
	for {
		page, err := w.tr.Search(ctx, jql, startAt, w.pageSize)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", jql, err)
		}
		out = append(out, page.Issues...)
		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return out, nil
		}
	}
}
