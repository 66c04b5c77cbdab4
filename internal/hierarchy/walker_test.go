package hierarchy_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/satyaki-up/trendboard/internal/hierarchy"
	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/jira"
)

type fakeTracker struct {
	pages   [][]issues.Issue
	total   int
	queries []string
	err     error
}

func (f *fakeTracker) Search(_ context.Context, jql string, startAt, _ int) (*jira.SearchPage, error) {
	f.queries = append(f.queries, jql)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.queries) - 1
	if idx >= len(f.pages) {
		return &jira.SearchPage{StartAt: startAt, Total: f.total}, nil
	}
	return &jira.SearchPage{StartAt: startAt, Total: f.total, Issues: f.pages[idx]}, nil
}

func (f *fakeTracker) Issue(_ context.Context, key string, _ bool) (*issues.Issue, error) {
	return &issues.Issue{Key: key, Changelog: &issues.Changelog{}}, nil
}

func TestThemeQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "labels = theme ORDER BY updated DESC"},
		{"project = PAY", "labels = theme AND (project = PAY) ORDER BY updated DESC"},
		{"project = PAY ORDER BY created ASC", "labels = theme AND (project = PAY) ORDER BY created ASC"},
		{"order by rank", "labels = theme order by rank"},
		{"status != Done OR assignee = currentUser()", "labels = theme AND (status != Done OR assignee = currentUser()) ORDER BY updated DESC"},
	}
	for _, tc := range cases {
		if got := hierarchy.ThemeQuery(tc.in); got != tc.want {
			t.Fatalf("ThemeQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestChildrenUsesOneBatchedQuery(t *testing.T) {
	tr := &fakeTracker{
		total: 2,
		pages: [][]issues.Issue{{{Key: "MS-1"}, {Key: "MS-2"}}},
	}
	w := hierarchy.NewWalker(tr)
	theme := issues.Issue{Key: "TH-1", Links: []issues.Link{
		{TypeName: "Relates", TargetKey: "MS-1", Direction: issues.DirectionOutward},
		{TypeName: "Relates", TargetKey: "MS-2", Direction: issues.DirectionInward},
		{TypeName: "Duplicate", TargetKey: "TH-2", Direction: issues.DirectionOutward},
		{TypeName: "Relates", TargetKey: "MS-1", Direction: issues.DirectionInward},
	}}

	got, err := w.Children(context.Background(), theme, issues.LevelTheme)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(got))
	}
	if len(tr.queries) != 1 {
		t.Fatalf("expected a single query, got %d", len(tr.queries))
	}
	q := tr.queries[0]
	if !strings.HasPrefix(q, "key in (MS-1,MS-2) AND labels = milestone") {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestChildrenOfEpicFollowOutwardLinksOnly(t *testing.T) {
	tr := &fakeTracker{total: 1, pages: [][]issues.Issue{{{Key: "TK-1"}}}}
	w := hierarchy.NewWalker(tr)
	epic := issues.Issue{Key: "EP-1", Links: []issues.Link{
		{TypeName: "Blocks", TargetKey: "TK-1", Direction: issues.DirectionOutward},
		{TypeName: "Blocks", TargetKey: "MS-1", Direction: issues.DirectionInward},
	}}
	if _, err := w.Children(context.Background(), epic, issues.LevelEpic); err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(tr.queries) != 1 || !strings.HasPrefix(tr.queries[0], "key in (TK-1) AND (labels is EMPTY OR labels not in (theme, milestone))") {
		t.Fatalf("unexpected queries %v", tr.queries)
	}
}

func TestChildrenWithoutLinksSkipsTheTracker(t *testing.T) {
	tr := &fakeTracker{}
	w := hierarchy.NewWalker(tr)
	got, err := w.Children(context.Background(), issues.Issue{Key: "MS-9", Links: []issues.Link{
		{TypeName: "Cloners", TargetKey: "MS-10", Direction: issues.DirectionOutward},
	}}, issues.LevelMilestone)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(got) != 0 || len(tr.queries) != 0 {
		t.Fatalf("expected no children and no queries, got %v / %v", got, tr.queries)
	}
}

func TestThemesPaginates(t *testing.T) {
	tr := &fakeTracker{
		total: 3,
		pages: [][]issues.Issue{{{Key: "TH-1"}, {Key: "TH-2"}}, {{Key: "TH-3"}}},
	}
	got, err := hierarchy.NewWalker(tr).Themes(context.Background(), "")
	if err != nil {
		t.Fatalf("themes: %v", err)
	}
	if len(got) != 3 || len(tr.queries) != 2 {
		t.Fatalf("expected 3 themes over 2 pages, got %d over %d", len(got), len(tr.queries))
	}
}

func TestThemesPropagatesSearchErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := hierarchy.NewWalker(&fakeTracker{err: boom}).Themes(context.Background(), "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped search error, got %v", err)
	}
}
