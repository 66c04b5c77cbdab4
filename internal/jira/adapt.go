package jira

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/satyaki-up/trendboard/internal/issues"
)

type rawSearch struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []rawIssue `json:"issues"`
}

type rawIssue struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	Fields    rawFields     `json:"fields"`
	Changelog *rawChangelog `json:"changelog"`
}

type rawFields struct {
	Summary  string   `json:"summary"`
	Status   *rawName `json:"status"`
	Labels   []string `json:"labels"`
	Created  string   `json:"created"`
	Assignee *rawUser `json:"assignee"`
	Project  *struct {
		Key string `json:"key"`
	} `json:"project"`
	IssueLinks []rawLink `json:"issuelinks"`
	Comment    *struct {
		Comments []rawComment `json:"comments"`
	} `json:"comment"`
}

type rawName struct {
	Name string `json:"name"`
}

type rawUser struct {
	DisplayName string            `json:"displayName"`
	Name        string            `json:"name"`
	AccountID   string            `json:"accountId"`
	AvatarURLs  map[string]string `json:"avatarUrls"`
}

type rawLink struct {
	Type         rawName `json:"type"`
	InwardIssue  *rawRef `json:"inwardIssue"`
	OutwardIssue *rawRef `json:"outwardIssue"`
}

type rawRef struct {
	Key string `json:"key"`
}

type rawComment struct {
	Author  *rawUser `json:"author"`
	Created string   `json:"created"`
}

type rawChangelog struct {
	Histories []rawHistory `json:"histories"`
}

type rawHistory struct {
	Created string    `json:"created"`
	Items   []rawItem `json:"items"`
}

type rawItem struct {
	Field      string `json:"field"`
	FieldID    string `json:"fieldId"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

func (ri rawIssue) toIssue(withChangelog bool) issues.Issue {
	f := ri.Fields
	is := issues.Issue{
		ID:      ri.ID,
		Key:     ri.Key,
		Summary: f.Summary,
		Labels:  f.Labels,
		Created: parseTime(f.Created),
	}
	if is.Labels == nil {
		is.Labels = []string{}
	}
	if f.Status != nil {
		is.Status = f.Status.Name
	}
	if f.Project != nil {
		is.ProjectKey = f.Project.Key
	}
	if f.Assignee != nil {
		p := f.Assignee.person()
		is.Assignee = &p
	}
	if f.Comment != nil {
		for _, c := range f.Comment.Comments {
			var author string
			if c.Author != nil {
				author = c.Author.person().Name
			}
			is.Comments = append(is.Comments, issues.Comment{Author: author, At: parseTime(c.Created)})
		}
	}
	for _, l := range f.IssueLinks {
		switch {
		case l.OutwardIssue != nil && l.OutwardIssue.Key != "":
			is.Links = append(is.Links, issues.Link{TypeName: l.Type.Name, TargetKey: l.OutwardIssue.Key, Direction: issues.DirectionOutward})
		case l.InwardIssue != nil && l.InwardIssue.Key != "":
			is.Links = append(is.Links, issues.Link{TypeName: l.Type.Name, TargetKey: l.InwardIssue.Key, Direction: issues.DirectionInward})
		}
	}
	if withChangelog {
		is.Changelog = ri.Changelog.normalize()
	}
	return is
}

func (u rawUser) person() issues.Person {
	name := u.DisplayName
	if name == "" {
		name = u.Name
	}
	if name == "" {
		name = u.AccountID
	}
	var avatar string
	for _, size := range []string{"48x48", "32x32", "24x24", "16x16"} {
		if a := u.AvatarURLs[size]; a != "" {
			avatar = a
			break
		}
	}
	return issues.Person{Name: name, Avatar: avatar}
}

// normalize flattens the histories into status and assignee entries, oldest
// first. A missing changelog in the payload becomes an empty one.
func (rc *rawChangelog) normalize() *issues.Changelog {
	cl := &issues.Changelog{Entries: []issues.ChangelogEntry{}}
	if rc == nil {
		return cl
	}
	for _, h := range rc.Histories {
		at := parseTime(h.Created)
		for _, it := range h.Items {
			field := strings.ToLower(it.Field)
			if field == "" {
				field = strings.ToLower(it.FieldID)
			}
			if field != issues.FieldStatus && field != issues.FieldAssignee {
				continue
			}
			cl.Entries = append(cl.Entries, issues.ChangelogEntry{At: at, Field: field, From: it.FromString, To: it.ToString})
		}
	}
	sort.SliceStable(cl.Entries, func(i, j int) bool { return cl.Entries[i].At.Before(cl.Entries[j].At) })
	return cl
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// flexTime accepts a tracker timestamp string or epoch milliseconds.
type flexTime struct {
	time.Time
}

func (ft *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			ft.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		ft.Time = parseTime(s)
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	ft.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// flexInt accepts a number, a numeric string or null.
type flexInt int

func (fi *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*fi = flexInt(f)
	return nil
}
