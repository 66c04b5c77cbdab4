package issues

import "time"

// Level is a tier of the derived work hierarchy.
type Level string

const (
	LevelTheme     Level = "theme"
	LevelMilestone Level = "milestone"
	LevelEpic      Level = "epic"
	LevelTask      Level = "task"
)

// Role tags a contributor by the phase of work they were assigned in.
type Role string

const (
	RoleAnalysis    Role = "author/analysis"
	RoleDevelopment Role = "development"
	RoleQA          Role = "qa"
)

type Direction string

const (
	DirectionOutward Direction = "outward"
	DirectionInward  Direction = "inward"
)

const (
	FieldStatus   = "status"
	FieldAssignee = "assignee"
)

type Person struct {
	Name   string `json:"displayName"`
	Avatar string `json:"avatar,omitempty"`
}

type ChangelogEntry struct {
	At    time.Time `json:"at"`
	Field string    `json:"field"`
	From  string    `json:"from"`
	To    string    `json:"to"`
}

// Changelog is the audit trail of an issue. A nil *Changelog on an Issue means
// the trail was not requested from the tracker, which is different from an
// empty one.
type Changelog struct {
	Entries []ChangelogEntry `json:"entries"`
}

type Comment struct {
	Author string    `json:"author"`
	At     time.Time `json:"at"`
}

type Link struct {
	TypeName  string    `json:"type"`
	TargetKey string    `json:"targetKey"`
	Direction Direction `json:"direction"`
}

// Issue is the read-only view of a tracker issue used by the snapshot engine.
type Issue struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Summary    string     `json:"summary"`
	Status     string     `json:"status"`
	ProjectKey string     `json:"projectKey,omitempty"`
	Labels     []string   `json:"labels"`
	Created    time.Time  `json:"created"`
	Assignee   *Person    `json:"assignee,omitempty"`
	Comments   []Comment  `json:"comments,omitempty"`
	Links      []Link     `json:"links,omitempty"`
	Changelog  *Changelog `json:"changelog,omitempty"`
}

// Activity is the git/pull-request evidence linked to an issue. LastActivity
// is an ISO date (YYYY-MM-DD) or empty when no dated evidence exists.
type Activity struct {
	LastActivity string `json:"lastActivity,omitempty"`
	PRCount      int    `json:"prCount"`
	PRMerged     int    `json:"prMerged"`
	PROpen       int    `json:"prOpen"`
	RepoCount    int    `json:"repoCount"`
	CommitCount  int    `json:"commitCount"`
}

// Empty reports whether the record carries no evidence at all.
func (a Activity) Empty() bool {
	return a.LastActivity == "" && a.PRCount == 0 && a.PRMerged == 0 && a.PROpen == 0 &&
		a.RepoCount == 0 && a.CommitCount == 0
}

// Roster maps a role to its contributors, unique by display name.
type Roster map[Role][]Person

type FieldValue struct {
	IssueKey  string    `json:"issueKey"`
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type HistoryEntry struct {
	IssueKey  string    `json:"issueKey"`
	Field     string    `json:"field"`
	OldValue  any       `json:"oldValue"`
	NewValue  any       `json:"newValue"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}
