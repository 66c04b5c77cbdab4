package progress

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/satyaki-up/trendboard/internal/issues"
)

type credit struct {
	person issues.Person
	roles  map[issues.Role]bool
}

type rosterBuilder struct {
	byName map[string]*credit
}

func newRosterBuilder() *rosterBuilder {
	return &rosterBuilder{byName: make(map[string]*credit)}
}

func (b *rosterBuilder) add(p issues.Person, role issues.Role) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return
	}
	c, ok := b.byName[name]
	if !ok {
		c = &credit{person: issues.Person{Name: name}, roles: make(map[issues.Role]bool)}
		b.byName[name] = c
	}
	if p.Avatar != "" {
		c.person.Avatar = p.Avatar
	}
	c.roles[role] = true
}

func (b *rosterBuilder) roster() issues.Roster {
	out := make(issues.Roster)
	for _, c := range b.byName {
		for role := range c.roles {
			out[role] = append(out[role], c.person)
		}
	}
	for role := range out {
		sortPeople(out[role])
	}
	return out
}

func ExtractContributors(is issues.Issue, now time.Time) (issues.Roster, error) {
	if is.Changelog == nil {
		return nil, fmt.Errorf("%w: %s", issues.ErrChangelogMissing, is.Key)
	}

	entries := make([]issues.ChangelogEntry, len(is.Changelog.Entries))
	copy(entries, is.Changelog.Entries)
	// Status changes apply before assignee changes recorded at the same instant.
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].At.Equal(entries[j].At) {
			return entries[i].At.Before(entries[j].At)
		}
		return entries[i].Field == issues.FieldStatus && entries[j].Field != issues.FieldStatus
	})

	current := is.Status
	for _, e := range entries {
		if e.Field == issues.FieldStatus {
			current = e.From
			break
		}
	}

	since := now.Add(-ContributorDays * 24 * time.Hour)
	avatar := ""
	if is.Assignee != nil {
		avatar = is.Assignee.Avatar
	}

	b := newRosterBuilder()
	for _, e := range entries {
		switch e.Field {
		case issues.FieldStatus:
			current = e.To
		case issues.FieldAssignee:
			if e.At.Before(since) || strings.TrimSpace(e.To) == "" {
				continue
			}
			role, ok := issues.RoleFor(current)
			if !ok {
				continue
			}
			p := issues.Person{Name: e.To}
			if is.Assignee != nil && is.Assignee.Name == e.To {
				p.Avatar = avatar
			}
			b.add(p, role)
		}
	}

	if is.Assignee != nil {
		if role, ok := issues.RoleFor(is.Status); ok {
			b.add(*is.Assignee, role)
		}
	}
	return b.roster(), nil
}

func sortPeople(ps []issues.Person) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}
