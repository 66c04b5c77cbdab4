package progress

import (
	"fmt"
	"sort"

	"github.com/satyaki-up/trendboard/internal/issues"
)

type transition struct {
	day  string
	from string
	to   string
}

func statusTransitions(cl *issues.Changelog) []transition {
	entries := make([]issues.ChangelogEntry, 0, len(cl.Entries))
	for _, e := range cl.Entries {
		if e.Field == issues.FieldStatus {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })

	out := make([]transition, len(entries))
	for i, e := range entries {
		out[i] = transition{day: DateOf(e.At), from: e.From, to: e.To}
	}
	return out
}

// BuildTimeline requires a fetched changelog.
func BuildTimeline(is issues.Issue, days []string) (Daily, error) {
	if is.Changelog == nil {
		return nil, fmt.Errorf("%w: %s", issues.ErrChangelogMissing, is.Key)
	}
	changes := statusTransitions(is.Changelog)

	running := is.Status
	if len(changes) > 0 {
		running = changes[0].from
	}
	created := ""
	if !is.Created.IsZero() {
		created = DateOf(is.Created)
	}

	out := make(Daily, len(days))
	next := 0
	for _, day := range days {
		for next < len(changes) && changes[next].day <= day {
			running = changes[next].to
			next++
		}
		if created != "" && day < created {
			continue
		}
		out[day] = issues.ProgressFor(running)
	}
	return out, nil
}
