package progress

import (
	"math"

	"github.com/satyaki-up/trendboard/internal/issues"
)

func AverageDaily(children []Daily, days []string) Daily {
	out := make(Daily, len(days))
	for _, day := range days {
		sum, n := 0, 0
		for _, c := range children {
			if v, ok := c[day]; ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		out[day] = int(math.Round(float64(sum) / float64(n)))
	}
	return out
}

func AggregateActivity(children []*issues.Activity) *issues.Activity {
	var agg issues.Activity
	found := false
	for _, c := range children {
		if c == nil || c.Empty() {
			continue
		}
		found = true
		if c.LastActivity > agg.LastActivity {
			agg.LastActivity = c.LastActivity
		}
		agg.PRCount += c.PRCount
		agg.PRMerged += c.PRMerged
		agg.PROpen += c.PROpen
		agg.RepoCount += c.RepoCount
		agg.CommitCount += c.CommitCount
	}
	if !found {
		return nil
	}
	return &agg
}

// A later child's avatar wins for the same name.
func AggregateRoster(children []issues.Roster) issues.Roster {
	byRole := make(map[issues.Role]map[string]issues.Person)
	for _, c := range children {
		for role, people := range c {
			m := byRole[role]
			if m == nil {
				m = make(map[string]issues.Person)
				byRole[role] = m
			}
			for _, p := range people {
				if prev, ok := m[p.Name]; ok && p.Avatar == "" {
					p.Avatar = prev.Avatar
				}
				m[p.Name] = p
			}
		}
	}
	out := make(issues.Roster, len(byRole))
	for role, m := range byRole {
		list := make([]issues.Person, 0, len(m))
		for _, p := range m {
			list = append(list, p)
		}
		sortPeople(list)
		out[role] = list
	}
	return out
}
