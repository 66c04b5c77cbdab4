package issues

import "strings"

// IsStructuralLink reports whether a link type participates in the hierarchy.
// Clone and duplicate links are bookkeeping, not parentage.
func IsStructuralLink(typeName string) bool {
	t := strings.ToLower(typeName)
	return !strings.Contains(t, "cloners") && !strings.Contains(t, "duplicate")
}

// LinkedKeys collects the distinct structural link targets of an issue, in
// link order. With outwardOnly set, inward links are ignored.
func LinkedKeys(is Issue, outwardOnly bool) []string {
	seen := map[string]bool{is.Key: true}
	out := make([]string, 0, len(is.Links))
	for _, l := range is.Links {
		if !IsStructuralLink(l.TypeName) {
			continue
		}
		if outwardOnly && l.Direction != DirectionOutward {
			continue
		}
		k := strings.TrimSpace(l.TargetKey)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// ChildCount is the number of structural links shown next to an issue.
func ChildCount(is Issue) int {
	n := 0
	for _, l := range is.Links {
		if IsStructuralLink(l.TypeName) {
			n++
		}
	}
	return n
}

// ChildLevel returns the level below l and whether children are collected
// from outward links only.
func ChildLevel(l Level) (child Level, outwardOnly bool, ok bool) {
	switch l {
	case LevelTheme:
		return LevelMilestone, false, true
	case LevelMilestone:
		return LevelEpic, false, true
	case LevelEpic:
		return LevelTask, true, true
	default:
		return "", false, false
	}
}
