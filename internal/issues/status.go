package issues

import "strings"

type statusProgress struct {
	status   string
	progress int
}

// progressTable is ordered: the substring fallback returns the first match.
var progressTable = []statusProgress{
	{"open", 0},
	{"backlog", 0},
	{"new", 0},
	{"to do", 0},
	{"todo", 0},
	{"in progress", 20},
	{"in-progress", 20},
	{"dev", 20},
	{"review", 20},
	{"qa", 40},
	{"testing", 40},
	{"uat", 60},
	{"ready for release", 80},
	{"ready-for-release", 80},
	{"done", 100},
	{"closed", 100},
	{"resolved", 100},
}

// ProgressFor maps a status label to a progress value in [0,100]. It is the
// single copy of this table; every caller that needs progress goes through it.
func ProgressFor(status string) int {
	s := strings.ToLower(strings.TrimSpace(status))
	for _, e := range progressTable {
		if e.status == s {
			return e.progress
		}
	}
	for _, e := range progressTable {
		if strings.Contains(s, e.status) || strings.Contains(e.status, s) {
			return e.progress
		}
	}
	return 0
}

type statusRole struct {
	status string
	role   Role
}

// roleTable is a separate policy from progressTable. An empty role means the
// status does not earn a contributor credit.
var roleTable = []statusRole{
	{"open", RoleAnalysis},
	{"backlog", RoleAnalysis},
	{"new", RoleAnalysis},
	{"to do", RoleAnalysis},
	{"todo", RoleAnalysis},
	{"analysis", RoleAnalysis},
	{"selected for development", RoleAnalysis},
	{"in progress", RoleDevelopment},
	{"in-progress", RoleDevelopment},
	{"in development", RoleDevelopment},
	{"code review", RoleDevelopment},
	{"in review", RoleDevelopment},
	{"review", RoleDevelopment},
	{"qa", RoleQA},
	{"testing", RoleQA},
	{"in testing", RoleQA},
	{"uat", RoleQA},
	{"ready for release", ""},
	{"done", ""},
	{"closed", ""},
	{"resolved", ""},
}

// RoleFor maps a status to the contributor role earned by whoever is assigned
// while the issue sits in it. ok is false for finished statuses.
func RoleFor(status string) (Role, bool) {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return RoleAnalysis, true
	}
	for _, e := range roleTable {
		if e.status == s {
			return e.role, e.role != ""
		}
	}
	for _, e := range roleTable {
		if strings.Contains(s, e.status) {
			return e.role, e.role != ""
		}
	}
	// Unknown workflow steps sit between start and finish.
	return RoleDevelopment, true
}
