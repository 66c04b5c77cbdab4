package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/progress"
)

type Mode string

const (
	ModeAll   Mode = "all"
	ModeTrend Mode = "trend"
	ModeGit   Mode = "git"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAll, nil
	case ModeAll, ModeTrend, ModeGit:
		return m, nil
	default:
		return "", fmt.Errorf("%w: mode must be one of all|trend|git, got %q", issues.ErrInvalidInput, s)
	}
}

func (m Mode) Trend() bool { return m == ModeAll || m == ModeTrend }

func (m Mode) Git() bool { return m == ModeAll || m == ModeGit }

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseThemes     Phase = "themes"
	PhaseMilestones Phase = "milestones"
	PhaseEpics      Phase = "epics"
	PhaseTasks      Phase = "tasks"
	PhaseSaving     Phase = "saving"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

func phaseOf(l issues.Level) Phase {
	switch l {
	case issues.LevelTheme:
		return PhaseThemes
	case issues.LevelMilestone:
		return PhaseMilestones
	case issues.LevelEpic:
		return PhaseEpics
	default:
		return PhaseTasks
	}
}

type Progress struct {
	RunID       string `json:"runId,omitempty"`
	Phase       Phase  `json:"phase"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Message     string `json:"message"`
	Done        bool   `json:"done"`
	TotalIssues int    `json:"totalIssues"`
	Error       string `json:"error,omitempty"`
}

// Terminal reports whether no further records follow for this run.
func (p Progress) Terminal() bool {
	return p.Done || p.Phase == PhaseError
}

type Result struct {
	RunID    string
	At       time.Time
	Mode     Mode
	Days     []string
	Trend    map[string]progress.Daily
	Activity map[string]issues.Activity
	Roster   map[string]issues.Roster
}

type DayValue struct {
	Progress int `json:"progress"`
}

type History struct {
	Snapshots   map[string]map[string]DayValue `json:"snapshots"`
	GitActivity map[string]issues.Activity     `json:"gitActivity"`
	Developers  map[string]issues.Roster       `json:"developers"`
	LastRun     *time.Time                     `json:"lastRun"`
}

func emptyHistory() *History {
	return &History{
		Snapshots:   map[string]map[string]DayValue{},
		GitActivity: map[string]issues.Activity{},
		Developers:  map[string]issues.Roster{},
	}
}

// Store persists run results. Save must be atomic: a failed save leaves the
// previous state readable.
type Store interface {
	Save(ctx context.Context, res *Result) error
	History(ctx context.Context) (*History, error)
}
