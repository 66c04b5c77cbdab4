package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/snapshot"
)

type fakeStarter struct {
	err   error
	calls []string
	modes []snapshot.Mode
}

func (f *fakeStarter) Start(_ context.Context, jql string, mode snapshot.Mode) (string, error) {
	f.calls = append(f.calls, jql)
	f.modes = append(f.modes, mode)
	return "run-1", f.err
}

func TestNewSchedulerRejectsBadSpecs(t *testing.T) {
	for _, spec := range []string{"", "every tuesday", "* * *"} {
		if _, err := NewScheduler(spec, "", &fakeStarter{}, zerolog.Nop()); err == nil {
			t.Fatalf("expected error for %q", spec)
		}
	}
}

func TestTickStartsFullSnapshot(t *testing.T) {
	s := &fakeStarter{}
	sch, err := NewScheduler("0 6 * * 1-5", "project = PAY", s, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if sch.Entries() != 1 {
		t.Fatalf("expected one entry, got %d", sch.Entries())
	}
	sch.tick(s, "project = PAY")
	if len(s.calls) != 1 || s.calls[0] != "project = PAY" || s.modes[0] != snapshot.ModeAll {
		t.Fatalf("unexpected start calls %v %v", s.calls, s.modes)
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	s := &fakeStarter{err: snapshot.ErrAlreadyRunning}
	sch, err := NewScheduler("*/5 * * * *", "", s, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sch.tick(s, "")
	if len(s.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(s.calls))
	}
}
