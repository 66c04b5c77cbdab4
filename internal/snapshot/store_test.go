package snapshot_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/db"
	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/progress"
	"github.com/satyaki-up/trendboard/internal/snapshot"
)

func sampleResult() *snapshot.Result {
	return &snapshot.Result{
		At:   now,
		Mode: snapshot.ModeAll,
		Trend: map[string]progress.Daily{
			"E1": {date(0): 50, date(-1): 40, date(-90): 10},
		},
		Activity: map[string]issues.Activity{
			"E1": {LastActivity: "2024-06-29", PRCount: 2, PRMerged: 1, PROpen: 1},
		},
		Roster: map[string]issues.Roster{
			"E1": {issues.RoleDevelopment: {{Name: "Jane Doe", Avatar: "jane.png"}}},
		},
	}
}

func checkHistory(t *testing.T, h *snapshot.History) {
	t.Helper()
	if len(h.Snapshots) != 2 {
		t.Fatalf("expected 2 days, got %v", h.Snapshots)
	}
	if h.Snapshots[date(0)]["E1"].Progress != 50 || h.Snapshots[date(-1)]["E1"].Progress != 40 {
		t.Fatalf("unexpected snapshots: %v", h.Snapshots)
	}
	if h.GitActivity["E1"].PRCount != 2 || h.GitActivity["E1"].LastActivity != "2024-06-29" {
		t.Fatalf("unexpected activity: %+v", h.GitActivity)
	}
	devs := h.Developers["E1"][issues.RoleDevelopment]
	if len(devs) != 1 || devs[0].Name != "Jane Doe" || devs[0].Avatar != "jane.png" {
		t.Fatalf("unexpected developers: %+v", h.Developers)
	}
	if h.LastRun == nil || !h.LastRun.Equal(now) {
		t.Fatalf("unexpected last run: %v", h.LastRun)
	}
}

func checkPruned(t *testing.T, h *snapshot.History) {
	t.Helper()
	cutoff := progress.Cutoff(now)
	for d := range h.Snapshots {
		if d < cutoff {
			t.Fatalf("day %s is older than the retention cutoff %s", d, cutoff)
		}
	}
}

func TestSQLStoreSaveAndHistory(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "tb.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.ExecContext(ctx, `INSERT INTO progress_snapshots(snapshot_date, issue_key, progress) VALUES ('2024-01-01', 'OLD-1', 5)`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := snapshot.NewSQLStore(conn, snapshot.WithStoreClock(clock))
	if err := store.Save(ctx, sampleResult()); err != nil {
		t.Fatalf("save: %v", err)
	}

	var stale int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM progress_snapshots WHERE issue_key = 'OLD-1'`).Scan(&stale); err != nil {
		t.Fatalf("count: %v", err)
	}
	if stale != 0 {
		t.Fatalf("expected stale rows to be pruned")
	}

	h, err := store.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	checkHistory(t, h)
	checkPruned(t, h)

	// A git-only refresh replaces activity and keeps trends and rosters.
	if err := store.Save(ctx, &snapshot.Result{At: now, Mode: snapshot.ModeGit, Activity: map[string]issues.Activity{}}); err != nil {
		t.Fatalf("git save: %v", err)
	}
	h, err = store.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.GitActivity) != 0 {
		t.Fatalf("expected activity to be replaced, got %+v", h.GitActivity)
	}
	if len(h.Snapshots) != 2 || len(h.Developers) != 1 {
		t.Fatalf("git refresh must not touch trends: %+v", h)
	}
}

func TestSQLStoreHistoryFiltersToWindow(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "tb.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := snapshot.NewSQLStore(conn).Save(ctx, sampleResult()); err != nil {
		t.Fatalf("save: %v", err)
	}
	later := snapshot.NewSQLStore(conn, snapshot.WithStoreClock(func() time.Time { return now.AddDate(0, 0, 90) }))
	h, err := later.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Snapshots) != 0 {
		t.Fatalf("expected no days inside the later window, got %v", h.Snapshots)
	}
}

func TestFileStoreMalformedLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := snapshot.NewFileStore(path, zerolog.Nop(), snapshot.WithStoreClock(clock))
	h, err := store.History(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Snapshots) != 0 || h.LastRun != nil {
		t.Fatalf("expected an empty store, got %+v", h)
	}
}

func TestFileStoreSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots.json")
	seed := `{"snapshots":{"2020-01-01":{"OLD-1":{"progress":5}}},"gitActivity":{},"developers":{},"lastRun":null}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := snapshot.NewFileStore(path, zerolog.Nop(), snapshot.WithStoreClock(clock))
	if err := store.Save(context.Background(), sampleResult()); err != nil {
		t.Fatalf("save: %v", err)
	}

	var onDisk snapshot.History
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := onDisk.Snapshots["2020-01-01"]; ok {
		t.Fatalf("stale day survived the save: %v", onDisk.Snapshots)
	}
	if len(onDisk.Snapshots) != 2 {
		t.Fatalf("expected 2 days on disk, got %v", onDisk.Snapshots)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, found %d entries", len(entries))
	}

	reloaded := snapshot.NewFileStore(path, zerolog.Nop(), snapshot.WithStoreClock(clock))
	h, err := reloaded.History(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	checkHistory(t, h)
	checkPruned(t, h)
}

func TestFileStoreGitSaveWritesEmptyActivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.json")
	store := snapshot.NewFileStore(path, zerolog.Nop(), snapshot.WithStoreClock(clock))
	if err := store.Save(context.Background(), &snapshot.Result{At: now, Mode: snapshot.ModeGit}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"snapshots", "gitActivity", "developers"} {
		if got := string(doc[field]); got != "{}" {
			t.Fatalf("%s = %s, want {}", field, got)
		}
	}
}
