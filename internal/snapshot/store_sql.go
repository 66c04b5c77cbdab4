package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/progress"
)

const metaLastRun = "last_run"

type SQLStore struct {
	db    *sql.DB
	clock storeClock
}

func NewSQLStore(db *sql.DB, opts ...StoreOption) *SQLStore {
	return &SQLStore{db: db, clock: newStoreClock(opts)}
}

func (s *SQLStore) Save(ctx context.Context, res *Result) error {
	if res == nil {
		return fmt.Errorf("%w: nil result", issues.ErrInvalidInput)
	}
	cutoff := progress.Cutoff(res.At)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if res.Mode.Trend() {
		if err := saveTrendTx(ctx, tx, res, cutoff); err != nil {
			return err
		}
	}
	if res.Mode.Git() {
		if err := saveActivityTx(ctx, tx, res.Activity); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastRun, res.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM progress_snapshots WHERE snapshot_date < ?`, cutoff); err != nil {
		return err
	}
	return tx.Commit()
}

func saveTrendTx(ctx context.Context, tx *sql.Tx, res *Result, cutoff string) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO progress_snapshots(snapshot_date, issue_key, progress)
		VALUES (?, ?, ?)
		ON CONFLICT(snapshot_date, issue_key) DO UPDATE SET progress = excluded.progress
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, daily := range res.Trend {
		for day, v := range daily {
			if day < cutoff {
				continue
			}
			if _, err := stmt.ExecContext(ctx, day, key, v); err != nil {
				return fmt.Errorf("save progress %s/%s: %w", key, day, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_contributors`); err != nil {
		return err
	}
	for key, roster := range res.Roster {
		for role, people := range roster {
			raw, err := json.Marshal(people)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO issue_contributors(issue_key, role, contributors) VALUES (?, ?, ?)
			`, key, string(role), string(raw))
			if err != nil {
				return fmt.Errorf("save contributors %s: %w", key, err)
			}
		}
	}
	return nil
}

func saveActivityTx(ctx context.Context, tx *sql.Tx, activity map[string]issues.Activity) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM git_activity`); err != nil {
		return err
	}
	for key, a := range activity {
		var last any
		if a.LastActivity != "" {
			last = a.LastActivity
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO git_activity(issue_key, last_activity, pr_count, pr_merged, pr_open, repo_count, commit_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, key, last, a.PRCount, a.PRMerged, a.PROpen, a.RepoCount, a.CommitCount)
		if err != nil {
			return fmt.Errorf("save activity %s: %w", key, err)
		}
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context) (*History, error) {
	h := emptyHistory()
	cutoff := progress.Cutoff(s.clock.now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_date, issue_key, progress
		FROM progress_snapshots
		WHERE snapshot_date >= ?
		ORDER BY snapshot_date ASC, issue_key ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var day, key string
		var v int
		if err := rows.Scan(&day, &key, &v); err != nil {
			return nil, err
		}
		if h.Snapshots[day] == nil {
			h.Snapshots[day] = map[string]DayValue{}
		}
		h.Snapshots[day][key] = DayValue{Progress: v}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadActivity(ctx, h); err != nil {
		return nil, err
	}
	if err := s.loadContributors(ctx, h); err != nil {
		return nil, err
	}

	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = ?`, metaLastRun).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse last run %q: %w", raw, err)
		}
		h.LastRun = &t
	}
	return h, nil
}

func (s *SQLStore) loadActivity(ctx context.Context, h *History) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_key, last_activity, pr_count, pr_merged, pr_open, repo_count, commit_count
		FROM git_activity
	`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var last sql.NullString
		var a issues.Activity
		if err := rows.Scan(&key, &last, &a.PRCount, &a.PRMerged, &a.PROpen, &a.RepoCount, &a.CommitCount); err != nil {
			return err
		}
		a.LastActivity = last.String
		h.GitActivity[key] = a
	}
	return rows.Err()
}

func (s *SQLStore) loadContributors(ctx context.Context, h *History) error {
	rows, err := s.db.QueryContext(ctx, `SELECT issue_key, role, contributors FROM issue_contributors`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, role, raw string
		if err := rows.Scan(&key, &role, &raw); err != nil {
			return err
		}
		var people []issues.Person
		if err := json.Unmarshal([]byte(raw), &people); err != nil {
			return fmt.Errorf("parse contributors for %s: %w", key, err)
		}
		if h.Developers[key] == nil {
			h.Developers[key] = issues.Roster{}
		}
		h.Developers[key][issues.Role(role)] = people
	}
	return rows.Err()
}
