package issues

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var issueKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)
var fieldNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// Service stores locally-owned per-issue fields (manual status, confidence)
// together with an audit trail of every change.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) SetField(ctx context.Context, issueKey, field string, value any, user string, expectedVersion *int64) (*FieldValue, error) {
	issueKey = strings.TrimSpace(issueKey)
	field = strings.TrimSpace(field)
	if !issueKeyRe.MatchString(issueKey) {
		return nil, fmt.Errorf("%w: issue key %q must look like PROJ-123", ErrInvalidInput, issueKey)
	}
	if !fieldNameRe.MatchString(field) {
		return nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidInput, field)
	}
	newJSON, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal value: %v", ErrInvalidInput, err)
	}
	user = strings.TrimSpace(user)
	if user == "" {
		user = "unknown"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := getFieldTx(ctx, tx, issueKey, field)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var oldJSON any
	if current == nil {
		if expectedVersion != nil && *expectedVersion != 0 {
			return nil, fmt.Errorf("%w: stale write; expected version %d", ErrConflict, *expectedVersion)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO issue_fields(issue_key, field, value, version)
			VALUES (?, ?, ?, 1)
		`, issueKey, field, string(newJSON))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: field %s/%s written concurrently", ErrConflict, issueKey, field)
			}
			return nil, err
		}
	} else {
		raw, err := json.Marshal(current.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal previous value: %w", err)
		}
		oldJSON = string(raw)

		query := "UPDATE issue_fields SET value = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE issue_key = ? AND field = ?"
		args := []any{string(newJSON), issueKey, field}
		if expectedVersion != nil {
			query += " AND version = ?"
			args = append(args, *expectedVersion)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			if expectedVersion != nil {
				return nil, fmt.Errorf("%w: stale write; expected version %d", ErrConflict, *expectedVersion)
			}
			return nil, fmt.Errorf("%w: field %s/%s", ErrNotFound, issueKey, field)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO issue_field_history(issue_key, field, old_value, new_value, username)
		VALUES (?, ?, ?, ?, ?)
	`, issueKey, field, oldJSON, string(newJSON), user)
	if err != nil {
		return nil, err
	}

	updated, err := getFieldTx(ctx, tx, issueKey, field)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Field(ctx context.Context, issueKey, field string) (*FieldValue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT issue_key, field, value, version, updated_at
		FROM issue_fields
		WHERE issue_key = ? AND field = ?
	`, strings.TrimSpace(issueKey), strings.TrimSpace(field))
	fv, err := scanField(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: field %s/%s", ErrNotFound, issueKey, field)
		}
		return nil, err
	}
	return &fv, nil
}

// Fields returns every stored field keyed by issue key, then field name.
func (s *Service) Fields(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_key, field, value, version, updated_at
		FROM issue_fields
		ORDER BY issue_key ASC, field ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		fv, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		if out[fv.IssueKey] == nil {
			out[fv.IssueKey] = make(map[string]any)
		}
		out[fv.IssueKey][fv.Field] = fv.Value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// History lists audit entries oldest first. An empty issueKey lists all.
func (s *Service) History(ctx context.Context, issueKey string) ([]HistoryEntry, error) {
	conds := []string{"1=1"}
	args := make([]any, 0, 1)
	if k := strings.TrimSpace(issueKey); k != "" {
		conds = append(conds, "issue_key = ?")
		args = append(args, k)
	}
	query := fmt.Sprintf(`
		SELECT issue_key, field, old_value, new_value, username, created_at
		FROM issue_field_history
		WHERE %s
		ORDER BY created_at ASC, id ASC
	`, strings.Join(conds, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0)
	for rows.Next() {
		var h HistoryEntry
		var oldRaw sql.NullString
		var newRaw sql.NullString
		var created string
		if err := rows.Scan(&h.IssueKey, &h.Field, &oldRaw, &newRaw, &h.User, &created); err != nil {
			return nil, err
		}
		if h.OldValue, err = decodeValue(oldRaw); err != nil {
			return nil, fmt.Errorf("parse old value for %s: %w", h.IssueKey, err)
		}
		if h.NewValue, err = decodeValue(newRaw); err != nil {
			return nil, fmt.Errorf("parse new value for %s: %w", h.IssueKey, err)
		}
		if h.Timestamp, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func getFieldTx(ctx context.Context, tx *sql.Tx, issueKey, field string) (*FieldValue, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT issue_key, field, value, version, updated_at
		FROM issue_fields
		WHERE issue_key = ? AND field = ?
	`, issueKey, field)
	fv, err := scanField(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: field %s/%s", ErrNotFound, issueKey, field)
		}
		return nil, err
	}
	return &fv, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanField(row scanner) (FieldValue, error) {
	var fv FieldValue
	var raw sql.NullString
	var updated string
	if err := row.Scan(&fv.IssueKey, &fv.Field, &raw, &fv.Version, &updated); err != nil {
		return FieldValue{}, err
	}
	v, err := decodeValue(raw)
	if err != nil {
		return FieldValue{}, fmt.Errorf("parse value for %s/%s: %w", fv.IssueKey, fv.Field, err)
	}
	fv.Value = v
	if fv.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return FieldValue{}, err
	}
	return fv, nil
}

func decodeValue(raw sql.NullString) (any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func parseSQLiteTime(value string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, value, time.UTC)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
