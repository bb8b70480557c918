package dispense

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

// Status is the overall state of a recorded dispense.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = Status(OutcomeSucceeded)
	StatusFailed    Status = Status(OutcomeFailed)
	StatusCancelled Status = Status(OutcomeCancelled)
)

// Record is one dispense in the history.
type Record struct {
	ID          string                    `json:"id"`
	Kind        Kind                      `json:"kind"`
	Recipe      string                    `json:"recipe,omitempty"`
	Serving     string                    `json:"serving,omitempty"`
	Status      Status                    `json:"status"`
	Manual      []recipe.ManualIngredient `json:"manual"`
	CreatedAt   time.Time                 `json:"created_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Pours       []PourStatus              `json:"pours"`
}

// Repository persists dispense history.
// This abstraction allows a SQLite implementation and test doubles.
type Repository interface {
	CreateDispense(ctx context.Context, rec *Record) error
	UpdatePour(ctx context.Context, dispenseID string, index int, st PourStatus) error
	CompleteDispense(ctx context.Context, id string, status Status, at time.Time) error
	GetDispense(ctx context.Context, id string) (*Record, error)
	ListDispenses(ctx context.Context, limit int) ([]Record, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The schema comes from the dispense_history migration.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateDispense inserts a dispense and all of its pours.
func (r *SQLiteRepository) CreateDispense(ctx context.Context, rec *Record) error {
	manualJSON, err := json.Marshal(manualOrEmpty(rec.Manual))
	if err != nil {
		return fmt.Errorf("marshalling manual ingredients: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dispenses (id, kind, recipe, serving, status, manual_json, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Kind),
		rec.Recipe,
		rec.Serving,
		string(rec.Status),
		string(manualJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(rec.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("dispense %s already recorded: %w", rec.ID, err)
		}
		return fmt.Errorf("inserting dispense: %w", err)
	}

	for i, p := range rec.Pours {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pours (
				dispense_id, position, channel, ingredient, volume_oz, run_seconds,
				direction, state, outcome, error, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, i, p.Channel, p.Ingredient, p.VolumeOz, p.RunSeconds,
			string(p.Direction), string(p.State), string(p.Outcome), p.Error,
			nullableTime(p.StartedAt), nullableTime(p.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting pour %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dispense: %w", err)
	}
	return nil
}

// UpdatePour stores the latest state of one pour.
func (r *SQLiteRepository) UpdatePour(ctx context.Context, dispenseID string, index int, st PourStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pours SET state = ?, outcome = ?, error = ?, started_at = ?, finished_at = ?
		WHERE dispense_id = ? AND position = ?`,
		string(st.State), string(st.Outcome), st.Error,
		nullableTime(st.StartedAt), nullableTime(st.FinishedAt),
		dispenseID, index,
	)
	if err != nil {
		return fmt.Errorf("updating pour: %w", err)
	}
	return expectRow(result)
}

// CompleteDispense records the final status of a dispense.
func (r *SQLiteRepository) CompleteDispense(ctx context.Context, id string, status Status, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE dispenses SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("completing dispense: %w", err)
	}
	return expectRow(result)
}

// GetDispense retrieves a dispense with its pours.
func (r *SQLiteRepository) GetDispense(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+dispenseColumns+` FROM dispenses WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDispenseNotFound
		}
		return nil, fmt.Errorf("querying dispense: %w", err)
	}

	if rec.Pours, err = r.pours(ctx, id); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListDispenses returns the most recent dispenses, newest first.
func (r *SQLiteRepository) ListDispenses(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dispenseColumns+` FROM dispenses ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dispenses: %w", err)
	}

	var records []Record
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			rows.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("scanning dispense: %w", scanErr)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("iterating dispenses: %w", err)
	}
	rows.Close() //nolint:errcheck // Fully read

	// Pours are loaded after the cursor is closed: the pool has one connection.
	for i := range records {
		if records[i].Pours, err = r.pours(ctx, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *SQLiteRepository) pours(ctx context.Context, dispenseID string) ([]PourStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel, ingredient, volume_oz, run_seconds, direction, state, outcome, error, started_at, finished_at
		FROM pours WHERE dispense_id = ? ORDER BY position`, dispenseID)
	if err != nil {
		return nil, fmt.Errorf("querying pours: %w", err)
	}
	defer rows.Close()

	pours := []PourStatus{}
	for rows.Next() {
		var p PourStatus
		var direction, state, outcome string
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&p.Channel, &p.Ingredient, &p.VolumeOz, &p.RunSeconds,
			&direction, &state, &outcome, &p.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning pour: %w", err)
		}
		p.Direction = pump.Direction(direction)
		p.State = State(state)
		p.Outcome = Outcome(outcome)
		p.StartedAt = parseNullableTime(startedAt)
		p.FinishedAt = parseNullableTime(finishedAt)
		p.Description = describeRecorded(p)
		pours = append(pours, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pours: %w", err)
	}
	return pours, nil
}

const dispenseColumns = `id, kind, recipe, serving, status, manual_json, created_at, completed_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var kind, status, manualJSON, createdAt string
	var completedAt sql.NullString

	if err := scanner.Scan(&rec.ID, &kind, &rec.Recipe, &rec.Serving, &status,
		&manualJSON, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.Status = Status(status)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
	rec.CompletedAt = parseNullableTime(completedAt)

	if err := json.Unmarshal([]byte(manualJSON), &rec.Manual); err != nil {
		return nil, fmt.Errorf("unmarshalling manual ingredients: %w", err)
	}
	return &rec, nil
}

func describeRecorded(p PourStatus) string {
	return Job{
		Channel:    p.Channel,
		Ingredient: p.Ingredient,
		VolumeOz:   p.VolumeOz,
		Run:        seconds(p.RunSeconds),
		Direction:  p.Direction,
	}.Description()
}

func manualOrEmpty(m []recipe.ManualIngredient) []recipe.ManualIngredient {
	if m == nil {
		return []recipe.ManualIngredient{}
	}
	return m
}

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDispenseNotFound
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
