package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/byebiz/layerone/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Single connection: serializes writers so the patch transaction never
	// observes SQLITE_BUSY mid-upgrade.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending_osint',
	intake     TEXT NOT NULL,
	osint      TEXT,
	financial  TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, intake model.Intake) (*model.Record, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	intakeJSON, err := json.Marshal(intake)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal intake")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, status, intake, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.StatusPendingOSINT), string(intakeJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert record")
	}

	return &model.Record{
		ID:        id,
		Status:    model.StatusPendingOSINT,
		Intake:    intake,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE id = ?`,
		id,
	)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

// ApplyPatch writes the patch's field group and new status in a single
// transaction guarded by a compare-and-swap on the current status.
func (s *SQLiteStore) ApplyPatch(ctx context.Context, id string, patch model.Patch) (*model.Record, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin patch tx")
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM records WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read status %s", id)
	}
	if model.Status(current) != patch.ExpectedStatus {
		return nil, model.ErrConflict
	}

	now := time.Now().UTC()
	switch {
	case patch.OSINT != nil:
		osintJSON, mErr := json.Marshal(patch.OSINT)
		if mErr != nil {
			return nil, eris.Wrap(mErr, "sqlite: marshal osint group")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET status = ?, osint = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(patch.NewStatus), string(osintJSON), now, id, string(patch.ExpectedStatus),
		)
	case patch.Financial != nil:
		finJSON, mErr := json.Marshal(patch.Financial)
		if mErr != nil {
			return nil, eris.Wrap(mErr, "sqlite: marshal financial group")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET status = ?, financial = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(patch.NewStatus), string(finJSON), now, id, string(patch.ExpectedStatus),
		)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(patch.NewStatus), now, id, string(patch.ExpectedStatus),
		)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: apply patch %s", id)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE id = ?`,
		id,
	)
	record, err := scanRecord(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit patch %s", id)
	}
	return record, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var intakeJSON string
	var osintJSON, finJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &intakeJSON, &osintJSON, &finJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	if err := json.Unmarshal([]byte(intakeJSON), &r.Intake); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal intake")
	}
	if osintJSON.Valid {
		r.OSINT = &model.OSINTResult{}
		if err := json.Unmarshal([]byte(osintJSON.String), r.OSINT); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal osint group")
		}
	}
	if finJSON.Valid {
		r.Financial = &model.FinancialResult{}
		if err := json.Unmarshal([]byte(finJSON.String), r.Financial); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal financial group")
		}
	}
	return &r, nil
}
