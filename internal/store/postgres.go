package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/byebiz/layerone/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. Satisfied by
// pgxmock.PgxPoolIface in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"insert_record": `INSERT INTO records (id, status, intake, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"get_record":    `SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'pending_osint',
	intake     JSONB NOT NULL,
	osint      JSONB,
	financial  JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, intake model.Intake) (*model.Record, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	intakeJSON, err := json.Marshal(intake)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal intake")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, status, intake, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.StatusPendingOSINT), intakeJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert record")
	}

	return &model.Record{
		ID:        id,
		Status:    model.StatusPendingOSINT,
		Intake:    intake,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE id = $1`,
		id,
	)
	return scanRecordPG(row)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecordPG(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

// ApplyPatch locks the row, checks the status precondition, and writes the
// field group plus the new status in one transaction.
func (s *PostgresStore) ApplyPatch(ctx context.Context, id string, patch model.Patch) (*model.Record, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin patch tx")
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM records WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read status %s", id)
	}
	if model.Status(current) != patch.ExpectedStatus {
		return nil, model.ErrConflict
	}

	now := time.Now().UTC()
	switch {
	case patch.OSINT != nil:
		osintJSON, mErr := json.Marshal(patch.OSINT)
		if mErr != nil {
			return nil, eris.Wrap(mErr, "postgres: marshal osint group")
		}
		_, err = tx.Exec(ctx,
			`UPDATE records SET status = $1, osint = $2, updated_at = $3 WHERE id = $4`,
			string(patch.NewStatus), osintJSON, now, id,
		)
	case patch.Financial != nil:
		finJSON, mErr := json.Marshal(patch.Financial)
		if mErr != nil {
			return nil, eris.Wrap(mErr, "postgres: marshal financial group")
		}
		_, err = tx.Exec(ctx,
			`UPDATE records SET status = $1, financial = $2, updated_at = $3 WHERE id = $4`,
			string(patch.NewStatus), finJSON, now, id,
		)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE records SET status = $1, updated_at = $2 WHERE id = $3`,
			string(patch.NewStatus), now, id,
		)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: apply patch %s", id)
	}

	row := tx.QueryRow(ctx,
		`SELECT id, status, intake, osint, financial, created_at, updated_at FROM records WHERE id = $1`,
		id,
	)
	record, err := scanRecordPG(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit patch %s", id)
	}
	return record, nil
}

func scanRecordPG(row scannable) (*model.Record, error) {
	var r model.Record
	var intakeJSON []byte
	var osintJSON, finJSON []byte

	err := row.Scan(&r.ID, &r.Status, &intakeJSON, &osintJSON, &finJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}

	if err := json.Unmarshal(intakeJSON, &r.Intake); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal intake")
	}
	if len(osintJSON) > 0 {
		r.OSINT = &model.OSINTResult{}
		if err := json.Unmarshal(osintJSON, r.OSINT); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal osint group")
		}
	}
	if len(finJSON) > 0 {
		r.Financial = &model.FinancialResult{}
		if err := json.Unmarshal(finJSON, r.Financial); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal financial group")
		}
	}
	return &r, nil
}
