package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrNotFound is returned when a requested run ID has no stored result.
var ErrNotFound = errors.New("store: result not found")

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database. Monetary
// values are stored as decimal strings and timestamps as RFC 3339 text so a
// stored result reconstructs exactly.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtests (
	run_id          TEXT PRIMARY KEY,
	strategy        TEXT NOT NULL,
	state           TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	initial_capital TEXT NOT NULL,
	final_value     TEXT NOT NULL,
	metrics_json    TEXT,
	failure_json    TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id         TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	session        TEXT NOT NULL,
	cash           TEXT NOT NULL,
	value          TEXT NOT NULL,
	positions_json TEXT,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS trades (
	run_id     TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	fill_id    TEXT NOT NULL,
	intent_id  TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	qty        INTEGER NOT NULL,
	price      TEXT NOT NULL,
	commission TEXT NOT NULL,
	filled_at  TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures the
// schema exists, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult persists a run result, replacing any previous result stored
// under the same run ID. The write is transactional: either the whole result
// lands or none of it does.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *domain.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM backtests WHERE run_id = ?`,
		`DELETE FROM snapshots WHERE run_id = ?`,
		`DELETE FROM trades WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, res.RunID); err != nil {
			return err
		}
	}

	var metricsJSON, failureJSON sql.NullString
	if res.Metrics != nil {
		b, err := json.Marshal(res.Metrics)
		if err != nil {
			return err
		}
		metricsJSON = sql.NullString{String: string(b), Valid: true}
	}
	if res.Failure != nil {
		b, err := json.Marshal(res.Failure)
		if err != nil {
			return err
		}
		failureJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtests
			(run_id, strategy, state, started_at, finished_at,
			 initial_capital, final_value, metrics_json, failure_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Strategy, string(res.State),
		encodeTime(res.StartedAt), encodeTime(res.FinishedAt),
		res.InitialCapital.String(), res.FinalValue.String(),
		metricsJSON, failureJSON,
	)
	if err != nil {
		return err
	}

	for i, snap := range res.Snapshots {
		positionsJSON, err := json.Marshal(snap.Positions)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (run_id, seq, session, cash, value, positions_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			res.RunID, i, encodeTime(snap.Session),
			snap.Cash.String(), snap.Value.String(), string(positionsJSON),
		)
		if err != nil {
			return err
		}
	}

	for i, f := range res.Trades {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trades
				(run_id, seq, fill_id, intent_id, symbol, side, qty, price, commission, filled_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, i, f.ID, f.IntentID, f.Symbol, string(f.Side),
			f.Qty, f.Price.String(), f.Commission.String(), encodeTime(f.Time),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetResult retrieves a full result by run ID.
func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*domain.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT strategy, state, started_at, finished_at,
		       initial_capital, final_value, metrics_json, failure_json
		FROM backtests WHERE run_id = ?`, runID)

	var (
		res                      = &domain.Result{RunID: runID}
		state                    string
		startedAt, finishedAt    string
		initialCapital, finalVal string
		metricsJSON, failureJSON sql.NullString
	)
	err := row.Scan(&res.Strategy, &state, &startedAt, &finishedAt,
		&initialCapital, &finalVal, &metricsJSON, &failureJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	res.State = domain.RunState(state)
	if res.StartedAt, err = decodeTime(startedAt); err != nil {
		return nil, err
	}
	if res.FinishedAt, err = decodeTime(finishedAt); err != nil {
		return nil, err
	}
	if res.InitialCapital, err = decimal.NewFromString(initialCapital); err != nil {
		return nil, err
	}
	if res.FinalValue, err = decimal.NewFromString(finalVal); err != nil {
		return nil, err
	}
	if metricsJSON.Valid {
		res.Metrics = &domain.Metrics{}
		if err := json.Unmarshal([]byte(metricsJSON.String), res.Metrics); err != nil {
			return nil, err
		}
	}
	if failureJSON.Valid {
		res.Failure = &domain.FailureReport{}
		if err := json.Unmarshal([]byte(failureJSON.String), res.Failure); err != nil {
			return nil, err
		}
	}

	if res.Snapshots, err = s.readSnapshots(ctx, runID); err != nil {
		return nil, err
	}
	if res.Trades, err = s.readTrades(ctx, runID); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) readSnapshots(ctx context.Context, runID string) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, cash, value, positions_json
		FROM snapshots WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []domain.Snapshot
	for rows.Next() {
		var (
			snap          domain.Snapshot
			session       string
			cash, value   string
			positionsJSON sql.NullString
		)
		if err := rows.Scan(&session, &cash, &value, &positionsJSON); err != nil {
			return nil, err
		}
		if snap.Session, err = decodeTime(session); err != nil {
			return nil, err
		}
		if snap.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, err
		}
		if snap.Value, err = decimal.NewFromString(value); err != nil {
			return nil, err
		}
		if positionsJSON.Valid && positionsJSON.String != "null" {
			if err := json.Unmarshal([]byte(positionsJSON.String), &snap.Positions); err != nil {
				return nil, err
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *SQLiteStore) readTrades(ctx context.Context, runID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fill_id, intent_id, symbol, side, qty, price, commission, filled_at
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Fill
	for rows.Next() {
		var (
			f                           domain.Fill
			side                        string
			price, commission, filledAt string
		)
		if err := rows.Scan(&f.ID, &f.IntentID, &f.Symbol, &side, &f.Qty,
			&price, &commission, &filledAt); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if f.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, err
		}
		if f.Time, err = decodeTime(filledAt); err != nil {
			return nil, err
		}
		trades = append(trades, f)
	}
	return trades, rows.Err()
}

// ListResults returns summaries of stored runs, most recent first.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, strategy, state, started_at, finished_at
		FROM backtests ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var (
			sum                   ResultSummary
			state                 string
			startedAt, finishedAt string
		)
		if err := rows.Scan(&sum.RunID, &sum.Strategy, &state, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		sum.State = domain.RunState(state)
		if sum.StartedAt, err = decodeTime(startedAt); err != nil {
			return nil, err
		}
		if sum.FinishedAt, err = decodeTime(finishedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteResult removes a stored run and its history.
func (s *SQLiteStore) DeleteResult(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM trades WHERE run_id = ?`,
		`DELETE FROM snapshots WHERE run_id = ?`,
		`DELETE FROM backtests WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, runID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
