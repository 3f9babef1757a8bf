// Package store persists graph datasets and prediction runs in SQLite.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tsawler/go-mdgnn/graphio"
	"github.com/tsawler/go-mdgnn/tensor"
)

// ErrNotFound is returned when a dataset or run does not exist
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed dataset and prediction store
type Store struct {
	db          *sql.DB
	codec       *graphio.BinaryCodec
	journalMode string
}

// DatasetInfo describes a stored dataset without decoding it
type DatasetInfo struct {
	Name       string
	NumNodes   int
	NumEdges   int
	FeatureDim int
	UpdatedAt  time.Time
}

// Run is one recorded forward pass over a stored or loaded dataset
type Run struct {
	ID          string
	Dataset     string
	Config      string // rendered configuration summary
	Mode        string
	Shape       []int
	Predictions []float32
	Duration    time.Duration
	CreatedAt   time.Time
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// in-memory databases are per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db, codec: graphio.NewBinaryCodec()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	// in-memory databases stay in "memory" mode
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&s.journalMode); err != nil {
		return fmt.Errorf("failed to set journal mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS datasets (
		name TEXT PRIMARY KEY,
		num_nodes INTEGER NOT NULL,
		num_edges INTEGER NOT NULL,
		feature_dim INTEGER NOT NULL,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		dataset TEXT NOT NULL,
		config TEXT NOT NULL,
		mode TEXT NOT NULL,
		shape JSON NOT NULL,
		predictions JSON NOT NULL,
		duration_ns INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
	`

	_, err := s.db.Exec(schema)
	return err
}

// JournalMode returns the SQLite journal mode in effect, "wal" for file
// databases
func (s *Store) JournalMode() string {
	return s.journalMode
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDataset stores d under its name, replacing any previous version
func (s *Store) SaveDataset(ctx context.Context, d *graphio.Dataset) error {
	if d.Name == "" {
		return fmt.Errorf("dataset name is required")
	}

	var buf bytes.Buffer
	if err := s.codec.Export(d, &buf); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (name, num_nodes, num_edges, feature_dim, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			num_nodes = excluded.num_nodes,
			num_edges = excluded.num_edges,
			feature_dim = excluded.feature_dim,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, d.Name, d.NumNodes(), d.Graph.NumEdges(), d.FeatureDim(), buf.Bytes(), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save dataset %q: %w", d.Name, err)
	}
	return nil
}

// LoadDataset decodes the dataset stored under name
func (s *Store) LoadDataset(ctx context.Context, name string) (*graphio.Dataset, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM datasets WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset %q: %w", name, err)
	}

	d, err := s.codec.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset %q: %w", name, err)
	}
	return d, nil
}

// ListDatasets returns stored datasets ordered by name
func (s *Store) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, num_nodes, num_edges, feature_dim, updated_at
		FROM datasets ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var infos []DatasetInfo
	for rows.Next() {
		var (
			info    DatasetInfo
			updated int64
		)
		if err := rows.Scan(&info.Name, &info.NumNodes, &info.NumEdges, &info.FeatureDim, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updated).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return infos, nil
}

// DeleteDataset removes a stored dataset. Runs recorded against it are kept.
func (s *Store) DeleteDataset(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete dataset %q: %w", name, err)
	}
	return expectOne(res, fmt.Sprintf("dataset %q", name))
}

// NewRun builds a run record from a prediction tensor. The predictions are
// copied.
func NewRun(dataset, config, mode string, predictions *tensor.Tensor, duration time.Duration) *Run {
	return &Run{
		Dataset:     dataset,
		Config:      config,
		Mode:        mode,
		Shape:       append([]int(nil), predictions.Shape...),
		Predictions: append([]float32(nil), predictions.Data...),
		Duration:    duration,
	}
}

// Tensor returns the run predictions as a tensor
func (r *Run) Tensor() (*tensor.Tensor, error) {
	return tensor.NewTensor(r.Shape, append([]float32(nil), r.Predictions...))
}

// SaveRun records run, assigning an ID and creation time when unset
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	shape, err := json.Marshal(run.Shape)
	if err != nil {
		return fmt.Errorf("failed to marshal shape: %w", err)
	}
	predictions, err := json.Marshal(run.Predictions)
	if err != nil {
		return fmt.Errorf("failed to marshal predictions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, dataset, config, mode, shape, predictions, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Dataset, run.Config, run.Mode, string(shape), string(predictions), int64(run.Duration), run.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, dataset, config, mode, shape, predictions, duration_ns, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                 Run
		shape, predictions  string
		duration, createdAt int64
	)
	if err := row.Scan(&run.ID, &run.Dataset, &run.Config, &run.Mode, &shape, &predictions, &duration, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(shape), &run.Shape); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shape of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(predictions), &run.Predictions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal predictions of run %s: %w", run.ID, err)
	}
	run.Duration = time.Duration(duration)
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	return &run, nil
}

// GetRun returns the run with the given ID
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the runs of a dataset, newest first. An empty dataset
// name lists every run.
func (s *Store) ListRuns(ctx context.Context, dataset string) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return expectOne(res, "run "+id)
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
