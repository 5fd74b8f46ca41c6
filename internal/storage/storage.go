package storage

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tessera/internal/collage"
	"tessera/internal/errors"
)

// Store wraps SQLite-backed persistence for collage job history.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collage_jobs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            mode TEXT,
            grid_rows INTEGER,
            grid_cols INTEGER,
            seed INTEGER,
            input_count INTEGER,
            output_dir TEXT,
            params_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_code TEXT,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            output_path TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS collage_parents (
            job_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            name TEXT NOT NULL,
            PRIMARY KEY (job_id, position)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_collage_jobs_status ON collage_jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_job_id ON job_results(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Mode        string     `json:"mode"`
	Rows        int        `json:"rows"`
	Cols        int        `json:"cols"`
	Seed        int64      `json:"seed"`
	InputCount  int        `json:"input_count"`
	OutputDir   string     `json:"output_dir"`
	ParamsJSON  string     `json:"params"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RecordJobQueued inserts a pending job and its parent list.
func (s *Store) RecordJobQueued(job collage.Job) error {
	if s == nil {
		return nil
	}
	paramsJSON, _ := json.Marshal(job.Params)
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO collage_jobs (id, status, mode, grid_rows, grid_cols, seed, input_count, output_dir, params_json) VALUES (?, 'queued', ?, ?, ?, ?, ?, ?, ?);`,
		job.ID, string(job.Params.Mode), job.Params.Rows, job.Params.Cols, job.Params.SeedValue(), len(job.Inputs), job.OutputDir, string(paramsJSON))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM collage_parents WHERE job_id=?;`, job.ID); err != nil {
		return err
	}
	for i, in := range job.Inputs {
		name := in.Name
		if name == "" {
			name = in.Path
		}
		if _, err := tx.Exec(`INSERT INTO collage_parents (job_id, position, name) VALUES (?, ?, ?);`, job.ID, i, name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE collage_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job. meta is stored when non-nil.
func (s *Store) RecordJobResult(id, status string, meta *collage.Metadata, code errors.Code, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE collage_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_code=?, error_message=? WHERE id=?;`,
		status, string(code), errMsg, id)
	if err != nil || meta == nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, output_path, meta_json) VALUES (?, ?, ?);`, id, meta.Output.Path, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, stderrors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, status, mode, grid_rows, grid_cols, seed, input_count, output_dir, params_json, created_at, started_at, completed_at, error_code, error_message
        FROM collage_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var code, errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.Mode, &rec.Rows, &rec.Cols, &rec.Seed, &rec.InputCount, &rec.OutputDir, &rec.ParamsJSON,
			&created, &started, &completed, &code, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		rec.ErrorCode = code.String
		rec.Error = errorMsg.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last metadata record for a job.
func (s *Store) JobMeta(id string) (*collage.Metadata, error) {
	if s == nil {
		return nil, stderrors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeNotFound, "no result for job %s", id)
	}
	if err != nil {
		return nil, err
	}
	var meta collage.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return &meta, nil
}

// Parents returns the input names of a job in input order.
func (s *Store) Parents(id string) ([]string, error) {
	if s == nil {
		return nil, stderrors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT name FROM collage_parents WHERE job_id=? ORDER BY position;`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
