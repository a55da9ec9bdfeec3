package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// SQLiteStore implements Store using SQLite. Entities are stored as JSON documents
// next to the columns used for lookup, filtering and version checks. Times are kept
// as unix seconds plus nanoseconds so any time.Time, the zero value included, fits.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a store. Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, repoError("open sqlite database", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, repoError("initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		data_standard TEXT NOT NULL,
		state TEXT NOT NULL,
		created_sec INTEGER NOT NULL,
		created_nsec INTEGER NOT NULL,
		version INTEGER NOT NULL,
		doc BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_standard_state ON jobs(data_standard, state);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_sec, created_nsec);
	CREATE TABLE IF NOT EXISTS builds (
		job_id TEXT PRIMARY KEY REFERENCES jobs(id),
		version INTEGER NOT NULL,
		doc BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS data_standard_timestamps (
		data_standard TEXT PRIMARY KEY,
		ts_sec INTEGER NOT NULL,
		ts_nsec INTEGER NOT NULL,
		updated_sec INTEGER NOT NULL,
		updated_nsec INTEGER NOT NULL,
		version INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM jobs WHERE id = ?", id).Scan(&doc)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound.WithContext("job_id", id)
	}
	if err != nil {
		return nil, repoError("query job", err)
	}
	var j jobs.Job
	if err := json.Unmarshal(doc, &j); err != nil {
		return nil, repoError("decode job", err)
	}
	return &j, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	expected := job.Version
	next := *job
	next.Version = expected + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return repoError("encode job", err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO jobs (id, data_standard, state, created_sec, created_nsec, version, doc) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			job.ID, string(job.DataStandard), string(job.State), job.CreatedAt.Unix(), job.CreatedAt.Nanosecond(), next.Version, doc)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE jobs SET state = ?, version = ?, doc = ? WHERE id = ? AND version = ?",
			string(job.State), next.Version, doc, job.ID, expected)
	}
	if werr := s.checkWrite(ctx, res, err, "jobs", "id", job.ID, expected); werr != nil {
		return werr.WithContext("job_id", job.ID)
	}
	job.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, opts ListOptions) ([]*jobs.Job, error) {
	var (
		where []string
		args  []any
	)
	if opts.DataStandard != "" {
		where = append(where, "data_standard = ?")
		args = append(args, string(opts.DataStandard))
	}
	if opts.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(opts.State))
	}
	query := "SELECT doc FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_sec DESC, created_nsec DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, repoError("query jobs", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, repoError("scan job", err)
		}
		var j jobs.Job
		if err := json.Unmarshal(doc, &j); err != nil {
			return nil, repoError("decode job", err)
		}
		out = append(out, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, repoError("iterate jobs", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetBuild(ctx context.Context, jobID string) (*jobs.Build, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM builds WHERE job_id = ?", jobID).Scan(&doc)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound.WithContext("job_id", jobID)
	}
	if err != nil {
		return nil, repoError("query build", err)
	}
	var b jobs.Build
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, repoError("decode build", err)
	}
	return &b, nil
}

func (s *SQLiteStore) UpsertBuild(ctx context.Context, build *jobs.Build) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM jobs WHERE id = ?", build.JobID).Scan(&exists); err != nil {
		return repoError("check job", err)
	}
	if exists == 0 {
		return ErrNotFound.WithContext("job_id", build.JobID)
	}

	expected := build.Version
	next := *build
	next.Version = expected + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return repoError("encode build", err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			"INSERT INTO builds (job_id, version, doc) VALUES (?, ?, ?) ON CONFLICT(job_id) DO NOTHING",
			build.JobID, next.Version, doc)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE builds SET version = ?, doc = ? WHERE job_id = ? AND version = ?",
			next.Version, doc, build.JobID, expected)
	}
	if werr := s.checkWrite(ctx, res, err, "builds", "job_id", build.JobID, expected); werr != nil {
		return werr.WithContext("job_id", build.JobID)
	}
	build.Version = next.Version
	return nil
}

func (s *SQLiteStore) GetTimestamp(ctx context.Context, ds jobs.DataStandard) (*jobs.DataStandardTimestamp, error) {
	var tsSec, tsNsec, updatedSec, updatedNsec, version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT ts_sec, ts_nsec, updated_sec, updated_nsec, version FROM data_standard_timestamps WHERE data_standard = ?",
		string(ds)).Scan(&tsSec, &tsNsec, &updatedSec, &updatedNsec, &version)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound.WithContext("data_standard", string(ds))
	}
	if err != nil {
		return nil, repoError("query timestamp", err)
	}
	return &jobs.DataStandardTimestamp{
		DataStandard: ds,
		Timestamp:    time.Unix(tsSec, tsNsec).UTC(),
		UpdatedAt:    time.Unix(updatedSec, updatedNsec).UTC(),
		Version:      version,
	}, nil
}

func (s *SQLiteStore) UpsertTimestamp(ctx context.Context, rec *jobs.DataStandardTimestamp) error {
	expected := rec.Version
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO data_standard_timestamps (data_standard, ts_sec, ts_nsec, updated_sec, updated_nsec, version)
			 VALUES (?, ?, ?, ?, ?, 1) ON CONFLICT(data_standard) DO NOTHING`,
			string(rec.DataStandard), rec.Timestamp.Unix(), rec.Timestamp.Nanosecond(), rec.UpdatedAt.Unix(), rec.UpdatedAt.Nanosecond())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE data_standard_timestamps SET ts_sec = ?, ts_nsec = ?, updated_sec = ?, updated_nsec = ?, version = version + 1
			 WHERE data_standard = ? AND version = ?`,
			rec.Timestamp.Unix(), rec.Timestamp.Nanosecond(), rec.UpdatedAt.Unix(), rec.UpdatedAt.Nanosecond(),
			string(rec.DataStandard), expected)
	}
	if werr := s.checkWrite(ctx, res, err, "data_standard_timestamps", "data_standard", string(rec.DataStandard), expected); werr != nil {
		return werr.WithContext("data_standard", string(rec.DataStandard))
	}
	rec.Version = expected + 1
	return nil
}

// checkWrite turns a zero-row conditional write into ErrConflict or ErrNotFound.
func (s *SQLiteStore) checkWrite(ctx context.Context, res sql.Result, execErr error, table, keyColumn, key string, expected int64) *errors.ClassifiedError {
	if execErr != nil {
		return repoError("write "+table, execErr)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return repoError("rows affected", err)
	}
	if n == 1 {
		return nil
	}
	if expected == 0 {
		return ErrConflict.WithContext("reason", "already exists")
	}
	var exists int
	// table and keyColumn are package constants, never caller input.
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+table+" WHERE "+keyColumn+" = ?", key).Scan(&exists); err != nil {
		return repoError("check "+table, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict.WithContext("expected_version", expected)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func repoError(op string, err error) *errors.ClassifiedError {
	return errors.RepositoryError("sqlite: " + op).WithCause(err).Build()
}
