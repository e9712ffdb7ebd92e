package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/job"
	"github.com/Strob0t/TabForge/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const jobColumns = `id::text, kind, prompt, row_count, COALESCE(input_ref, ''), status, result, error, attempts, created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, req job.CreateRequest) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO generation_jobs (kind, prompt, row_count, input_ref)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+jobColumns,
		string(req.Kind), req.Prompt, req.RowCount, nullIfEmpty(req.InputRef))

	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

// checkID rejects ids that cannot name a row, so callers see ErrNotFound
// instead of a uuid cast error.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("job %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if err != nil {
		return nil, notFoundWrap(err, "get job %s", id)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]job.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM generation_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return orEmpty(out), nil
}

// ClaimJob flips a pending job to processing. A job that exists but is not
// pending yields database.ErrNotClaimable.
func (s *Store) ClaimJob(ctx context.Context, id string) (*job.Job, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE generation_jobs
		 SET status = 'processing', attempts = attempts + 1, error = '', updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+jobColumns, id)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM generation_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("claim job %s: %w", id, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("claim job %s: %w", id, database.ErrNotClaimable)
}

func (s *Store) ReleaseJob(ctx context.Context, id, reason string) error {
	if err := checkID(id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET status = 'pending', error = $2, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, reason)
	return execExpectOne(tag, err, "release job %s", id)
}

func (s *Store) CompleteJob(ctx context.Context, id string, result job.Result) error {
	if err := checkID(id); err != nil {
		return err
	}
	result.Columns = orEmpty(result.Columns)
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET status = 'completed', result = $2, error = '', updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, raw)
	return execExpectOne(tag, err, "complete job %s", id)
}

func (s *Store) FailJob(ctx context.Context, id, reason string) error {
	if err := checkID(id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET status = 'failed', error = $2, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`, id, reason)
	return execExpectOne(tag, err, "fail job %s", id)
}

func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time, maxAttempts int) (requeued, failed []string, err error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE generation_jobs SET
		   status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
		   error = CASE WHEN attempts >= $2 THEN $3 ELSE error END,
		   updated_at = now()
		 WHERE status = 'processing' AND updated_at < $1
		 RETURNING id::text, status`, cutoff, maxAttempts, database.StaleExhaustedReason)
	if err != nil {
		return nil, nil, fmt.Errorf("requeue stale jobs: %w", err)
	}
	defer rows.Close()

	requeued, failed = []string{}, []string{}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, nil, fmt.Errorf("requeue stale jobs: %w", err)
		}
		if job.Status(status) == job.StatusFailed {
			failed = append(failed, id)
		} else {
			requeued = append(requeued, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return requeued, failed, nil
}

func scanJob(row scannable) (*job.Job, error) {
	var (
		j         job.Job
		kind      string
		status    string
		resultRaw []byte
	)
	if err := row.Scan(&j.ID, &kind, &j.Prompt, &j.RowCount, &j.InputRef, &status,
		&resultRaw, &j.Error, &j.Attempts, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	if len(resultRaw) > 0 {
		var r job.Result
		if err := json.Unmarshal(resultRaw, &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		j.Result = &r
	}
	return &j, nil
}
