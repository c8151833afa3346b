package drugbatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxlearn/rxlearn/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const batchCols = `b.id, b.status, b.attempts, b.processed_at, b.created_at, b.updated_at`

const memberCount = `(SELECT COUNT(*) FROM drug_request r WHERE r.batch_id = b.id)`

func (r *repoPG) scanRow(row pgx.Row, withCount bool) (*Batch, error) {
	var b Batch
	dest := []interface{}{&b.ID, &b.Status, &b.Attempts, &b.ProcessedAt, &b.CreatedAt, &b.UpdatedAt}
	if withCount {
		dest = append(dest, &b.MemberCount)
	}
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoPG) Create(ctx context.Context) (*Batch, error) {
	b, err := r.scanRow(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_batch AS b (id, status) VALUES ($1, 'open')
		RETURNING `+batchCols, uuid.New()), false)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return b, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+batchCols+`, `+memberCount+` FROM drug_batch b WHERE b.id = $1`, id), true)
}

func (r *repoPG) LatestOpen(ctx context.Context) (*Batch, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `
		SELECT `+batchCols+` FROM drug_batch b
		WHERE b.status = 'open'
		ORDER BY b.created_at DESC, b.id DESC
		LIMIT 1
		FOR UPDATE`), false)
}

func (r *repoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug_batch SET
			status = $3,
			attempts = attempts + CASE WHEN $3 = 'processing' THEN 1 ELSE 0 END,
			processed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)`, id, sources, string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM drug_batch WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Batch, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["status"]; ok {
		where += fmt.Sprintf(` AND b.status = $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug_batch b`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + batchCols + `, ` + memberCount + ` FROM drug_batch b` + where +
		fmt.Sprintf(` ORDER BY b.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scanRow(rows, true)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListStale(ctx context.Context, before time.Time) ([]*Batch, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+batchCols+`, `+memberCount+` FROM drug_batch b
		WHERE b.status = 'processing' AND b.updated_at < $1
		ORDER BY b.updated_at`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Batch
	for rows.Next() {
		b, err := r.scanRow(rows, true)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
