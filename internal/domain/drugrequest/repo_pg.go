package drugrequest

import (
	"context"
	"errors"
	"fmt"

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

const requestCols = `id, requested_by, drug_name, status, batch_id, created_drug_id, created_at, updated_at`

func (r *repoPG) scanRow(row pgx.Row) (*DrugRequest, error) {
	var dr DrugRequest
	err := row.Scan(&dr.ID, &dr.RequestedBy, &dr.DrugName, &dr.Status,
		&dr.BatchID, &dr.CreatedDrugID, &dr.CreatedAt, &dr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

func (r *repoPG) scanRows(rows pgx.Rows) ([]*DrugRequest, error) {
	defer rows.Close()
	var items []*DrugRequest
	for rows.Next() {
		dr, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, dr)
	}
	return items, rows.Err()
}

// exec runs a single-row mutation and reports ErrNotFound when nothing matched.
func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Create(ctx context.Context, dr *DrugRequest) error {
	dr.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_request (id, requested_by, drug_name, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		dr.ID, dr.RequestedBy, dr.DrugName, dr.Status,
	).Scan(&dr.CreatedAt, &dr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert drug request: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DrugRequest, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM drug_request WHERE id = $1`, id))
}

func (r *repoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*DrugRequest, int, error) {
	return r.Search(ctx, map[string]string{"requested_by": userID}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*DrugRequest, int, error) {
	query := `SELECT ` + requestCols + ` FROM drug_request WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM drug_request WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["requested_by"]; ok {
		query += fmt.Sprintf(` AND requested_by = $%d`, idx)
		countQuery += fmt.Sprintf(` AND requested_by = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["drug_name"]; ok {
		query += fmt.Sprintf(` AND drug_name ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND drug_name ILIKE $%d`, idx)
		args = append(args, "%"+p+"%")
		idx++
	}
	if p, ok := params["batch_id"]; ok {
		query += fmt.Sprintf(` AND batch_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND batch_id = $%d`, idx)
		args = append(args, p)
		idx++
	}
	switch params["batched"] {
	case "true":
		query += ` AND batch_id IS NOT NULL`
		countQuery += ` AND batch_id IS NOT NULL`
	case "false":
		query += ` AND batch_id IS NULL`
		countQuery += ` AND batch_id IS NULL`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanRows(rows)
	return items, total, err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM drug_request WHERE id = $1`, id)
}

func (r *repoPG) Reject(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE drug_request SET status = 'rejected', batch_id = NULL, updated_at = NOW() WHERE id = $1`, id)
}

func (r *repoPG) Approve(ctx context.Context, id, drugID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug_request SET status = 'approved', created_drug_id = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'rejected'`, id, drugID)
	if err != nil {
		return false, fmt.Errorf("approve drug request %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetBatch(ctx context.Context, id, batchID uuid.UUID) error {
	return r.exec(ctx, `UPDATE drug_request SET batch_id = $2, updated_at = NOW() WHERE id = $1`, id, batchID)
}

func (r *repoPG) ClearBatch(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE drug_request SET batch_id = NULL, updated_at = NOW() WHERE id = $1`, id)
}

func (r *repoPG) ClearBatchForAll(ctx context.Context, batchID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE drug_request SET batch_id = NULL, updated_at = NOW() WHERE batch_id = $1`, batchID)
	if err != nil {
		return 0, fmt.Errorf("clear batch %s: %w", batchID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*DrugRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+requestCols+` FROM drug_request WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, err
	}
	return r.scanRows(rows)
}

func (r *repoPG) CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug_request WHERE batch_id = $1`, batchID).Scan(&n)
	return n, err
}
