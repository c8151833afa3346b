package drug

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Drug --

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository {
	return &drugRepoPG{pool: pool}
}

const drugCols = `d.id, d.brand_name, d.generic_name, d.manufacturer_id, d.class_id,
	d.indications_and_usage, d.mechanism_of_action, d.dosage_and_administration,
	d.boxed_warning, d.formula, d.description, d.created_at, d.updated_at,
	m.name, c.name`

const drugFrom = ` FROM drug d
	JOIN manufacturer m ON m.id = d.manufacturer_id
	JOIN drug_class c ON c.id = d.class_id`

func (r *drugRepoPG) scanRow(row pgx.Row) (*Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.BrandName, &d.GenericName, &d.ManufacturerID, &d.ClassID,
		&d.IndicationsAndUsage, &d.MechanismOfAction, &d.DosageAndAdministration,
		&d.BoxedWarning, &d.Formula, &d.Description, &d.CreatedAt, &d.UpdatedAt,
		&d.ManufacturerName, &d.ClassName)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *drugRepoPG) Upsert(ctx context.Context, d *Drug) (bool, error) {
	id := uuid.New()
	var inserted bool
	// On conflict only updated_at is touched so curated library content is
	// never overwritten by a later enrichment run.
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO drug (id, brand_name, generic_name, manufacturer_id, class_id,
			indications_and_usage, mechanism_of_action, dosage_and_administration,
			boxed_warning, formula, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT ((lower(brand_name)), (lower(generic_name)))
		DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		id, d.BrandName, d.GenericName, d.ManufacturerID, d.ClassID,
		d.IndicationsAndUsage, d.MechanismOfAction, d.DosageAndAdministration,
		d.BoxedWarning, d.Formula, d.Description,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert drug %q/%q: %w", d.BrandName, d.GenericName, err)
	}
	return inserted, nil
}

func (r *drugRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return r.scanRow(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+drugCols+drugFrom+` WHERE d.id = $1`, id))
}

func (r *drugRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok {
		where += fmt.Sprintf(` AND (d.brand_name ILIKE $%d OR d.generic_name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+q+"%")
		idx++
	}
	if p, ok := params["class_id"]; ok {
		where += fmt.Sprintf(` AND d.class_id = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["manufacturer_id"]; ok {
		where += fmt.Sprintf(` AND d.manufacturer_id = $%d`, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+drugFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + drugCols + drugFrom + where +
		fmt.Sprintf(` ORDER BY d.brand_name, d.generic_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Drug
	for rows.Next() {
		d, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// -- Reference data --

// reference tables share a shape: id, name, name_key, created_at.
type refRow struct {
	ID      uuid.UUID
	Name    string
	NameKey string
	Created time.Time
}

func getOrCreateRef(ctx context.Context, q queryable, table, name, key string) (*refRow, bool, error) {
	var r refRow
	err := q.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, name_key) VALUES ($1, $2, $3)
		ON CONFLICT (name_key) DO NOTHING
		RETURNING id, name, name_key, created_at`, table),
		uuid.New(), name, key,
	).Scan(&r.ID, &r.Name, &r.NameKey, &r.Created)
	if err == nil {
		return &r, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert %s %q: %w", table, name, err)
	}
	err = q.QueryRow(ctx, fmt.Sprintf(`SELECT id, name, name_key, created_at FROM %s WHERE name_key = $1`, table), key).
		Scan(&r.ID, &r.Name, &r.NameKey, &r.Created)
	if err != nil {
		return nil, false, fmt.Errorf("select %s %q: %w", table, name, err)
	}
	return &r, false, nil
}

func listRefs(ctx context.Context, q queryable, table string, limit, offset int) ([]*refRow, int, error) {
	var total int
	if err := q.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT id, name, name_key, created_at FROM %s ORDER BY name LIMIT $1 OFFSET $2`, table), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*refRow
	for rows.Next() {
		var r refRow
		if err := rows.Scan(&r.ID, &r.Name, &r.NameKey, &r.Created); err != nil {
			return nil, 0, err
		}
		items = append(items, &r)
	}
	return items, total, rows.Err()
}

type manufacturerRepoPG struct{ pool *pgxpool.Pool }

func NewManufacturerRepoPG(pool *pgxpool.Pool) ManufacturerRepository {
	return &manufacturerRepoPG{pool: pool}
}

func (r *manufacturerRepoPG) GetOrCreate(ctx context.Context, name, key string) (*Manufacturer, bool, error) {
	row, created, err := getOrCreateRef(ctx, conn(ctx, r.pool), "manufacturer", name, key)
	if err != nil {
		return nil, false, err
	}
	return &Manufacturer{ID: row.ID, Name: row.Name, NameKey: row.NameKey, CreatedAt: row.Created}, created, nil
}

func (r *manufacturerRepoPG) List(ctx context.Context, limit, offset int) ([]*Manufacturer, int, error) {
	rows, total, err := listRefs(ctx, conn(ctx, r.pool), "manufacturer", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*Manufacturer, len(rows))
	for i, row := range rows {
		items[i] = &Manufacturer{ID: row.ID, Name: row.Name, NameKey: row.NameKey, CreatedAt: row.Created}
	}
	return items, total, nil
}

type drugClassRepoPG struct{ pool *pgxpool.Pool }

func NewDrugClassRepoPG(pool *pgxpool.Pool) DrugClassRepository {
	return &drugClassRepoPG{pool: pool}
}

func (r *drugClassRepoPG) GetOrCreate(ctx context.Context, name, key string) (*DrugClass, bool, error) {
	row, created, err := getOrCreateRef(ctx, conn(ctx, r.pool), "drug_class", name, key)
	if err != nil {
		return nil, false, err
	}
	return &DrugClass{ID: row.ID, Name: row.Name, NameKey: row.NameKey, CreatedAt: row.Created}, created, nil
}

func (r *drugClassRepoPG) List(ctx context.Context, limit, offset int) ([]*DrugClass, int, error) {
	rows, total, err := listRefs(ctx, conn(ctx, r.pool), "drug_class", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*DrugClass, len(rows))
	for i, row := range rows {
		items[i] = &DrugClass{ID: row.ID, Name: row.Name, NameKey: row.NameKey, CreatedAt: row.Created}
	}
	return items, total, nil
}
