package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinimetrix/clinimetrix/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type scaleDefinitionRepoPG struct{ pool *pgxpool.Pool }

func NewScaleDefinitionRepoPG(pool *pgxpool.Pool) ScaleDefinitionRepository {
	return &scaleDefinitionRepoPG{pool: pool}
}

func (r *scaleDefinitionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const scaleDefCols = `id, scale_id, abbreviation, name, version, content_hash,
	document, active, published_at, created_at, updated_at`

func (r *scaleDefinitionRepoPG) scanDefinition(row pgx.Row) (*ScaleDefinition, error) {
	var d ScaleDefinition
	err := row.Scan(&d.ID, &d.ScaleID, &d.Abbreviation, &d.Name, &d.Version, &d.ContentHash,
		&d.Document, &d.Active, &d.PublishedAt, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *scaleDefinitionRepoPG) Create(ctx context.Context, d *ScaleDefinition) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scale_definition (id, scale_id, abbreviation, name, version, content_hash,
			document, active, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.ScaleID, d.Abbreviation, d.Name, d.Version, d.ContentHash,
		d.Document, d.Active, d.PublishedAt)
	return err
}

func (r *scaleDefinitionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScaleDefinition, error) {
	return r.scanDefinition(r.conn(ctx).QueryRow(ctx, `SELECT `+scaleDefCols+` FROM scale_definition WHERE id = $1`, id))
}

func (r *scaleDefinitionRepoPG) GetByScaleVersion(ctx context.Context, scaleID, version string) (*ScaleDefinition, error) {
	return r.scanDefinition(r.conn(ctx).QueryRow(ctx, `SELECT `+scaleDefCols+` FROM scale_definition WHERE scale_id = $1 AND version = $2`, scaleID, version))
}

func (r *scaleDefinitionRepoPG) Latest(ctx context.Context, scaleID string) (*ScaleDefinition, error) {
	return r.scanDefinition(r.conn(ctx).QueryRow(ctx, `
		SELECT `+scaleDefCols+` FROM scale_definition
		WHERE scale_id = $1 AND active = TRUE
		ORDER BY published_at DESC LIMIT 1`, scaleID))
}

func (r *scaleDefinitionRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ScaleDefinition, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active = TRUE`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM scale_definition`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+scaleDefCols+` FROM scale_definition`+where+` ORDER BY scale_id, published_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ScaleDefinition
	for rows.Next() {
		d, err := r.scanDefinition(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *scaleDefinitionRepoPG) Retire(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE scale_definition SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}
