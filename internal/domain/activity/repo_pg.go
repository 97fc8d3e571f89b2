package activity

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the PostgreSQL activity store. Rows are always written
// on the pool, outside any caller transaction.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, a *Activity) error {
	a.ID = uuid.New()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO activities (id, user_id, action, details)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		a.ID, a.UserID, a.Action, a.Details).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Activity, int, error) {
	base := db.Goqu.From(goqu.T("activities").As("a")).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("a.user_id"))))

	if f.UserID != nil {
		base = base.Where(goqu.I("a.user_id").Eq(f.UserID.String()))
	}
	if f.Action != "" {
		base = base.Where(goqu.I("a.action").ILike("%" + f.Action + "%"))
	}
	if f.From != nil {
		base = base.Where(goqu.I("a.created_at").Gte(*f.From))
	}
	if f.To != nil {
		base = base.Where(goqu.I("a.created_at").Lt(*f.To))
	}

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build activity count: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	listSQL, listArgs, err := base.Select(
		goqu.I("a.id"), goqu.I("a.user_id"),
		goqu.COALESCE(goqu.I("u.email"), "").As("user_email"),
		goqu.I("a.action"), goqu.I("a.details"), goqu.I("a.created_at"),
	).Order(goqu.I("a.created_at").Desc()).
		Limit(uint(f.Limit)).Offset(uint(f.Offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build activity list: %w", err)
	}

	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var items []*Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.UserID, &a.UserEmail, &a.Action, &a.Details, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &a)
	}
	return items, total, rows.Err()
}
