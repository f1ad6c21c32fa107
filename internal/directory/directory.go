// Package directory resolves batch recipient queries against the portal's
// user store. The store belongs to the surrounding school administration
// system; the engine only reads ids from a shared view.
package directory

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/campuskit/notify/internal/database"
	"github.com/campuskit/notify/internal/modules/notification"
	"github.com/georgysavva/scany/v2/pgxscan"
)

// recipientsView is maintained by the portal's record management side; it
// exposes one row per notifiable user.
const recipientsView = "portal_recipients"

// PG is the pgx-backed Directory implementation.
type PG struct {
	db   database.DBTX
	psql squirrel.StatementBuilderType
}

// NewPG creates a Directory over the shared recipients view.
func NewPG(db database.DBTX) *PG {
	return &PG{
		db:   db,
		psql: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (d *PG) conditions(q notification.RecipientQuery) squirrel.And {
	cond := squirrel.And{squirrel.Eq{"active": true}}
	if len(q.UserIDs) > 0 {
		cond = append(cond, squirrel.Eq{"user_id": q.UserIDs})
	}
	if len(q.Roles) > 0 {
		cond = append(cond, squirrel.Eq{"role": q.Roles})
	}
	if q.GradeLevel != "" {
		cond = append(cond, squirrel.Eq{"grade_level": q.GradeLevel})
	}
	return cond
}

// CountRecipients returns how many users a query would select, for the
// batch's estimated recipient count.
func (d *PG) CountRecipients(ctx context.Context, q notification.RecipientQuery) (int, error) {
	sql, args, err := d.psql.Select("COUNT(*)").
		From(recipientsView).
		Where(d.conditions(q)).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := d.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindRecipients resolves a query to the selected user ids.
func (d *PG) FindRecipients(ctx context.Context, q notification.RecipientQuery) ([]string, error) {
	sql, args, err := d.psql.Select("user_id").
		From(recipientsView).
		Where(d.conditions(q)).
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := pgxscan.Select(ctx, d.db, &ids, sql, args...); err != nil {
		return nil, err
	}
	return ids, nil
}
