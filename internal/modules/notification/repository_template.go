package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type templateRow struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Category      string    `db:"category"`
	EmailSubject  string    `db:"email_subject"`
	EmailBody     string    `db:"email_body"`
	EmailHTMLBody string    `db:"email_html_body"`
	SMSBody       string    `db:"sms_body"`
	PushTitle     string    `db:"push_title"`
	PushBody      string    `db:"push_body"`
	Variables     []byte    `db:"variables"`
	Active        bool      `db:"active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var templateColumns = []string{
	"id", "name", "category", "email_subject", "email_body", "email_html_body",
	"sms_body", "push_title", "push_body", "variables", "active",
	"created_at", "updated_at",
}

func (row *templateRow) toEntity() (*Template, error) {
	var vars []string
	if len(row.Variables) > 0 {
		if err := json.Unmarshal(row.Variables, &vars); err != nil {
			return nil, err
		}
	}
	return &Template{
		ID:            row.ID,
		Name:          row.Name,
		Category:      Category(row.Category),
		EmailSubject:  row.EmailSubject,
		EmailBody:     row.EmailBody,
		EmailHTMLBody: row.EmailHTMLBody,
		SMSBody:       row.SMSBody,
		PushTitle:     row.PushTitle,
		PushBody:      row.PushBody,
		Variables:     vars,
		Active:        row.Active,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// CreateTemplate inserts a new template. Name uniqueness is enforced by the
// database; a conflict surfaces as ErrTemplateExists.
func (r *repository) CreateTemplate(ctx context.Context, tpl *Template) error {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	tpl.CreatedAt = time.Now()
	tpl.UpdatedAt = tpl.CreatedAt

	vars, err := json.Marshal(tpl.Variables)
	if err != nil {
		return err
	}

	query, args, err := r.psql.Insert("notification_templates").
		Columns(templateColumns...).
		Values(
			tpl.ID, tpl.Name, string(tpl.Category), tpl.EmailSubject, tpl.EmailBody,
			tpl.EmailHTMLBody, tpl.SMSBody, tpl.PushTitle, tpl.PushBody, vars,
			tpl.Active, tpl.CreatedAt, tpl.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTemplateExists.WithCause(err)
		}
		return err
	}
	return nil
}

func (r *repository) getTemplate(ctx context.Context, cond squirrel.Sqlizer) (*Template, error) {
	query, args, err := r.psql.Select(templateColumns...).
		From("notification_templates").
		Where(cond).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row templateRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound.WithCause(err)
		}
		return nil, err
	}
	return row.toEntity()
}

// GetTemplateByName retrieves a template regardless of its active flag.
func (r *repository) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	return r.getTemplate(ctx, squirrel.Eq{"name": name})
}

// GetActiveTemplate retrieves an active template by name. Inactive or
// missing templates both surface as ErrTemplateNotFound.
func (r *repository) GetActiveTemplate(ctx context.Context, name string) (*Template, error) {
	return r.getTemplate(ctx, squirrel.Eq{"name": name, "active": true})
}

// UpdateTemplate rewrites a template's content fields and active flag. The
// category column is deliberately absent: it is immutable after creation.
func (r *repository) UpdateTemplate(ctx context.Context, tpl *Template) error {
	tpl.UpdatedAt = time.Now()

	vars, err := json.Marshal(tpl.Variables)
	if err != nil {
		return err
	}

	query, args, err := r.psql.Update("notification_templates").
		Set("email_subject", tpl.EmailSubject).
		Set("email_body", tpl.EmailBody).
		Set("email_html_body", tpl.EmailHTMLBody).
		Set("sms_body", tpl.SMSBody).
		Set("push_title", tpl.PushTitle).
		Set("push_body", tpl.PushBody).
		Set("variables", vars).
		Set("active", tpl.Active).
		Set("updated_at", tpl.UpdatedAt).
		Where(squirrel.Eq{"name": tpl.Name}).
		ToSql()
	if err != nil {
		return err
	}

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// ListTemplates returns all templates, optionally filtered by category.
func (r *repository) ListTemplates(ctx context.Context, category *Category) ([]*Template, error) {
	builder := r.psql.Select(templateColumns...).
		From("notification_templates").
		OrderBy("name")
	if category != nil {
		builder = builder.Where(squirrel.Eq{"category": string(*category)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []*templateRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]*Template, 0, len(rows))
	for _, row := range rows {
		tpl, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}
