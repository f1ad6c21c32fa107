package notification

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

// preferenceRow is the flat scan target for the notification_preferences
// table; the entity nests per-category settings.
type preferenceRow struct {
	UserID                string    `db:"user_id"`
	GradeFrequency        string    `db:"grade_frequency"`
	GradeDelivery         string    `db:"grade_delivery"`
	AttendanceFrequency   string    `db:"attendance_frequency"`
	AttendanceDelivery    string    `db:"attendance_delivery"`
	AssignmentFrequency   string    `db:"assignment_frequency"`
	AssignmentDelivery    string    `db:"assignment_delivery"`
	EmergencyFrequency    string    `db:"emergency_frequency"`
	EmergencyDelivery     string    `db:"emergency_delivery"`
	AnnouncementFrequency string    `db:"announcement_frequency"`
	AnnouncementDelivery  string    `db:"announcement_delivery"`
	MessageFrequency      string    `db:"message_frequency"`
	MessageDelivery       string    `db:"message_delivery"`
	Email                 string    `db:"email"`
	PhoneNumber           string    `db:"phone_number"`
	PushToken             string    `db:"push_token"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

var preferenceColumns = []string{
	"user_id",
	"grade_frequency", "grade_delivery",
	"attendance_frequency", "attendance_delivery",
	"assignment_frequency", "assignment_delivery",
	"emergency_frequency", "emergency_delivery",
	"announcement_frequency", "announcement_delivery",
	"message_frequency", "message_delivery",
	"email", "phone_number", "push_token",
	"created_at", "updated_at",
}

func (row *preferenceRow) toEntity() *Preference {
	return &Preference{
		UserID:       row.UserID,
		Grade:        CategorySetting{Frequency(row.GradeFrequency), DeliveryMethod(row.GradeDelivery)},
		Attendance:   CategorySetting{Frequency(row.AttendanceFrequency), DeliveryMethod(row.AttendanceDelivery)},
		Assignment:   CategorySetting{Frequency(row.AssignmentFrequency), DeliveryMethod(row.AssignmentDelivery)},
		Emergency:    CategorySetting{Frequency(row.EmergencyFrequency), DeliveryMethod(row.EmergencyDelivery)},
		Announcement: CategorySetting{Frequency(row.AnnouncementFrequency), DeliveryMethod(row.AnnouncementDelivery)},
		Message:      CategorySetting{Frequency(row.MessageFrequency), DeliveryMethod(row.MessageDelivery)},
		Email:        row.Email,
		PhoneNumber:  row.PhoneNumber,
		PushToken:    row.PushToken,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

// GetPreference retrieves a user's preference row.
// It returns ErrNotFound if the user has no row yet.
func (r *repository) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	query, args, err := r.psql.Select(preferenceColumns...).
		From("notification_preferences").
		Where(squirrel.Eq{"user_id": userID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row preferenceRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound.WithCause(err)
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// UpsertPreference inserts or replaces a user's preference row. The user_id
// uniqueness invariant is enforced by the primary key.
func (r *repository) UpsertPreference(ctx context.Context, pref *Preference) error {
	pref.UpdatedAt = time.Now()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = pref.UpdatedAt
	}

	query, args, err := r.psql.Insert("notification_preferences").
		Columns(preferenceColumns...).
		Values(
			pref.UserID,
			string(pref.Grade.Frequency), string(pref.Grade.Delivery),
			string(pref.Attendance.Frequency), string(pref.Attendance.Delivery),
			string(pref.Assignment.Frequency), string(pref.Assignment.Delivery),
			string(pref.Emergency.Frequency), string(pref.Emergency.Delivery),
			string(pref.Announcement.Frequency), string(pref.Announcement.Delivery),
			string(pref.Message.Frequency), string(pref.Message.Delivery),
			pref.Email, pref.PhoneNumber, pref.PushToken,
			pref.CreatedAt, pref.UpdatedAt,
		).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			grade_frequency = EXCLUDED.grade_frequency,
			grade_delivery = EXCLUDED.grade_delivery,
			attendance_frequency = EXCLUDED.attendance_frequency,
			attendance_delivery = EXCLUDED.attendance_delivery,
			assignment_frequency = EXCLUDED.assignment_frequency,
			assignment_delivery = EXCLUDED.assignment_delivery,
			emergency_frequency = EXCLUDED.emergency_frequency,
			emergency_delivery = EXCLUDED.emergency_delivery,
			announcement_frequency = EXCLUDED.announcement_frequency,
			announcement_delivery = EXCLUDED.announcement_delivery,
			message_frequency = EXCLUDED.message_frequency,
			message_delivery = EXCLUDED.message_delivery,
			email = EXCLUDED.email,
			phone_number = EXCLUDED.phone_number,
			push_token = EXCLUDED.push_token,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query, args...)
	return err
}
