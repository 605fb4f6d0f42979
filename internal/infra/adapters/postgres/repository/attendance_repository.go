package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/classmesh/classmesh/internal/domain"
)

// AttendanceRepository is the roster/attendance persistence collaborator.
// The hub records one row per join and closes it on leave; session liveness
// never depends on it.
type AttendanceRepository interface {
	RecordJoin(ctx context.Context, p domain.Participant, at time.Time) error
	RecordLeave(ctx context.Context, connID string, at time.Time) error
}

type attendanceRepo struct {
	db *sqlx.DB
}

func NewAttendanceRepo(db *sqlx.DB) AttendanceRepository {
	return &attendanceRepo{db: db}
}

func (r *attendanceRepo) RecordJoin(ctx context.Context, p domain.Participant, at time.Time) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO attendance (conn_id, room_id, user_id, display_name, role, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ConnID,
		p.RoomID,
		p.UserID,
		p.DisplayName,
		p.Role,
		at,
	)

	return err
}

func (r *attendanceRepo) RecordLeave(ctx context.Context, connID string, at time.Time) error {
	_, err := r.db.ExecContext(
		ctx,
		"UPDATE attendance SET left_at = $1 WHERE conn_id = $2 AND left_at IS NULL",
		at,
		connID,
	)

	return err
}

// NopAttendanceRepo discards records. Used when no database is configured.
type NopAttendanceRepo struct{}

func (NopAttendanceRepo) RecordJoin(context.Context, domain.Participant, time.Time) error {
	return nil
}

func (NopAttendanceRepo) RecordLeave(context.Context, string, time.Time) error {
	return nil
}
