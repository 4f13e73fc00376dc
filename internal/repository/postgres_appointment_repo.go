package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pitstop/internal/model"
)

// PostgresAppointmentRepo はPostgreSQLを使用した入庫予約リポジトリ。
type PostgresAppointmentRepo struct {
	db *sql.DB
}

// NewPostgresAppointmentRepo はPostgresAppointmentRepoを生成する。
func NewPostgresAppointmentRepo(db *sql.DB) *PostgresAppointmentRepo {
	return &PostgresAppointmentRepo{db: db}
}

// Create は予約を作成する。Statusが空の場合はscheduledとして保存する。
func (r *PostgresAppointmentRepo) Create(ctx context.Context, a *model.Appointment) error {
	if a.Status == "" {
		a.Status = model.AppointmentStatusScheduled
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO appointments
		   (session_id, vehicle_vin, customer_name, customer_phone, service_type,
		    appointment_date, appointment_time, status, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		nullString(a.SessionID), nullString(a.VehicleVIN), a.CustomerName, a.CustomerPhone, a.ServiceType,
		a.AppointmentDate, a.AppointmentTime, a.Status, a.Notes, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return classifyWriteError("failed to create appointment", err)
	}
	return nil
}

// ListByVIN は車両の予約を予約日の昇順で取得する。
func (r *PostgresAppointmentRepo) ListByVIN(ctx context.Context, vin string) ([]model.Appointment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, COALESCE(session_id, ''), COALESCE(vehicle_vin, ''), customer_name, customer_phone,
		        service_type, appointment_date, appointment_time, status, notes, created_at
		 FROM appointments
		 WHERE vehicle_vin = $1
		 ORDER BY appointment_date ASC, appointment_time ASC`,
		vin,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.SessionID, &a.VehicleVIN, &a.CustomerName, &a.CustomerPhone,
			&a.ServiceType, &a.AppointmentDate, &a.AppointmentTime, &a.Status, &a.Notes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}

	return appointments, nil
}

// compile-time interface check
var _ AppointmentRepository = (*PostgresAppointmentRepo)(nil)
