package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pitstop/internal/model"
)

// PostgresServiceRecordRepo はPostgreSQLを使用した整備履歴リポジトリ。
type PostgresServiceRecordRepo struct {
	db *sql.DB
}

// NewPostgresServiceRecordRepo はPostgresServiceRecordRepoを生成する。
func NewPostgresServiceRecordRepo(db *sql.DB) *PostgresServiceRecordRepo {
	return &PostgresServiceRecordRepo{db: db}
}

// ListByVIN は車両の整備履歴を整備日の新しい順に最大limit件取得する。
// 整備日が未設定の履歴は末尾に並ぶ。
func (r *PostgresServiceRecordRepo) ListByVIN(ctx context.Context, vin string, limit int) ([]model.ServiceRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, vehicle_vin, service_type, description, cost, service_date, technician, notes, created_at
		 FROM service_history
		 WHERE vehicle_vin = $1
		 ORDER BY service_date DESC NULLS LAST, id DESC
		 LIMIT $2`,
		vin, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list service records: %w", err)
	}
	defer rows.Close()

	var records []model.ServiceRecord
	for rows.Next() {
		var rec model.ServiceRecord
		var serviceDate sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.VehicleVIN, &rec.ServiceType, &rec.Description, &rec.Cost,
			&serviceDate, &rec.Technician, &rec.Notes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service record: %w", err)
		}
		if serviceDate.Valid {
			d := serviceDate.Time
			rec.ServiceDate = &d
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate service records: %w", err)
	}

	return records, nil
}

// Create は整備履歴を作成する。
func (r *PostgresServiceRecordRepo) Create(ctx context.Context, rec *model.ServiceRecord) error {
	var serviceDate sql.NullTime
	if rec.ServiceDate != nil {
		serviceDate = sql.NullTime{Time: *rec.ServiceDate, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO service_history (vehicle_vin, service_type, description, cost, service_date, technician, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		rec.VehicleVIN, rec.ServiceType, rec.Description, rec.Cost, serviceDate,
		rec.Technician, rec.Notes, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return classifyWriteError("failed to create service record", err)
	}
	return nil
}

// compile-time interface check
var _ ServiceRecordRepository = (*PostgresServiceRecordRepo)(nil)
