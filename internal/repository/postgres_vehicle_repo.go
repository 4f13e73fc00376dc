package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/pitstop/internal/model"
)

// PostgresVehicleRepo はPostgreSQLを使用した車両リポジトリ。
type PostgresVehicleRepo struct {
	db *sql.DB
}

// NewPostgresVehicleRepo はPostgresVehicleRepoを生成する。
func NewPostgresVehicleRepo(db *sql.DB) *PostgresVehicleRepo {
	return &PostgresVehicleRepo{db: db}
}

// FindByVIN は指定VINの車両を取得する。見つからない場合はnilを返す。
func (r *PostgresVehicleRepo) FindByVIN(ctx context.Context, vin string) (*model.Vehicle, error) {
	v := &model.Vehicle{}
	err := r.db.QueryRowContext(ctx,
		`SELECT vin, make, model, year, mileage, owner_name, owner_phone, owner_email, created_at, updated_at
		 FROM cars WHERE vin = $1`,
		vin,
	).Scan(&v.VIN, &v.Make, &v.Model, &v.Year, &v.Mileage,
		&v.OwnerName, &v.OwnerPhone, &v.OwnerEmail, &v.CreatedAt, &v.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find vehicle by VIN: %w", err)
	}

	return v, nil
}

// Create は車両を作成する。
// 同一VINが既に存在する場合はErrDuplicateKeyをラップしたエラーを返す。
func (r *PostgresVehicleRepo) Create(ctx context.Context, v *model.Vehicle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cars (vin, make, model, year, mileage, owner_name, owner_phone, owner_email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.VIN, v.Make, v.Model, v.Year, v.Mileage,
		v.OwnerName, v.OwnerPhone, v.OwnerEmail, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return classifyWriteError("failed to create vehicle", err)
	}
	return nil
}

// UpdateMileage は走行距離を更新する。車両が存在しない場合はErrNotFoundを返す。
func (r *PostgresVehicleRepo) UpdateMileage(ctx context.Context, vin string, mileage int, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cars SET mileage = $2, updated_at = $3 WHERE vin = $1`,
		vin, mileage, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update mileage: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("vehicle %s: %w", vin, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ VehicleRepository = (*PostgresVehicleRepo)(nil)
