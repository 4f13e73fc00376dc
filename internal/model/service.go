package model

import "time"

// ServiceRecord は車両の整備履歴1件を表す。
type ServiceRecord struct {
	ID          int64      `json:"id"`
	VehicleVIN  string     `json:"vehicle_vin"`
	ServiceType string     `json:"service_type"`
	Description string     `json:"description,omitempty"`
	Cost        float64    `json:"cost"`
	ServiceDate *time.Time `json:"service_date,omitempty"`
	Technician  string     `json:"technician,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AppointmentStatusScheduled は新規予約の初期ステータス。
const AppointmentStatusScheduled = "scheduled"

// Appointment は入庫予約を表す。
type Appointment struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id,omitempty"`
	VehicleVIN      string    `json:"vehicle_vin,omitempty"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	ServiceType     string    `json:"service_type"`
	AppointmentDate time.Time `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
