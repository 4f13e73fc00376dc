package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/pitstop/internal/model"
)

const (
	// serviceHistoryLimit は読み上げる整備履歴の最大件数。
	serviceHistoryLimit = 3
	dateLayout          = "2006-01-02"
	spokenDateLayout    = "Monday, January 2"
)

// AppointmentRequest は入庫予約の入力。
type AppointmentRequest struct {
	ServiceType   string
	Date          string // YYYY-MM-DD
	Time          string
	CustomerName  string
	CustomerPhone string
	Notes         string
}

func (c *Conversation) serviceHistory(ctx context.Context) (string, error) {
	v, ok := c.resolver.Current()
	if !ok {
		return "", model.NewVehicleRequiredError()
	}
	if c.records == nil {
		return "", model.NewStorageUnavailableError()
	}

	records, err := c.records.ListByVIN(ctx, v.VIN, serviceHistoryLimit)
	if err != nil {
		c.logger.Error("整備履歴の取得に失敗しました",
			slog.String("vin", v.VIN),
			slog.String("error", err.Error()),
		)
		return "", model.NewStorageUnavailableError()
	}
	return formatServiceHistory(v, records), nil
}

// formatServiceHistory は整備履歴を読み上げ用の文にまとめる。
func formatServiceHistory(v model.Vehicle, records []model.ServiceRecord) string {
	if len(records) == 0 {
		return fmt.Sprintf("I don't have any service records on file for your %d %s %s.", v.Year, v.Make, v.Model)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here is the recent service history for your %d %s %s.", v.Year, v.Make, v.Model)
	for i, r := range records {
		if i >= serviceHistoryLimit {
			break
		}
		if r.ServiceDate != nil {
			fmt.Fprintf(&b, " %s on %s.", r.ServiceType, r.ServiceDate.Format("January 2, 2006"))
		} else {
			fmt.Fprintf(&b, " %s, date not recorded.", r.ServiceType)
		}
	}
	return b.String()
}

func (c *Conversation) scheduleAppointment(ctx context.Context, req AppointmentRequest) (string, error) {
	serviceType := strings.TrimSpace(req.ServiceType)
	if serviceType == "" {
		return "", model.NewInvalidArgumentError("service_type", "empty")
	}
	apptTime := strings.TrimSpace(req.Time)
	if apptTime == "" {
		return "", model.NewInvalidArgumentError("appointment_time", "empty")
	}

	now := c.now()
	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(req.Date), now.Location())
	if err != nil {
		return "", model.NewInvalidArgumentError("appointment_date", "YYYY-MM-DD形式ではありません")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if date.Before(today) {
		return "", model.NewInvalidArgumentError("appointment_date", "過去の日付です")
	}

	appt := &model.Appointment{
		SessionID:       c.resolver.SessionID(),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		ServiceType:     serviceType,
		AppointmentDate: date,
		AppointmentTime: apptTime,
		Status:          model.AppointmentStatusScheduled,
		Notes:           strings.TrimSpace(req.Notes),
	}
	if v, ok := c.resolver.Current(); ok {
		appt.VehicleVIN = v.VIN
		if appt.CustomerName == "" {
			appt.CustomerName = v.OwnerName
		}
		if appt.CustomerPhone == "" {
			appt.CustomerPhone = v.OwnerPhone
		}
	}
	if appt.CustomerName == "" {
		return "", model.NewInvalidArgumentError("customer_name", "empty")
	}
	if c.booker == nil {
		return "", model.NewStorageUnavailableError()
	}

	if err := c.booker.Create(ctx, appt); err != nil {
		c.logger.Error("予約の登録に失敗しました",
			slog.String("service_type", serviceType),
			slog.String("error", err.Error()),
		)
		return "", model.NewStorageUnavailableError()
	}

	c.logMessage(ctx, model.RoleSystem,
		fmt.Sprintf("Appointment scheduled: %s on %s at %s", serviceType, date.Format(dateLayout), apptTime),
		map[string]any{
			"event":          "appointment_scheduled",
			"appointment_id": appt.ID,
			"vin":            appt.VehicleVIN,
		},
	)

	return fmt.Sprintf("You're all set. I've booked %s for %s at %s. Is there anything else I can help you with?",
		serviceType, date.Format(spokenDateLayout), apptTime), nil
}
