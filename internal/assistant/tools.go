package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/vehicle"
)

// ツール名
const (
	toolLookupCar           = "lookup_car"
	toolGetCarDetails       = "get_car_details"
	toolCreateCar           = "create_car"
	toolUpdateMileage       = "update_mileage"
	toolCheckRecalls        = "check_recalls"
	toolGetServiceHistory   = "get_service_history"
	toolScheduleAppointment = "schedule_appointment"
)

// ParamType はツール引数の型。
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
)

// Param はツール引数の定義。
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
}

// Tool は言語モデルから呼び出せる操作の定義。
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`

	handler func(ctx context.Context, args Args) (string, error)
}

// Args は型変換済みのツール引数。文字列引数はstring、整数引数はintで保持する。
type Args map[string]any

// String は文字列引数を返す。未指定の場合は空文字。
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int は整数引数を返す。
func (a Args) Int(name string) (int, bool) {
	n, ok := a[name].(int)
	return n, ok
}

var toolOrder = []string{
	toolLookupCar,
	toolGetCarDetails,
	toolCreateCar,
	toolUpdateMileage,
	toolCheckRecalls,
	toolGetServiceHistory,
	toolScheduleAppointment,
}

func (c *Conversation) toolTable() map[string]Tool {
	tools := []Tool{
		{
			Name:        toolLookupCar,
			Description: "lookup a car by its vin",
			Params: []Param{
				{Name: "vin", Type: ParamString, Required: true, Description: "The vin of the car to lookup"},
			},
			handler: func(ctx context.Context, args Args) (string, error) {
				return c.resolver.LookupByVIN(ctx, args.String("vin"))
			},
		},
		{
			Name:        toolGetCarDetails,
			Description: "get the details of the current car",
			handler: func(context.Context, Args) (string, error) {
				return c.carDetails()
			},
		},
		{
			Name:        toolCreateCar,
			Description: "create a new car record. vin, make, model and year may be omitted after a successful decode",
			Params: []Param{
				{Name: "vin", Type: ParamString, Description: "The vin of the car"},
				{Name: "make", Type: ParamString, Description: "The make of the car"},
				{Name: "model", Type: ParamString, Description: "The model of the car"},
				{Name: "year", Type: ParamInteger, Description: "The year of the car"},
				{Name: "owner_name", Type: ParamString, Description: "The name of the owner"},
				{Name: "owner_phone", Type: ParamString, Description: "The phone number of the owner"},
				{Name: "owner_email", Type: ParamString, Description: "The email address of the owner"},
				{Name: "mileage", Type: ParamInteger, Description: "The current mileage of the car"},
			},
			handler: func(ctx context.Context, args Args) (string, error) {
				year, _ := args.Int("year")
				mileage, _ := args.Int("mileage")
				return c.resolver.CreateProfile(ctx, vehicle.ProfileInput{
					VIN:        args.String("vin"),
					Make:       args.String("make"),
					Model:      args.String("model"),
					Year:       year,
					OwnerName:  args.String("owner_name"),
					OwnerPhone: args.String("owner_phone"),
					OwnerEmail: args.String("owner_email"),
					Mileage:    mileage,
				})
			},
		},
		{
			Name:        toolUpdateMileage,
			Description: "update the mileage of the current car",
			Params: []Param{
				{Name: "mileage", Type: ParamInteger, Required: true, Description: "The current mileage of the car"},
			},
			handler: func(ctx context.Context, args Args) (string, error) {
				mileage, _ := args.Int("mileage")
				return c.resolver.UpdateMileage(ctx, mileage)
			},
		},
		{
			Name:        toolCheckRecalls,
			Description: "check open safety recalls for a vin, or for the current car when no vin is given",
			Params: []Param{
				{Name: "vin", Type: ParamString, Description: "The vin of the car to check"},
			},
			handler: func(ctx context.Context, args Args) (string, error) {
				return c.resolver.CheckRecalls(ctx, args.String("vin"))
			},
		},
		{
			Name:        toolGetServiceHistory,
			Description: "get the recent service history of the current car",
			handler: func(ctx context.Context, _ Args) (string, error) {
				return c.serviceHistory(ctx)
			},
		},
		{
			Name:        toolScheduleAppointment,
			Description: "schedule a service appointment",
			Params: []Param{
				{Name: "service_type", Type: ParamString, Required: true, Description: "The service to perform, for example oil change"},
				{Name: "appointment_date", Type: ParamString, Required: true, Description: "The date in YYYY-MM-DD format"},
				{Name: "appointment_time", Type: ParamString, Required: true, Description: "The preferred time, for example 9:00 AM"},
				{Name: "customer_name", Type: ParamString, Description: "The customer's name when no car is identified"},
				{Name: "customer_phone", Type: ParamString, Description: "The customer's phone number"},
				{Name: "notes", Type: ParamString, Description: "Anything the technician should know"},
			},
			handler: func(ctx context.Context, args Args) (string, error) {
				return c.scheduleAppointment(ctx, AppointmentRequest{
					ServiceType:   args.String("service_type"),
					Date:          args.String("appointment_date"),
					Time:          args.String("appointment_time"),
					CustomerName:  args.String("customer_name"),
					CustomerPhone: args.String("customer_phone"),
					Notes:         args.String("notes"),
				})
			},
		},
	}

	table := make(map[string]Tool, len(tools))
	for _, t := range tools {
		table[t.Name] = t
	}
	return table
}

// Tools は呼び出し可能なツールの定義を登録順に返す。
func (c *Conversation) Tools() []Tool {
	out := make([]Tool, 0, len(toolOrder))
	for _, name := range toolOrder {
		out = append(out, c.tools[name])
	}
	return out
}

// Invoke はツールを名前で呼び出し、読み上げる文を返す。
// 未登録のツールや不正な引数も読み上げ用の文として返す。
func (c *Conversation) Invoke(ctx context.Context, name string, args map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	tool, ok := c.tools[name]
	if !ok {
		c.logger.Warn("未登録のツールが呼び出されました", slog.String("tool", name))
		c.record("unknown", "unknown_tool")
		return SpeakError(model.NewUnknownToolError(name))
	}

	parsed, err := bindArgs(tool.Params, args)
	if err != nil {
		c.logger.Warn("ツール引数が不正です",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		c.record(name, outcomeOf(err))
		return SpeakError(err)
	}

	return c.run(name, func() (string, error) {
		return tool.handler(ctx, parsed)
	})
}

// bindArgs は引数を定義に従って検査し、型を揃える。
// 定義にない引数は無視する。nullは未指定として扱う。
func bindArgs(params []Param, raw map[string]any) (Args, error) {
	args := make(Args, len(params))
	for _, p := range params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, model.NewInvalidArgumentError(p.Name, "必須です")
			}
			continue
		}

		switch p.Type {
		case ParamString:
			s, ok := v.(string)
			if !ok {
				return nil, model.NewInvalidArgumentError(p.Name, fmt.Sprintf("文字列ではありません: %T", v))
			}
			if p.Required && strings.TrimSpace(s) == "" {
				return nil, model.NewInvalidArgumentError(p.Name, "必須です")
			}
			args[p.Name] = s
		case ParamInteger:
			n, err := toInt(v)
			if err != nil {
				return nil, model.NewInvalidArgumentError(p.Name, err.Error())
			}
			args[p.Name] = n
		}
	}
	return args, nil
}

// toInt はJSON数値、整数、数字の文字列を整数に変換する。文字列中のカンマは桁区切りとして除去する。
func toInt(v any) (int, error) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int64:
		i = n
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt32 {
			return 0, fmt.Errorf("整数ではありません: %v", n)
		}
		i = int64(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("整数ではありません: %s", n)
		}
		i = parsed
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("整数ではありません: %q", n)
		}
		i = parsed
	default:
		return 0, fmt.Errorf("整数ではありません: %T", v)
	}
	if i > math.MaxInt32 || i < math.MinInt32 {
		return 0, fmt.Errorf("整数の範囲外です: %d", i)
	}
	return int(i), nil
}
