package model

import (
	"strings"
	"time"
)

// Vehicle はサービスセンターに登録された車両を表す。
// VINが自然キーであり、値は常にNormalizeVIN済みで保持する。
// 更新は新しい値を組み立てて丸ごと差し替える（フィールド単位で書き換えない）。
type Vehicle struct {
	VIN        string    `json:"vin"`
	Make       string    `json:"make"`
	Model      string    `json:"model"`
	Year       int       `json:"year"`
	Mileage    int       `json:"mileage"`
	OwnerName  string    `json:"owner_name"`
	OwnerPhone string    `json:"owner_phone,omitempty"`
	OwnerEmail string    `json:"owner_email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WithMileage は走行距離だけを変更したコピーを返す。
func (v Vehicle) WithMileage(mileage int, at time.Time) Vehicle {
	v.Mileage = mileage
	v.UpdatedAt = at
	return v
}

// PendingVehicle は外部デコードに成功したが未登録の車両を表す。
// 会話中のリゾルバだけが保持し、永続化されない。
type PendingVehicle struct {
	VIN   string `json:"vin"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

// VehicleInfo はVINデコードサービスの結果を表す。
// 欠損フィールドは "Unknown"、解析できない年式は0になる。
type VehicleInfo struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
	VehicleType  string `json:"vehicle_type"`
	PlantCountry string `json:"plant_country"`
}

// VINLength はVINの正規の文字数。
const VINLength = 17

var vinReplacer = strings.NewReplacer(" ", "", "-", "")

// NormalizeVIN はVINを大文字化し、前後の空白を除去したうえでスペースとハイフンを取り除く。
// 何度適用しても結果は変わらない。
func NormalizeVIN(vin string) string {
	return vinReplacer.Replace(strings.ToUpper(strings.TrimSpace(vin)))
}
