package nhtsa

import "net/http"

// Outcome はHTTPステータスコードに基づくリクエスト結果の分類。
type Outcome int

const (
	// OutcomeOK は成功（200）。
	OutcomeOK Outcome = iota
	// OutcomeRetry は1回だけ再試行する価値があるステータス（403/429）。
	OutcomeRetry
	// OutcomeGiveUp は再試行せずに「結果なし」とするステータス。
	OutcomeGiveUp
)

// String はメトリクスとログで使うラベルを返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	default:
		return "give_up"
	}
}

// ClassifyStatus はHTTPステータスコードをリクエスト結果に分類する。
// vPICはレート制限時に429だけでなく403を返すことがあるため、両方を再試行対象とする。
func ClassifyStatus(statusCode int) Outcome {
	switch statusCode {
	case http.StatusOK:
		return OutcomeOK
	case http.StatusForbidden, http.StatusTooManyRequests:
		return OutcomeRetry
	default:
		return OutcomeGiveUp
	}
}
