// Package guardrail は利用者の発話と応答文に対する決定的なフィルタを提供する。
// 入力は検証とトピック判定の2段階で、応答文は禁止フレーズの検出と価格免責文の付与で処理する。
package guardrail

// Status はガードレール判定の結果区分。
type Status string

const (
	// StatusAllowed は会話を続行してよい入力。
	StatusAllowed Status = "allowed"
	// StatusBlocked は処理を打ち切り、固定メッセージで応答する入力。
	StatusBlocked Status = "blocked"
	// StatusRedirected は対応範囲外のため話題を戻す入力。
	StatusRedirected Status = "redirected"
)

// Result はガードレール判定の結果。
// Messageは処理を続行しない場合に代わりに読み上げる文。
// OriginalInputは正規化済みの入力（長すぎる入力では先頭100文字の抜粋）。
type Result struct {
	Status        Status `json:"status"`
	Message       string `json:"message,omitempty"`
	OriginalInput string `json:"original_input,omitempty"`
}

// Allowed は続行可能な判定かどうかを返す。
func (r Result) Allowed() bool {
	return r.Status == StatusAllowed
}
