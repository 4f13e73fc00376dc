package assistant

import (
	"errors"
	"strings"

	"github.com/hitoshi/pitstop/internal/model"
)

// fallbackMessage はAPIError以外の失敗で読み上げる文。
const fallbackMessage = "I'm sorry, I'm having trouble with that right now. Could you try again in a moment?"

// SpeakError はエラーを読み上げ可能な文に変換する。
// APIErrorであればそのメッセージを、それ以外は汎用の謝罪文を返す。
func SpeakError(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallbackMessage
}

// outcomeOf はメトリクスに記録する失敗の種類を返す。
func outcomeOf(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}
