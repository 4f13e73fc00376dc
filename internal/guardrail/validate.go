package guardrail

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxInputRunes は受け付ける入力の最大文字数。
	MaxInputRunes = 1000
	// oversizedEchoRunes は長すぎる入力を記録するときの抜粋文字数。
	oversizedEchoRunes = 100
)

const (
	emptyInputMessage     = "I didn't catch that. Could you please repeat?"
	oversizedInputMessage = "That's quite a lot of information. Could you break it down into smaller questions?"
)

// Validate は入力の空判定と長さ判定を行い、空白を正規化した入力を返す。
// 正規化は空白の連続を1つにまとめるだけで、タグなどの記号はそのまま残す。
func Validate(text string) Result {
	if strings.TrimSpace(text) == "" {
		return emptyInput(text)
	}

	if utf8.RuneCountInString(text) > MaxInputRunes {
		return Result{
			Status:        StatusBlocked,
			Message:       oversizedInputMessage,
			OriginalInput: string([]rune(text)[:oversizedEchoRunes]) + "...",
		}
	}

	return Result{
		Status:        StatusAllowed,
		OriginalInput: strings.Join(strings.Fields(text), " "),
	}
}

func emptyInput(text string) Result {
	return Result{
		Status:        StatusBlocked,
		Message:       emptyInputMessage,
		OriginalInput: text,
	}
}
