package nhtsa

import (
	"fmt"
	"strings"

	"github.com/hitoshi/pitstop/internal/model"
)

const (
	// maxSpokenRecalls は音声で読み上げるリコールの最大件数。
	maxSpokenRecalls = 3
	// maxSummaryRunes は読み上げるサマリーの最大文字数。
	maxSummaryRunes = 100
)

// NoRecallsMessage はリコールが0件のときの読み上げ文。
const NoRecallsMessage = "Great news! I found no open recalls for your vehicle."

// FormatRecallsForSpeech はリコール一覧を音声読み上げ用の文章に整形する。
// 先頭3件だけを読み上げ、サマリーは100文字を超える場合に切り詰めて "..." を付ける。
// 4件以上ある場合は残り件数を伝えて詳細が必要か尋ねる。
func FormatRecallsForSpeech(recalls []model.RecallInfo) string {
	if len(recalls) == 0 {
		return NoRecallsMessage
	}

	count := len(recalls)
	plural := ""
	if count > 1 {
		plural = "s"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found %d recall%s for your vehicle. ", count, plural)

	for i, r := range recalls[:min(count, maxSpokenRecalls)] {
		fmt.Fprintf(&b, "Recall %d: %s. %s ", i+1, r.Component, truncateSummary(r.Summary))
	}

	if count > maxSpokenRecalls {
		fmt.Fprintf(&b, "There are %d more recalls. Would you like me to provide more details?", count-maxSpokenRecalls)
	}

	return b.String()
}

// truncateSummary はサマリーを文字（rune）単位で切り詰める。
func truncateSummary(summary string) string {
	runes := []rune(summary)
	if len(runes) <= maxSummaryRunes {
		return summary
	}
	return string(runes[:maxSummaryRunes]) + "..."
}
