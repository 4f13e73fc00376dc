package guardrail

import "strings"

// PriceDisclaimer は価格に言及する応答文に付与する免責文。
const PriceDisclaimer = "Prices are estimates and may vary based on your specific vehicle and location."

// forbiddenPhrases は応答文に含まれるべきでない自己言及フレーズ。
var forbiddenPhrases = []string{
	"as an ai",
	"as a language model",
	"i cannot provide medical",
	"i cannot provide legal",
	"i'm just an ai",
	"my training data",
}

var priceKeywords = []string{"price", "cost", "estimate", "$", "dollar"}

// detectForbiddenPhrases は応答文に含まれる禁止フレーズを返す。
func detectForbiddenPhrases(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, phrase := range forbiddenPhrases {
		if strings.Contains(lower, phrase) {
			found = append(found, phrase)
		}
	}
	return found
}

// appendPriceDisclaimer は価格に言及していて免責文を含まない応答文に免責文を付与する。
// 何度適用しても免責文は1つだけになる。
func appendPriceDisclaimer(text string) string {
	lower := strings.ToLower(text)
	if !containsAny(lower, priceKeywords) {
		return text
	}
	if strings.Contains(lower, strings.ToLower(PriceDisclaimer)) {
		return text
	}
	return text + "\n\n" + PriceDisclaimer
}
