package guardrail

import (
	"regexp"
	"strings"
)

const (
	// shortUtteranceTokens 以下のトークン数の発話は話題の根拠がなくても許可する。
	shortUtteranceTokens = 5
)

const (
	blockedMessage   = "I'm here to help with auto service questions. How can I assist you with your vehicle today?"
	offTopicMessage  = "I specialize in auto service assistance. I can help you with vehicle repairs, maintenance, appointments, or parts. What can I help you with?"
	capabilityPrompt = "I'm your auto service assistant. I can help with scheduling appointments, checking recalls, getting repair estimates, or finding parts. What would you like help with?"
)

// blockedPatterns はプロンプトインジェクションの言い回し。
// 部分一致で判定し、許可トピックを含む入力よりも優先する。
var blockedPatterns = compilePatterns(
	`ignore.*instructions`,
	`forget.*previous`,
	`you are now`,
	`pretend to be`,
	`act as`,
	`new persona`,
	`jailbreak`,
	`bypass`,
	`override`,
	`system prompt`,
	`ignore all`,
)

// offTopicSubjects は話題を戻す対象の主題。
var offTopicSubjects = []string{
	"politics", "religion", "dating", "relationship",
	"medical advice", "legal advice", "investment",
	"cryptocurrency", "stocks", "gambling",
	"weapons", "drugs", "alcohol",
	"personal opinion", "controversial",
}

// allowedTopics はサービスセンターの対応範囲を示す語彙。
var allowedTopics = []string{
	"vehicle", "car", "truck", "suv", "van",
	"service", "repair", "maintenance", "oil change", "brake", "tire",
	"appointment", "schedule", "booking",
	"parts", "price", "cost", "estimate", "quote",
	"recall", "safety", "warranty",
	"vin", "mileage", "year", "make", "model",
	"engine", "transmission", "battery", "air filter",
	"hello", "hi", "hey", "thanks", "thank you", "bye", "goodbye",
	"help", "support", "speak", "agent", "human",
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return patterns
}

// CheckTopic は正規化済みの入力が対応範囲内かを判定する。
// 判定順はブロックパターン、範囲外の主題、短い発話または許可トピック、それ以外の順。
func CheckTopic(text string) Result {
	lower := strings.ToLower(text)

	for _, p := range blockedPatterns {
		if p.MatchString(lower) {
			return Result{Status: StatusBlocked, Message: blockedMessage, OriginalInput: text}
		}
	}

	if containsAny(lower, offTopicSubjects) {
		return Result{Status: StatusRedirected, Message: offTopicMessage, OriginalInput: text}
	}

	if len(strings.Fields(text)) <= shortUtteranceTokens || containsAny(lower, allowedTopics) {
		return Result{Status: StatusAllowed, OriginalInput: text}
	}

	return Result{Status: StatusRedirected, Message: capabilityPrompt, OriginalInput: text}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
