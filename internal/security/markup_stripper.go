package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupStripper は外部APIから受け取ったテキストからHTMLタグを除去する。
// bluemondayのStrictPolicyで全タグを落とし、エスケープされた文字実体を元の文字に戻す。
type MarkupStripper struct {
	policy *bluemonday.Policy
}

// NewMarkupStripper はMarkupStripperを生成する。
func NewMarkupStripper() *MarkupStripper {
	return &MarkupStripper{policy: bluemonday.StrictPolicy()}
}

// Strip はタグを除去したプレーンテキストを返す。
// "<" を含まない入力はそのまま返す。
func (s *MarkupStripper) Strip(text string) string {
	if !strings.Contains(text, "<") {
		return text
	}
	return html.UnescapeString(s.policy.Sanitize(text))
}
