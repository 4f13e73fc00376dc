package guardrail

import (
	"log/slog"
	"strings"
)

// Recorder はガードレールのメトリクス記録先。
type Recorder interface {
	RecordGuardrailOutcome(status string)
	RecordForbiddenPhrase()
}

// Pipeline は入力判定と応答フィルタをまとめたガードレール。
// 状態を持たないため、複数の会話から同時に利用できる。
type Pipeline struct {
	logger  *slog.Logger
	metrics Recorder
}

// NewPipeline はPipelineの新しいインスタンスを生成する。metricsはnilでもよい。
func NewPipeline(logger *slog.Logger, metrics Recorder) *Pipeline {
	return &Pipeline{
		logger:  logger,
		metrics: metrics,
	}
}

// CheckInput は入力を検証し、許可された場合のみトピック判定を行う。
func (p *Pipeline) CheckInput(text string) Result {
	result := Validate(text)
	if result.Allowed() {
		result = CheckTopic(result.OriginalInput)
	}

	if p.metrics != nil {
		p.metrics.RecordGuardrailOutcome(string(result.Status))
	}
	if !result.Allowed() {
		p.logger.Info("ガードレールが入力を処理対象外と判定しました",
			slog.String("status", string(result.Status)),
		)
	}
	return result
}

// FilterOutput は応答文を検査して返す。
// 禁止フレーズはログとメトリクスに記録するだけで、応答文からは除去しない。
// 価格に言及する応答文には免責文を付与する。
func (p *Pipeline) FilterOutput(text string) string {
	if found := detectForbiddenPhrases(text); len(found) > 0 {
		p.logger.Warn("応答文に禁止フレーズが含まれています",
			slog.String("phrases", strings.Join(found, ",")),
		)
		if p.metrics != nil {
			for range found {
				p.metrics.RecordForbiddenPhrase()
			}
		}
	}

	return appendPriceDisclaimer(text)
}
