// Package nhtsa はNHTSA（米国運輸省道路交通安全局）の公開API連携を提供する。
// vPICによるVINデコードとリコール検索、およびリコール情報の読み上げ整形を含む。
package nhtsa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/security"
)

const (
	// DefaultVPICBaseURL はvPIC APIのベースURL。
	DefaultVPICBaseURL = "https://vpic.nhtsa.dot.gov/api"
	// DefaultNHTSABaseURL はリコールAPIのベースURL。
	DefaultNHTSABaseURL = "https://api.nhtsa.gov"
	// DefaultUserAgent はリクエストに付与するUser-Agent。
	DefaultUserAgent = "Pitstop-Voice-Agent/1.0"
	// DefaultRetryDelay は再試行前の固定待機時間。
	DefaultRetryDelay = 500 * time.Millisecond

	// maxDecodeAttempts はVINデコードの最大リクエスト回数（初回 + 再試行1回）。
	maxDecodeAttempts = 2
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 2 << 20

	endpointDecode  = "decode_vin"
	endpointRecalls = "recalls_by_vehicle"

	unknownValue = "Unknown"
)

// markup はリコール本文に混入するHTMLタグを読み上げ前に除去する。
var markup = security.NewMarkupStripper()

// Recorder はNHTSAクライアントのメトリクス記録先。
type Recorder interface {
	RecordNHTSARequest(endpoint, outcome string)
	RecordNHTSAStatus(endpoint string, statusCode int)
	RecordNHTSALatency(endpoint string, duration time.Duration)
}

// Config はClientの設定。ゼロ値のフィールドにはデフォルト値が使われる。
type Config struct {
	VPICBaseURL  string
	NHTSABaseURL string
	UserAgent    string
	RetryDelay   time.Duration
	// RatePerSec はNHTSAへの送信レート上限。0以下で無制限。
	RatePerSec float64
	Metrics    Recorder
}

// Client はNHTSA APIのクライアント。
// VINデコードは403/429と通信エラーに対して1回だけ再試行し、
// リコール検索は再試行しない。どちらも失敗は「結果なし」として扱う。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	vpicBaseURL  string
	nhtsaBaseURL string
	userAgent    string
	retryDelay   time.Duration
	limiter      *rate.Limiter
	metrics      Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	c := &Client{
		httpClient:   httpClient,
		logger:       logger,
		vpicBaseURL:  strings.TrimRight(cfg.VPICBaseURL, "/"),
		nhtsaBaseURL: strings.TrimRight(cfg.NHTSABaseURL, "/"),
		userAgent:    cfg.UserAgent,
		retryDelay:   cfg.RetryDelay,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		metrics:      cfg.Metrics,
	}
	if c.vpicBaseURL == "" {
		c.vpicBaseURL = DefaultVPICBaseURL
	}
	if c.nhtsaBaseURL == "" {
		c.nhtsaBaseURL = DefaultNHTSABaseURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return c
}

// decodeResponse はDecodeVinValuesのレスポンス。
type decodeResponse struct {
	Results []decodeResult `json:"Results"`
}

type decodeResult struct {
	Make         *string `json:"Make"`
	Model        *string `json:"Model"`
	ModelYear    *string `json:"ModelYear"`
	VehicleType  *string `json:"VehicleType"`
	PlantCountry *string `json:"PlantCountry"`
}

// recallsResponse はrecallsByVehicleのレスポンス。
type recallsResponse struct {
	Results []recallResult `json:"results"`
}

type recallResult struct {
	CampaignNumber     *string `json:"NHTSACampaignNumber"`
	Component          *string `json:"Component"`
	Summary            *string `json:"Summary"`
	Consequence        *string `json:"Consequence"`
	Remedy             *string `json:"Remedy"`
	Manufacturer       *string `json:"Manufacturer"`
	ReportReceivedDate *string `json:"ReportReceivedDate"`
}

// DecodeVIN はVINをデコードして車両情報を返す。
// 正規化後に17文字でないVINは通信せずにnilを返す。
// デコードできない場合もnilを返し、エラーはctxが終了した場合のみ返す。
func (c *Client) DecodeVIN(ctx context.Context, vin string) (*model.VehicleInfo, error) {
	vin = model.NormalizeVIN(vin)
	if len(vin) != model.VINLength {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", c.vpicBaseURL, url.PathEscape(vin))

	for attempt := 1; attempt <= maxDecodeAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}

		body, status, err := c.get(ctx, endpointDecode, reqURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Warn("vPIC APIの呼び出しに失敗しました",
				slog.String("vin", vin),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			c.record(endpointDecode, "transport_error")
			continue
		}

		switch ClassifyStatus(status) {
		case OutcomeRetry:
			c.logger.Warn("vPIC APIがレート制限ステータスを返しました",
				slog.String("vin", vin),
				slog.Int("attempt", attempt),
				slog.Int("http_status", status),
			)
			c.record(endpointDecode, OutcomeRetry.String())
			continue
		case OutcomeGiveUp:
			c.logger.Warn("vPIC APIがエラーステータスを返しました",
				slog.String("vin", vin),
				slog.Int("http_status", status),
			)
			c.record(endpointDecode, OutcomeGiveUp.String())
			return nil, nil
		}

		info, err := parseDecodeResponse(body)
		if err != nil {
			c.logger.Warn("vPIC APIのレスポンスのパースに失敗しました",
				slog.String("vin", vin),
				slog.String("error", err.Error()),
			)
			c.record(endpointDecode, "no_result")
			return nil, nil
		}
		if info == nil {
			c.record(endpointDecode, "no_result")
			return nil, nil
		}

		c.record(endpointDecode, OutcomeOK.String())
		return info, nil
	}

	c.logger.Warn("VINデコードを断念しました",
		slog.String("vin", vin),
		slog.Int("attempts", maxDecodeAttempts),
	)
	c.record(endpointDecode, OutcomeGiveUp.String())
	return nil, nil
}

// RecallsByVehicle はメーカー・モデル・年式でリコールを検索する。
// 再試行はせず、失敗時は空のリストを返す。
func (c *Client) RecallsByVehicle(ctx context.Context, vehicleMake, modelName string, year int) []model.RecallInfo {
	q := url.Values{}
	q.Set("make", vehicleMake)
	q.Set("model", modelName)
	q.Set("modelYear", strconv.Itoa(year))
	reqURL := c.nhtsaBaseURL + "/recalls/recallsByVehicle?" + q.Encode()

	body, status, err := c.get(ctx, endpointRecalls, reqURL)
	if err != nil {
		c.logger.Error("リコールAPIの呼び出しに失敗しました",
			slog.String("make", vehicleMake),
			slog.String("model", modelName),
			slog.Int("year", year),
			slog.String("error", err.Error()),
		)
		c.record(endpointRecalls, "transport_error")
		return []model.RecallInfo{}
	}

	if ClassifyStatus(status) != OutcomeOK {
		c.logger.Warn("リコールAPIがエラーステータスを返しました",
			slog.Int("http_status", status),
		)
		c.record(endpointRecalls, OutcomeGiveUp.String())
		return []model.RecallInfo{}
	}

	recalls, err := parseRecallsResponse(body)
	if err != nil {
		c.logger.Error("リコールAPIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		c.record(endpointRecalls, "no_result")
		return []model.RecallInfo{}
	}

	c.record(endpointRecalls, OutcomeOK.String())
	return recalls
}

// RecallsByVIN はVINをデコードし、得られた車両のリコールを検索する。
// デコードできない場合はリコール検索を行わず、nilと空のリストを返す。
func (c *Client) RecallsByVIN(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo) {
	info, err := c.DecodeVIN(ctx, vin)
	if err != nil || info == nil {
		return nil, []model.RecallInfo{}
	}
	return info, c.RecallsByVehicle(ctx, info.Make, info.Model, info.Year)
}

// get はGETリクエストを送信し、ボディとステータスコードを返す。
// 送信前にレート制限を待機する。
func (c *Client) get(ctx context.Context, endpoint, reqURL string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RecordNHTSALatency(endpoint, time.Since(start))
	}
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordNHTSAStatus(endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, resp.StatusCode, nil
}

// wait はctxを尊重しながらdだけ待機する。
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) record(endpoint, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordNHTSARequest(endpoint, outcome)
	}
}

// parseDecodeResponse はDecodeVinValuesのレスポンスを車両情報に変換する。
// Resultsが空の場合はnilを返す。
func parseDecodeResponse(body []byte) (*model.VehicleInfo, error) {
	var resp decodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	r := resp.Results[0]
	return &model.VehicleInfo{
		Make:         valueOr(r.Make, unknownValue),
		Model:        valueOr(r.Model, unknownValue),
		Year:         parseYear(r.ModelYear),
		VehicleType:  valueOr(r.VehicleType, unknownValue),
		PlantCountry: valueOr(r.PlantCountry, unknownValue),
	}, nil
}

// parseRecallsResponse はrecallsByVehicleのレスポンスをリコール一覧に変換する。
func parseRecallsResponse(body []byte) ([]model.RecallInfo, error) {
	var resp recallsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	recalls := make([]model.RecallInfo, 0, len(resp.Results))
	for _, r := range resp.Results {
		recalls = append(recalls, model.RecallInfo{
			CampaignNumber: stringOr(r.CampaignNumber, "N/A"),
			Component:      textOr(r.Component, "N/A"),
			Summary:        textOr(r.Summary, "No summary available"),
			Consequence:    textOr(r.Consequence, "N/A"),
			Remedy:         textOr(r.Remedy, "Contact dealer"),
			Manufacturer:   stringOr(r.Manufacturer, "N/A"),
			ReportDate:     stringOr(r.ReportReceivedDate, "N/A"),
		})
	}
	return recalls, nil
}

// valueOr は空または欠損の値をfallbackに置き換え、それ以外は前後の空白を除去して返す。
func valueOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return strings.TrimSpace(*p)
}

// stringOr は欠損の値だけをfallbackに置き換える。
func stringOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}

// textOr はstringOrの結果からHTMLタグを除去する。
func textOr(p *string, fallback string) string {
	return markup.Strip(stringOr(p, fallback))
}

// parseYear は年式文字列を数値に変換する。解析できない場合は0。
func parseYear(p *string) int {
	if p == nil {
		return 0
	}
	year, err := strconv.Atoi(strings.TrimSpace(*p))
	if err != nil {
		return 0
	}
	return year
}
