package model

// RecallInfo はNHTSAのリコールキャンペーン1件を表す。
// 値は外部サービスの文字列をそのまま保持する。
type RecallInfo struct {
	CampaignNumber string `json:"campaign_number"`
	Component      string `json:"component"`
	Summary        string `json:"summary"`
	Consequence    string `json:"consequence"`
	Remedy         string `json:"remedy"`
	Manufacturer   string `json:"manufacturer"`
	ReportDate     string `json:"report_date"`
}
