package models

// AffiliateStatsSummary is derived on demand from click and commission
// records for a date window. It is never persisted.
type AffiliateStatsSummary struct {
	AffiliateID      string               `json:"affiliateId"`
	Period           StatsPeriod          `json:"period"`
	TotalClicks      int64                `json:"totalClicks"`
	TotalConversions int64                `json:"totalConversions"`
	TotalRevenue     float64              `json:"totalRevenue"`
	TotalCommission  float64              `json:"totalCommission"`
	Trend            []AffiliateStatPoint `json:"trend"`
	LinkStats        map[string]LinkStats `json:"linkStats"`
	Countries        map[string]int64     `json:"countries,omitempty"`
}

// StatsPeriod is the inclusive UTC day window of a summary.
type StatsPeriod struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Days      int    `json:"days"`
	Timezone  string `json:"timezone"`
}

// AffiliateStatPoint is one day bucket of the trend.
type AffiliateStatPoint struct {
	Date        string  `json:"date"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Commission  float64 `json:"commission"`
}

// LinkStats aggregates one link over the window.
type LinkStats struct {
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Commission  float64 `json:"commission"`
}
