package model

// Post is one piece of content targeted at one account. Hashtags are stored
// without the '#' prefix; adapters add it when composing captions. The post is
// read-only during a publish attempt.
type Post struct {
	ID            int64             `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Hashtags      []string          `json:"hashtags"`
	VideoPath     string            `json:"video_path"`
	ThumbnailPath string            `json:"thumbnail_path,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Meta returns a per-platform option with a fallback default.
func (p *Post) Meta(key, def string) string {
	if p.Metadata != nil {
		if v, ok := p.Metadata[key]; ok && v != "" {
			return v
		}
	}
	return def
}

// PublishResult is returned from a successful publish. The caller is
// responsible for recording it; no intermediate state is persisted here.
type PublishResult struct {
	PlatformPostID string `json:"platform_post_id"`
	CanonicalURL   string `json:"canonical_url"`
}

// MetricsSnapshot is the normalized per-post metric set. Adapters fill what
// their platform exposes and zero-fill the rest; platform-specific extras go
// into Extras.
type MetricsSnapshot struct {
	Views       int64            `json:"views"`
	Likes       int64            `json:"likes"`
	Comments    int64            `json:"comments"`
	Shares      int64            `json:"shares"`
	Saves       int64            `json:"saves"`
	Impressions int64            `json:"impressions"`
	Reach       int64            `json:"reach"`
	Extras      map[string]int64 `json:"extras,omitempty"`
}

// ZeroMetrics returns an all-zero snapshot, used by the degrade-on-error
// metric paths.
func ZeroMetrics() *MetricsSnapshot {
	return &MetricsSnapshot{Extras: map[string]int64{}}
}

// AccountAnalytics is the normalized account-level report for a date range.
// Followers carries the latest value of the series, never a sum.
type AccountAnalytics struct {
	Views       int64            `json:"views"`
	Impressions int64            `json:"impressions"`
	Reach       int64            `json:"reach"`
	Engagement  int64            `json:"engagement"`
	Followers   int64            `json:"followers"`
	Extras      map[string]int64 `json:"extras,omitempty"`
}

// ZeroAnalytics returns an all-zero analytics report.
func ZeroAnalytics() *AccountAnalytics {
	return &AccountAnalytics{Extras: map[string]int64{}}
}

// AudienceInsights holds demographic breakdowns. Platforms without a
// demographics API return the empty value, not an error.
type AudienceInsights struct {
	Countries map[string]int64 `json:"countries"`
	Cities    map[string]int64 `json:"cities"`
	AgeGender map[string]int64 `json:"age_gender"`
}

// EmptyAudienceInsights returns an insight set with empty (non-nil) maps.
func EmptyAudienceInsights() *AudienceInsights {
	return &AudienceInsights{
		Countries: map[string]int64{},
		Cities:    map[string]int64{},
		AgeGender: map[string]int64{},
	}
}
