package dto

import "social-publisher/domain/model"

// Res is the envelope every API endpoint responds with.
type Res struct {
	ResponseCode    string      `json:"responseCode"`
	ResponseMessage string      `json:"responseMessage"`
	Data            interface{} `json:"data,omitempty"`
}

// PublishRequest targets one post at one or more connected accounts.
type PublishRequest struct {
	AccountIDs    []int64           `json:"accountIds" binding:"required,min=1"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Hashtags      []string          `json:"hashtags"`
	VideoPath     string            `json:"videoPath"`
	ThumbnailPath string            `json:"thumbnailPath"`
	Metadata      map[string]string `json:"metadata"`
}

// Post converts the request into the model the publishing core consumes.
func (r *PublishRequest) Post() *model.Post {
	return &model.Post{
		Title:         r.Title,
		Description:   r.Description,
		Hashtags:      r.Hashtags,
		VideoPath:     r.VideoPath,
		ThumbnailPath: r.ThumbnailPath,
		Metadata:      r.Metadata,
	}
}

// AnalyticsQuery bounds an account-analytics read.
type AnalyticsQuery struct {
	Start string `form:"start"`
	End   string `form:"end"`
}
