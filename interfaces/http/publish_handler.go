package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
)

type IPublishHandler interface {
	Publish(ctx *gin.Context)
	PostMetrics(ctx *gin.Context)
	AccountAnalytics(ctx *gin.Context)
	AudienceInsights(ctx *gin.Context)
}

type publishHandler struct {
	publisher usecase.IPublisher
}

func NewPublishHandler(publisher usecase.IPublisher) IPublishHandler {
	return &publishHandler{publisher: publisher}
}

// Publish fans a post out to the requested accounts and reports per-account
// outcomes; partial failure is a 207, total failure a 502.
func (h *publishHandler) Publish(c *gin.Context) {
	var req dto.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	outcomes := h.publisher.PublishToMany(c.Request.Context(), req.AccountIDs, req.Post())
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	status := http.StatusOK
	switch {
	case failed == len(outcomes):
		status = http.StatusBadGateway
	case failed > 0:
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": outcomes})
}

func (h *publishHandler) PostMetrics(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}
	postID := c.Param("postId")
	snapshot, err := h.publisher.GetPostMetrics(c.Request.Context(), accountID, postID)
	if err != nil {
		logger.GetLogger().WithField("account_id", accountID).WithField("post_id", postID).
			WithField("error", err.Error()).Warn("post metrics failed")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": snapshot})
}

func (h *publishHandler) AccountAnalytics(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}
	var q dto.AnalyticsQuery
	_ = c.ShouldBindQuery(&q)
	end := time.Now()
	start := end.AddDate(0, 0, -28)
	if q.Start != "" {
		if t, err := time.Parse("2006-01-02", q.Start); err == nil {
			start = t
		}
	}
	if q.End != "" {
		if t, err := time.Parse("2006-01-02", q.End); err == nil {
			end = t
		}
	}

	analytics, err := h.publisher.GetAccountAnalytics(c.Request.Context(), accountID, start, end)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analytics": analytics})
}

func (h *publishHandler) AudienceInsights(c *gin.Context) {
	accountID, ok := pathAccountID(c)
	if !ok {
		return
	}
	insights, err := h.publisher.GetAudienceInsights(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

func pathAccountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return 0, false
	}
	return id, true
}

// statusForError maps the publishing core's error taxonomy onto HTTP codes.
func statusForError(err error) int {
	var upstream *model.UpstreamError
	switch {
	case errors.Is(err, model.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUnsupportedOperation):
		return http.StatusConflict
	case errors.Is(err, model.ErrProcessingTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrProcessing), errors.Is(err, model.ErrAuthExchange):
		return http.StatusBadGateway
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
