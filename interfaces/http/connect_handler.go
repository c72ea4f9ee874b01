package http

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
)

type IConnectHandler interface {
	GetAuthURL(ctx *gin.Context)
	Callback(ctx *gin.Context)
	ListAccounts(ctx *gin.Context)
}

// connectHandler drives the OAuth connect flow for every platform. States are
// one-time CSRF tokens held in memory with a 10 minute expiry.
type connectHandler struct {
	publisher usecase.IPublisher
	stateMu   sync.Mutex
	states    map[string]time.Time // state -> expiry
}

func NewConnectHandler(publisher usecase.IPublisher) IConnectHandler {
	return &connectHandler{publisher: publisher, states: map[string]time.Time{}}
}

func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (h *connectHandler) issueState() string {
	state := randomState()
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	for s, exp := range h.states {
		if time.Now().After(exp) {
			delete(h.states, s)
		}
	}
	h.states[state] = time.Now().Add(10 * time.Minute)
	return state
}

func (h *connectHandler) consumeState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return time.Now().Before(exp)
}

// GetAuthURL redirects the browser to the platform's consent screen.
func (h *connectHandler) GetAuthURL(c *gin.Context) {
	platform := model.Platform(c.Param("platform"))
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported platform: " + c.Param("platform")})
		return
	}
	authURL, err := h.publisher.GetAuthorizationURL(platform, h.issueState())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.Query("redirect") == "false" {
		c.JSON(http.StatusOK, gin.H{"auth_url": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback verifies the CSRF state and exchanges the code for a persisted
// account.
func (h *connectHandler) Callback(c *gin.Context) {
	platform := model.Platform(c.Param("platform"))
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported platform: " + c.Param("platform")})
		return
	}
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization denied: " + errParam})
		return
	}
	if !h.consumeState(c.Query("state")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	account, err := h.publisher.HandleCallback(c.Request.Context(), platform, code)
	if err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err.Error()).
			Warn("oauth callback failed")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "account": account})
}

func (h *connectHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.publisher.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if accounts == nil {
		accounts = []*model.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}
