package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/clock"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/ratelimit"
	"social-publisher/infrastructure/socialcore"
	"social-publisher/infrastructure/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, string, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	limiter := ratelimit.NewLimiter(cache.NewMemoryStore(), configuration.RateLimit{Enabled: false})
	core := socialcore.New(nil, limiter, nil, clock.NewFake(time.Now()), "social")
	client := NewClient(core, storage.NewLocal(dir), configuration.OAuthClient{
		ClientID: "client-key", ClientSecret: "client-secret", RedirectURI: "http://localhost/cb",
	}, time.Minute)
	client.apiURL = server.URL
	client.authURL = server.URL + "/auth"
	return client, dir, server
}

func tiktokAccount() *model.Account {
	return &model.Account{ID: 4, Platform: model.PlatformTikTok, PlatformUserID: "open-1", Username: "dancer", AccessToken: "tok", RefreshToken: "refresh-tok"}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestPublishVideoSingleChunk(t *testing.T) {
	var initReq map[string]interface{}
	var chunkRanges []string
	mux := http.NewServeMux()
	server := (*httptest.Server)(nil)
	mux.HandleFunc("/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&initReq))
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"publish_id": "pub-1",
			"upload_url": server.URL + "/upload",
		}})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		chunkRanges = append(chunkRanges, r.Header.Get("Content-Range"))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/post/publish/status/fetch/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"status":                      "PUBLISH_COMPLETE",
			"publicaly_available_post_id": []interface{}{7891011},
		}})
	})
	client, dir, srv := newTestClient(t, mux)
	server = srv
	payload := bytes.Repeat([]byte("x"), 1024)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), payload, 0o644))

	post := &model.Post{Title: "Dance", Hashtags: []string{"fyp"}, VideoPath: "clip.mp4"}
	result, err := client.PublishVideo(context.Background(), tiktokAccount(), post)
	require.NoError(t, err)
	assert.Equal(t, "7891011", result.PlatformPostID)
	assert.Equal(t, "https://www.tiktok.com/@dancer/video/7891011", result.CanonicalURL)

	source := initReq["source_info"].(map[string]interface{})
	assert.Equal(t, float64(1024), source["video_size"])
	assert.Equal(t, float64(1), source["total_chunk_count"], "files under the chunk size upload as one chunk")
	assert.Equal(t, "Dance #fyp", initReq["post_info"].(map[string]interface{})["title"])
	require.Len(t, chunkRanges, 1)
	assert.Equal(t, "bytes 0-1023/1024", chunkRanges[0])
}

func TestUploadChunksLastChunkAbsorbsRemainder(t *testing.T) {
	var chunkRanges []string
	var chunkLengths []int64
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		chunkRanges = append(chunkRanges, r.Header.Get("Content-Range"))
		chunkLengths = append(chunkLengths, r.ContentLength)
		w.WriteHeader(http.StatusCreated)
	})
	client, _, server := newTestClient(t, mux)

	size := int64(12 << 20)
	totalChunks := size / chunkSize
	require.Equal(t, int64(2), totalChunks)

	err := client.uploadChunks(context.Background(), tiktokAccount(), server.URL+"/upload",
		bytes.NewReader(make([]byte, size)), size, totalChunks)
	require.NoError(t, err)

	require.Len(t, chunkRanges, 2)
	assert.Equal(t, "bytes 0-5242879/12582912", chunkRanges[0])
	assert.Equal(t, "bytes 5242880-12582911/12582912", chunkRanges[1])
	assert.Equal(t, int64(5<<20), chunkLengths[0])
	assert.Equal(t, int64(7<<20), chunkLengths[1], "remainder rides on the final chunk")
}

func TestPublishVideoFailed(t *testing.T) {
	server := (*httptest.Server)(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"publish_id": "pub-1",
			"upload_url": server.URL + "/upload",
		}})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/post/publish/status/fetch/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"status":      "FAILED",
			"fail_reason": "video_too_long",
		}})
	})
	client, dir, srv := newTestClient(t, mux)
	server = srv
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("frames"), 0o644))

	_, err := client.PublishVideo(context.Background(), tiktokAccount(), &model.Post{VideoPath: "clip.mp4"})
	require.ErrorIs(t, err, model.ErrProcessing)
	assert.Contains(t, err.Error(), "video_too_long")
}

func TestPublishVideoFallsBackToPublishID(t *testing.T) {
	server := (*httptest.Server)(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"publish_id": "pub-42",
			"upload_url": server.URL + "/upload",
		}})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/post/publish/status/fetch/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"status": "PUBLISH_COMPLETE"}})
	})
	client, dir, srv := newTestClient(t, mux)
	server = srv
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("frames"), 0o644))

	result, err := client.PublishVideo(context.Background(), tiktokAccount(), &model.Post{VideoPath: "clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "pub-42", result.PlatformPostID)
}

func TestGetPostMetricsDegradesToZeros(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/video/query/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"access_denied"}}`, http.StatusForbidden)
	})
	client, _, _ := newTestClient(t, mux)

	snapshot, err := client.GetPostMetrics(context.Background(), tiktokAccount(), "7891011")
	require.NoError(t, err, "metrics failures degrade, never propagate")
	assert.Equal(t, model.ZeroMetrics(), snapshot)
}

func TestGetAccountAnalytics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/info/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"user": map[string]interface{}{
				"follower_count":  1500,
				"following_count": 42,
				"likes_count":     9000,
				"video_count":     37,
			},
		}})
	})
	client, _, _ := newTestClient(t, mux)

	analytics, err := client.GetAccountAnalytics(context.Background(), tiktokAccount(),
		time.Now().AddDate(0, 0, -28), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), analytics.Followers)
	assert.Equal(t, int64(9000), analytics.Engagement)
	assert.Equal(t, int64(37), analytics.Extras["video_count"])
}

func TestRefreshAccessToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-tok", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-key", r.PostForm.Get("client_key"))
		writeJSON(w, map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    86400,
		})
	})
	client, _, _ := newTestClient(t, mux)

	refresh, err := client.RefreshAccessToken(context.Background(), tiktokAccount())
	require.NoError(t, err)
	assert.Equal(t, "new-access", refresh.AccessToken)
	assert.Equal(t, "new-refresh", refresh.RefreshToken)
	require.NotNil(t, refresh.ExpiresAt)
}

func TestRefreshAccessTokenErrorPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"error": "invalid_grant", "error_description": "refresh token revoked"})
	})
	client, _, _ := newTestClient(t, mux)

	_, err := client.RefreshAccessToken(context.Background(), tiktokAccount())
	require.ErrorIs(t, err, model.ErrAuthExchange)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestHandleCallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		writeJSON(w, map[string]interface{}{
			"access_token":  "acc",
			"refresh_token": "ref",
			"expires_in":    3600,
			"scope":         oauthScopes,
			"open_id":       "open-1",
		})
	})
	mux.HandleFunc("/user/info/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer acc", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{
			"user": map[string]interface{}{
				"open_id":      "open-1",
				"username":     "dancer",
				"display_name": "Dancer",
			},
		}})
	})
	client, _, _ := newTestClient(t, mux)

	grant, err := client.HandleCallback(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "acc", grant.AccessToken)
	assert.Equal(t, "ref", grant.RefreshToken)
	assert.Equal(t, "open-1", grant.User.PlatformUserID)
	assert.Equal(t, "dancer", grant.User.Username)
	require.NotNil(t, grant.ExpiresAt)
}
