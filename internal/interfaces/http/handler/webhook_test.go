package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appwebhook "github.com/erp/sync-engine/internal/application/webhook"
	"github.com/erp/sync-engine/internal/infrastructure/cache"
	"github.com/erp/sync-engine/internal/infrastructure/persistence"
	"github.com/erp/sync-engine/internal/infrastructure/persistence/models"
	"github.com/erp/sync-engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newWebhookRouter wires a webhook handler over sqlite persistence and
// in-process rate limiting. Drain never runs; these tests cover the HTTP
// surface only.
func newWebhookRouter(t *testing.T, cfg appwebhook.Config) *gin.Engine {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.WebhookEventModel{}))

	service := appwebhook.NewService(
		persistence.NewGormWebhookEventRepository(db),
		cache.NewInMemoryRateLimiter(100, time.Minute),
		cache.NewInMemoryDedupStore(),
		nil,
		cfg,
		zap.NewNop(),
	)

	router := gin.New()
	api := router.Group("/api/v1")
	NewWebhookHandler(service).RegisterRoutes(api)
	return router
}

func postDelivery(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/platform", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWebhookHandler_Receive(t *testing.T) {
	body := []byte(`{"event_type":"product.updated","resource_id":42,"id":42}`)

	t.Run("accepts a valid delivery", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		w := postDelivery(router, body, "")
		assert.Equal(t, http.StatusAccepted, w.Code)

		resp := decodeResponse(t, w)
		require.True(t, resp.Success)
		data := resp.Data.(map[string]any)
		_, err := uuid.Parse(data["event_id"].(string))
		assert.NoError(t, err)
	})

	t.Run("acknowledges duplicates without requeueing", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		first := postDelivery(router, body, "")
		require.Equal(t, http.StatusAccepted, first.Code)

		second := postDelivery(router, body, "")
		assert.Equal(t, http.StatusOK, second.Code)
		resp := decodeResponse(t, second)
		assert.Equal(t, map[string]any{"duplicate": true}, resp.Data)
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{Secret: "s3cret"})

		w := postDelivery(router, body, "deadbeef")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeBadSignature, resp.Error.Code)
	})

	t.Run("accepts a correctly signed delivery", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{Secret: "s3cret"})

		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write(body)
		w := postDelivery(router, body, hex.EncodeToString(mac.Sum(nil)))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		w := postDelivery(router, []byte(`{not json`), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeInvalidJSON, resp.Error.Code)
	})

	t.Run("rejects unknown event types", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		w := postDelivery(router, []byte(`{"event_type":"invoice.updated","resource_id":1}`), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
	})
}

func TestWebhookHandler_Stats(t *testing.T) {
	router := newWebhookRouter(t, appwebhook.Config{})

	require.Equal(t, http.StatusAccepted,
		postDelivery(router, []byte(`{"event_type":"product.updated","resource_id":1}`), "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["pending"])
}

func TestWebhookHandler_Replay(t *testing.T) {
	t.Run("only failed events can be replayed", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		w := postDelivery(router, []byte(`{"event_type":"product.updated","resource_id":7}`), "")
		require.Equal(t, http.StatusAccepted, w.Code)
		eventID := decodeResponse(t, w).Data.(map[string]any)["event_id"].(string)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+eventID+"/replay", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, dto.ErrCodeInvalidState, decodeResponse(t, rec).Error.Code)
	})

	t.Run("unknown events report not found", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+uuid.NewString()+"/replay", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("a garbled id is a bad request", func(t *testing.T) {
		router := newWebhookRouter(t, appwebhook.Config{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/not-a-uuid/replay", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
