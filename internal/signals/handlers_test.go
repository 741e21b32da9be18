package signals

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(NewService(NewMemoryStore(), nil)).RegisterRoutes(r.Group("/v1/merchants/:id"))
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RecordAlert(t *testing.T) {
	r := setupRouter()

	w := post(r, "/v1/merchants/mer_1/alerts", `{"dedupeKey":"vmpi-1","source":"verifi"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":false`)

	w = post(r, "/v1/merchants/mer_1/alerts", `{"dedupeKey":"vmpi-1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)

	w = post(r, "/v1/merchants/mer_1/inquiries", `{"source":"paypal"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_List(t *testing.T) {
	r := setupRouter()
	post(r, "/v1/merchants/mer_1/inquiries", `{"dedupeKey":"pp-1"}`)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/merchants/mer_1/inquiries", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}
