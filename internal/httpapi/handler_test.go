package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrun/pkg/agentrun"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRunner(t *testing.T) *agentrun.Runner {
	t.Helper()
	adapter := agentrun.NewFakeAdapter()
	adapter.RunPython = func(source string) (string, string, int) {
		return "hello, world!\n", "", 0
	}
	cfg := agentrun.DefaultRunnerConfig()
	cfg.ContainerName = "test-container"
	r, err := agentrun.New(context.Background(), cfg, agentrun.WithAdapter(adapter))
	require.NoError(t, err)
	return r
}

func TestHandler_Run_Success(t *testing.T) {
	h := NewHandler(newTestRunner(t))
	router := gin.New()
	h.Register(router)

	body := bytes.NewBufferString(`{"code": "print('hello, world!')"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/run/", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"output": "hello, world!\n"}`, w.Body.String())
}

func TestHandler_Run_EmptyCodeIsValid(t *testing.T) {
	h := NewHandler(newTestRunner(t))
	router := gin.New()
	h.Register(router)

	body := bytes.NewBufferString(`{"code": ""}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/run/", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "an empty snippet is a defined boundary case, not a malformed request")
}

func TestHandler_Run_MalformedBody(t *testing.T) {
	h := NewHandler(newTestRunner(t))
	router := gin.New()
	h.Register(router)

	req := httptest.NewRequest(http.MethodPost, "/v1/run/", bytes.NewBufferString(`not json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Health(t *testing.T) {
	h := NewHandler(newTestRunner(t))
	router := gin.New()
	h.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
