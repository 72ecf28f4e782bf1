// Package httpapi is the thin HTTP wire adapter around an agentrun.Runner:
// POST /v1/run/ in, {"output": ...} out. It holds no core logic of its own.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agentrun/pkg/agentrun"
)

// runRequest is the wire request body: {"code": "<source>"}. Code has no
// "required" binding tag: an empty string is a valid, present value (an
// empty snippet is a defined boundary case, not a malformed request) and
// gin's validator otherwise treats the empty string as a missing field.
type runRequest struct {
	Code string `json:"code"`
}

// runResponse is the wire response body: {"output": "<outcome>"}.
type runResponse struct {
	Output string `json:"output"`
}

// Handler wraps a single shared Runner behind the external HTTP interface.
type Handler struct {
	runner *agentrun.Runner
}

// NewHandler returns a Handler bound to runner.
func NewHandler(runner *agentrun.Runner) *Handler {
	return &Handler{runner: runner}
}

// Register mounts the routes onto engine.
func (h *Handler) Register(engine *gin.Engine) {
	engine.GET("/healthz", h.health)
	v1 := engine.Group("/v1")
	v1.POST("/run/", h.run)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
		return
	}

	outcome, err := h.runner.Execute(c.Request.Context(), req.Code)
	if err != nil {
		if c.Request.Context().Err() != nil {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request canceled"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, runResponse{Output: outcome})
}
