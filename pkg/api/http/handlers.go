package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

// StartRunRequest is the startRun request body (spec.md §6).
type StartRunRequest struct {
	Graph *graph.Graph `json:"graph" binding:"required"`
	Input string       `json:"input"`
}

// StartRunResponse is the startRun response body.
type StartRunResponse struct {
	RunID string `json:"runId"`
}

// ErrorResponse is the shape of every non-2xx JSON body the handlers in
// this package return.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code alongside the message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	gatewayState := "unknown"
	if s.gw != nil {
		gatewayState = s.gw.State().String()
		if s.gw.State() != gateway.StateReady {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": gin.H{
			"gateway": gatewayState,
		},
	})
}

// handleStartRun implements startRun(graph, input?) → {runId} (spec.md §6).
func (s *Server) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid startRun request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	runID, err := s.registry.Start(req.Graph, req.Input)
	if err != nil {
		s.logger.Error("failed to start run", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "GRAPH_INVALID", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusCreated, StartRunResponse{RunID: runID})
}

// handleCancelRun implements cancel(runId) → {ok:true} (spec.md §6).
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if ok := s.registry.Cancel(c.Request.Context(), runID); !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "unknown or expired run"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
