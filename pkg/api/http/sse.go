package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleSubscribe implements subscribe(runId) → stream<RunEvent-JSON>
// (spec.md §6) as a server-sent-event stream. The first event is
// synthesized as {type:"connected", runId}; every following event is
// exactly one graph.RunEvent JSON object per SSE data line.
func (s *Server) handleSubscribe(c *gin.Context) {
	runID := c.Param("id")

	ch, detach, err := s.registry.Subscribe(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: err.Error()},
		})
		return
	}
	defer detach()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if !s.writeEvent(c, map[string]string{"type": "connected", "runId": runID}) {
		return
	}
	c.Writer.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !s.writeEvent(c, ev) {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) writeEvent(c *gin.Context, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal run event", zap.Error(err))
		return false
	}
	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := c.Writer.Write(data); err != nil {
		return false
	}
	_, err = c.Writer.Write([]byte("\n\n"))
	return err == nil
}
