package worker

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/mediameter-lab/mediameter/internal/core/errors"
	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
)

// DiscoverRequest selects the page of pending work to return. An empty cursor
// starts from the front of the stage's queue.
type DiscoverRequest struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

// ProcessRequest names the work item to run to completion.
type ProcessRequest struct {
	Key string `json:"key"`
}

// StagesHandler lists the stage names this worker serves.
func (s *Service) StagesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stages": s.engine.Stages()})
}

// DiscoverHandler returns one page of pending work-item keys for a stage.
func (s *Service) DiscoverHandler(c *gin.Context) {
	w, ok := s.engine.Worker(c.Param("stage"))
	if !ok {
		writeUnknownStage(c)
		return
	}

	var req DiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}
	if req.Limit <= 0 {
		req.Limit = s.discoverLimit
	}

	res, err := w.Scanner.Discover(c.Request.Context(), req.Cursor, req.Limit)
	if err != nil {
		slog.Error("[Worker] Discover failed", "stage", c.Param("stage"), "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Discovery failed",
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ProcessHandler runs one work item to completion. Processing an already
// retired item succeeds, so callers can blindly retry.
func (s *Service) ProcessHandler(c *gin.Context) {
	w, ok := s.engine.Worker(c.Param("stage"))
	if !ok {
		writeUnknownStage(c)
		return
	}

	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}
	if _, err := keyspace.ParseWorkKey(req.Key); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   err.Error(),
		})
		return
	}

	if err := w.Processor.Process(c.Request.Context(), req.Key); err != nil {
		slog.Error("[Worker] Process failed", "stage", c.Param("stage"), "key", req.Key, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed", "key": req.Key})
}

func writeUnknownStage(c *gin.Context) {
	c.JSON(http.StatusNotFound, httperr.ErrorResponse{
		ErrorType: httperr.HttpUnknownStageError,
		Message:   "Unknown stage",
		Details:   map[string]interface{}{"stage": c.Param("stage")},
	})
}
