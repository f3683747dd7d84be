package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/thumbnailer/internal/journal"
)

const maxRunsLimit = 500

// RunLister reads the invocation journal.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Run, error)
	ByEvent(ctx context.Context, eventID string) ([]journal.Run, error)
}

type RunsHandler struct {
	runs RunLister
}

func NewRunsHandler(runs RunLister) *RunsHandler {
	return &RunsHandler{runs: runs}
}

// ListRuns returns recent runs, or the runs of one event when event_id is
// given.
func (h *RunsHandler) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()

	if eventID := c.Query("event_id"); eventID != "" {
		runs, err := h.runs.ByEvent(ctx, eventID)
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("failed to list runs for event")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": runsOrEmpty(runs)})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > maxRunsLimit {
			n = maxRunsLimit
		}
		limit = n
	}

	runs, err := h.runs.Recent(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list recent runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runsOrEmpty(runs)})
}

func runsOrEmpty(runs []journal.Run) []journal.Run {
	if runs == nil {
		return []journal.Run{}
	}
	return runs
}
