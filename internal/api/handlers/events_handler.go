package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/thumbnailer/internal/api/middleware"
	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
)

// MaxEventBytes caps the notification body accepted by the webhook.
const MaxEventBytes = 1 << 20

// Invoker runs one pipeline invocation.
type Invoker interface {
	Handle(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

type EventsHandler struct {
	invoker Invoker
}

func NewEventsHandler(invoker Invoker) *EventsHandler {
	return &EventsHandler{invoker: invoker}
}

// ResultResponse is the JSON view of a pipeline.Result.
type ResultResponse struct {
	InvocationID string                 `json:"invocation_id"`
	EventID      string                 `json:"event_id,omitempty"`
	Success      bool                   `json:"success"`
	Skipped      bool                   `json:"skipped"`
	State        string                 `json:"state"`
	Reached      string                 `json:"reached"`
	FailedStage  string                 `json:"failed_stage,omitempty"`
	ErrorKind    string                 `json:"error_kind,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Source       *domain.ObjectAddress  `json:"source,omitempty"`
	Destinations []domain.ObjectAddress `json:"destinations"`
	DurationMS   int64                  `json:"duration_ms"`
}

func NewResultResponse(res *pipeline.Result) ResultResponse {
	out := ResultResponse{
		InvocationID: res.InvocationID,
		EventID:      res.EventID,
		Success:      res.Success,
		Skipped:      res.Skipped,
		State:        string(res.State),
		Reached:      string(res.Reached),
		FailedStage:  res.FailedStage,
		Destinations: res.Destinations,
		DurationMS:   res.Duration.Milliseconds(),
	}
	if out.Destinations == nil {
		out.Destinations = []domain.ObjectAddress{}
	}
	if !res.Source.IsZero() {
		src := res.Source
		out.Source = &src
	}
	if res.Err != nil {
		out.ErrorKind = res.ErrKind.Label()
		out.Error = res.Err.Error()
	}
	return out
}

// HandleEvent runs the pipeline for one bucket notification.
func (h *EventsHandler) HandleEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxEventBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "event body too large"})
			return
		}
		log.Error().Err(err).Msg("failed to read event body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read event body"})
		return
	}

	ctx := pipeline.WithInvocationID(c.Request.Context(), middleware.GetRequestID(c))
	res, _ := h.invoker.Handle(ctx, body)

	c.JSON(StatusFor(res), NewResultResponse(res))
}

// StatusFor maps a result to the HTTP status returned to the notifier.
func StatusFor(res *pipeline.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrKind {
	case domain.KindMalformedEvent:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidConfiguration, domain.KindDecode, domain.KindEncode:
		return http.StatusUnprocessableEntity
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
