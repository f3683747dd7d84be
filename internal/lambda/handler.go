package lambda

import (
	"context"
	"encoding/json"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
)

// Invoker runs one pipeline invocation.
type Invoker interface {
	Handle(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// Response is returned to the Lambda runtime on success.
type Response struct {
	InvocationID string                 `json:"invocation_id"`
	Skipped      bool                   `json:"skipped"`
	Source       domain.ObjectAddress   `json:"source"`
	Destinations []domain.ObjectAddress `json:"destinations"`
	DurationMS   int64                  `json:"duration_ms"`
}

// Handler adapts the orchestrator to the Lambda runtime. The invoker is
// built on the first event and shared by every later one in the same
// execution environment.
type Handler struct {
	build   func() (Invoker, error)
	once    sync.Once
	invoker Invoker
	initErr error
}

func NewHandler(build func() (Invoker, error)) *Handler {
	return &Handler{build: build}
}

// Handle processes one S3 notification. A failed invocation is returned as
// an error so the runtime reports it and applies its retry policy.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) (*Response, error) {
	invoker, err := h.init()
	if err != nil {
		return nil, err
	}

	id := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		id = lc.AwsRequestID
	}
	if id == "" {
		id = uuid.NewString()
	}

	res, err := invoker.Handle(pipeline.WithInvocationID(ctx, id), payload)
	if err != nil {
		return nil, err
	}

	return &Response{
		InvocationID: res.InvocationID,
		Skipped:      res.Skipped,
		Source:       res.Source,
		Destinations: res.Destinations,
		DurationMS:   res.Duration.Milliseconds(),
	}, nil
}

func (h *Handler) init() (Invoker, error) {
	h.once.Do(func() {
		h.invoker, h.initErr = h.build()
		if h.initErr != nil {
			h.initErr = domain.Wrap(domain.KindInvalidConfiguration, "init", "build pipeline", h.initErr)
			log.Error().Err(h.initErr).Msg("cold start failed")
		}
	})
	return h.invoker, h.initErr
}

// Start hands control to the Lambda runtime. It does not return.
func Start(h *Handler) {
	awslambda.Start(h.Handle)
}
