package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/imaging"
)

// State is a step of a single invocation.
type State string

const (
	StateStart         State = "start"
	StateParsed        State = "parsed"
	StateValidated     State = "validated"
	StateDownloaded    State = "downloaded"
	StateTransformed   State = "transformed"
	StateStoredPrimary State = "stored_primary"
	StateStoredArchive State = "stored_archive"
	StateSourceDeleted State = "source_deleted"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage names used for logging and the stage duration metric.
const (
	StageParse     = "parse"
	StageValidate  = "validate"
	StageDownload  = "download"
	StageTransform = "transform"
	StageStore     = "store"
	StageArchive   = "archive"
	StageDelete    = "delete"
)

// Outcome labels for the invocation counter.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
)

// Result summarises one invocation. It is produced exactly once.
type Result struct {
	InvocationID string
	EventID      string
	Success      bool
	Err          error
	ErrKind      domain.ErrorKind
	// State is the terminal state; Reached is the last state entered before it.
	State        State
	Reached      State
	FailedStage  string
	Source       domain.ObjectAddress
	Destinations []domain.ObjectAddress
	Skipped      bool
	StartedAt    time.Time
	Duration     time.Duration
}

// Outcome is the metric label for the result.
func (r *Result) Outcome() string {
	switch {
	case r.Skipped:
		return OutcomeSkipped
	case r.Success:
		return OutcomeSuccess
	default:
		return string(r.ErrKind)
	}
}

// Completion receives the result of an invocation.
type Completion func(res *Result)

// Transformer is the image work the pipeline needs.
type Transformer interface {
	Measure(ctx context.Context, data []byte) (imaging.Dimensions, error)
	CropResizeReencode(ctx context.Context, data []byte, spec imaging.TransformSpec) ([]byte, string, error)
}

// Ledger remembers events that already completed.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Journal persists invocation results.
type Journal interface {
	Record(ctx context.Context, res *Result) error
}

type invocationIDKey struct{}

// WithInvocationID attaches an externally assigned invocation ID to ctx.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationIDFrom returns the ID set by WithInvocationID, if any.
func InvocationIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(invocationIDKey{}).(string)
	return id, ok && id != ""
}
