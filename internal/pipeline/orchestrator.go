package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/event"
	"github.com/andresuchdata/thumbnailer/internal/imaging"
	"github.com/andresuchdata/thumbnailer/internal/naming"
	"github.com/andresuchdata/thumbnailer/internal/storage"
)

// Orchestrator runs one thumbnail invocation per event. It holds no
// per-invocation state and is safe for concurrent use.
type Orchestrator struct {
	store       storage.ObjectStore
	transformer Transformer
	policy      naming.Policy
	spec        imaging.TransformSpec
	timeout     time.Duration
	metrics     *Metrics
	ledger      Ledger
	journal     Journal
	now         func() time.Time
	newID       func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds every invocation. Zero means only the caller's context
// applies.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLedger enables the duplicate-delivery guard.
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithJournal records every result.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// NewOrchestrator creates a new Orchestrator producing imaging.ThumbnailSpec
// thumbnails.
func NewOrchestrator(store storage.ObjectStore, transformer Transformer, policy naming.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		transformer: transformer,
		policy:      policy,
		spec:        imaging.ThumbnailSpec,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the naming policy in use.
func (o *Orchestrator) Policy() naming.Policy {
	return o.policy
}

// Handle runs one invocation and returns its result. The error is the
// result's Err.
func (o *Orchestrator) Handle(ctx context.Context, raw []byte) (*Result, error) {
	var res *Result
	o.Invoke(ctx, raw, func(r *Result) {
		res = r
	})
	return res, res.Err
}

// Invoke runs one invocation and calls done exactly once with its result,
// whether it succeeded or not.
func (o *Orchestrator) Invoke(ctx context.Context, raw []byte, done Completion) {
	res := &Result{
		InvocationID: o.invocationID(ctx),
		State:        StateStart,
		Reached:      StateStart,
		StartedAt:    o.now(),
	}
	lg := log.With().Str("invocation_id", res.InvocationID).Logger()

	o.execute(ctx, lg, raw, res)

	res.Duration = o.now().Sub(res.StartedAt)
	o.safeReport(ctx, lg, res)

	if done != nil {
		done(res)
	}
}

// safeReport keeps a misbehaving journal or metrics sink from swallowing the
// completion; the outcome in res is left as is.
func (o *Orchestrator) safeReport(ctx context.Context, lg zerolog.Logger, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Msg("reporting invocation result panicked")
		}
	}()
	o.report(ctx, lg, res)
}

func (o *Orchestrator) execute(parent context.Context, lg zerolog.Logger, raw []byte, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			lg.Error().Interface("panic", r).Str("state", string(res.Reached)).Msg("invocation panicked")
			o.fail(res, "", domain.NewError(domain.KindUnknown, "invoke", fmt.Sprintf("panic: %v", r)))
		}
	}()

	ctx := parent
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, o.timeout)
		defer cancel()
	}

	// start -> parsed
	n, err := event.Parse(raw)
	if err != nil {
		o.fail(res, StageParse, err)
		return
	}
	res.Source = n.Source
	res.EventID = n.ID()
	res.Reached = StateParsed
	lg.Debug().Str("bucket", n.Source.Bucket).Str("key", n.Source.Key).Str("event", n.EventName).Msg("event parsed")

	// parsed -> validated, no I/O before this point
	plan, err := o.policy.Derive(n.Source)
	if err != nil {
		o.fail(res, StageValidate, err)
		return
	}
	res.Destinations = plan.Destinations()
	res.Reached = StateValidated

	if o.alreadyDone(ctx, lg, res.EventID) {
		res.Skipped = true
		res.Success = true
		res.State = StateCompleted
		return
	}

	var data []byte
	err = o.stage(ctx, lg, res, StageDownload, StateDownloaded, func(ctx context.Context) error {
		var err error
		data, err = o.store.Fetch(ctx, plan.Source)
		return err
	})
	if err != nil {
		return
	}

	var thumb []byte
	var contentType string
	err = o.stage(ctx, lg, res, StageTransform, StateTransformed, func(ctx context.Context) error {
		dims, err := o.transformer.Measure(ctx, data)
		if err != nil {
			return err
		}
		lg.Debug().Int("width", dims.Width).Int("height", dims.Height).Bool("landscape", dims.Landscape()).Msg("source dimensions")

		thumb, contentType, err = o.transformer.CropResizeReencode(ctx, data, o.spec)
		return err
	})
	if err != nil {
		return
	}

	err = o.stage(ctx, lg, res, StageStore, StateStoredPrimary, func(ctx context.Context) error {
		return o.store.Store(ctx, plan.Primary, thumb, contentType)
	})
	if err != nil {
		return
	}

	if plan.Archive != nil {
		err = o.stage(ctx, lg, res, StageArchive, StateStoredArchive, func(ctx context.Context) error {
			return o.store.Copy(ctx, plan.Source, *plan.Archive)
		})
		if err != nil {
			return
		}
	}

	if plan.DeleteSource {
		err = o.stage(ctx, lg, res, StageDelete, StateSourceDeleted, func(ctx context.Context) error {
			return o.store.Delete(ctx, plan.Source)
		})
		if err != nil {
			return
		}
	}

	res.Success = true
	res.State = StateCompleted
	o.markDone(parent, lg, res.EventID)
}

// stage runs fn, records its duration and moves res to next on success or
// to failed otherwise.
func (o *Orchestrator) stage(ctx context.Context, lg zerolog.Logger, res *Result, name string, next State, fn func(context.Context) error) error {
	started := time.Now()
	lg.Info().Str("stage", name).Str("bucket", res.Source.Bucket).Str("key", res.Source.Key).Msg("stage started")

	err := fn(ctx)
	elapsed := time.Since(started)
	o.metrics.observeStage(name, elapsed)

	if err == nil && ctx.Err() != nil {
		// Finished, but past the deadline.
		err = ctx.Err()
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown && ctx.Err() != nil {
			err = domain.Wrap(domain.KindTransient, name, name+" exceeded deadline", err)
		}
		o.fail(res, name, err)
		return err
	}

	res.Reached = next
	lg.Info().Str("stage", name).Str("state", string(next)).Dur("elapsed", elapsed).Msg("stage completed")
	return nil
}

func (o *Orchestrator) fail(res *Result, stage string, err error) {
	if domain.KindOf(err) == domain.KindUnknown {
		err = domain.Wrap(domain.KindUnknown, stage, "unclassified failure", err)
	}
	res.Success = false
	res.Err = err
	res.ErrKind = domain.KindOf(err)
	res.FailedStage = stage
	res.State = StateFailed
}

func (o *Orchestrator) alreadyDone(ctx context.Context, lg zerolog.Logger, eventID string) bool {
	if o.ledger == nil {
		return false
	}
	seen, err := o.ledger.Seen(ctx, eventID)
	if err != nil {
		lg.Warn().Err(err).Str("event_id", eventID).Msg("ledger lookup failed, processing event")
		return false
	}
	if seen {
		lg.Info().Str("event_id", eventID).Msg("event already processed, skipping")
	}
	return seen
}

func (o *Orchestrator) markDone(ctx context.Context, lg zerolog.Logger, eventID string) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.Mark(context.WithoutCancel(ctx), eventID); err != nil {
		lg.Warn().Err(err).Str("event_id", eventID).Msg("failed to mark event as processed")
	}
}

// report emits the summary line, metrics and journal entry.
func (o *Orchestrator) report(ctx context.Context, lg zerolog.Logger, res *Result) {
	o.metrics.observeResult(res)

	var ev *zerolog.Event
	if res.Success {
		ev = lg.Info()
	} else {
		ev = lg.Error().Err(res.Err).Str("error_kind", res.ErrKind.Label()).Str("failed_stage", res.FailedStage)
	}
	if !res.Source.IsZero() {
		ev = ev.Str("source", res.Source.String())
	}
	dests := make([]string, 0, len(res.Destinations))
	for _, d := range res.Destinations {
		dests = append(dests, d.String())
	}
	ev.Strs("destinations", dests).
		Str("state", string(res.State)).
		Str("reached", string(res.Reached)).
		Bool("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("invocation finished")

	if o.journal != nil {
		if err := o.journal.Record(context.WithoutCancel(ctx), res); err != nil {
			lg.Warn().Err(err).Msg("failed to journal invocation result")
		}
	}
}

func (o *Orchestrator) invocationID(ctx context.Context) string {
	if id, ok := InvocationIDFrom(ctx); ok {
		return id
	}
	return o.newID()
}
