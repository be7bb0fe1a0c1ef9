// Package runner executes one job run end to end: build the request, call
// the completion client, extract the record, and write it to the stores.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/plexity/actor/metrics"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/actor/provider"
	"github.com/teilomillet/plexity/actor/storage"
	"github.com/teilomillet/plexity/actor/validation"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

// RawCompletionKey is the key-value store key receiving the full completion
// when the input sets returnRaw.
const RawCompletionKey = "PERPLEXITY_COMPLETION"

// Phase is the step a run is in.
type Phase string

const (
	PhaseBuilding   Phase = "building"
	PhasePreflight  Phase = "preflight"
	PhaseCompleting Phase = "completing"
	PhaseExtracting Phase = "extracting"
	PhaseStoring    Phase = "storing"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// Observer is told about every phase change of every run.
type Observer interface {
	Observe(runID string, phase Phase, err error)
}

// Options configures a Runner. Client, Dataset and KeyValue are required.
type Options struct {
	Client   provider.CompletionClient
	Dataset  storage.Dataset
	KeyValue storage.KeyValueStore

	// TokenCounter and MaxContextTokens enable the preflight check when
	// both are set.
	TokenCounter     *validation.TokenCounter
	MaxContextTokens int

	// Timeout bounds a single run; zero means no deadline beyond ctx.
	Timeout time.Duration

	Metrics   *metrics.Metrics
	Observers []Observer
	Logger    *zap.Logger
}

// Runner executes runs. It is safe to call Run sequentially from one
// goroutine; runs are not meant to overlap.
type Runner struct {
	opts   Options
	logger *zap.Logger
}

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Client == nil {
		return nil, errors.NewConfigError("runner requires a completion client", nil)
	}
	if opts.Dataset == nil || opts.KeyValue == nil {
		return nil, errors.NewConfigError("runner requires a dataset and a key-value store", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = errors.DefaultLogger
	}
	return &Runner{opts: opts, logger: logger}, nil
}

// Run executes one run and returns the pushed record. Nothing is written
// when a step before the dataset push fails. The raw completion is stored
// only after the record was pushed.
func (r *Runner) Run(ctx context.Context, in processing.RawInput) (*processing.DatasetItem, error) {
	runID := uuid.New().String()
	return r.RunWithID(ctx, runID, in)
}

// RunWithID is Run with a caller-chosen run ID.
func (r *Runner) RunWithID(ctx context.Context, runID string, in processing.RawInput) (*processing.DatasetItem, error) {
	start := time.Now()
	logger := r.logger.With(zap.String("run_id", runID))
	ctx = storage.WithRunID(ctx, runID)
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	logger.Info("run started", zap.String("provider", r.opts.Client.Name()))
	logger.Debug("run input", zap.Any("input", in))

	item, err := r.execute(ctx, runID, in, logger)

	duration := time.Since(start)
	if r.opts.Metrics != nil {
		errType := ""
		if err != nil {
			errType = string(errors.TypeOf(err))
		}
		r.opts.Metrics.ObserveRun(duration, errType)
	}

	if err != nil {
		r.phase(runID, PhaseFailed, err)
		return nil, err
	}
	r.phase(runID, PhaseSucceeded, nil)
	logger.Info("run finished", zap.Duration("duration", duration))
	return item, nil
}

func (r *Runner) execute(ctx context.Context, runID string, in processing.RawInput, logger *zap.Logger) (*processing.DatasetItem, error) {
	r.phase(runID, PhaseBuilding, nil)
	req, err := processing.Build(in)
	if err != nil {
		return nil, err
	}
	logger.Debug("request built",
		zap.String("model", req.Payload.Model),
		zap.Int("messages", len(req.Payload.Messages)),
		zap.Bool("return_raw", req.ReturnRaw),
	)

	if r.opts.TokenCounter != nil && r.opts.MaxContextTokens > 0 {
		r.phase(runID, PhasePreflight, nil)
		estimate, err := r.opts.TokenCounter.ValidateTokens(req.Payload, r.opts.MaxContextTokens)
		if r.opts.Metrics != nil {
			r.opts.Metrics.PromptTokensEstimated.Set(float64(estimate))
		}
		if err != nil {
			return nil, err
		}
	}

	r.phase(runID, PhaseCompleting, nil)
	callStart := time.Now()
	completion, err := r.opts.Client.Complete(ctx, req.Payload)
	if r.opts.Metrics != nil {
		r.opts.Metrics.ProviderDuration.WithLabelValues(r.opts.Client.Name()).Observe(time.Since(callStart).Seconds())
	}
	if err != nil {
		if errors.TypeOf(err) != errors.TransportFailure {
			err = errors.NewTransportError(r.opts.Client.Name(), err)
		}
		return nil, err
	}

	r.phase(runID, PhaseExtracting, nil)
	mapping, err := processing.ToMapping(completion)
	if err != nil {
		return nil, err
	}
	item, err := processing.Extract(mapping, req.Messages, req.PrimaryPrompt)
	if err != nil {
		return nil, err
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveUsage(item.Usage)
	}

	r.phase(runID, PhaseStoring, nil)
	if err := r.opts.Dataset.PushData(ctx, item); err != nil {
		return nil, asStorageError(err, "push dataset item")
	}
	logger.Info("dataset item pushed")

	if req.ReturnRaw {
		if err := r.opts.KeyValue.SetValue(ctx, RawCompletionKey, mapping); err != nil {
			return nil, asStorageError(err, "store raw completion")
		}
		logger.Info("raw completion stored", zap.String("key", RawCompletionKey))
	}

	return item, nil
}

func (r *Runner) phase(runID string, phase Phase, err error) {
	for _, o := range r.opts.Observers {
		o.Observe(runID, phase, err)
	}
}

// asStorageError keeps typed store errors and wraps anything else.
func asStorageError(err error, message string) error {
	var actorErr *errors.ActorError
	if errors.As(err, &actorErr) {
		return err
	}
	return errors.NewStorageError("unknown", message, err)
}
