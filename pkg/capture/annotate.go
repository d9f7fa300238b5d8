package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAnnotationConcurrency is the number of frames annotated at once.
const DefaultAnnotationConcurrency = 1

// Pipeline runs a Model on frames off the capture goroutine. At most limit
// jobs are outstanding; a frame submitted while the pipeline is full is
// dropped, never queued. Results are posted in completion order as
// EventAnnotatedFrame, tagged with the frame's sequence number.
type Pipeline struct {
	model    Model
	notifier *Notifier
	logger   *slog.Logger
	limit    int
	timeout  time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	epoch  atomic.Uint64
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	paused bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	stale     atomic.Uint64
	latencyNs atomic.Int64
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithConcurrency sets the number of outstanding jobs.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithInferTimeout bounds each Infer call. Zero means no timeout.
func WithInferTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithPipelineLogger sets the pipeline's logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// PipelineStats reports annotation counters.
type PipelineStats struct {
	Model       string        `json:"model"`
	Limit       int           `json:"limit"`
	InFlight    int           `json:"in_flight"`
	Submitted   uint64        `json:"submitted"`
	Dropped     uint64        `json:"dropped"`
	Completed   uint64        `json:"completed"`
	Failed      uint64        `json:"failed"`
	Stale       uint64        `json:"stale"`
	Epoch       uint64        `json:"epoch"`
	LastLatency time.Duration `json:"last_latency"`
}

// NewPipeline creates a pipeline that owns model and posts results to n.
func NewPipeline(model Model, n *Notifier, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		model:    model,
		notifier: n,
		logger:   slog.Default(),
		limit:    DefaultAnnotationConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "capture.pipeline", "model", model.Name())
	p.slots = make(chan struct{}, p.limit)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Submit starts annotating f if a slot is free and reports whether it did.
// The pipeline retains f for the duration of the job. A suspended or closed
// pipeline refuses every frame.
func (p *Pipeline) Submit(f *Frame) bool {
	p.mu.Lock()
	if p.closed || p.paused {
		p.mu.Unlock()
		p.dropped.Add(1)
		return false
	}
	select {
	case p.slots <- struct{}{}:
	default:
		p.mu.Unlock()
		p.dropped.Add(1)
		return false
	}
	epoch := p.epoch.Load()
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	p.submitted.Add(1)
	f.Retain()
	go p.run(ctx, epoch, f)
	return true
}

func (p *Pipeline) run(ctx context.Context, epoch uint64, f *Frame) {
	defer p.wg.Done()

	start := time.Now()
	preds, err := p.infer(ctx, f)
	p.latencyNs.Store(int64(time.Since(start)))

	// Free the slot before delivery so the next Submit can start as soon as
	// this result is observable.
	<-p.slots

	if !p.current(epoch) {
		p.stale.Add(1)
		f.Release()
		return
	}

	ev := Event{Type: EventAnnotatedFrame, Frame: f, Predictions: preds}
	if err != nil {
		p.failed.Add(1)
		ev.Predictions = nil
		ev.Err = &AnnotationError{Seq: f.Seq, Model: p.model.Name(), Err: err}
		p.logger.Warn("annotation failed", "seq", f.Seq, "error", err)
	} else {
		p.completed.Add(1)
	}

	if p.notifier == nil {
		f.Release()
		return
	}
	p.notifier.PostIf(ev, func() bool {
		if p.current(epoch) {
			return true
		}
		p.stale.Add(1)
		return false
	})
}

func (p *Pipeline) infer(ctx context.Context, f *Frame) (preds []Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panic: %v", r)
		}
	}()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.model.Infer(ctx, f)
}

func (p *Pipeline) current(epoch uint64) bool {
	return p.epoch.Load() == epoch
}

// Cancel abandons every outstanding job. Their results are discarded, both
// when the job completes and if already queued for delivery.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.epoch.Add(1)
	p.cancel()
	if !p.closed {
		p.ctx, p.cancel = context.WithCancel(context.Background())
	}
}

// Suspend cancels outstanding jobs like Cancel and refuses new frames until
// Resume. A session suspends its pipeline while sinks drain on stop, so no
// result can arrive after the stop completes.
func (p *Pipeline) Suspend() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.Cancel()
}

// Resume accepts frames again after Suspend.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Suspended reports whether Submit is refusing frames.
func (p *Pipeline) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Close cancels outstanding jobs and waits for their goroutines to exit.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.epoch.Add(1)
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}

// InFlight returns the number of outstanding jobs.
func (p *Pipeline) InFlight() int {
	return len(p.slots)
}

// Stats returns current counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Model:       p.model.Name(),
		Limit:       p.limit,
		InFlight:    len(p.slots),
		Submitted:   p.submitted.Load(),
		Dropped:     p.dropped.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		Stale:       p.stale.Load(),
		Epoch:       p.epoch.Load(),
		LastLatency: time.Duration(p.latencyNs.Load()),
	}
}

// MultiModel runs several models on each frame and merges their predictions,
// tagging each with the model that produced it. It fails only if every
// model fails.
type MultiModel struct {
	models []Model
	logger *slog.Logger
}

// NewMultiModel combines models. At least one is required.
func NewMultiModel(logger *slog.Logger, models ...Model) (*MultiModel, error) {
	if len(models) == 0 {
		return nil, errors.New("capture: multi model needs at least one model")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiModel{
		models: models,
		logger: logger.With("component", "capture.multimodel"),
	}, nil
}

// Name joins the member model names.
func (m *MultiModel) Name() string {
	names := make([]string, len(m.models))
	for i, model := range m.models {
		names[i] = model.Name()
	}
	return strings.Join(names, "+")
}

// Infer runs each model in order.
func (m *MultiModel) Infer(ctx context.Context, f *Frame) ([]Prediction, error) {
	var (
		all  []Prediction
		errs []error
	)
	for _, model := range m.models {
		preds, err := model.Infer(ctx, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", model.Name(), err))
			m.logger.Warn("model failed", "model", model.Name(), "error", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, p := range preds {
			if p.Model == "" {
				p.Model = model.Name()
			}
			all = append(all, p)
		}
	}
	if len(errs) == len(m.models) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}
