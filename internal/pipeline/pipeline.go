package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"tessera/internal/collage"
	"tessera/internal/errors"
	"tessera/internal/jobstore"
	"tessera/internal/logging"
	"tessera/internal/metrics"
	"tessera/internal/storage"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = stderrors.New("job queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = stderrors.New("pipeline stopped")

// progressBuffer bounds the per-job progress channel; the engine drops
// events rather than block when it is full.
const progressBuffer = 16

// Result captures the outcome of a Job.
type Result struct {
	Job   collage.Job
	Error error
	Meta  *collage.Metadata
}

// EventType discriminates Event payloads.
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
)

// Event is delivered to subscribers for every progress step and result.
type Event struct {
	Type     EventType
	Progress collage.Progress
	Result   Result
}

// Processor executes a job, reporting progress on the given channel.
type Processor interface {
	Process(ctx context.Context, job collage.Job, progress chan<- collage.Progress) Result
}

// Config wires a Pipeline. Zero fields fall back to defaults.
type Config struct {
	Concurrency int
	QueueSize   int // 0 means 2×Concurrency
	Logger      *slog.Logger
	Store       *storage.Store    // optional history
	Status      *jobstore.Store   // optional live status
	Metrics     metrics.Collector // defaults to Nop
	Processor   Processor         // defaults to the collage engine
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan collage.Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	status    *jobstore.Store
	metrics   metrics.Collector
	inFlight  atomic.Int64
	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Event
	nextSubID int
}

// New creates a Pipeline and starts its workers.
func New(ctx context.Context, cfg Config) *Pipeline {
	concurrency := max(cfg.Concurrency, 1)
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = concurrency * 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Processor == nil {
		cfg.Processor = NewCollageProcessor(cfg.Logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: cfg.Processor,
		log:       cfg.Logger,
		jobs:      make(chan collage.Job, queue),
		cancel:    cancel,
		store:     cfg.Store,
		status:    cfg.Status,
		metrics:   cfg.Metrics,
		subs:      make(map[int]chan Event),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a validated job to the processing queue.
func (p *Pipeline) Submit(job collage.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	if p.status != nil {
		if err := p.status.Create(job.ID); err != nil {
			return err
		}
	}
	if p.store != nil {
		if err := p.store.RecordJobQueued(job); err != nil {
			p.log.Warn("record queued job", "id", job.ID, "error", err)
		}
	}

	select {
	case p.jobs <- job:
		p.metrics.JobQueued()
		return nil
	default:
		p.metrics.JobRejected()
		err := errors.Wrap(errors.ErrCodeInternal, ErrQueueFull, "job %s rejected", job.ID)
		if p.status != nil {
			p.status.Fail(job.ID, err)
		}
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, string(jobstore.StatusFailed), nil, errors.GetCode(err), errors.UserMessage(err))
		}
		return err
	}
}

// SubmitAndWait submits job and blocks until its result arrives or ctx ends.
func (p *Pipeline) SubmitAndWait(ctx context.Context, job collage.Job) (Result, error) {
	events, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(job); err != nil {
		return Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return Result{}, ErrStopped
			}
			if ev.Type == EventResult && ev.Result.Job.ID == job.ID {
				return ev.Result, nil
			}
		}
	}
}

// Stop rejects further submissions and waits until every queued job has
// reached a terminal state.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		// Workers drain the queue before exiting.
		p.wg.Wait()
		p.cancel()

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if ctx.Err() != nil {
			p.abandon(job)
			continue
		}
		p.run(ctx, job)
	}
}

// abandon records a queued job that will not run because the pipeline's
// context ended.
func (p *Pipeline) abandon(job collage.Job) {
	err := errors.Wrap(errors.ErrCodeInternal, ErrStopped, "job %s not started", job.ID)
	p.log.Warn("job abandoned", "id", job.ID, "error", err)
	p.finish(job, Result{Job: job, Error: err}, 0)
}

func (p *Pipeline) run(ctx context.Context, job collage.Job) {
	start := time.Now()
	logging.LogJobStart(p.log, job.ID, len(job.Inputs), job.OutputDir, job.Params)
	p.inFlight.Add(1)
	p.metrics.JobStarted()
	defer func() {
		p.inFlight.Add(-1)
		p.metrics.JobStopped()
	}()

	if p.status != nil {
		p.status.Start(job.ID)
	}
	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}

	progress := make(chan collage.Progress, progressBuffer)
	consumed := make(chan struct{})
	go p.consumeProgress(progress, consumed)

	res := p.process(ctx, job, progress)
	close(progress)
	<-consumed

	p.finish(job, res, time.Since(start))
}

// finish records the single terminal transition of job in status, history
// and metrics, then broadcasts the result.
func (p *Pipeline) finish(job collage.Job, res Result, duration time.Duration) {
	if res.Error != nil {
		code := errors.GetCode(res.Error)
		logging.LogJobError(p.log, job.ID, duration, res.Error, map[string]any{
			"code":       string(code),
			"inputs":     len(job.Inputs),
			"output_dir": job.OutputDir,
		})
		if p.status != nil {
			p.status.Fail(job.ID, res.Error)
		}
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, string(jobstore.StatusFailed), nil, code, errors.UserMessage(res.Error))
		}
		p.metrics.JobFinished(string(jobstore.StatusFailed), string(code), duration.Seconds())
	} else {
		logging.LogJobComplete(p.log, job.ID, duration, map[string]any{
			"output": res.Meta.Output.Path,
			"bytes":  res.Meta.Output.Bytes,
			"seed":   res.Meta.Seed,
		})
		if p.status != nil {
			p.status.Complete(job.ID, *res.Meta)
		}
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, string(jobstore.StatusCompleted), res.Meta, "", "")
		}
		p.metrics.JobFinished(string(jobstore.StatusCompleted), "", duration.Seconds())
	}

	p.broadcast(Event{Type: EventResult, Result: res})
}

// process runs the processor, converting a panic into a failed result.
func (p *Pipeline) process(ctx context.Context, job collage.Job, progress chan<- collage.Progress) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panicked", "id", job.ID, "panic", r, "stack", string(debug.Stack()))
			res = Result{Job: job, Error: errors.New(errors.ErrCodeInternal, "job panicked: %v", r)}
		}
	}()
	res = p.processor.Process(ctx, job, progress)
	if res.Error == nil && res.Meta == nil {
		res.Error = errors.New(errors.ErrCodeInternal, "processor returned no result")
	}
	res.Job = job
	return res
}

func (p *Pipeline) consumeProgress(progress <-chan collage.Progress, done chan<- struct{}) {
	defer close(done)
	for ev := range progress {
		logging.LogProcessingStep(p.log, ev.JobID, string(ev.Stage), ev.Percent, ev.Message)
		if p.status != nil {
			p.status.Progress(ev)
		}
		p.broadcast(Event{Type: EventProgress, Progress: ev})
	}
}

// Subscribe returns a channel for receiving job events and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 32)
	if p.stopped {
		close(ch)
		return ch, func() {}
	}
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscribers lose events; a lost result is worth a warning.
			if ev.Type == EventResult {
				p.log.Warn("result channel full", "subscriber", id, "job", ev.Result.Job.ID)
			}
		}
	}
}

// InFlight returns the number of jobs currently running.
func (p *Pipeline) InFlight() int { return int(p.inFlight.Load()) }

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s failed: %v", r.Job.ID, r.Error)
	}
	return fmt.Sprintf("%s completed: %s", r.Job.ID, r.Meta.Output.Path)
}
