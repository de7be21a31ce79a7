package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dpr/internal/dpr"
	"dpr/internal/logging"
	"dpr/internal/storage"
)

const jobType = "dpr"

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("pipeline stopped")

// Job represents a single reconstruction request.
type Job struct {
	ID          string          `json:"id"`
	Source      string          `json:"source,omitempty"` // cli, http, grpc, watch
	InputPath   string          `json:"input"`
	Output      string          `json:"output"` // output directory
	Title       string          `json:"title,omitempty"`
	Params      dpr.Params      `json:"params"`
	Calibration dpr.Calibration `json:"calibration"`
	// Workers and Timeout override the runner's defaults when positive.
	Workers int           `json:"workers,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job    Job            `json:"job"`
	Status string         `json:"status"`
	Error  error          `json:"-"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Processor executes a job and returns a Result. progress may be nil.
type Processor interface {
	Process(ctx context.Context, job Job, progress dpr.ProgressFunc) Result
}

// Event types delivered to subscribers.
const (
	EventQueued   = "queued"
	EventStarted  = "started"
	EventProgress = "progress"
	EventFinished = "finished"
)

// Event is a progress notification or a finished Result.
type Event struct {
	Type    string    `json:"type"`
	JobID   string    `json:"job_id"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	Time    time.Time `json:"time"`
	Result  *Result   `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Options configure a Pipeline.
type Options struct {
	Workers    int // concurrent jobs, at least 1
	QueueDepth int // defaults to Workers*2
	Logger     *slog.Logger
	Store      *storage.Store
	Processor  Processor
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	store     *storage.Store
	jobs      chan Job
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Event
	nextSubID int
}

// New starts a Pipeline whose workers live until ctx is done or Stop is called.
func New(ctx context.Context, opts Options) *Pipeline {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	depth := opts.QueueDepth
	if depth < 1 {
		depth = workers * 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: opts.Processor,
		log:       logger,
		store:     opts.Store,
		jobs:      make(chan Job, depth),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[int]chan Event),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit adds a job to the processing queue without blocking.
func (p *Pipeline) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.recordQueued(job)
	select {
	case p.jobs <- job:
	default:
		if p.store != nil {
			_ = p.store.RecordRunResult(job.ID, storage.StatusFailed, nil, ErrQueueFull.Error())
		}
		return ErrQueueFull
	}
	p.broadcastLocked(Event{Type: EventQueued, JobID: job.ID, Time: time.Now()})
	return nil
}

// Stop signals workers to exit and waits for completion. Queued jobs that
// have not started are dropped.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.log.Debug("worker picked job", "worker", id, "job", job.ID)
			p.run(p.ctx, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, jobType, job.ID, job.InputPath, job.Output, paramsMap(job.Params))

	if p.store != nil {
		if err := p.store.RecordRunStart(job.ID); err != nil {
			p.log.Warn("record run start", "job", job.ID, "error", err)
		}
	}
	p.broadcast(Event{Type: EventStarted, JobID: job.ID, Time: time.Now()})

	progress := func(current, total int) {
		p.broadcast(Event{Type: EventProgress, JobID: job.ID, Current: current, Total: total, Time: time.Now()})
	}

	var res Result
	if p.processor == nil {
		res = Result{Job: job, Error: errors.New("no processor configured")}
	} else {
		res = p.processor.Process(ctx, job, progress)
	}
	res.Job = job
	duration := time.Since(start)

	switch {
	case res.Error == nil:
		res.Status = storage.StatusCompleted
		logging.LogJobComplete(p.log, jobType, job.ID, duration, res.Meta)
	case dpr.IsCancelled(res.Error):
		res.Status = storage.StatusCancelled
		logging.LogJobError(p.log, jobType, job.ID, duration, res.Error, map[string]any{"input": job.InputPath})
	default:
		res.Status = storage.StatusFailed
		logging.LogJobError(p.log, jobType, job.ID, duration, res.Error, map[string]any{
			"input":  job.InputPath,
			"output": job.Output,
		})
	}

	if p.store != nil {
		if err := p.store.RecordRunResult(job.ID, res.Status, res.Meta, errString(res.Error)); err != nil {
			p.log.Warn("record run result", "job", job.ID, "error", err)
		}
	}

	p.broadcast(Event{Type: EventFinished, JobID: job.ID, Time: time.Now(), Result: &res, Error: errString(res.Error)})
	return res
}

func (p *Pipeline) recordQueued(job Job) {
	if p.store == nil {
		return
	}
	paramsJSON, _ := json.Marshal(job.Params)
	err := p.store.RecordRunQueued(storage.RunRecord{
		ID:         job.ID,
		Source:     job.Source,
		Status:     storage.StatusQueued,
		InputPath:  job.InputPath,
		OutputPath: job.Output,
		ParamsJSON: string(paramsJSON),
	})
	if err != nil {
		p.log.Warn("record run queued", "job", job.ID, "error", err)
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
// Slow subscribers miss events rather than stall workers.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 32)
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
	p.broadcastLocked(ev)
}

func (p *Pipeline) broadcastLocked(ev Event) {
	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.log.Warn("event channel full", "subscriber", id, "job", ev.JobID, "event", ev.Type)
		}
	}
}

func paramsMap(params dpr.Params) map[string]any {
	return map[string]any{
		"psf":        params.PSF,
		"gain":       params.Gain,
		"background": params.Background,
		"temporal":   params.Temporal.String(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
