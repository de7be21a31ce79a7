package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"dpr/internal/config"
	"dpr/internal/dpr"
	"dpr/internal/grpcserver"
	"dpr/internal/pipeline"
	"dpr/internal/server"
	"dpr/internal/storage"
	"dpr/internal/watch"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Event, func())
}

type serveFunc func(ctx context.Context, opts server.Options) error

type grpcFunc func(ctx context.Context, addr string, opts grpcserver.Options) error

type watchFunc func(ctx context.Context, dirs []string, debounce time.Duration, submit watch.SubmitFunc, log *slog.Logger) error

func defaultServe(ctx context.Context, opts server.Options) error {
	return server.NewServer(opts).Start(ctx)
}

func defaultGRPC(ctx context.Context, addr string, opts grpcserver.Options) error {
	return grpcserver.New(opts).Serve(ctx, addr)
}

func defaultWatch(ctx context.Context, dirs []string, debounce time.Duration, submit watch.SubmitFunc, log *slog.Logger) error {
	return watch.New(dirs, debounce, submit, log).Run(ctx)
}

// Root holds the dependencies shared by every command.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	stack    *dpr.Stack
	out      io.Writer
	serveFn  serveFunc
	grpcFn   grpcFunc
	watchFn  watchFunc
	dialFn   remoteDialer
}

// NewRoot wires commands to the pipeline, the run store and an inline stack
// used by the network surfaces.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store, stack *dpr.Stack) *Root {
	r := &Root{
		cfg:     cfg,
		log:     logger,
		store:   store,
		stack:   stack,
		out:     os.Stdout,
		serveFn: defaultServe,
		grpcFn:  defaultGRPC,
		watchFn: defaultWatch,
		dialFn:  defaultRemoteDial,
	}
	if pl != nil {
		r.pipeline = pl
	}
	return r
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}

func (r *Root) realPipeline() (*pipeline.Pipeline, error) {
	p, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok || p == nil {
		return nil, fmt.Errorf("pipeline unavailable")
	}
	return p, nil
}

// enqueueAndWait submits job and blocks until its finished event, printing
// slice progress as it arrives.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (*pipeline.Result, error) {
	events, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("pipeline stopped before completion")
			}
			if ev.JobID != job.ID {
				continue
			}
			switch ev.Type {
			case pipeline.EventProgress:
				fmt.Fprintf(r.out, "DPR processing slice %d/%d\n", ev.Current, ev.Total)
			case pipeline.EventFinished:
				if ev.Result == nil {
					return nil, fmt.Errorf("job %s finished without a result", job.ID)
				}
				return ev.Result, ev.Result.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "id", job.ID, "input", job.InputPath, "source", job.Source)
	return nil
}

// jobFor builds a job for input from the configured defaults.
func (r *Root) jobFor(input, source string) (pipeline.Job, error) {
	params, err := r.cfg.Params()
	if err != nil {
		return pipeline.Job{}, err
	}
	return pipeline.Job{
		ID:          newID("dpr"),
		Source:      source,
		InputPath:   input,
		Output:      r.cfg.Paths.DefaultOutput,
		Params:      params,
		Calibration: r.cfg.Calibration(),
	}, nil
}

// Run executes the command line in args against this root.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := newRootCmd(r)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// inputDirs lists the directories network callers may read inputs from: the
// default input directory, the configured watch directories and extra.
func (r *Root) inputDirs(extra ...string) []string {
	var dirs []string
	for _, d := range append(append([]string{r.cfg.Paths.DefaultInput}, r.cfg.Watch.Dirs...), extra...) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
