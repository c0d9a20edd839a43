package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/repairjourney-backend/internal/platform/envutil"
	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/services"
	"github.com/yungbote/repairjourney-backend/internal/temporalx"
	"github.com/yungbote/repairjourney-backend/internal/temporalx/corpusrun"
)

type Runner struct {
	log     *logger.Logger
	cfg     temporalx.Config
	tc      temporalsdkclient.Client
	builder services.TrainingCorpusBuilder
}

func NewRunner(log *logger.Logger, cfg temporalx.Config, tc temporalsdkclient.Client, builder services.TrainingCorpusBuilder) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if builder == nil {
		return nil, fmt.Errorf("temporal worker missing corpus builder")
	}
	return &Runner{
		log:     log.With("service", "TemporalWorker"),
		cfg:     cfg,
		tc:      tc,
		builder: builder,
	}, nil
}

// Start polls the corpus task queue until ctx is done. Start failures are
// retried while the cluster comes up.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	maxWait := envutil.Seconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := envutil.Millis("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := envutil.Millis("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(temporalx.ClampBackoff(backoff, backoffMax, attempt))
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 2,
	})
	acts := &corpusrun.Activities{Log: r.log, Builder: r.builder}
	w.RegisterWorkflowWithOptions(corpusrun.Workflow, workflow.RegisterOptions{Name: corpusrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.BuildTrainingCorpus, activity.RegisterOptions{Name: corpusrun.ActivityBuildCorpus})
	return w
}

// StartCorpusBuild launches one build and waits for its result.
func StartCorpusBuild(ctx context.Context, tc temporalsdkclient.Client, cfg temporalx.Config) (corpusrun.BuildResult, error) {
	var out corpusrun.BuildResult
	run, err := tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s%d", corpusrun.WorkflowIDPrefix, time.Now().UTC().UnixMilli()),
		TaskQueue: cfg.TaskQueue,
	}, corpusrun.WorkflowName)
	if err != nil {
		return out, fmt.Errorf("start corpus workflow: %w", err)
	}
	if err := run.Get(ctx, &out); err != nil {
		return out, fmt.Errorf("corpus workflow %s: %w", run.GetID(), err)
	}
	return out, nil
}
