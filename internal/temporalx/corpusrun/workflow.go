package corpusrun

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow runs one corpus build. The activity never fails for storage
// outages (it reports an error:// address instead), so retries only cover
// relational scan failures.
func Workflow(ctx workflow.Context) (BuildResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	var out BuildResult
	if err := workflow.ExecuteActivity(ctx, ActivityBuildCorpus).Get(ctx, &out); err != nil {
		return out, err
	}
	if !out.Stored {
		workflow.GetLogger(ctx).Warn("Corpus built but not stored", "address", out.Address)
		return out, fmt.Errorf("corpus not stored: %s", out.Address)
	}
	return out, nil
}
