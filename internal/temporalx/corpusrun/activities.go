package corpusrun

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/yungbote/repairjourney-backend/internal/platform/logger"
	"github.com/yungbote/repairjourney-backend/internal/services"
)

type Activities struct {
	Log     *logger.Logger
	Builder services.TrainingCorpusBuilder
}

func (a *Activities) BuildTrainingCorpus(ctx context.Context) (BuildResult, error) {
	if a == nil || a.Builder == nil {
		return BuildResult{}, fmt.Errorf("corpusrun: activity not configured")
	}
	stop := heartbeat(ctx, 20*time.Second)
	defer stop()

	res, err := a.Builder.BuildCorpus(ctx)
	if err != nil {
		return BuildResult{}, err
	}
	if a.Log != nil {
		a.Log.Info("Corpus activity finished", "address", res.Address, "backend", string(res.Backend))
	}
	return BuildResult{Address: res.Address, Backend: string(res.Backend), Stored: res.Stored()}, nil
}

// heartbeat keeps a long scan alive against HeartbeatTimeout. It is a no-op
// outside an activity context.
func heartbeat(ctx context.Context, every time.Duration) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
