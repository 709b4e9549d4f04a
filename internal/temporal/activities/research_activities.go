package activities

import (
	"context"
	"time"

	"github.com/rnednur/felix-sub000/internal/jobs"
	"github.com/rnednur/felix-sub000/internal/temporal"
	"go.temporal.io/sdk/activity"
)

// heartbeatInterval must stay well under the workflow's heartbeat
// timeout so the server can tell a live run from a stuck one.
var heartbeatInterval = 10 * time.Second

type Activities struct {
	JobService *jobs.Service
}

// RunResearchJobActivity runs the job to a terminal state, heartbeating
// while the pipeline works. The runner writes every transition itself,
// so the activity has nothing to report back; a re-delivered activity
// is a no-op because the job is no longer pending.
func (a *Activities) RunResearchJobActivity(ctx context.Context, params temporal.ResearchParams) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Running research job", "jobID", params.JobID)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, params.JobID)
			case <-done:
				return
			}
		}
	}()

	a.JobService.RunJob(ctx, params.JobID)
	return nil
}
