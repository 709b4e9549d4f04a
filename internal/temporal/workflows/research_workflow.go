package workflows

import (
	"time"

	"github.com/rnednur/felix-sub000/internal/temporal"
	"github.com/rnednur/felix-sub000/internal/temporal/activities"
	"go.temporal.io/sdk/workflow"
)

// ResearchWorkflow drives one research job. The workflow stays thin:
// all state transitions live in the job runner, so the single activity
// carries the whole run and the job row remains the source of truth.
func ResearchWorkflow(ctx workflow.Context, params temporal.ResearchParams) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		HeartbeatTimeout:    30 * time.Second,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting research workflow", "JobID", params.JobID)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	if err := workflow.ExecuteActivity(ctx, a.RunResearchJobActivity, params).Get(ctx, nil); err != nil {
		logger.Error("Research job activity failed.", "JobID", params.JobID, "error", err)
		return err
	}

	logger.Info("Research workflow completed.", "JobID", params.JobID)
	return nil
}
