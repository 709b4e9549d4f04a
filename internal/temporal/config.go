package temporal

import "time"

// TaskQueueName is the Temporal task queue for research workflows.
const TaskQueueName = "RESEARCH_PIPELINE"

// ResearchWorkflowIDPrefix is the prefix used for research workflow IDs.
const ResearchWorkflowIDPrefix = "research-job-"

// DefaultActivityTimeout bounds a single pipeline run; it matches the
// job ceiling plus scheduling slack.
const DefaultActivityTimeout = 6 * time.Minute

// ResearchParams is the input for research workflows.
type ResearchParams struct {
	JobID string
}
