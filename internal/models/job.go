package models

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ResearchJob tracks one asynchronous research run. The executing worker is
// the single writer while RUNNING; the only external mutation path is the
// cancel_requested flag, which is set with a compare-and-set update.
type ResearchJob struct {
	ID                 string     `json:"id" db:"id"`
	DatasetID          string     `json:"dataset_id" db:"dataset_id"`
	MainQuestion       string     `json:"main_question" db:"main_question"`
	Verbose            bool       `json:"verbose" db:"verbose"`
	MaxSubQuestions    int        `json:"max_sub_questions" db:"max_sub_questions"`
	EnableCodePath     bool       `json:"enable_code_path" db:"enable_code_path"`
	EnableWorldContext bool       `json:"enable_world_knowledge" db:"enable_world_knowledge"`
	Status             JobStatus  `json:"status" db:"status"`
	CurrentStage       string     `json:"current_stage" db:"current_stage"`
	StageOrdinal       int        `json:"stage_ordinal" db:"stage_ordinal"`
	ProgressPercentage int        `json:"progress_percentage" db:"progress_percentage"`
	Result             *Report    `json:"result,omitempty" db:"result"`
	ErrorMessage       *string    `json:"error_message,omitempty" db:"error_message"`
	CancelRequested    bool       `json:"-" db:"cancel_requested"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobSummary is the list/search projection: everything a history view needs
// without dragging the full report along.
type JobSummary struct {
	ID                 string     `json:"id" db:"id"`
	DatasetID          string     `json:"dataset_id" db:"dataset_id"`
	MainQuestion       string     `json:"main_question" db:"main_question"`
	Status             JobStatus  `json:"status" db:"status"`
	ProgressPercentage int        `json:"progress_percentage" db:"progress_percentage"`
	DirectAnswer       string     `json:"direct_answer,omitempty" db:"direct_answer"`
	KeyFindingsCount   int        `json:"key_findings_count" db:"key_findings_count"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobFilter narrows list/search results.
type JobFilter struct {
	DatasetID string
	Status    JobStatus
	Search    string // substring match on question / answer
	Limit     int
	Offset    int
}

type NotificationSeverity string

const (
	NotificationSeverityInfo  NotificationSeverity = "info"
	NotificationSeverityError NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventResearchStarted   NotificationEvent = "research_started"
	NotificationEventResearchCompleted NotificationEvent = "research_completed"
	NotificationEventResearchFailed    NotificationEvent = "research_failed"
	NotificationEventResearchCancelled NotificationEvent = "research_cancelled"
)

type Notification struct {
	ID        string               `json:"id" db:"id"`
	JobID     string               `json:"job_id" db:"job_id"`
	EventType NotificationEvent    `json:"event_type" db:"event_type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
	ReadAt    *time.Time           `json:"read_at,omitempty" db:"read_at"`
}
