package models

// IntentType classifies what kind of answer a sub-question is after.
type IntentType string

const (
	IntentDescriptive      IntentType = "descriptive"
	IntentComparative      IntentType = "comparative"
	IntentCausal           IntentType = "causal"
	IntentTrendAnalysis    IntentType = "trend_analysis"
	IntentAnomalyDetection IntentType = "anomaly_detection"
	IntentForecasting      IntentType = "forecasting"
	IntentSegmentation     IntentType = "segmentation"
)

type DesiredOutput string

const (
	OutputTable     DesiredOutput = "table"
	OutputScalar    DesiredOutput = "number"
	OutputChart     DesiredOutput = "chart"
	OutputNarrative DesiredOutput = "explanation"
)

// SubQuestion is one decomposed unit of the main research question. The text,
// intent and output may be edited before execution; the id and priority
// ordering are fixed at decomposition time.
type SubQuestion struct {
	ID            string        `json:"id"`
	Question      string        `json:"question"`
	IntentType    IntentType    `json:"intent_type"`
	DesiredOutput DesiredOutput `json:"desired_output"`
	Priority      int           `json:"priority"` // lower executes first, ties by declaration order
}

// TaskMethod is the closed set of execution paths an analysis task can take.
// Chosen once at classification time, never re-dispatched.
type TaskMethod string

const (
	MethodStructuredQuery  TaskMethod = "structured_query"
	MethodGeneratedCode    TaskMethod = "generated_code"
	MethodWorldKnowledge   TaskMethod = "world_knowledge"
	MethodInsufficientData TaskMethod = "insufficient_data"
)

// AnalysisTask binds a sub-question to its chosen method and the generated
// artifact. Immutable once created.
type AnalysisTask struct {
	ID          string      `json:"id"`
	SubQuestion SubQuestion `json:"sub_question"`
	Method      TaskMethod  `json:"method"`
	Query       string      `json:"query,omitempty"` // structured_query only
	Code        string      `json:"code,omitempty"`  // generated_code only
	Columns     []string    `json:"candidate_columns,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

type Visualization struct {
	Format  string `json:"format"` // e.g. "png"
	Data    []byte `json:"data"`   // image bytes, base64 in JSON
	Caption string `json:"caption"`
}

// ExecutionRecord is the outcome of exactly one analysis task. A failed task
// is recorded, never erased; retries happen inside the sandbox only.
type ExecutionRecord struct {
	TaskID          string          `json:"task_id"`
	Question        string          `json:"question"`
	Method          TaskMethod      `json:"method"`
	Success         bool            `json:"success"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Table           *Table          `json:"table,omitempty"`
	Scalar          *float64        `json:"scalar,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	Visualizations  []Visualization `json:"visualizations,omitempty"`
}

// DataCoverage enumerates which sub-questions were answered vs gapped.
type DataCoverage struct {
	QuestionsAnswered int      `json:"questions_answered"`
	TotalQuestions    int      `json:"total_questions"`
	Gaps              []string `json:"gaps"`
	MethodsUsed       []string `json:"methods_used"`
	// LowConfidence is set when no data-backed task succeeded and the report
	// rests entirely on world knowledge or gaps.
	LowConfidence bool `json:"low_confidence"`
}

// VerboseSections is only populated when the job runs in verbose mode.
type VerboseSections struct {
	ExecutiveSummary  string   `json:"executive_summary"`
	Methodology       string   `json:"methodology"`
	DetailedFindings  string   `json:"detailed_findings"`
	CrossAnalysis     string   `json:"cross_analysis"`
	Limitations       []string `json:"limitations"`
	Recommendations   []string `json:"recommendations"`
	TechnicalAppendix string   `json:"technical_appendix"`
}

// Report is the sole artifact of a completed research job. Assembled once by
// synthesis and immutable thereafter.
type Report struct {
	MainQuestion      string            `json:"main_question"`
	DirectAnswer      string            `json:"direct_answer"`
	KeyFindings       []string          `json:"key_findings"`
	SupportingDetails []ExecutionRecord `json:"supporting_details"`
	Visualizations    []Visualization   `json:"visualizations"`
	DataCoverage      DataCoverage      `json:"data_coverage"`
	FollowUpQuestions []string          `json:"follow_up_questions"`
	Verbose           *VerboseSections  `json:"verbose,omitempty"`
	ExecutionTimeSecs float64           `json:"execution_time_seconds"`
}
