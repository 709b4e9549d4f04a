package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/queryengine"
	"github.com/rs/zerolog"
)

// Error kinds carried on failed execution records.
const (
	ErrKindSafety   = "safety_violation"
	ErrKindTimeout  = "timeout"
	ErrKindResource = "resource_exceeded"
	ErrKindRuntime  = "syntax_or_runtime"
)

// ExecError is the terminal failure of an execution, after all repair
// attempts are exhausted. Message reflects the final attempt only.
type ExecError struct {
	Kind     string
	Message  string
	Attempts int
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
}

// Output is the decoded product of a successful execution.
type Output struct {
	Table          *models.Table
	Scalar         *float64
	Narrative      string
	Visualizations []models.Visualization
}

// Executor runs generated analysis code with safety checks and a
// bounded repair loop: the original code, then a pattern fix, then a
// model fix.
type Executor struct {
	runner         ContainerRunner
	fixer          *Fixer
	engineURL      string
	jwtSecret      string
	timeout        time.Duration
	maxAttempts    int
	maxPreviewRows int
	logger         zerolog.Logger
}

func NewExecutor(runner ContainerRunner, fixer *Fixer, engineURL, jwtSecret string, timeout time.Duration, maxAttempts, maxPreviewRows int, logger zerolog.Logger) *Executor {
	return &Executor{
		runner:         runner,
		fixer:          fixer,
		engineURL:      engineURL,
		jwtSecret:      jwtSecret,
		timeout:        timeout,
		maxAttempts:    maxAttempts,
		maxPreviewRows: maxPreviewRows,
		logger:         logger.With().Str("component", "sandbox_executor").Logger(),
	}
}

// Execute runs code against a dataset. The original code must pass the
// static policy or nothing runs at all. Repaired candidates are
// re-checked before they run. Only runtime failures are repaired;
// timeouts and resource kills end the loop immediately.
func (e *Executor) Execute(ctx context.Context, datasetID, code string) (*Output, *ExecError) {
	if err := CheckSource(code); err != nil {
		e.logger.Warn().Str("dataset_id", datasetID).Err(err).Msg("Generated code rejected by safety policy")
		return nil, &ExecError{Kind: ErrKindSafety, Message: err.Error(), Attempts: 0}
	}

	candidate := code
	var lastErr *ExecError

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		out, execErr := e.runOnce(ctx, datasetID, candidate)
		if execErr == nil {
			if attempt > 1 {
				e.logger.Info().Int("attempt", attempt).Str("dataset_id", datasetID).Msg("Repaired code succeeded")
			}
			return out, nil
		}
		execErr.Attempts = attempt
		lastErr = execErr
		e.logger.Warn().
			Int("attempt", attempt).
			Str("dataset_id", datasetID).
			Str("error_kind", execErr.Kind).
			Str("error", execErr.Message).
			Msg("Execution attempt failed")

		if execErr.Kind != ErrKindRuntime || attempt == e.maxAttempts {
			break
		}

		next, err := e.repair(ctx, candidate, execErr.Message)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Code repair failed, stopping attempts")
			break
		}
		if err := CheckSource(next); err != nil {
			lastErr = &ExecError{Kind: ErrKindSafety, Message: err.Error(), Attempts: attempt}
			e.logger.Warn().Err(err).Msg("Repaired code rejected by safety policy")
			break
		}
		candidate = next
	}
	return nil, lastErr
}

func (e *Executor) repair(ctx context.Context, code, errMsg string) (string, error) {
	if fixed, changed := e.fixer.PatternFix(code, errMsg); changed {
		e.logger.Debug().Msg("Applied pattern fix")
		return fixed, nil
	}
	return e.fixer.LLMFix(ctx, code, errMsg)
}

func (e *Executor) runOnce(ctx context.Context, datasetID, code string) (*Output, *ExecError) {
	token, err := queryengine.MintToken(e.jwtSecret, datasetID, e.timeout+time.Minute)
	if err != nil {
		return nil, &ExecError{Kind: ErrKindRuntime, Message: fmt.Sprintf("mint query token: %v", err)}
	}

	spec := RunSpec{
		Script: []byte(e.buildHarness(code)),
		Env: []string{
			"DATASET_ID=" + datasetID,
			"QUERY_API_URL=" + e.engineURL,
			"QUERY_API_TOKEN=" + token,
		},
		Timeout: e.timeout,
	}

	res, err := e.runner.Run(ctx, spec)
	if err != nil {
		return nil, &ExecError{Kind: ErrKindRuntime, Message: err.Error()}
	}
	if res.TimedOut {
		return nil, &ExecError{Kind: ErrKindTimeout, Message: fmt.Sprintf("execution exceeded %s", e.timeout)}
	}
	if res.OOMKilled {
		return nil, &ExecError{Kind: ErrKindResource, Message: "execution killed: memory limit exceeded"}
	}
	if res.ExitCode != 0 {
		return nil, &ExecError{Kind: ErrKindRuntime, Message: tail(res.Stderr, 2000)}
	}

	var decoded sandboxResult
	if err := json.Unmarshal(res.ResultJSON, &decoded); err != nil {
		return nil, &ExecError{Kind: ErrKindRuntime, Message: fmt.Sprintf("unreadable sandbox result: %v", err)}
	}
	if decoded.Status != "SUCCESS" {
		msg := decoded.Error
		if decoded.ErrorTrace != "" {
			msg = decoded.Error + "\n" + tail(decoded.ErrorTrace, 2000)
		}
		return nil, &ExecError{Kind: ErrKindRuntime, Message: msg}
	}
	return decoded.toOutput(), nil
}

type sandboxResult struct {
	Status     string           `json:"status"`
	Error      string           `json:"error"`
	ErrorTrace string           `json:"error_trace"`
	ResultType string           `json:"result_type"`
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	RowCount   int64            `json:"row_count"`
	Scalar     *float64         `json:"scalar"`
	Narrative  string           `json:"narrative"`
	Visuals    []struct {
		Format  string `json:"format"`
		Data    []byte `json:"data"`
		Caption string `json:"caption"`
	} `json:"visualizations"`
}

func (r *sandboxResult) toOutput() *Output {
	out := &Output{
		Scalar:    r.Scalar,
		Narrative: r.Narrative,
	}
	if r.ResultType == "table" {
		out.Table = &models.Table{Columns: r.Columns, Rows: r.Rows, RowCount: r.RowCount}
	}
	for _, v := range r.Visuals {
		out.Visualizations = append(out.Visualizations, models.Visualization{
			Format:  v.Format,
			Data:    v.Data,
			Caption: v.Caption,
		})
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
