package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	results []*RunResult
	specs   []RunSpec
}

func (f *fakeRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	f.specs = append(f.specs, spec)
	idx := len(f.specs) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func successResult(resultJSON string) *RunResult {
	return &RunResult{ExitCode: 0, ResultJSON: []byte(resultJSON)}
}

func failedResult(resultJSON string) *RunResult {
	return &RunResult{ExitCode: 0, ResultJSON: []byte(resultJSON)}
}

func newTestExecutor(runner ContainerRunner, fixerResponses ...string) *Executor {
	return NewExecutor(
		runner,
		newTestFixer(fixerResponses...),
		"http://engine:9000",
		"test-secret",
		30*time.Second,
		3,
		50,
		zerolog.Nop(),
	)
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{
		successResult(`{
			"status": "SUCCESS",
			"result_type": "table",
			"columns": ["region", "total"],
			"rows": [{"region": "west", "total": 120.5}],
			"row_count": 1
		}`),
	}}
	ex := newTestExecutor(runner)

	out, execErr := ex.Execute(context.Background(), "ds-1", "result = df.groupby('region')['sales'].sum().reset_index()")
	require.Nil(t, execErr)
	require.NotNil(t, out.Table)
	assert.Equal(t, []string{"region", "total"}, out.Table.Columns)
	assert.Len(t, runner.specs, 1)
}

func TestExecute_EnvCarriesDatasetScopedToken(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{
		successResult(`{"status": "SUCCESS", "result_type": "scalar", "scalar": 42}`),
	}}
	ex := newTestExecutor(runner)

	out, execErr := ex.Execute(context.Background(), "ds-7", "result = len(df)")
	require.Nil(t, execErr)
	require.NotNil(t, out.Scalar)
	assert.Equal(t, 42.0, *out.Scalar)

	env := runner.specs[0].Env
	assert.Contains(t, env, "DATASET_ID=ds-7")
	assert.Contains(t, env, "QUERY_API_URL=http://engine:9000")
	tokenFound := false
	for _, e := range env {
		if len(e) > len("QUERY_API_TOKEN=") && e[:len("QUERY_API_TOKEN=")] == "QUERY_API_TOKEN=" {
			tokenFound = true
		}
	}
	assert.True(t, tokenFound, "expected a query token in the container env")
}

func TestExecute_PatternRepairSecondAttempt(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{
		failedResult(`{"status": "FAILED", "error": "module 'numpy' has no attribute 'read_parquet'"}`),
		successResult(`{"status": "SUCCESS", "result_type": "scalar", "scalar": 7}`),
	}}
	ex := newTestExecutor(runner)

	out, execErr := ex.Execute(context.Background(), "ds-1", "x = np.read_parquet('f.parquet')\nresult = 7")
	require.Nil(t, execErr)
	require.NotNil(t, out.Scalar)
	require.Len(t, runner.specs, 2)
	assert.Contains(t, string(runner.specs[1].Script), "pd.read_parquet")
}

func TestExecute_LLMRepairWhenNoPatternApplies(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{
		failedResult(`{"status": "FAILED", "error": "KeyError: 'sale'"}`),
		successResult(`{"status": "SUCCESS", "result_type": "scalar", "scalar": 3}`),
	}}
	ex := newTestExecutor(runner, "result = df['sales'].sum()")

	out, execErr := ex.Execute(context.Background(), "ds-1", "result = df['sale'].sum()")
	require.Nil(t, execErr)
	require.NotNil(t, out.Scalar)
	require.Len(t, runner.specs, 2)
	assert.Contains(t, string(runner.specs[1].Script), "df['sales'].sum()")
}

func TestExecute_SafetyViolationNeverRuns(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{successResult(`{"status": "SUCCESS"}`)}}
	ex := newTestExecutor(runner)

	_, execErr := ex.Execute(context.Background(), "ds-1", "import os\nresult = os.listdir('/')")
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindSafety, execErr.Kind)
	assert.Empty(t, runner.specs, "unsafe code must never reach a container")
}

func TestExecute_RepairedCodeRecheckedAgainstPolicy(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{
		failedResult(`{"status": "FAILED", "error": "KeyError: 'x'"}`),
	}}
	ex := newTestExecutor(runner, "import subprocess\nresult = subprocess.run(['ls'])")

	_, execErr := ex.Execute(context.Background(), "ds-1", "result = df['x'].sum()")
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindSafety, execErr.Kind)
	assert.Len(t, runner.specs, 1, "the unsafe repair must not run")
}

func TestExecute_TimeoutIsNotRepaired(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{{TimedOut: true}}}
	ex := newTestExecutor(runner)

	_, execErr := ex.Execute(context.Background(), "ds-1", "result = df.describe()")
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindTimeout, execErr.Kind)
	assert.Equal(t, 1, execErr.Attempts)
	assert.Len(t, runner.specs, 1)
}

func TestExecute_OOMClassifiedAsResource(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{{ExitCode: 137, OOMKilled: true}}}
	ex := newTestExecutor(runner)

	_, execErr := ex.Execute(context.Background(), "ds-1", "result = df.describe()")
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindResource, execErr.Kind)
}

func TestExecute_AttemptsExhausted(t *testing.T) {
	runner := &fakeRunner{results: []*RunResult{
		failedResult(`{"status": "FAILED", "error": "KeyError: 'a'"}`),
		failedResult(`{"status": "FAILED", "error": "KeyError: 'b'"}`),
		failedResult(`{"status": "FAILED", "error": "KeyError: 'c'"}`),
	}}
	ex := newTestExecutor(runner, "result = df['b'].sum()", "result = df['c'].sum()")

	_, execErr := ex.Execute(context.Background(), "ds-1", "result = df['a'].sum()")
	require.NotNil(t, execErr)
	assert.Equal(t, ErrKindRuntime, execErr.Kind)
	assert.Equal(t, 3, execErr.Attempts)
	assert.Contains(t, execErr.Message, "KeyError: 'c'", "only the final attempt's error is reported")
	assert.Len(t, runner.specs, 3)
}

func TestBuildHarness_IndentsUserCode(t *testing.T) {
	ex := newTestExecutor(&fakeRunner{results: []*RunResult{{}}})
	script := ex.buildHarness("x = 1\n\nresult = x")
	assert.Contains(t, script, "\n    x = 1\n")
	assert.Contains(t, script, "\n    result = x\n")
	assert.Contains(t, script, "result.json")
}
