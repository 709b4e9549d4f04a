package research

import (
	"fmt"

	"github.com/rnednur/felix-sub000/internal/models"
)

// DecompositionError is fatal: without sub-questions there is nothing to
// research.
type DecompositionError struct {
	Cause error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("question decomposition failed: %v", e.Cause)
}

func (e *DecompositionError) Unwrap() error { return e.Cause }

// SynthesisError is fatal after its retry is spent. It carries the
// execution records so callers can surface what was computed before the
// report failed to materialize.
type SynthesisError struct {
	Cause   error
	Records []models.ExecutionRecord
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("insight synthesis failed: %v", e.Cause)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }
