package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rnednur/felix-sub000/internal/llm"
	"github.com/rs/zerolog"
)

// Fixer repairs failed generated code. Cheap pattern fixes run first;
// the model is only consulted when no pattern applies.
type Fixer struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewFixer(client llm.Client, logger zerolog.Logger) *Fixer {
	return &Fixer{
		llm:    client,
		logger: logger.With().Str("component", "code_fixer").Logger(),
	}
}

var labelEncoderRe = regexp.MustCompile(`(df\[['"][\w ]+['"]\][^=\n]*)=\s*le\.fit_transform\((df\[['"][\w ]+['"]\])\)`)

type patternFix func(code, errMsg string) string

var patternFixes = []patternFix{
	fixLabelEncoderMixedTypes,
	fixNumpyReadParquet,
	fixSklearnImports,
}

// PatternFix applies the first known mechanical repair that changes the
// code. The boolean reports whether anything was rewritten.
func (f *Fixer) PatternFix(code, errMsg string) (string, bool) {
	for _, fix := range patternFixes {
		if fixed := fix(code, errMsg); fixed != code {
			return fixed, true
		}
	}
	return code, false
}

// Encoders choke on columns mixing strings and numbers. Coerce the
// column to string before encoding.
func fixLabelEncoderMixedTypes(code, errMsg string) string {
	if !strings.Contains(errMsg, "Encoders require") && !strings.Contains(errMsg, "uniformly strings or numbers") {
		return code
	}
	if !strings.Contains(code, "LabelEncoder()") {
		return code
	}
	return labelEncoderRe.ReplaceAllString(code, "$1= le.fit_transform($2.astype(str))")
}

func fixNumpyReadParquet(code, errMsg string) string {
	if !strings.Contains(errMsg, "numpy") || !strings.Contains(errMsg, "read_parquet") {
		return code
	}
	return strings.ReplaceAll(code, "np.read_parquet", "pd.read_parquet")
}

func fixSklearnImports(code, errMsg string) string {
	if !strings.Contains(strings.ToLower(errMsg), "cannot import name") {
		return code
	}
	widened := map[string]string{
		"from sklearn.preprocessing import LabelEncoder":    "from sklearn.preprocessing import LabelEncoder, StandardScaler",
		"from sklearn.model_selection import train_test_split": "from sklearn.model_selection import train_test_split, cross_val_score",
	}
	for old, repl := range widened {
		if strings.Contains(code, old) {
			code = strings.ReplaceAll(code, old, repl)
		}
	}
	return code
}

const fixPromptTemplate = `The following Python analysis code failed when executed against a pandas DataFrame named df.

Code:
%s

Error:
%s

Rewrite the code so it runs successfully.
Rules:
1. Return ONLY the fixed Python code, no explanations.
2. Keep the analysis intent unchanged.
3. The DataFrame df is already loaded; do not load data yourself.
4. Assign the final output to a variable named result.`

// LLMFix asks the model for a corrected version of the code.
func (f *Fixer) LLMFix(ctx context.Context, code, errMsg string) (string, error) {
	f.logger.Debug().Msg("Requesting model repair for failed code")
	response, err := f.llm.Complete(ctx, fmt.Sprintf(fixPromptTemplate, code, errMsg))
	if err != nil {
		return "", err
	}
	fixed := llm.StripCodeFences(response)
	if strings.TrimSpace(fixed) == "" {
		return "", fmt.Errorf("model returned empty repair")
	}
	return fixed, nil
}
