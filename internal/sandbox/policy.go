package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// SafetyViolation is raised by the static policy check. Code that trips
// it is never sent to a container.
type SafetyViolation struct {
	Reason string
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation: %s", e.Reason)
}

// allowedModules is the closed set of importable top-level modules.
var allowedModules = map[string]bool{
	"pandas":      true,
	"numpy":       true,
	"sklearn":     true,
	"scipy":       true,
	"statsmodels": true,
	"matplotlib":  true,
	"seaborn":     true,
	"datetime":    true,
	"json":        true,
	"math":        true,
	"collections": true,
	"itertools":   true,
	"re":          true,
	"io":          true,
	"base64":      true,
}

var (
	importStmtRe = regexp.MustCompile(`(?m)^\s*import\s+(.+)`)
	fromStmtRe   = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][A-Za-z0-9_.]*)`)
)

// importedModules lists every top-level module the code statically
// references. An import statement can name several modules separated by
// commas, each with an optional alias.
func importedModules(code string) []string {
	var modules []string
	for _, m := range importStmtRe.FindAllStringSubmatch(code, -1) {
		for _, clause := range strings.Split(m[1], ",") {
			fields := strings.Fields(clause)
			if len(fields) == 0 {
				continue
			}
			modules = append(modules, strings.SplitN(fields[0], ".", 2)[0])
		}
	}
	for _, m := range fromStmtRe.FindAllStringSubmatch(code, -1) {
		modules = append(modules, strings.SplitN(m[1], ".", 2)[0])
	}
	return modules
}

// forbiddenPatterns catch dangerous constructs regardless of imports.
var forbiddenPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\b__import__\s*\(`), "dynamic import"},
	{regexp.MustCompile(`\beval\s*\(`), "eval call"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec call"},
	{regexp.MustCompile(`\bcompile\s*\(`), "compile call"},
	{regexp.MustCompile(`\bopen\s*\(`), "direct file access"},
	{regexp.MustCompile(`\bglobals\s*\(`), "globals access"},
	{regexp.MustCompile(`\bgetattr\s*\(\s*__builtins__`), "builtins access"},
	{regexp.MustCompile(`__subclasses__`), "class hierarchy escape"},
}

// CheckSource runs the static policy over generated code. It returns a
// SafetyViolation naming the first offending construct, or nil.
func CheckSource(code string) error {
	for _, module := range importedModules(code) {
		if !allowedModules[module] {
			return &SafetyViolation{Reason: fmt.Sprintf("import of module %q is not allowed", module)}
		}
	}
	for _, p := range forbiddenPatterns {
		if loc := p.re.FindStringIndex(code); loc != nil {
			line := 1 + strings.Count(code[:loc[0]], "\n")
			return &SafetyViolation{Reason: fmt.Sprintf("%s at line %d", p.reason, line)}
		}
	}
	return nil
}
