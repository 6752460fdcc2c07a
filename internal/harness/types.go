package harness

import (
	"fmt"
	"strings"
)

// Result is the outcome of running a scenario.
type Result struct {
	Scenario string
	Pass     bool
	Steps    []StepResult
	Errors   []string
}

// StepResult records one flow step. Outcome is "ok" or the error code the
// engine returned.
type StepResult struct {
	Step    int      `json:"step"`
	Action  string   `json:"action"`
	Outcome string   `json:"outcome"`
	Events  []string `json:"events"`
}

// OutcomeOK marks a step that succeeded.
const OutcomeOK = "ok"

func (r *Result) fail(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func joinKinds(kinds []string) string {
	if len(kinds) == 0 {
		return "[]"
	}
	return "[" + strings.Join(kinds, " ") + "]"
}
