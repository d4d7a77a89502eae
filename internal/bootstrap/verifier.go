package bootstrap

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/persistence"
)

// checkTimeout bounds each shell predicate.
const checkTimeout = 30 * time.Second

// Result is the outcome of one check run.
type Result struct {
	Check  Check
	Passed bool
	Output string
}

// Report summarizes a verification pass.
type Report struct {
	Total   int
	Passed  int
	Failed  int
	Results []Result
}

// RunCheck executes one predicate in the project directory.
func RunCheck(ctx context.Context, check Check, dir string) Result {
	if strings.HasPrefix(check.Command, envCommandPrefix) {
		name := strings.TrimPrefix(check.Command, envCommandPrefix)
		_, set := os.LookupEnv(name)
		output := "unset"
		if set {
			output = "set"
		}
		return Result{Check: check, Passed: set, Output: output}
	}

	runCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "sh", "-c", check.Command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if len(output) > 500 {
		output = output[:500]
	}
	passed := err == nil
	if passed && check.Expected != "" {
		passed = strings.Contains(output, check.Expected)
	}
	return Result{Check: check, Passed: passed, Output: output}
}

// Verify parses bootstrap.md, runs every check, and persists the results.
func Verify(ctx context.Context, store *persistence.Store, projectID, bootstrapPath, dir string) (Report, error) {
	content, err := os.ReadFile(bootstrapPath)
	if err != nil {
		return Report{}, domain.WrapErr(domain.KindValidation, err, "failed to read bootstrap file")
	}
	checks := Parse(string(content))

	report := Report{Total: len(checks)}
	for _, check := range checks {
		result := RunCheck(ctx, check, dir)
		report.Results = append(report.Results, result)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		err := store.RecordBootstrapCheck(ctx, domain.BootstrapCheck{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Name:      check.Name,
			CheckType: check.Type,
			Command:   check.Command,
			Expected:  check.Expected,
			Actual:    result.Output,
			Passed:    result.Passed,
		})
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
