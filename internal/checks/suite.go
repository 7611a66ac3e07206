package checks

import (
	"context"
	"encoding/json"
	"errors"
)

// SuiteResult is the outcome of running every planned check.
type SuiteResult struct {
	Passed  bool      `json:"passed"`
	Results []*Result `json:"checks"`
	Skipped []Kind    `json:"skipped,omitempty"`
}

// JSON returns the suite result as indented JSON.
func (s *SuiteResult) JSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FirstFailure returns the first failing result, or nil.
func (s *SuiteResult) FirstFailure() *Result {
	for _, r := range s.Results {
		if !r.OK {
			return r
		}
	}
	return nil
}

// RunSuite executes every spec in order. All checks run even after a
// failure so the report is complete. The suite passes iff every executed
// check passed, which holds vacuously for an empty plan.
func (r *Runner) RunSuite(ctx context.Context, dir string, specs []Spec) *SuiteResult {
	suite := &SuiteResult{Passed: true, Results: []*Result{}}
	for _, spec := range specs {
		res, err := r.Run(ctx, dir, spec)
		if err != nil {
			if errors.Is(err, ErrToolMissing) {
				suite.Skipped = append(suite.Skipped, spec.Kind)
				continue
			}
			res = &Result{Name: string(spec.Kind), Kind: spec.Kind, ExitCode: -1, Summary: err.Error()}
			res.Signature = spec.Kind.Signature(res)
		}
		suite.Results = append(suite.Results, res)
		if !res.OK {
			suite.Passed = false
		}
	}
	return suite
}
