package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PytestParser reads the counts from pytest's final summary line and the
// node ids of failed tests.
type PytestParser struct{}

type pytestResult struct {
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Errors      int      `json:"errors"`
	FailedTests []string `json:"failed_tests,omitempty"`
}

var (
	pytestCountRe  = regexp.MustCompile(`(\d+) (passed|failed|errors?)\b`)
	pytestFailedRe = regexp.MustCompile(`^(?:FAILED|ERROR) (\S+)`)
)

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var r pytestResult
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if m := pytestFailedRe.FindStringSubmatch(line); m != nil {
			r.FailedTests = append(r.FailedTests, m[1])
		}
	}
	for _, m := range pytestCountRe.FindAllStringSubmatch(lastSummaryLine(stdout), -1) {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "passed":
			r.Passed = n
		case "failed":
			r.Failed = n
		default:
			r.Errors = n
		}
	}

	return ParseResult{
		Passed:   exitCode == 0,
		Summary:  fmt.Sprintf("%d passed, %d failed, %d errors", r.Passed, r.Failed, r.Errors),
		Findings: r,
	}
}

func lastSummaryLine(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if pytestCountRe.MatchString(lines[i]) {
			return lines[i]
		}
	}
	return ""
}
