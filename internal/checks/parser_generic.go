package checks

import "fmt"

// GenericParser is the fallback parser; failures keep the tail of the
// combined output as their finding.
type GenericParser struct{}

// maxFindingLen caps how much output the generic parser keeps in findings.
const maxFindingLen = 2000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}

	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	if len(combined) > maxFindingLen {
		combined = "…(truncated)\n" + Tail(combined, maxFindingLen)
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Findings: combined,
	}
}
