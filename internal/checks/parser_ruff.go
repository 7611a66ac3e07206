package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RuffParser parses `ruff check` concise output.
type RuffParser struct{}

// app/main.py:3:8: F401 [*] `os` imported but unused
var ruffLineRe = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s+([A-Z]{1,4}\d{3,4})\s+(?:\[\*\]\s+)?(.+)$`)

func (p *RuffParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var diags []Diagnostic
	fixable := 0
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		m := ruffLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, Diagnostic{File: m[1], Line: lineNum, Column: col, Code: m[4], Message: m[5]})
		if strings.Contains(line, "[*]") {
			fixable++
		}
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no violations"}
	}
	if len(diags) == 0 {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d violations, %d fixable", len(diags), fixable),
		Findings: diags,
	}
}
