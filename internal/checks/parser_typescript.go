package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TypeScriptParser parses tsc --noEmit output.
type TypeScriptParser struct{}

// Diagnostic is one located compiler or linter finding.
type Diagnostic struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var diags []Diagnostic
	files := make(map[string]bool)
	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		m := tscLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, Diagnostic{File: m[1], Line: lineNum, Column: col, Code: m[4], Message: m[5]})
		files[m[1]] = true
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no errors"}
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d errors in %d files", len(diags), len(files)),
		Findings: diags,
	}
}
