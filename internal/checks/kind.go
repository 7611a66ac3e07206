package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies a check. Each kind carries its own output parser,
// signature extractor and remediation guidance.
type Kind string

const (
	KindDiffLimit    Kind = "diff_limit"
	KindRuff         Kind = "ruff"
	KindPytest       Kind = "pytest"
	KindPyCompileAll Kind = "py_compileall"
	KindNPMTest      Kind = "npm_test"
	KindTSC          Kind = "tsc"
	KindGoVet        Kind = "go_vet"
)

type kindInfo struct {
	parser    Parser
	signature func(*Result) string
	guidance  string
}

var (
	ruffCodeRe = regexp.MustCompile(`\b([A-Z]{1,4}\d{3,4})\b`)
	tscCodeRe  = regexp.MustCompile(`\b(TS\d{4,5})\b`)
)

var kinds = map[Kind]kindInfo{
	KindDiffLimit: {
		parser: &GenericParser{},
		signature: func(r *Result) string {
			return fmt.Sprintf("diff:limit_exceeded:%v", r.Detail["delta"])
		},
		guidance: "Split the change into smaller commits under the diff limit.",
	},
	KindRuff: {
		parser: &RuffParser{},
		signature: func(r *Result) string {
			if m := ruffCodeRe.FindStringSubmatch(r.Stdout + "\n" + r.Stderr); m != nil {
				return "ruff:" + m[1]
			}
			return "ruff:fail"
		},
		guidance: "Resolve lint violations (example: unused imports) and rerun `ruff check .`.",
	},
	KindPytest: {
		parser:    &PytestParser{},
		signature: fixed("pytest:fail"),
		guidance:  "Fix failing tests and rerun `pytest -q`.",
	},
	KindPyCompileAll: {
		parser: &GenericParser{},
		signature: func(r *Result) string {
			if strings.Contains(r.Stdout+r.Stderr, "SyntaxError") {
				return "py_compileall:SyntaxError"
			}
			return "py_compileall:fail"
		},
		guidance: "Fix Python syntax/type issues and rerun compile check.",
	},
	KindNPMTest: {
		parser:    &GenericParser{},
		signature: fixed("npm_test:fail"),
		guidance:  "Fix JavaScript/TypeScript test failures and rerun npm tests.",
	},
	KindTSC: {
		parser: &TypeScriptParser{},
		signature: func(r *Result) string {
			if m := tscCodeRe.FindStringSubmatch(r.Stdout + "\n" + r.Stderr); m != nil {
				return "tsc:" + m[1]
			}
			return "tsc:fail"
		},
		guidance: "Fix TypeScript type errors and rerun `tsc --noEmit`.",
	},
	KindGoVet: {
		parser:    &GenericParser{},
		signature: fixed("go_vet:fail"),
		guidance:  "Fix the issues reported by `go vet ./...`.",
	},
}

func fixed(sig string) func(*Result) string {
	return func(*Result) string { return sig }
}

// Kinds lists every known check kind in execution order.
func Kinds() []Kind {
	return []Kind{KindDiffLimit, KindRuff, KindPytest, KindPyCompileAll, KindNPMTest, KindTSC, KindGoVet}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Signature extracts the failure signature of a failing result.
func (k Kind) Signature(r *Result) string {
	if r.TimedOut {
		return string(k) + ":timeout"
	}
	if info, ok := kinds[k]; ok {
		return info.signature(r)
	}
	return string(k) + ":fail"
}

// Guidance is the human remediation hint printed when k fails.
func (k Kind) Guidance() string {
	if info, ok := kinds[k]; ok {
		return info.guidance
	}
	return "Review the failed quality check output and apply a minimal corrective patch."
}

func (k Kind) parser() Parser {
	if info, ok := kinds[k]; ok {
		return info.parser
	}
	return &GenericParser{}
}
