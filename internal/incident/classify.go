package incident

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fatalPatterns = []string{
	"traceback",
	"exception",
	"syntaxerror",
	"permission denied",
	"no such file",
	"not found",
	"modulenotfounderror",
	"fatal",
}

var (
	importErrorWord = regexp.MustCompile(`\bimporterror\b`)
	missingModule   = regexp.MustCompile(`No module named ['"]([^'"]+)['"]`)
)

// ExitCode extracts a non-nil exit code from a tool response, accepting the
// spellings hosts have used over time.
func ExitCode(resp map[string]any) (int, bool) {
	for _, key := range []string{"exit_code", "exitCode", "returncode"} {
		switch v := resp[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case int64:
			return int(v), true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
		}
	}
	return 0, false
}

// ExplicitFailure reports a response that declares failure through its
// success flag or a non-zero exit code.
func ExplicitFailure(resp map[string]any) bool {
	if ok, isBool := resp["success"].(bool); isBool && !ok {
		return true
	}
	if code, ok := ExitCode(resp); ok && code != 0 {
		return true
	}
	return false
}

// ResponseFailed reports whether a tool response describes a failure,
// either explicitly or through a fatal marker in its error output.
func ResponseFailed(resp map[string]any) bool {
	if resp == nil {
		return false
	}
	if ExplicitFailure(resp) {
		return true
	}
	combined := strings.ToLower(text(resp, "stderr") + "\n" + text(resp, "error"))
	for _, p := range fatalPatterns {
		if strings.Contains(combined, p) {
			return true
		}
	}
	return false
}

// Classify maps a failed tool response onto an incident class.
func Classify(resp map[string]any) Class {
	t := strings.ToLower(strings.Join([]string{text(resp, "error"), text(resp, "stderr"), text(resp, "stdout")}, " "))
	switch {
	case strings.Contains(t, "permission denied"):
		return PermissionDenied
	case strings.Contains(t, "no such file"), strings.Contains(t, "not found"):
		return FileNotFound
	case strings.Contains(t, "modulenotfounderror"), importErrorWord.MatchString(t):
		return ImportError
	case strings.Contains(t, "syntaxerror"), strings.Contains(t, "parse"):
		return SyntaxError
	case strings.Contains(t, "timeout"):
		return Timeout
	}
	return ToolFailure
}

// MissingModule extracts the module from a "No module named 'x'" message.
func MissingModule(s string) string {
	if m := missingModule.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// Signature builds the grouping key for a self-heal incident.
func Signature(class Class, resp map[string]any) string {
	if class == ImportError {
		if mod := MissingModule(text(resp, "stderr") + "\n" + text(resp, "error")); mod != "" {
			return "incident:import:" + mod
		}
	}
	return "incident:" + string(class)
}

// ErrorText picks the most useful failure message from a response.
func ErrorText(resp map[string]any) string {
	for _, key := range []string{"error", "stderr"} {
		if s := text(resp, key); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return "tool failure"
}

func text(resp map[string]any, key string) string {
	switch v := resp[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
