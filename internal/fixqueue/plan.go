package fixqueue

import (
	"os"
	"regexp"
	"strings"

	"github.com/lucasnoah/nexus/internal/incident"
)

// Plan is the remediation derived for an incident.
type Plan struct {
	SuggestedFix string   `json:"suggested_fix"`
	VerifyCmd    []string `json:"verify_cmd"`
}

// planInput is what the rules see.
type planInput struct {
	text   string
	cwd    string
	file   string
	inc    incident.Incident
	target string
}

type rule struct {
	name     string
	keywords []string
	build    func(planInput) Plan
}

// rules is ordered; the first match wins.
var rules = []rule{
	{"lint:ruff", []string{"ruff", "f401"}, func(in planInput) Plan {
		return Plan{"Remove unused imports/variables then rerun ruff.", []string{"ruff", "check", in.target}}
	}},
	{"lint:tsc", []string{"tsc"}, func(planInput) Plan {
		return Plan{"Fix TypeScript type errors then rerun tsc.", []string{"tsc", "--noEmit"}}
	}},
	{"lint:go_vet", []string{"go_vet"}, func(planInput) Plan {
		return Plan{"Fix the go vet findings then rerun go vet.", []string{"go", "vet", "./..."}}
	}},
	{"test", []string{"pytest", "assert", "test"}, func(in planInput) Plan {
		if in.inc.FailedCheck == "npm_test" || in.inc.Class == "npm_test" {
			return Plan{"Fix failing tests and rerun npm test.", []string{"npm", "test", "--silent"}}
		}
		return Plan{"Fix failing tests and rerun pytest.", []string{"pytest", "-q"}}
	}},
	{"syntax", []string{"syntax", "compile"}, func(in planInput) Plan {
		if in.file != "" {
			return Plan{"Fix Python syntax errors in " + in.file + ".", []string{"python3", "-m", "py_compile", in.file}}
		}
		return Plan{"Fix Python syntax errors detected by compileall.", compileAll(in.cwd)}
	}},
	{"module", []string{"module", "import"}, func(in planInput) Plan {
		mod := in.inc.ModuleName
		if mod == "" {
			mod = incident.MissingModule(in.inc.Error)
		}
		if !moduleName.MatchString(mod) {
			return Plan{"Install or vendor the missing module and verify import.", compileAll(in.cwd)}
		}
		return Plan{"Install or vendor missing module `" + mod + "` and verify import.", []string{"python3", "-c", "import " + mod}}
	}},
	{"permission", []string{"permission"}, func(in planInput) Plan {
		return Plan{"Adjust file permissions for `" + in.target + "`.", []string{"test", "-r", in.target}}
	}},
	{"not_found", []string{"not found", "no such file"}, func(in planInput) Plan {
		return Plan{"Create or correct missing path `" + in.target + "`.", []string{"test", "-e", in.target}}
	}},
}

// moduleName is a dotted Python import path. Anything else would be
// executed as code by the verify command.
var moduleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func compileAll(dir string) []string {
	return []string{"python3", "-m", "compileall", "-q", dir}
}

// PlanFor derives the suggested fix and verify command for inc.
func PlanFor(inc incident.Incident) Plan {
	in := planInput{
		text: strings.ToLower(strings.Join([]string{
			inc.Error, inc.Signature, inc.FailedCheck, string(inc.Class),
		}, " ")),
		cwd:  inc.Cwd,
		file: incidentFile(inc),
		inc:  inc,
	}
	if in.cwd == "" {
		in.cwd, _ = os.Getwd()
	}
	in.target = in.file
	if in.target == "" {
		in.target = in.cwd
	}

	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(in.text, kw) {
				return r.build(in)
			}
		}
	}
	return Plan{"Investigate incident details and apply a minimal deterministic fix.", compileAll(in.cwd)}
}

func incidentFile(inc incident.Incident) string {
	for _, k := range []string{"file_path", "path"} {
		if s, ok := inc.ToolInput[k].(string); ok && s != "" {
			return s
		}
	}
	return inc.FilePath
}
