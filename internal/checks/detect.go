package checks

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Stack records which technologies a change touches.
type Stack struct {
	Python  bool     `json:"python"`
	Node    bool     `json:"node"`
	Go      bool     `json:"go"`
	Reasons []string `json:"reasons"`
}

var lookPath = exec.LookPath

var pythonMarkers = []string{"pyproject.toml", "requirements.txt", "setup.py"}

var nodeExtensions = map[string]bool{
	".js":  true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
	".mjs": true,
	".cjs": true,
}

// DetectStack inspects root markers and changed file extensions.
func DetectStack(root string, changed []string) Stack {
	s := Stack{Reasons: []string{}}
	for _, m := range pythonMarkers {
		if exists(filepath.Join(root, m)) {
			s.Python = true
			s.Reasons = append(s.Reasons, "marker "+m)
			break
		}
	}
	if exists(filepath.Join(root, "package.json")) {
		s.Node = true
		s.Reasons = append(s.Reasons, "marker package.json")
	}
	if exists(filepath.Join(root, "go.mod")) {
		s.Go = true
		s.Reasons = append(s.Reasons, "marker go.mod")
	}

	for _, f := range changed {
		ext := strings.ToLower(filepath.Ext(f))
		switch {
		case ext == ".py" && !s.Python:
			s.Python = true
			s.Reasons = append(s.Reasons, "changed "+f)
		case nodeExtensions[ext] && !s.Node:
			s.Node = true
			s.Reasons = append(s.Reasons, "changed "+f)
		case ext == ".go" && !s.Go:
			s.Go = true
			s.Reasons = append(s.Reasons, "changed "+f)
		}
	}
	return s
}

// PlanOpts configures Plan.
type PlanOpts struct {
	Root         string
	Changed      []string
	Versioned    bool
	DiffLimit    int
	CheckTimeout time.Duration
	TestTimeout  time.Duration
	Disabled     []string
	// LookPath resolves executables; defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Plan returns the ordered checks applicable to the change. Checks whose
// tool is not installed are left out.
func Plan(opts PlanOpts) []Spec {
	look := opts.LookPath
	if look == nil {
		look = lookPath
	}
	has := func(bin string) bool {
		_, err := look(bin)
		return err == nil
	}
	enabled := func(k Kind) bool {
		return !slices.Contains(opts.Disabled, string(k))
	}

	var specs []Spec
	add := func(k Kind, timeout time.Duration, argv ...string) {
		if enabled(k) {
			specs = append(specs, Spec{Kind: k, Argv: argv, Timeout: timeout})
		}
	}

	if opts.Versioned && enabled(KindDiffLimit) {
		specs = append(specs, Spec{Kind: KindDiffLimit, Limit: opts.DiffLimit})
	}

	stack := DetectStack(opts.Root, opts.Changed)
	if stack.Python {
		if has("ruff") {
			add(KindRuff, opts.CheckTimeout, "ruff", "check", ".")
		}
		if has("pytest") && (exists(filepath.Join(opts.Root, "tests")) || exists(filepath.Join(opts.Root, "test"))) {
			add(KindPytest, opts.TestTimeout, "pytest", "-q")
		}
		if py := pythonBinary(has); py != "" {
			add(KindPyCompileAll, opts.CheckTimeout, py, "-m", "compileall", "-q", opts.Root)
		}
	}
	if stack.Node && exists(filepath.Join(opts.Root, "package.json")) {
		if has("npm") {
			add(KindNPMTest, opts.TestTimeout, "npm", "test", "--silent")
		}
		if exists(filepath.Join(opts.Root, "tsconfig.json")) && has("tsc") {
			add(KindTSC, opts.CheckTimeout, "tsc", "--noEmit")
		}
	}
	if stack.Go && exists(filepath.Join(opts.Root, "go.mod")) && has("go") {
		add(KindGoVet, opts.CheckTimeout, "go", "vet", "./...")
	}
	return specs
}

func pythonBinary(has func(string) bool) string {
	for _, bin := range []string{"python3", "python"} {
		if has(bin) {
			return bin
		}
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
