package fixqueue

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/nexus/internal/incident"
)

func TestPlanFor(t *testing.T) {
	tests := []struct {
		name string
		inc  incident.Incident
		want []string
	}{
		{
			name: "ruff on file",
			inc:  incident.Incident{FailedCheck: "ruff", Signature: "ruff:F401", Cwd: "/p", ToolInput: map[string]any{"file_path": "/p/a.py"}},
			want: []string{"ruff", "check", "/p/a.py"},
		},
		{
			name: "ruff without file",
			inc:  incident.Incident{Class: "ruff", Cwd: "/p"},
			want: []string{"ruff", "check", "/p"},
		},
		{
			name: "tsc",
			inc:  incident.Incident{Class: "tsc", Signature: "tsc:TS2345", Cwd: "/p"},
			want: []string{"tsc", "--noEmit"},
		},
		{
			name: "go vet",
			inc:  incident.Incident{Class: "go_vet", Signature: "go_vet:fail", Cwd: "/p"},
			want: []string{"go", "vet", "./..."},
		},
		{
			name: "pytest",
			inc:  incident.Incident{Class: "pytest", Signature: "pytest:fail", Cwd: "/p"},
			want: []string{"pytest", "-q"},
		},
		{
			name: "npm test",
			inc:  incident.Incident{Class: "npm_test", FailedCheck: "npm_test", Signature: "npm_test:fail", Cwd: "/p"},
			want: []string{"npm", "test", "--silent"},
		},
		{
			name: "syntax with file",
			inc:  incident.Incident{Class: "py_compileall", Signature: "py_compileall:SyntaxError", Cwd: "/p", FilePath: "/p/b.py"},
			want: []string{"python3", "-m", "py_compile", "/p/b.py"},
		},
		{
			name: "syntax without file",
			inc:  incident.Incident{Class: "py_compileall", Signature: "py_compileall:fail", Cwd: "/p"},
			want: []string{"python3", "-m", "compileall", "-q", "/p"},
		},
		{
			name: "module from name",
			inc:  incident.Incident{Class: incident.ImportError, ModuleName: "yaml", Cwd: "/p"},
			want: []string{"python3", "-c", "import yaml"},
		},
		{
			name: "module from error text",
			inc:  incident.Incident{Class: incident.ImportError, Error: `No module named "requests.adapters"`, Cwd: "/p"},
			want: []string{"python3", "-c", "import requests.adapters"},
		},
		{
			name: "module unknown",
			inc:  incident.Incident{Class: incident.ImportError, Error: "ImportError", Cwd: "/p"},
			want: []string{"python3", "-m", "compileall", "-q", "/p"},
		},
		{
			name: "module name carrying code",
			inc:  incident.Incident{Class: incident.ImportError, Error: `No module named 'x; import os; os.system("rm -rf ~")'`, Cwd: "/p"},
			want: []string{"python3", "-m", "compileall", "-q", "/p"},
		},
		{
			name: "module field carrying code",
			inc:  incident.Incident{Class: incident.ImportError, ModuleName: "os;print(1)", Cwd: "/p"},
			want: []string{"python3", "-m", "compileall", "-q", "/p"},
		},
		{
			name: "permission",
			inc:  incident.Incident{Class: incident.PermissionDenied, Error: "Permission denied", Cwd: "/p", ToolInput: map[string]any{"path": "/etc/x"}},
			want: []string{"test", "-r", "/etc/x"},
		},
		{
			name: "not found",
			inc:  incident.Incident{Class: incident.FileNotFound, Error: "No such file or directory", Cwd: "/p"},
			want: []string{"test", "-e", "/p"},
		},
		{
			name: "fallback",
			inc:  incident.Incident{Class: incident.ToolFailure, Error: "boom", Cwd: "/p"},
			want: []string{"python3", "-m", "compileall", "-q", "/p"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanFor(tt.inc)
			if diff := cmp.Diff(tt.want, got.VerifyCmd); diff != "" {
				t.Errorf("VerifyCmd mismatch (-want +got):\n%s", diff)
			}
			if got.SuggestedFix == "" {
				t.Error("expected a suggested fix")
			}
		})
	}
}
