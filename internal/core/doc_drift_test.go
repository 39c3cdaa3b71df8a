//go:build !short

package core_test

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"testing"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file location")
	}
	abs, err := filepath.Abs(filepath.Join(filepath.Dir(file), "..", ".."))
	if err != nil {
		t.Fatalf("cannot resolve repo root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(abs, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod", abs)
	}
	return abs
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cannot read %s: %v", path, err)
	}
	return string(data)
}

func missingFrom(doc string, names map[string]bool) []string {
	var missing []string
	for n := range names {
		if !strings.Contains(doc, n) {
			missing = append(missing, n)
		}
	}
	sort.Strings(missing)
	return missing
}

func TestDocDrift_EnvVarsInExample(t *testing.T) {
	root := repoRoot(t)
	runtimeSrc := readFile(t, filepath.Join(root, "cmd", "eemcp", "runtime.go"))
	configSrc := readFile(t, filepath.Join(root, "internal", "config", "config.go"))
	envExample := readFile(t, filepath.Join(root, ".env.example"))

	codeVars := make(map[string]bool)
	for _, m := range regexp.MustCompile(`get\("([A-Z_]+)"`).FindAllStringSubmatch(runtimeSrc, -1) {
		codeVars[m[1]] = true
	}
	for _, m := range regexp.MustCompile(`Env[A-Za-z]+\s*=\s*"([A-Z_]+)"`).FindAllStringSubmatch(configSrc, -1) {
		codeVars[m[1]] = true
	}
	if len(codeVars) == 0 {
		t.Fatal("no env vars found in source")
	}

	exampleVars := make(map[string]bool)
	reEnvLine := regexp.MustCompile(`^#?\s*([A-Z][A-Z0-9_]*)=`)
	for _, line := range strings.Split(envExample, "\n") {
		if m := reEnvLine.FindStringSubmatch(line); m != nil {
			exampleVars[m[1]] = true
		}
	}

	var missing []string
	for v := range codeVars {
		if !exampleVars[v] {
			missing = append(missing, v)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		t.Errorf("env vars read by the code but missing from .env.example:\n  %s",
			strings.Join(missing, "\n  "))
	}
}

func TestDocDrift_HTTPRoutesInREADME(t *testing.T) {
	root := repoRoot(t)
	serverSrc := readFile(t, filepath.Join(root, "internal", "http", "server.go"))
	readme := readFile(t, filepath.Join(root, "README.md"))

	routes := make(map[string]bool)
	for _, m := range regexp.MustCompile(`router\.HandleFunc\("(/[^"]+)"`).FindAllStringSubmatch(serverSrc, -1) {
		routes[m[1]] = true
	}
	for _, m := range regexp.MustCompile(`api\.HandleFunc\("(/[^"]+)"`).FindAllStringSubmatch(serverSrc, -1) {
		routes["/api/v1"+m[1]] = true
	}
	if len(routes) == 0 {
		t.Fatal("no routes found in internal/http/server.go")
	}

	if missing := missingFrom(readme, routes); len(missing) > 0 {
		t.Errorf("HTTP routes not found in README.md:\n  %s", strings.Join(missing, "\n  "))
	}
}

func TestDocDrift_ActionsInREADME(t *testing.T) {
	root := repoRoot(t)
	actionSrc := readFile(t, filepath.Join(root, "internal", "core", "action.go"))
	readme := readFile(t, filepath.Join(root, "README.md"))

	section := regexp.MustCompile(`(?s)## MCP Tool\n(.*?)(?:\n## |\z)`).FindStringSubmatch(readme)
	if section == nil {
		t.Fatal("cannot find '## MCP Tool' section in README.md")
	}

	actions := make(map[string]bool)
	for _, m := range regexp.MustCompile(`Action[A-Za-z]+\s+Action = "([a-z_]+)"`).FindAllStringSubmatch(actionSrc, -1) {
		actions[m[1]] = true
	}
	if len(actions) == 0 {
		t.Fatal("no actions found in internal/core/action.go")
	}

	if missing := missingFrom(section[1], actions); len(missing) > 0 {
		t.Errorf("actions not documented in the MCP Tool section:\n  %s", strings.Join(missing, "\n  "))
	}
}
