package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writePolicyFile(t *testing.T, dir string, contents string) {
	t.Helper()
	lokiDir := filepath.Join(dir, ".loki")
	if err := os.MkdirAll(lokiDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(lokiDir, "policies.json"), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestRunCheckFileSandboxDenies(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, `{
		"version": 1,
		"policies": {
			"pre_execution": [
				{"name": "sandbox-files", "rule": "file_path must start with project_dir", "action": "deny"}
			]
		}
	}`)
	t.Setenv("LOKI_PROJECT_DIR", dir)

	var code int
	out := captureStdout(t, func() {
		code = runCheck([]string{"pre_execution", `{"file_path": "/etc/passwd", "project_dir": "/home/project"}`})
	})

	if code != 1 {
		t.Fatalf("exit code = %d, want 1 (DENY)", code)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decision record did not parse as JSON: %v (%q)", err, out)
	}
	if record["decision"] != "DENY" {
		t.Fatalf("decision = %v, want DENY", record["decision"])
	}
}

func TestRunCheckUnknownPointAllows(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOKI_PROJECT_DIR", dir)

	var code int
	captureStdout(t, func() {
		code = runCheck([]string{"not_a_real_point", `{}`})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (ALLOW)", code)
	}
}

func TestRunCheckMissingArguments(t *testing.T) {
	code := runCheck([]string{"pre_execution"})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunCheckBadContextJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOKI_PROJECT_DIR", dir)

	code := runCheck([]string{"pre_execution", "not json"})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunCheckBudgetRequiresApproval(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, `{
		"version": 1,
		"policies": {
			"resource": [
				{"name": "token-budget", "max_tokens": 1000, "on_exceed": "require_approval", "action": "deny"}
			]
		}
	}`)
	t.Setenv("LOKI_PROJECT_DIR", dir)

	var code int
	captureStdout(t, func() {
		code = runCheck([]string{"resource", `{"tokens_consumed": 2000}`})
	})
	if code != 2 {
		t.Fatalf("exit code = %d, want 2 (REQUIRE_APPROVAL)", code)
	}
}
