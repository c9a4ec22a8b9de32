package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/msageha/planindex/internal/lock"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "planindex.yaml")
	content := "store:\n  snapshot_path: " + filepath.Join(dir, "plan_elements.yaml") + "\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_AddFindListRemove(t *testing.T) {
	cfg := writeConfig(t)

	code, out, errOut := runCmd(t, "add", "--config", cfg, "--task", "T1", "--kind", "allocation", "--asset", "truck-7", "--verb", "Transport")
	if code != 0 {
		t.Fatalf("add T1 exit=%d stderr=%s", code, errOut)
	}
	if !strings.HasPrefix(out, "T1\tpe_") {
		t.Errorf("add output = %q", out)
	}

	code, _, errOut = runCmd(t, "add", "--config", cfg, "--task", "T2", "--kind", "expansion", "--subtask", "T3", "--subtask", "T4")
	if code != 0 {
		t.Fatalf("add T2 exit=%d stderr=%s", code, errOut)
	}

	code, out, _ = runCmd(t, "find", "T2", "--config", cfg)
	if code != 0 {
		t.Fatalf("find exit=%d", code)
	}
	if !strings.Contains(out, "kind: expansion") || !strings.Contains(out, "- T3") {
		t.Errorf("find output = %q", out)
	}

	code, out, _ = runCmd(t, "list", "--config", cfg)
	if code != 0 {
		t.Fatalf("list exit=%d", code)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "T1\tallocation\t") || !strings.HasSuffix(lines[0], "asset=truck-7") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "subtasks=T3,T4") {
		t.Errorf("line 1 = %q", lines[1])
	}

	if code, _, _ = runCmd(t, "remove", "T1", "--config", cfg); code != 0 {
		t.Fatalf("remove exit=%d", code)
	}
	if code, _, _ = runCmd(t, "remove", "T1", "--config", cfg); code != 1 {
		t.Errorf("second remove exit=%d, want 1", code)
	}
	if code, _, _ = runCmd(t, "find", "T1", "--config", cfg); code != 1 {
		t.Errorf("find removed task exit=%d, want 1", code)
	}

	_, out, _ = runCmd(t, "list", "--config", cfg)
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected 1 remaining element, got %q", out)
	}
}

func TestRun_AddReplacesSameTask(t *testing.T) {
	cfg := writeConfig(t)

	runCmd(t, "add", "--config", cfg, "--task", "T1", "--kind", "allocation", "--asset", "truck")
	runCmd(t, "add", "--config", cfg, "--task", "T1", "--kind", "disposition", "--success")

	_, out, _ := runCmd(t, "list", "--config", cfg)
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, "disposition") || !strings.Contains(out, "success=true") {
		t.Errorf("list output = %q", out)
	}
}

func TestRun_AddInvalid(t *testing.T) {
	cfg := writeConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing task", []string{"add", "--config", cfg, "--kind", "allocation"}},
		{"missing asset", []string{"add", "--config", cfg, "--task", "T1", "--kind", "allocation"}},
		{"unknown kind", []string{"add", "--config", cfg, "--task", "T1", "--kind", "rescind"}},
		{"unknown flag", []string{"add", "--config", cfg, "--bogus", "x"}},
		{"dangling flag", []string{"add", "--config", cfg, "--task"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCmd(t, tt.args...); code != 1 {
				t.Errorf("exit=%d, want 1", code)
			}
		})
	}

	_, out, _ := runCmd(t, "list", "--config", cfg)
	if out != "" {
		t.Errorf("invalid adds must not store anything, got %q", out)
	}
}

func TestRun_Misc(t *testing.T) {
	if code, out, _ := runCmd(t, "version"); code != 0 || !strings.HasPrefix(out, "planindex ") {
		t.Errorf("version: exit=%d out=%q", code, out)
	}
	if code, out, _ := runCmd(t, "help"); code != 0 || !strings.Contains(out, "Usage:") {
		t.Errorf("help: exit=%d out=%q", code, out)
	}
	if code, _, _ := runCmd(t); code != 1 {
		t.Errorf("no args: exit=%d", code)
	}
	if code, _, errOut := runCmd(t, "frobnicate"); code != 1 || !strings.Contains(errOut, "unknown command") {
		t.Errorf("unknown command: exit=%d stderr=%q", code, errOut)
	}
	if code, _, _ := runCmd(t, "find"); code != 1 {
		t.Errorf("find without uid: exit=%d", code)
	}
	if code, _, _ := runCmd(t, "list", "--verbose"); code != 1 {
		t.Errorf("list unknown flag: exit=%d", code)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("default = %q", got)
	}
	t.Setenv(configEnv, "/etc/planindex.yaml")
	if got := resolveConfigPath(""); got != "/etc/planindex.yaml" {
		t.Errorf("env = %q", got)
	}
	if got := resolveConfigPath("/tmp/x.yaml"); got != "/tmp/x.yaml" {
		t.Errorf("flag = %q", got)
	}
}

func TestRun_ReadCommandsLeaveCorruptSnapshot(t *testing.T) {
	cfg := writeConfig(t)
	snap := filepath.Join(filepath.Dir(cfg), "plan_elements.yaml")
	corrupt := []byte("plan_elements: [\n")
	if err := os.WriteFile(snap, corrupt, 0644); err != nil {
		t.Fatal(err)
	}

	writerLock := lock.ForSnapshot(snap)
	if err := writerLock.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	for _, args := range [][]string{{"find", "T1"}, {"list"}} {
		code, _, errOut := runCmd(t, append(args, "--config", cfg)...)
		if code != 1 {
			t.Errorf("%s exit=%d, want 1", args[0], code)
		}
		if !strings.Contains(errOut, "snapshot corrupt") {
			t.Errorf("%s stderr = %q", args[0], errOut)
		}
	}

	got, err := os.ReadFile(snap)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, corrupt) {
		t.Errorf("snapshot rewritten by a read command: %q", got)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(snap), "quarantine")); !os.IsNotExist(err) {
		t.Error("read command quarantined the snapshot")
	}
	writerLock.Unlock()

	if code, _, errOut := runCmd(t, "add", "--config", cfg, "--task", "T1", "--kind", "disposition"); code != 0 {
		t.Fatalf("add exit=%d stderr=%s", code, errOut)
	}
	if code, _, _ := runCmd(t, "find", "T1", "--config", cfg); code != 0 {
		t.Errorf("find after repair exit=%d", code)
	}
}
