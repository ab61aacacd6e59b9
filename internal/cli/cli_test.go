package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildPipeline lays out a minimal two-rule pipeline, its run artifacts,
// schematics, and a dry-run log, then returns the pipeline root.
func buildPipeline(t *testing.T) string {
	t.Helper()
	pipeline := t.TempDir()
	files := map[string]string{
		"workflow/Snakefile": "rule all:\n" +
			"    input:\n" +
			"        \"results/final.txt\"\n" +
			"rule finish:\n" +
			"    input:\n" +
			"        \"raw/source.txt\"\n" +
			"    output:\n" +
			"        \"results/final.txt\"\n" +
			"    shell:\n" +
			"        \"cp {input} {output}\"\n",
		"raw/source.txt":          "origin\n",
		"results/final.txt":       "origin\n",
		"inst/test.py":            "schematic body\n",
		"inst/common.py":          "helpers\n",
		"inst/pytest_runner.bash": "pytest \"$SNAKEMAKE_UNIT_TESTS_DIR/unit\"\n",
		"dryrun.log": "rule finish:\n" +
			"    input: raw/source.txt\n" +
			"    output: results/final.txt\n" +
			"\n" +
			"rule all:\n" +
			"    input: results/final.txt\n",
	}
	for name, content := range files {
		full := filepath.Join(pipeline, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return pipeline
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_GeneratesTests(t *testing.T) {
	pipeline := buildPipeline(t)
	testDir := filepath.Join(t.TempDir(), "tests")

	out, err := runCommand(t,
		"--pipeline-top-dir", pipeline,
		"--snakefile", "workflow/Snakefile",
		"--snakemake-log", filepath.Join(pipeline, "dryrun.log"),
		"--inst-dir", filepath.Join(pipeline, "inst"),
		"--output-test-dir", testDir,
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "emitted 1 rule test(s)") {
		t.Errorf("summary missing from output:\n%s", out)
	}
	for _, path := range []string{
		"unit/finish/workspace/workflow/Snakefile",
		"unit/finish/workspace/raw/source.txt",
		"unit/finish/expected/results/final.txt",
		"unit/test_finish.py",
		"pytest_runner.bash",
	} {
		if _, err := os.Stat(filepath.Join(testDir, path)); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}
}

func TestRootCmd_ConfigFileWithFlagOverride(t *testing.T) {
	pipeline := buildPipeline(t)
	testDir := filepath.Join(t.TempDir(), "tests")
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configBody := "output-test-dir: /nonexistent/overridden\n" +
		"snakefile: workflow/Snakefile\n" +
		"pipeline-top-dir: " + pipeline + "\n" +
		"inst-dir: " + filepath.Join(pipeline, "inst") + "\n" +
		"snakemake-log: " + filepath.Join(pipeline, "dryrun.log") + "\n"
	if err := os.WriteFile(configPath, []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := runCommand(t,
		"--config", configPath,
		"--output-test-dir", testDir,
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(testDir, "unit", "finish")); err != nil {
		t.Errorf("flag override not applied: %v", err)
	}
}

func TestRootCmd_MissingRequiredParameter(t *testing.T) {
	_, err := runCommand(t, "--output-test-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "snakefile") {
		t.Fatalf("expected missing parameter error, got %v", err)
	}
}

func TestRootCmd_MissingRuleInLogSkipped(t *testing.T) {
	pipeline := buildPipeline(t)
	logPath := filepath.Join(pipeline, "dryrun.log")
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	amended := string(raw) + "\nAttributeError: 'Rules' object has no attribute 'phantom'\n"
	if err := os.WriteFile(logPath, []byte(amended), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	testDir := filepath.Join(t.TempDir(), "tests")

	out, err := runCommand(t,
		"--pipeline-top-dir", pipeline,
		"--snakefile", "workflow/Snakefile",
		"--snakemake-log", logPath,
		"--inst-dir", filepath.Join(pipeline, "inst"),
		"--output-test-dir", testDir,
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "phantom") {
		t.Errorf("missing rule warning absent:\n%s", out)
	}
}

func TestRootCmd_UnattributableExceptionFails(t *testing.T) {
	pipeline := buildPipeline(t)
	logPath := filepath.Join(pipeline, "dryrun.log")
	if err := os.WriteFile(logPath,
		[]byte("Exception: catastrophic failure\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	_, err := runCommand(t,
		"--pipeline-top-dir", pipeline,
		"--snakefile", "workflow/Snakefile",
		"--snakemake-log", logPath,
		"--inst-dir", filepath.Join(pipeline, "inst"),
		"--output-test-dir", filepath.Join(t.TempDir(), "tests"),
	)
	if err == nil || !strings.Contains(err.Error(), "catastrophic failure") {
		t.Fatalf("expected exception passthrough, got %v", err)
	}
}
