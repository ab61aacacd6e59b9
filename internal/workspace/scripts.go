package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteTestScript instantiates the pytest schematic for one rule at
// unitDir/test_<rule>.py. The emitted file opens with a shebang and the
// variable assignments the schematic body expects, then carries the schematic
// contents verbatim.
func WriteTestScript(unitDir, testDir, ruleName, snakefileRelPath, execPath string,
	extraExclusions []string, instTestPy string) error {
	body, err := os.ReadFile(instTestPy)
	if err != nil {
		return fmt.Errorf("reading test schematic: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("#!/usr/bin/env python3\n")
	fmt.Fprintf(&sb, "testdir='%s'\n", testDir)
	fmt.Fprintf(&sb, "rulename='%s'\n", ruleName)
	fmt.Fprintf(&sb, "snakefile_relative_path='%s'\n", snakefileRelPath)
	fmt.Fprintf(&sb, "snakemake_exec_path='%s'\n", execPath)
	fmt.Fprintf(&sb, "extra_comparison_exclusions=%s\n", pythonList(extraExclusions))
	sb.Write(body)

	target := filepath.Join(unitDir, "test_"+ruleName+".py")
	if err := os.WriteFile(target, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing test script: %w", err)
	}
	return nil
}

// WriteLauncherScript instantiates the shared pytest launcher at
// targetDir/pytest_runner.bash, pointing it at the emitted test directory
// before the schematic body runs.
func WriteLauncherScript(targetDir, testDir, instScript string) error {
	body, err := os.ReadFile(instScript)
	if err != nil {
		return fmt.Errorf("reading launcher schematic: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("#!/usr/bin/env bash\n")
	fmt.Fprintf(&sb, "SNAKEMAKE_UNIT_TESTS_DIR=%s\n", testDir)
	sb.Write(body)

	target := filepath.Join(targetDir, "pytest_runner.bash")
	if err := os.WriteFile(target, []byte(sb.String()), 0o755); err != nil {
		return fmt.Errorf("writing launcher script: %w", err)
	}
	return nil
}

// pythonList renders extensions as a python list literal, one quoted entry
// and trailing separator apiece.
func pythonList(entries []string) string {
	var sb strings.Builder
	sb.WriteString("[")
	for _, e := range entries {
		fmt.Fprintf(&sb, "'%s', ", e)
	}
	sb.WriteString("]")
	return sb.String()
}
