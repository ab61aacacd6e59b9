package report

import (
	"bytes"
	"strings"
	"testing"
)

func TestWarnf_RendersAndRetains(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Warnf("rule %q looks off", "mystery")
	r.Warnf("second problem")

	out := buf.String()
	if !strings.Contains(out, `warning: rule "mystery" looks off`) {
		t.Errorf("rendered output = %q", out)
	}
	warnings := r.Warnings()
	if len(warnings) != 2 || warnings[1] != "second problem" {
		t.Errorf("retained warnings = %v", warnings)
	}
}

func TestPrintf_PlainLine(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)
	r.Printf("emitted %d tests", 3)
	if buf.String() != "emitted 3 tests\n" {
		t.Errorf("output = %q", buf.String())
	}
}
