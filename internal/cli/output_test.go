package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"name", "status"}, [][]string{
		{"a.csv", "success"},
		{"b.json", "error"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("header = %q, want upper-cased columns", lines[0])
	}
	if !strings.HasPrefix(lines[2], "b.json") {
		t.Errorf("last row = %q", lines[2])
	}
}

func TestPrintTable_NoColumns(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, nil, [][]string{{"x"}})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestValidateOutputFormat(t *testing.T) {
	for _, f := range []string{"", "table", "json"} {
		if err := validateOutputFormat(f); err != nil {
			t.Errorf("validateOutputFormat(%q) = %v", f, err)
		}
	}
	if err := validateOutputFormat("csv"); err == nil {
		t.Error("expected an error for csv")
	}
}
