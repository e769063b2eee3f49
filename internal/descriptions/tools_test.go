package descriptions

import (
	"strings"
	"testing"
)

func TestGetToolDescription(t *testing.T) {
	for _, name := range GetAllToolNames() {
		desc := GetToolDescription(name)
		if desc == "" || desc == "Tool description not available" {
			t.Errorf("tool %s has no description", name)
		}
		if !strings.Contains(desc, "**When to use:**") {
			t.Errorf("description of %s lacks usage guidance", name)
		}
	}

	if got := GetToolDescription("pdf_read_file"); got != "Tool description not available" {
		t.Errorf("unknown tool returned %q", got)
	}
}

func TestGetAllToolNames(t *testing.T) {
	names := GetAllToolNames()
	if len(names) != len(ToolDescriptions) {
		t.Fatalf("GetAllToolNames() returned %d names, want %d", len(names), len(ToolDescriptions))
	}
	for _, name := range names {
		if _, ok := ToolDescriptions[name]; !ok {
			t.Errorf("tool %s missing from ToolDescriptions", name)
		}
	}
}
