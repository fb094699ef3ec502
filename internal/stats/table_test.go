package stats

import (
	"strings"
	"testing"
)

func TestFormatTableAlignsColumns(t *testing.T) {
	headers := []string{"User", "Profiles", "Speed"}
	rows := [][]string{
		{"1", "12", "9.50"},
		{"1024", "3", "11.25"},
	}
	rightAlign := map[int]bool{1: true, 2: true}

	lines := FormatTable(headers, rows, rightAlign)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "User  Profiles  Speed" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if want := "1" + strings.Repeat(" ", 11) + "12" + strings.Repeat(" ", 3) + "9.50"; lines[1] != want {
		t.Fatalf("unexpected row line: %q, want %q", lines[1], want)
	}
	if want := "1024" + strings.Repeat(" ", 9) + "3" + strings.Repeat(" ", 2) + "11.25"; lines[2] != want {
		t.Fatalf("unexpected row line: %q, want %q", lines[2], want)
	}
}

func TestFormatTableEmpty(t *testing.T) {
	if lines := FormatTable(nil, nil, nil); lines != nil {
		t.Fatalf("expected no lines, got %v", lines)
	}
}
