package shared

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestTargetID(t *testing.T) {
	a := TargetID("job-1", "card", "abc")
	if a != TargetID("job-1", "card", "abc") {
		t.Error("TargetID should be stable for the same inputs")
	}

	others := []string{
		TargetID("job-2", "card", "abc"),
		TargetID("job-1", "list", "abc"),
		TargetID("job-1", "card", "abd"),
	}
	for _, o := range others {
		if o == a {
			t.Errorf("expected distinct id, got collision %s", o)
		}
	}

	if GenerateID() == GenerateID() {
		t.Error("GenerateID should not repeat")
	}
}

func TestNormalizeName(t *testing.T) {
	tc := []struct {
		name string
		in   string
		want string
	}{
		{name: "basic normalization", in: "To Do", want: "to do"},
		{name: "extra whitespace", in: "  In   Progress  ", want: "in progress"},
		{name: "mixed case", in: "DoNe", want: "done"},
		{name: "empty", in: "   ", want: ""},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeName(tt.in); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tc := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "diagram.png", want: "diagram.png"},
		{name: "spaces and parens", in: "report (final).pdf", want: "report__final_.pdf"},
		{name: "path traversal", in: "../../etc/passwd", want: "passwd"},
		{name: "windows path", in: `C:\Users\me\notes.txt`, want: "notes.txt"},
		{name: "non ascii", in: "résumé.pdf", want: "r_sum_.pdf"},
		{name: "empty", in: "", want: "file"},
		{name: "dots only", in: "...", want: "file"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := SanitizeFilename(strings.Repeat("a", 300) + ".txt")
	if len(long) != 200 {
		t.Errorf("expected long names to be truncated to 200 bytes, got %d", len(long))
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	SetLogLevelString(logger, "warn")
	if logger.GetLevel() != log.WarnLevel {
		t.Errorf("expected warn level, got %v", logger.GetLevel())
	}

	SetLogLevelString(logger, "bogus")
	if logger.GetLevel() != log.WarnLevel {
		t.Error("unknown level should leave logger untouched")
	}

	WithLogger(logger, "job", "j1").Warn("checkpoint")
	if !strings.Contains(buf.String(), "job=j1") {
		t.Errorf("expected job field in output, got %q", buf.String())
	}
}

func TestMarshalJSON(t *testing.T) {
	compact, err := MarshalJSON(map[string]int{"a": 1}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(compact) != `{"a":1}` {
		t.Errorf("unexpected compact output %s", compact)
	}

	pretty, err := MarshalJSON(map[string]int{"a": 1}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(pretty), "\n  \"a\": 1") {
		t.Errorf("unexpected pretty output %s", pretty)
	}
}

func TestBrowserCommand(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		goos string
		bin  string
	}{
		{"darwin", "open"},
		{"linux", "xdg-open"},
		{"windows", "rundll32"},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			cmd, err := browserCommand(ctx, tt.goos, "https://example.com/a")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.HasSuffix(cmd.Args[0], tt.bin) {
				t.Errorf("expected %s, got %v", tt.bin, cmd.Args)
			}
			if cmd.Args[len(cmd.Args)-1] != "https://example.com/a" {
				t.Errorf("url should be the last argument, got %v", cmd.Args)
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		if _, err := browserCommand(ctx, "plan9", "https://example.com"); !errors.Is(err, ErrNotImplemented) {
			t.Errorf("expected ErrNotImplemented, got %v", err)
		}
	})

	t.Run("OpenBrowser", func(t *testing.T) {
		orig := getRuntime
		defer func() { getRuntime = orig }()
		getRuntime = func() string { return "plan9" }

		if err := OpenBrowser(ctx, "https://example.com"); err == nil {
			t.Error("expected error on an unsupported platform")
		}
	})
}
