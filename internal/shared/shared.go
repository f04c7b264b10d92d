// package shared defines shared helpers
package shared

import (
	"encoding/json"
	"io"
	"os"
	"path"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// targetNamespace seeds deterministic destination ids.
var targetNamespace = uuid.MustParse("6f1d7c36-4a8e-4e0b-9a51-52b1c4f2d0a7")

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevelString parses a level name ("debug", "info", ...) and applies it.
// Unknown names leave the logger untouched.
func SetLogLevelString(l *log.Logger, level string) {
	if level == "" {
		return
	}
	if ll, err := log.ParseLevel(level); err == nil {
		l.SetLevel(ll)
	}
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// TargetID derives a stable v5 [uuid.UUID] for a destination row created by a job from a source entity.
//
// Re-deriving the same id on resume turns a repeated insert into a conflict instead of a duplicate row.
func TargetID(jobID, sourceType, sourceID string) string {
	return uuid.NewSHA1(targetNamespace, []byte(jobID+"\x00"+sourceType+"\x00"+sourceID)).String()
}

// NormalizeName folds a display name for case-insensitive matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// MarshalJSON encodes v, indented when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// SanitizeFilename reduces a source file name to a safe single path segment.
//
// Directory parts are dropped and anything outside letters, digits, '.', '-' and '_' becomes '_'.
// An empty result falls back to "file".
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" || out == "_" {
		return "file"
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}
