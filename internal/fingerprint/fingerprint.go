// Package fingerprint derives stable identity keys from error events.
// Two occurrences of the same underlying bug must hash to the same
// fingerprint even when messages carry per-occurrence noise (addresses,
// durations, timestamps, ids) or when line numbers drift between deploys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/tracehound/tracehound/internal/models"
)

// Templating patterns, applied in this exact order. The order is part of
// the fingerprint contract: reordering changes which characters each
// later pattern can still see.
var templatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,3}(\.\d{1,3}){3}`), // IPv4 dotted quad
	regexp.MustCompile(`:\d+`),                  // port suffix
	regexp.MustCompile(`\d{2,}`),                // numeric runs (durations, counts, years)
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),     // ISO date
	regexp.MustCompile(`\d{2}:\d{2}:\d{2}`),     // clock time
	regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), // UUID
}

var portPattern = templatePatterns[1]

// TemplatizeMessage masks the variable parts of an error message so that
// occurrences of the same bug produce identical text.
func TemplatizeMessage(message string) string {
	out := message
	for _, re := range templatePatterns {
		if re == portPattern {
			// Keep the colon so ":5432" becomes ":*" rather than "*".
			out = re.ReplaceAllString(out, ":*")
			continue
		}
		out = re.ReplaceAllString(out, "*")
	}
	return out
}

// NormalizeStack reproduces the stack with line numbers dropped. Module,
// function, and filename are kept verbatim and order is preserved.
func NormalizeStack(stack []models.StackFrame) []models.StackFrame {
	out := make([]models.StackFrame, len(stack))
	for i, f := range stack {
		out[i] = models.StackFrame{
			Module:   f.Module,
			Function: f.Function,
			Filename: f.Filename,
		}
	}
	return out
}

// StackHash hashes the (module, function) identity of a stack to the
// first 16 hex chars of its SHA-256.
func StackHash(stack []models.StackFrame) string {
	parts := make([]string, len(stack))
	for i, f := range stack {
		parts[i] = f.Module + "::" + f.Function
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// Fingerprint derives the 64-hex-char identity of an event. Deterministic
// across platforms: same input bytes, same output bytes.
func Fingerprint(event models.ErrorEvent) string {
	identity := strings.Join([]string{
		event.ErrorType,
		event.Service,
		TemplatizeMessage(event.ErrorMessage),
		StackHash(event.Stack),
	}, "|")
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}
