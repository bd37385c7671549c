package diagnosis

import (
	"fmt"
	"strings"
	"time"

	"github.com/tracehound/tracehound/internal/models"
)

const systemPrompt = `You are a production reliability engineer diagnosing a recurring error.
You are given the error signature, recent occurrences, distributed traces,
correlated logs, and similar historical signatures.

Respond with a single JSON object and nothing else:
{
  "root_cause": "<one-paragraph root cause>",
  "evidence": ["<specific observation>", "..."],
  "suggested_fix": "<concrete fix>",
  "confidence": "high" | "medium" | "low"
}

Use "high" only when the evidence pins down a single cause.`

// buildPrompt renders the investigation context into the user message.
func buildPrompt(ic *models.InvestigationContext) string {
	var b strings.Builder
	sig := ic.Signature

	fmt.Fprintf(&b, "## Error signature\n")
	fmt.Fprintf(&b, "Service: %s\nError type: %s\nMessage template: %s\n", sig.Service, sig.ErrorType, sig.MessageTemplate)
	fmt.Fprintf(&b, "Occurrences: %d (first %s, last %s)\n",
		sig.OccurrenceCount, sig.FirstSeen.UTC().Format(time.RFC3339), sig.LastSeen.UTC().Format(time.RFC3339))
	if len(sig.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(sig.Tags, ", "))
	}

	if len(ic.RecentEvents) > 0 {
		fmt.Fprintf(&b, "\n## Recent occurrences (%d)\n", len(ic.RecentEvents))
		for i, ev := range ic.RecentEvents {
			fmt.Fprintf(&b, "%d. [%s] %s: %s (trace %s)\n", i+1,
				ev.Timestamp.UTC().Format(time.RFC3339), ev.ErrorType, ev.ErrorMessage, ev.TraceID)
			for _, frame := range ev.Stack {
				fmt.Fprintf(&b, "     at %s.%s (%s:%d)\n", frame.Module, frame.Function, frame.Filename, frame.Lineno)
			}
		}
	}

	if len(ic.Traces) > 0 {
		fmt.Fprintf(&b, "\n## Traces\n")
		for _, tree := range ic.Traces {
			fmt.Fprintf(&b, "Trace %s:\n", tree.TraceID)
			for _, root := range tree.Roots {
				writeSpan(&b, root, 1)
			}
		}
	}

	if len(ic.CorrelatedLogs) > 0 {
		fmt.Fprintf(&b, "\n## Correlated logs (%d)\n", len(ic.CorrelatedLogs))
		for _, entry := range ic.CorrelatedLogs {
			fmt.Fprintf(&b, "[%s] %s %s\n", entry.Timestamp.UTC().Format(time.RFC3339), entry.Severity, entry.Body)
		}
	}

	if len(ic.HistoricalContext) > 0 {
		fmt.Fprintf(&b, "\n## Similar historical signatures\n")
		for _, hist := range ic.HistoricalContext {
			fmt.Fprintf(&b, "- %s / %s: %s (%d occurrences, status %s)\n",
				hist.Service, hist.ErrorType, hist.MessageTemplate, hist.OccurrenceCount, hist.Status)
			if hist.Diagnosis != nil {
				fmt.Fprintf(&b, "  previous root cause: %s\n", hist.Diagnosis.RootCause)
			}
		}
	}

	if ic.CodebasePath != "" {
		fmt.Fprintf(&b, "\nCodebase checkout: %s\n", ic.CodebasePath)
	}

	return b.String()
}

func writeSpan(b *strings.Builder, node *models.SpanNode, depth int) {
	fmt.Fprintf(b, "%s- %s %s [%s] %.1fms\n",
		strings.Repeat("  ", depth), node.Service, node.Operation, node.Status, node.DurationMS)
	for _, child := range node.Children {
		writeSpan(b, child, depth+1)
	}
}
