package telemetry

import (
	"github.com/tracehound/tracehound/internal/models"
)

// wireTrace is the backend's flat span list for one trace.
type wireTrace struct {
	TraceID string     `json:"trace_id"`
	Spans   []wireSpan `json:"spans"`
}

type wireSpan struct {
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Service    string         `json:"service"`
	Operation  string         `json:"operation"`
	DurationMS float64        `json:"duration_ms"`
	Status     string         `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// buildTraceTree assembles the flat span list into a tree in two passes:
// index every span by id, then attach children. Spans whose parent is
// absent from the trace become roots, so partial traces still assemble.
func buildTraceTree(traceID string, spans []wireSpan) *models.TraceTree {
	nodes := make(map[string]*models.SpanNode, len(spans))
	order := make([]*models.SpanNode, 0, len(spans))

	for _, s := range spans {
		node := &models.SpanNode{
			SpanID:     s.SpanID,
			ParentID:   s.ParentID,
			Service:    s.Service,
			Operation:  s.Operation,
			DurationMS: s.DurationMS,
			Status:     spanStatus(s.Status),
			Attributes: s.Attributes,
		}
		nodes[s.SpanID] = node
		order = append(order, node)
	}

	tree := &models.TraceTree{TraceID: traceID}
	for _, node := range order {
		if node.ParentID == "" {
			tree.Roots = append(tree.Roots, node)
			continue
		}
		parent, ok := nodes[node.ParentID]
		if !ok {
			tree.Roots = append(tree.Roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return tree
}

func spanStatus(raw string) models.SpanStatus {
	switch raw {
	case "ok":
		return models.SpanStatusOK
	case "error":
		return models.SpanStatusError
	default:
		return models.SpanStatusUnset
	}
}
