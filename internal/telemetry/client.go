// Package telemetry is the HTTP client for the observability backend:
// recent error search, trace fetch, and trace-correlated log search.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/fingerprint"
	"github.com/tracehound/tracehound/internal/models"
)

const (
	defaultTimeout = 30 * time.Second

	// Window used when resolving events for a known fingerprint.
	signatureLookback = 24 * time.Hour
)

var traceIDPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// ValidateTraceID checks the wire format of a trace id.
func ValidateTraceID(traceID string) error {
	if traceID == "" || len(traceID) > 32 || !traceIDPattern.MatchString(traceID) {
		return errkind.Validationf("telemetry.validate_trace_id", "malformed trace id %q", traceID)
	}
	return nil
}

// Client talks to the telemetry backend.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a telemetry client. timeout <= 0 uses the default 30s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetRecentErrors returns error events with timestamp >= since, optionally
// restricted to the given services.
func (c *Client) GetRecentErrors(ctx context.Context, since time.Time, services []string) ([]models.ErrorEvent, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	if len(services) > 0 {
		q.Set("services", strings.Join(services, ","))
	}

	var payload struct {
		Events []models.ErrorEvent `json:"events"`
	}
	if err := c.getJSON(ctx, "/api/errors/search?"+q.Encode(), "telemetry.get_recent_errors", &payload); err != nil {
		return nil, err
	}
	return payload.Events, nil
}

// GetTrace fetches a single trace as a span tree.
func (c *Client) GetTrace(ctx context.Context, traceID string) (*models.TraceTree, error) {
	if err := ValidateTraceID(traceID); err != nil {
		return nil, err
	}

	var payload wireTrace
	if err := c.getJSON(ctx, "/api/traces/"+traceID, "telemetry.get_trace", &payload); err != nil {
		return nil, err
	}
	return buildTraceTree(traceID, payload.Spans), nil
}

// GetTraces validates all ids upfront, then fetches best-effort;
// individual fetch failures are skipped with a warning.
func (c *Client) GetTraces(ctx context.Context, traceIDs []string) ([]*models.TraceTree, error) {
	for _, id := range traceIDs {
		if err := ValidateTraceID(id); err != nil {
			return nil, err
		}
	}

	out := make([]*models.TraceTree, 0, len(traceIDs))
	for _, id := range traceIDs {
		tree, err := c.GetTrace(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("trace_id", id).Msg("Skipping trace fetch failure")
			continue
		}
		out = append(out, tree)
	}
	return out, nil
}

// GetCorrelatedLogs returns logs joined to the given traces within the
// window. window <= 0 defaults to 5 minutes.
func (c *Client) GetCorrelatedLogs(ctx context.Context, traceIDs []string, window time.Duration) ([]models.LogEntry, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}
	if window <= 0 {
		window = 5 * time.Minute
	}

	q := url.Values{}
	q.Set("trace_ids", strings.Join(traceIDs, ","))
	q.Set("window_minutes", strconv.Itoa(int(window.Minutes())))

	var payload struct {
		Logs []models.LogEntry `json:"logs"`
	}
	if err := c.getJSON(ctx, "/api/logs/search?"+q.Encode(), "telemetry.get_correlated_logs", &payload); err != nil {
		return nil, err
	}
	return payload.Logs, nil
}

// GetEventsForSignature returns recent events whose computed fingerprint
// matches, newest first, capped at limit. The backend has no fingerprint
// concept, so events are re-fingerprinted client side.
func (c *Client) GetEventsForSignature(ctx context.Context, fp string, limit int) ([]models.ErrorEvent, error) {
	if limit <= 0 {
		limit = 5
	}

	events, err := c.GetRecentErrors(ctx, time.Now().Add(-signatureLookback), nil)
	if err != nil {
		return nil, err
	}

	var out []models.ErrorEvent
	for i := len(events) - 1; i >= 0; i-- {
		if fingerprint.Fingerprint(events[i]) == fp {
			out = append(out, events[i])
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errkind.Transport(op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return errkind.Timeout(op, err)
		}
		return errkind.Transport(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errkind.NotFound(op, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errkind.Transport(op, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.Parse(op, err)
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
