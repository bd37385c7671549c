// Package diagnosis turns an investigation context into a structured
// root-cause diagnosis using Anthropic's Messages API.
package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/models"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	maxRetries     = 2
	initialBackoff = 2 * time.Second

	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 2048

	// Rough prompt-size heuristic used for cost estimation.
	charsPerToken = 4
)

// Config configures the Anthropic diagnoser.
type Config struct {
	APIKey           string
	Model            string
	BaseURL          string        // empty uses the public endpoint
	Timeout          time.Duration // end-to-end budget per diagnose call
	PerCallBudgetUSD float64       // 0 disables the per-call cap
}

// Anthropic implements the diagnoser port against the Messages API.
type Anthropic struct {
	cfg    Config
	client *http.Client
}

// New creates an Anthropic diagnoser.
func New(cfg Config) *Anthropic {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicAPIURL
	}
	return &Anthropic{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// EstimateCost returns the true estimated USD for diagnosing the context.
// Never capped to any budget.
func (a *Anthropic) EstimateCost(_ context.Context, ic *models.InvestigationContext) (float64, error) {
	prompt := buildPrompt(ic)
	inputTokens := int64((len(prompt) + len(systemPrompt)) / charsPerToken)
	return EstimateUSD(a.cfg.Model, inputTokens, defaultMaxTokens), nil
}

// Diagnose runs one diagnosis call. Fails with a budget-exceeded error
// when the estimate is above the per-call budget, and with timeout,
// transport, or parse errors as appropriate. The returned diagnosis
// carries the actual cost computed from reported token usage.
func (a *Anthropic) Diagnose(ctx context.Context, ic *models.InvestigationContext) (*models.Diagnosis, error) {
	estimate, err := a.EstimateCost(ctx, ic)
	if err != nil {
		return nil, err
	}
	if a.cfg.PerCallBudgetUSD > 0 && estimate > a.cfg.PerCallBudgetUSD {
		return nil, errkind.Budget("diagnosis.diagnose",
			fmt.Errorf("estimated $%.4f exceeds per-call budget $%.4f", estimate, a.cfg.PerCallBudgetUSD))
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(anthropicRequest{
		Model:     a.cfg.Model,
		Messages:  []anthropicMessage{{Role: "user", Content: buildPrompt(ic)}},
		MaxTokens: defaultMaxTokens,
		System:    systemPrompt,
	})
	if err != nil {
		return nil, errkind.Validation("diagnosis.diagnose", err)
	}

	resp, err := a.send(ctx, body)
	if err != nil {
		return nil, err
	}

	text := collectText(resp)
	diag, err := parseDiagnosis(text)
	if err != nil {
		return nil, err
	}

	diag.DiagnosedAt = time.Now().UTC()
	diag.Model = resp.Model
	if diag.Model == "" {
		diag.Model = a.cfg.Model
	}
	diag.CostUSD = EstimateUSD(a.cfg.Model, int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens))

	log.Debug().
		Str("model", diag.Model).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Float64("cost_usd", diag.CostUSD).
		Str("confidence", string(diag.Confidence)).
		Msg("Diagnosis produced")

	return diag, nil
}

// send posts the request, retrying transient failures (429, 529, 5xx)
// with exponential backoff.
func (a *Anthropic) send(ctx context.Context, body []byte) (*anthropicResponse, error) {
	const op = "diagnosis.diagnose"

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(1<<(attempt-1))
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				AnErr("last_error", lastErr).
				Msg("Retrying diagnosis request after transient error")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errkind.Timeout(op, ctx.Err())
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
		if err != nil {
			return nil, errkind.Transport(op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.cfg.APIKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := a.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errkind.Timeout(op, err)
			}
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode == 529 || resp.StatusCode >= 500 {
			lastErr = apiError(resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errkind.Transport(op, apiError(resp.StatusCode, respBody))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, errkind.Parse(op, err)
		}
		return &parsed, nil
	}

	return nil, errkind.Transport(op, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr))
}

func apiError(status int, body []byte) error {
	var errResp anthropicError
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("API error (%d): %s", status, errResp.Error.Message)
	}
	return fmt.Errorf("API error (%d): %s", status, strings.TrimSpace(string(body)))
}

func collectText(resp *anthropicResponse) string {
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// parseDiagnosis extracts the JSON object from the model's reply and
// validates it against the diagnosis contract.
func parseDiagnosis(text string) (*models.Diagnosis, error) {
	const op = "diagnosis.parse"

	// Models occasionally wrap the object in prose or a code fence; take
	// the outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errkind.Parse(op, fmt.Errorf("no JSON object in response"))
	}

	var parsed struct {
		RootCause    string   `json:"root_cause"`
		Evidence     []string `json:"evidence"`
		SuggestedFix string   `json:"suggested_fix"`
		Confidence   string   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, errkind.Parse(op, err)
	}

	diag := &models.Diagnosis{
		RootCause:    strings.TrimSpace(parsed.RootCause),
		Evidence:     parsed.Evidence,
		SuggestedFix: strings.TrimSpace(parsed.SuggestedFix),
		Confidence:   models.Confidence(strings.ToLower(strings.TrimSpace(parsed.Confidence))),
	}
	if diag.RootCause == "" || diag.SuggestedFix == "" || len(diag.Evidence) == 0 {
		return nil, errkind.Parse(op, fmt.Errorf("response missing required fields"))
	}
	if !diag.Confidence.Valid() {
		return nil, errkind.Parse(op, fmt.Errorf("invalid confidence %q", parsed.Confidence))
	}
	return diag, nil
}
